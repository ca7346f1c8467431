// internal/object/object_test.go
package object

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coldkeep "github.com/coldkeep/coldkeep"
	"github.com/coldkeep/coldkeep/internal/backend"
	"github.com/coldkeep/coldkeep/internal/chunker"
	"github.com/coldkeep/coldkeep/internal/header"
)

// fakeEngine is a minimal in-memory Engine[string] used to exercise Handle
// without a full repository, mirroring the teacher's pattern of small
// hand-rolled fakes over heavier mocking frameworks in its pipeline tests.
type fakeEngine struct {
	objects map[string]header.ObjectDescriptor
	chunks  map[header.ChunkHash]header.Chunk
	blocks  map[backend.BlockID][]byte
	ck      *chunker.Chunker
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	ck, err := chunker.New(chunker.Config{MinSize: 64, AvgSize: 256, MaxSize: 1024, Polynomial: 0x3DA3358B4DC173})
	require.NoError(t, err)
	return &fakeEngine{
		objects: make(map[string]header.ObjectDescriptor),
		chunks:  make(map[header.ChunkHash]header.Chunk),
		blocks:  make(map[backend.BlockID][]byte),
		ck:      ck,
	}
}

func (e *fakeEngine) Descriptor(key string) (header.ObjectDescriptor, bool, error) {
	d, ok := e.objects[key]
	return d, ok, nil
}

func (e *fakeEngine) SetDescriptor(key string, desc header.ObjectDescriptor) error {
	if _, ok := e.objects[key]; !ok {
		return coldkeep.E("fakeEngine.SetDescriptor", coldkeep.KindNotFound, nil)
	}
	e.objects[key] = desc
	return nil
}

func (e *fakeEngine) ChunkInfo(hash header.ChunkHash) (header.Chunk, bool, error) {
	c, ok := e.chunks[hash]
	return c, ok, nil
}

func (e *fakeEngine) RecordChunk(c header.Chunk) error {
	e.chunks[c.Hash] = c
	return nil
}

func (e *fakeEngine) PutChunk(data []byte) (header.Chunk, error) {
	hash := header.HashBytes(data)
	id := backend.NewBlockID()
	stored := make([]byte, len(data))
	copy(stored, data)
	e.blocks[id] = stored
	return header.Chunk{Hash: hash, Size: uint32(len(data)), BlockID: id}, nil
}

func (e *fakeEngine) ReadChunk(c header.Chunk) ([]byte, error) {
	data, ok := e.blocks[c.BlockID]
	if !ok {
		return nil, coldkeep.E("fakeEngine.ReadChunk", coldkeep.KindCorrupt, nil)
	}
	return data, nil
}

func (e *fakeEngine) Chunker() *chunker.Chunker { return e.ck }

func (e *fakeEngine) insertEmpty(key string) {
	e.objects[key] = header.ObjectDescriptor{}
}

func TestHandle_WriteReadRoundTrip(t *testing.T) {
	t.Run("full write then full read reproduces content", func(t *testing.T) {
		// Arrange
		eng := newFakeEngine(t)
		eng.insertEmpty("file1")
		h := New[string]("file1", eng)
		content := bytes.Repeat([]byte("abcdefgh"), 500)

		// Act
		n, err := h.Write(content)
		require.NoError(t, err)
		require.NoError(t, h.Flush())
		_, err = h.Seek(0, io.SeekStart)
		require.NoError(t, err)

		buf := make([]byte, len(content))
		read, err := io.ReadFull(h, buf)

		// Assert
		assert.Equal(t, len(content), n)
		assert.NoError(t, err)
		assert.Equal(t, len(content), read)
		assert.True(t, bytes.Equal(buf, content))
	})
}

func TestHandle_DedupAcrossObjects(t *testing.T) {
	eng := newFakeEngine(t)
	eng.insertEmpty("a")
	eng.insertEmpty("b")

	content := bytes.Repeat([]byte("shared content block "), 200)

	ha := New[string]("a", eng)
	_, err := ha.Write(content)
	require.NoError(t, err)
	require.NoError(t, ha.Flush())

	hb := New[string]("b", eng)
	_, err = hb.Write(content)
	require.NoError(t, err)
	require.NoError(t, hb.Flush())

	descA, _, _ := eng.Descriptor("a")
	descB, _, _ := eng.Descriptor("b")
	require.Equal(t, descA.Chunks, descB.Chunks, "identical content must produce identical chunk lists")

	// The underlying chunk table must not double-count unique chunks.
	uniqueBlocks := make(map[backend.BlockID]struct{})
	for _, c := range eng.chunks {
		uniqueBlocks[c.BlockID] = struct{}{}
	}
	distinctHashes := make(map[header.ChunkHash]struct{})
	for _, hash := range descA.Chunks {
		distinctHashes[hash] = struct{}{}
	}
	assert.Len(t, uniqueBlocks, len(distinctHashes), "each distinct chunk hash should back exactly one block")
}

func TestHandle_PartialOverwrite(t *testing.T) {
	eng := newFakeEngine(t)
	eng.insertEmpty("f")
	h := New[string]("f", eng)

	original := bytes.Repeat([]byte("0123456789"), 100)
	_, err := h.Write(original)
	require.NoError(t, err)
	require.NoError(t, h.Flush())

	// Overwrite a chunk in the middle.
	_, err = h.Seek(500, io.SeekStart)
	require.NoError(t, err)
	_, err = h.Write([]byte("XXXXXXXXXX"))
	require.NoError(t, err)
	require.NoError(t, h.Flush())

	size, err := h.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(original)), size, "overwrite in place must not change the object's size")

	_, err = h.Seek(0, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, len(original))
	_, err = io.ReadFull(h, buf)
	require.NoError(t, err)

	expected := append([]byte(nil), original...)
	copy(expected[500:510], []byte("XXXXXXXXXX"))
	assert.Equal(t, expected, buf)
}

func TestHandle_WriteExtendsPastEnd(t *testing.T) {
	eng := newFakeEngine(t)
	eng.insertEmpty("f")
	h := New[string]("f", eng)

	_, err := h.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, h.Flush())

	// Seek past current end and write: the gap must be zero-filled.
	_, err = h.Seek(10, io.SeekStart)
	require.NoError(t, err)
	_, err = h.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, h.Flush())

	size, err := h.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(15), size)

	_, err = h.Seek(0, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 15)
	_, err = io.ReadFull(h, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{'h', 'e', 'l', 'l', 'o', 0, 0, 0, 0, 0, 'w', 'o', 'r', 'l', 'd'}, buf)
}

func TestHandle_Truncate(t *testing.T) {
	eng := newFakeEngine(t)
	eng.insertEmpty("f")
	h := New[string]("f", eng)

	content := bytes.Repeat([]byte("0123456789"), 100)
	_, err := h.Write(content)
	require.NoError(t, err)
	require.NoError(t, h.Flush())

	require.NoError(t, h.Truncate(517))

	size, err := h.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(517), size)

	_, err = h.Seek(0, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 517)
	_, err = io.ReadFull(h, buf)
	require.NoError(t, err)
	assert.Equal(t, content[:517], buf)
}

func TestHandle_TruncateNoOpWhenLengthExceedsSize(t *testing.T) {
	eng := newFakeEngine(t)
	eng.insertEmpty("f")
	h := New[string]("f", eng)
	_, err := h.Write([]byte("short"))
	require.NoError(t, err)
	require.NoError(t, h.Flush())

	require.NoError(t, h.Truncate(1000))
	size, err := h.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), size)
}

func TestHandle_Verify(t *testing.T) {
	eng := newFakeEngine(t)
	eng.insertEmpty("f")
	h := New[string]("f", eng)
	_, err := h.Write(bytes.Repeat([]byte("verify me "), 100))
	require.NoError(t, err)
	require.NoError(t, h.Flush())

	ok, err := h.Verify()
	require.NoError(t, err)
	assert.True(t, ok)

	// Corrupt one chunk's stored bytes directly.
	desc, _, _ := eng.Descriptor("f")
	c := eng.chunks[desc.Chunks[0]]
	eng.blocks[c.BlockID][0] ^= 0xFF

	ok, err = h.Verify()
	require.NoError(t, err)
	assert.False(t, ok, "a flipped byte in a chunk's stored content must fail Verify")
}

func TestHandle_ReadAfterKeyRemovedIsNotFound(t *testing.T) {
	eng := newFakeEngine(t)
	eng.insertEmpty("f")
	h := New[string]("f", eng)
	_, err := h.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, h.Flush())

	delete(eng.objects, "f")

	_, err = h.Read(make([]byte, 4))
	assert.True(t, coldkeep.Is(err, coldkeep.KindNotFound), "a handle for a removed key must fail with NotFound, not corrupt state")
}

func TestHandle_SeekNegativeIsError(t *testing.T) {
	eng := newFakeEngine(t)
	eng.insertEmpty("f")
	h := New[string]("f", eng)
	_, err := h.Seek(-1, io.SeekStart)
	assert.Error(t, err)
}

func TestHandle_ReadPastEndIsEOF(t *testing.T) {
	eng := newFakeEngine(t)
	eng.insertEmpty("f")
	h := New[string]("f", eng)
	_, err := h.Write([]byte("short"))
	require.NoError(t, err)
	require.NoError(t, h.Flush())

	_, err = h.Seek(5, io.SeekStart)
	require.NoError(t, err)
	n, err := h.Read(make([]byte, 10))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}
