// Package object implements the seekable reader/writer view over a
// logical blob: an ordered, possibly-repeating list of chunks resolved
// against the owning repository's header and chunk store. A Handle is a
// non-owning view; it borrows engine access per call rather than owning
// any backend state itself.
package object

import (
	"io"

	coldkeep "github.com/coldkeep/coldkeep"
	"github.com/coldkeep/coldkeep/internal/chunker"
	"github.com/coldkeep/coldkeep/internal/header"
)

// Engine is the slice of repository engine behavior a Handle needs,
// resolved per call so a Handle never holds the engine's lock across
// calls. K is the repository's key type.
type Engine[K comparable] interface {
	// Descriptor returns key's current descriptor. ok is false if key is
	// not present (including after a concurrent Remove, the "stale
	// handle" case spec'd to fail as NotFound on next I/O).
	Descriptor(key K) (desc header.ObjectDescriptor, ok bool, err error)
	// SetDescriptor replaces key's descriptor.
	SetDescriptor(key K, desc header.ObjectDescriptor) error
	// ChunkInfo resolves a hash to its stored Chunk, if the header
	// already knows about it (the dedup lookup).
	ChunkInfo(hash header.ChunkHash) (c header.Chunk, ok bool, err error)
	// RecordChunk inserts a freshly written Chunk into the header.
	RecordChunk(c header.Chunk) error
	// PutChunk encodes and writes new chunk bytes to a fresh block.
	PutChunk(data []byte) (header.Chunk, error)
	// ReadChunk decodes a chunk's plaintext bytes.
	ReadChunk(c header.Chunk) ([]byte, error)
	// Chunker returns the repository's content-defined chunker.
	Chunker() *chunker.Chunker
}

// Handle is a seekable view over one logical blob.
type Handle[K comparable] struct {
	key    K
	engine Engine[K]
	pos    int64

	pendingOffset int64
	pendingData   []byte
}

// New constructs a Handle over key, borrowing engine for the duration of
// each call.
func New[K comparable](key K, engine Engine[K]) *Handle[K] {
	return &Handle[K]{key: key, engine: engine}
}

// Seek updates the handle's position. Seeking past the end is allowed
// for reads, which then yield zero bytes.
func (h *Handle[K]) Seek(offset int64, whence int) (int64, error) {
	if err := h.Flush(); err != nil {
		return 0, err
	}
	desc, ok, err := h.engine.Descriptor(h.key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, coldkeep.E("object.Seek", coldkeep.KindNotFound, errKeyGone(h.key))
	}

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = h.pos + offset
	case io.SeekEnd:
		newPos = int64(desc.Size) + offset
	default:
		return 0, coldkeep.E("object.Seek", coldkeep.KindIo, errBadWhence(whence))
	}
	if newPos < 0 {
		return 0, coldkeep.E("object.Seek", coldkeep.KindIo, errNegativePos(newPos))
	}
	h.pos = newPos
	return h.pos, nil
}

// Read reads up to len(p) bytes starting at the handle's current
// position, locating the chunks spanning the requested range, decoding
// each, and slicing transparently across boundaries.
func (h *Handle[K]) Read(p []byte) (int, error) {
	if err := h.Flush(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	desc, ok, err := h.engine.Descriptor(h.key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, coldkeep.E("object.Read", coldkeep.KindNotFound, errKeyGone(h.key))
	}
	if h.pos >= int64(desc.Size) {
		return 0, io.EOF
	}

	var written int
	var cursor int64
	for _, hash := range desc.Chunks {
		if written == len(p) {
			break
		}
		c, ok, err := h.engine.ChunkInfo(hash)
		if err != nil {
			return written, err
		}
		if !ok {
			return written, coldkeep.E("object.Read", coldkeep.KindCorrupt, errChunkMissing(hash))
		}
		chunkStart := cursor
		chunkEnd := cursor + int64(c.Size)
		cursor = chunkEnd

		if h.pos >= chunkEnd {
			continue
		}
		data, err := h.engine.ReadChunk(c)
		if err != nil {
			return written, err
		}
		skip := int64(0)
		if h.pos > chunkStart {
			skip = h.pos - chunkStart
		}
		n := copy(p[written:], data[skip:])
		written += n
		h.pos += int64(n)
	}

	if written == 0 {
		return 0, io.EOF
	}
	return written, nil
}

// Write splits p with the repository's chunker starting from the chunk
// boundary preceding the handle's current position, deduplicates each
// resulting chunk against the header, and replaces the affected chunks
// in the handle's descriptor. Writes are buffered until Flush, Read,
// Seek, Truncate, or Verify forces materialization.
func (h *Handle[K]) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if h.pendingData != nil && h.pendingOffset+int64(len(h.pendingData)) != h.pos {
		if err := h.Flush(); err != nil {
			return 0, err
		}
	}
	if h.pendingData == nil {
		h.pendingOffset = h.pos
	}
	h.pendingData = append(h.pendingData, p...)
	h.pos += int64(len(p))
	return len(p), nil
}

// Flush materializes any buffered write into the handle's descriptor.
func (h *Handle[K]) Flush() error {
	if h.pendingData == nil {
		return nil
	}
	offset, data := h.pendingOffset, h.pendingData
	h.pendingData = nil

	desc, ok, err := h.engine.Descriptor(h.key)
	if err != nil {
		return err
	}
	if !ok {
		return coldkeep.E("object.Flush", coldkeep.KindNotFound, errKeyGone(h.key))
	}

	newDesc, err := h.applyWrite(desc, offset, data)
	if err != nil {
		return err
	}
	return h.engine.SetDescriptor(h.key, newDesc)
}

// applyWrite keeps every chunk strictly before the one containing
// offset untouched, decodes the tail from that chunk's boundary onward,
// merges in the new bytes (zero-padding any gap if offset lies past the
// current end), and re-chunks the merged tail.
func (h *Handle[K]) applyWrite(desc header.ObjectDescriptor, offset int64, data []byte) (header.ObjectDescriptor, error) {
	var prefix []header.ChunkHash
	var boundary int64
	var tailHashes []header.ChunkHash

	for i, hash := range desc.Chunks {
		c, ok, err := h.engine.ChunkInfo(hash)
		if err != nil {
			return desc, err
		}
		if !ok {
			return desc, coldkeep.E("object.Write", coldkeep.KindCorrupt, errChunkMissing(hash))
		}
		if boundary+int64(c.Size) > offset {
			tailHashes = desc.Chunks[i:]
			break
		}
		prefix = append(prefix, hash)
		boundary += int64(c.Size)
	}

	var tail []byte
	for _, hash := range tailHashes {
		c, ok, err := h.engine.ChunkInfo(hash)
		if err != nil {
			return desc, err
		}
		if !ok {
			return desc, coldkeep.E("object.Write", coldkeep.KindCorrupt, errChunkMissing(hash))
		}
		plain, err := h.engine.ReadChunk(c)
		if err != nil {
			return desc, err
		}
		tail = append(tail, plain...)
	}

	relOffset := offset - boundary
	merged := make([]byte, 0, relOffset+int64(len(data)))
	if relOffset >= int64(len(tail)) {
		merged = append(merged, tail...)
		merged = append(merged, make([]byte, relOffset-int64(len(tail)))...)
		merged = append(merged, data...)
	} else {
		merged = append(merged, tail[:relOffset]...)
		merged = append(merged, data...)
		if end := relOffset + int64(len(data)); end < int64(len(tail)) {
			merged = append(merged, tail[end:]...)
		}
	}

	newChunks, err := h.engine.Chunker().Split(merged)
	if err != nil {
		return desc, coldkeep.E("object.Write", coldkeep.KindIo, err)
	}

	newHashes := make([]header.ChunkHash, 0, len(newChunks))
	for _, nc := range newChunks {
		hash := header.HashBytes(nc.Data)
		if _, ok, err := h.engine.ChunkInfo(hash); err != nil {
			return desc, err
		} else if !ok {
			c, err := h.engine.PutChunk(nc.Data)
			if err != nil {
				return desc, err
			}
			if err := h.engine.RecordChunk(c); err != nil {
				return desc, err
			}
		}
		newHashes = append(newHashes, hash)
	}

	desc.Chunks = append(prefix, newHashes...)
	desc.Size = uint64(boundary) + uint64(len(merged))
	return desc, nil
}

// Truncate drops trailing chunks past length and adjusts a possibly
// partial final chunk.
func (h *Handle[K]) Truncate(length uint64) error {
	if err := h.Flush(); err != nil {
		return err
	}
	desc, ok, err := h.engine.Descriptor(h.key)
	if err != nil {
		return err
	}
	if !ok {
		return coldkeep.E("object.Truncate", coldkeep.KindNotFound, errKeyGone(h.key))
	}
	if length >= desc.Size {
		return nil
	}

	var kept []header.ChunkHash
	var cursor uint64
	for _, hash := range desc.Chunks {
		if cursor >= length {
			break
		}
		c, ok, err := h.engine.ChunkInfo(hash)
		if err != nil {
			return err
		}
		if !ok {
			return coldkeep.E("object.Truncate", coldkeep.KindCorrupt, errChunkMissing(hash))
		}
		if cursor+uint64(c.Size) <= length {
			kept = append(kept, hash)
			cursor += uint64(c.Size)
			continue
		}

		plain, err := h.engine.ReadChunk(c)
		if err != nil {
			return err
		}
		partial := plain[:length-cursor]
		newHash := header.HashBytes(partial)
		if _, ok, err := h.engine.ChunkInfo(newHash); err != nil {
			return err
		} else if !ok {
			nc, err := h.engine.PutChunk(partial)
			if err != nil {
				return err
			}
			if err := h.engine.RecordChunk(nc); err != nil {
				return err
			}
		}
		kept = append(kept, newHash)
		cursor = length
		break
	}

	desc.Chunks = kept
	desc.Size = length
	if h.pos > int64(length) {
		h.pos = int64(length)
	}
	return h.engine.SetDescriptor(h.key, desc)
}

// Verify reads every chunk in the handle's descriptor, re-hashing it,
// and returns true iff every chunk's content matches its recorded hash.
func (h *Handle[K]) Verify() (bool, error) {
	if err := h.Flush(); err != nil {
		return false, err
	}
	desc, ok, err := h.engine.Descriptor(h.key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, coldkeep.E("object.Verify", coldkeep.KindNotFound, errKeyGone(h.key))
	}

	for _, hash := range desc.Chunks {
		c, ok, err := h.engine.ChunkInfo(hash)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		plain, err := h.engine.ReadChunk(c)
		if err != nil {
			return false, nil
		}
		if header.HashBytes(plain) != c.Hash {
			return false, nil
		}
	}
	return true, nil
}

// Size returns the handle's current logical size, flushing any buffered
// write first.
func (h *Handle[K]) Size() (uint64, error) {
	if err := h.Flush(); err != nil {
		return 0, err
	}
	desc, ok, err := h.engine.Descriptor(h.key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, coldkeep.E("object.Size", coldkeep.KindNotFound, errKeyGone(h.key))
	}
	return desc.Size, nil
}
