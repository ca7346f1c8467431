// Package header implements the repository's in-memory index: the map of
// chunk hashes to stored blocks and the map of user keys to object
// descriptors, plus its serialized, type-tagged on-disk envelope.
package header

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"

	coldkeep "github.com/coldkeep/coldkeep"
	"github.com/coldkeep/coldkeep/internal/backend"
)

// ChunkHash is a SHA-256 digest of a chunk's plaintext bytes.
type ChunkHash [sha256.Size]byte

// HashBytes computes the ChunkHash of data.
func HashBytes(data []byte) ChunkHash {
	return ChunkHash(sha256.Sum256(data))
}

// MarshalText hex-encodes the hash, the form required for it to be used
// as a JSON object key (encoding/json only accepts string-like map
// keys), matching the hex-encoded entry names the teacher's keystore
// (internal/crypto/keystore.go) persists.
func (h ChunkHash) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h[:])), nil
}

// UnmarshalText reverses MarshalText.
func (h *ChunkHash) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode chunk hash: %w", err)
	}
	if len(decoded) != len(h) {
		return fmt.Errorf("chunk hash has wrong length: got %d, want %d", len(decoded), len(h))
	}
	copy(h[:], decoded)
	return nil
}

// Chunk describes one deduplicated chunk: its plaintext hash, plaintext
// size, and the backend block holding its encoded bytes.
type Chunk struct {
	Hash    ChunkHash
	Size    uint32
	BlockID backend.BlockID
}

// ObjectDescriptor is the pure-data descriptor of a logical blob: an
// ordered list of chunk hashes (chunks may repeat) and their total
// plaintext size. It carries no backend reference; the Object view in
// package object combines it with engine access.
type ObjectDescriptor struct {
	Chunks []ChunkHash
	Size   uint64
}

// Header is the in-memory index of all chunks and all key→object
// mappings. K is the caller's key type.
type Header[K comparable] struct {
	Chunks  map[ChunkHash]Chunk
	Objects map[K]ObjectDescriptor
}

// New returns an empty Header.
func New[K comparable]() *Header[K] {
	return &Header[K]{
		Chunks:  make(map[ChunkHash]Chunk),
		Objects: make(map[K]ObjectDescriptor),
	}
}

// CleanChunks drops every chunk entry not referenced by any object's
// descriptor, the reclamation step run after Insert/Remove.
func (h *Header[K]) CleanChunks() {
	referenced := make(map[ChunkHash]struct{}, len(h.Chunks))
	for _, obj := range h.Objects {
		for _, hash := range obj.Chunks {
			referenced[hash] = struct{}{}
		}
	}
	for hash := range h.Chunks {
		if _, ok := referenced[hash]; !ok {
			delete(h.Chunks, hash)
		}
	}
}

// envelope is the on-disk wrapper around a serialized Header. TypeTag
// records the key type the Header was serialized with, so Decode can
// tell a genuine key-type mismatch apart from ordinary corruption.
type envelope struct {
	TypeTag string
	Payload []byte
}

// Encode serializes h into its on-disk envelope.
func Encode[K comparable](h *Header[K]) ([]byte, error) {
	payload, err := json.Marshal(h)
	if err != nil {
		return nil, coldkeep.E("header.Encode", coldkeep.KindIo, err)
	}
	env := envelope{TypeTag: keyTypeTag[K](), Payload: payload}
	out, err := json.Marshal(&env)
	if err != nil {
		return nil, coldkeep.E("header.Encode", coldkeep.KindIo, err)
	}
	return out, nil
}

// Decode deserializes the on-disk envelope into a Header[K]. A type tag
// mismatch yields KindKeyType; any other malformed envelope or payload
// yields KindCorrupt.
func Decode[K comparable](data []byte) (*Header[K], error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, coldkeep.E("header.Decode", coldkeep.KindCorrupt, err)
	}

	want := keyTypeTag[K]()
	if env.TypeTag != want {
		return nil, coldkeep.E("header.Decode", coldkeep.KindKeyType,
			fmt.Errorf("header was written with key type %q, opened as %q", env.TypeTag, want))
	}

	h := New[K]()
	if err := json.Unmarshal(env.Payload, h); err != nil {
		return nil, coldkeep.E("header.Decode", coldkeep.KindCorrupt, err)
	}
	return h, nil
}

func keyTypeTag[K comparable]() string {
	var zero K
	return reflect.TypeOf(zero).String()
}
