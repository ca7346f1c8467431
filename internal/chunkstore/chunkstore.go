// Package chunkstore turns plaintext chunk bytes into header.Chunk
// descriptors backed by encoded blocks, deduplicating against chunks a
// header already knows about. It adapts the teacher's in-memory dedup
// store to the generic Header + pluggable Backend split this repository
// uses.
package chunkstore

import (
	"fmt"

	coldkeep "github.com/coldkeep/coldkeep"
	"github.com/coldkeep/coldkeep/internal/backend"
	"github.com/coldkeep/coldkeep/internal/blockcodec"
	"github.com/coldkeep/coldkeep/internal/header"
)

// Store writes and reads chunks against a Backend, encoding with a Codec
// and a caller-supplied key.
type Store struct {
	back  backend.Backend
	codec *blockcodec.Codec
	key   []byte
}

// New builds a Store. key is the repository's MasterKey bytes (possibly
// empty, when encryption is disabled).
func New(back backend.Backend, codec *blockcodec.Codec, key []byte) *Store {
	return &Store{back: back, codec: codec, key: key}
}

// PutChunk encodes data, allocates a fresh block ID, writes the encoded
// bytes to the backend, and returns the resulting descriptor. Callers
// should first check whether the hash already exists in the header and
// skip this call entirely when it does.
func (s *Store) PutChunk(data []byte) (header.Chunk, error) {
	hash := header.HashBytes(data)
	encoded, err := s.codec.Encode(s.key, data)
	if err != nil {
		return header.Chunk{}, coldkeep.E("chunkstore.PutChunk", coldkeep.KindIo, err)
	}

	id := backend.NewBlockID()
	if err := s.back.WriteBlock(id, encoded); err != nil {
		return header.Chunk{}, coldkeep.E("chunkstore.PutChunk", coldkeep.KindIo, err)
	}

	return header.Chunk{Hash: hash, Size: uint32(len(data)), BlockID: id}, nil
}

// ReadChunk reads and decodes the plaintext bytes of c. It does not
// re-verify the decoded length or hash against c; that check belongs to
// callers that want it (object.Handle.Verify, Repository.Verify).
func (s *Store) ReadChunk(c header.Chunk) ([]byte, error) {
	encoded, ok, err := s.back.ReadBlock(c.BlockID)
	if err != nil {
		return nil, coldkeep.E("chunkstore.ReadChunk", coldkeep.KindIo, err)
	}
	if !ok {
		return nil, coldkeep.E("chunkstore.ReadChunk", coldkeep.KindCorrupt, errMissingBlock(c))
	}
	return s.codec.Decode(s.key, encoded)
}

// RemoveChunkBlock deletes the backend block backing c. Called during GC
// once CleanChunks has determined c is unreferenced.
func (s *Store) RemoveChunkBlock(c header.Chunk) error {
	if err := s.back.RemoveBlock(c.BlockID); err != nil {
		return coldkeep.E("chunkstore.RemoveChunkBlock", coldkeep.KindIo, err)
	}
	return nil
}

// EncodeHeaderBlock encodes serialized Header bytes (not a content chunk)
// with the store's codec and key, for writing under a freshly allocated
// header BlockID. The metadata and version blocks are written unencoded.
func (s *Store) EncodeHeaderBlock(data []byte) ([]byte, error) {
	encoded, err := s.codec.Encode(s.key, data)
	if err != nil {
		return nil, coldkeep.E("chunkstore.EncodeHeaderBlock", coldkeep.KindIo, err)
	}
	return encoded, nil
}

// DecodeHeaderBlock reverses EncodeHeaderBlock.
func (s *Store) DecodeHeaderBlock(encoded []byte) ([]byte, error) {
	return s.codec.Decode(s.key, encoded)
}

func errMissingBlock(c header.Chunk) error {
	return fmt.Errorf("block %s for chunk %x missing from backend", c.BlockID, c.Hash)
}
