package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	coldkeep "github.com/coldkeep/coldkeep"
	"github.com/coldkeep/coldkeep/internal/backend"
	"github.com/coldkeep/coldkeep/internal/blockcodec"
	"github.com/coldkeep/coldkeep/internal/recovery"
)

// VersionMagic identifies this repository's on-disk format, written to
// the fixed VersionBlockID as the final step of Create — the commit
// point that marks a backend as holding a valid repository.
const VersionMagic = "coldkeep-repo-v1"

// RepositoryMetadata is the unencrypted record stored at the fixed
// METADATA_BLOCK_ID, the sole source of truth for how to open a
// repository.
type RepositoryMetadata struct {
	RepoID             uuid.UUID
	ChunkerBits        uint8
	ChunkerMinSize     int
	ChunkerAvgSize     int
	ChunkerMaxSize     int
	ChunkerPoly        uint64
	Compression        blockcodec.CompressionAlgo
	CompressionLevel   int
	Encryption         blockcodec.EncryptionAlgo
	KDFMemLimit        uint32
	KDFOpsLimit        uint32
	EncryptedMasterKey []byte
	Salt               []byte
	HeaderBlockID      backend.BlockID
	CreationTime       time.Time
	RecoverySlots      []recovery.Slot
}

// RepositoryInfo is the public subset of RepositoryMetadata returned by
// Peek: no key material, no header reference beyond what identifies the
// repository's format.
type RepositoryInfo struct {
	RepoID       uuid.UUID
	ChunkerBits  uint8
	Compression  blockcodec.CompressionAlgo
	Encryption   blockcodec.EncryptionAlgo
	CreationTime time.Time
}

// RepositoryStats reports size accounting over the current Header.
type RepositoryStats struct {
	// ApparentSize is the sum of every object's logical size.
	ApparentSize uint64
	// ActualSize is the sum of every unique chunk's plaintext size.
	ActualSize uint64
}

func (m *RepositoryMetadata) info() RepositoryInfo {
	return RepositoryInfo{
		RepoID:       m.RepoID,
		ChunkerBits:  m.ChunkerBits,
		Compression:  m.Compression,
		Encryption:   m.Encryption,
		CreationTime: m.CreationTime,
	}
}

func encodeMetadata(m *RepositoryMetadata) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, coldkeep.E("repository.encodeMetadata", coldkeep.KindIo, err)
	}
	return b, nil
}

func decodeMetadata(data []byte) (RepositoryMetadata, error) {
	var m RepositoryMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return RepositoryMetadata{}, coldkeep.E("repository.decodeMetadata", coldkeep.KindCorrupt, err)
	}
	return m, nil
}

// Peek reads only the fixed metadata block and returns public
// repository info, without acquiring the process lock or touching the
// Header. Used to discover repo_id before locking.
func Peek(back backend.Backend) (RepositoryInfo, error) {
	data, ok, err := back.ReadBlock(backend.MetadataBlockID)
	if err != nil {
		return RepositoryInfo{}, coldkeep.E("repository.Peek", coldkeep.KindIo, err)
	}
	if !ok {
		return RepositoryInfo{}, coldkeep.E("repository.Peek", coldkeep.KindNotFound, errNoMetadata())
	}
	meta, err := decodeMetadata(data)
	if err != nil {
		return RepositoryInfo{}, err
	}
	return meta.info(), nil
}
