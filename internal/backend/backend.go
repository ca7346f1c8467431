// Package backend defines the pluggable block storage contract and ships
// two reference implementations for testing and standalone use.
package backend

import (
	"github.com/google/uuid"
)

// BlockID identifies an opaque block in a Backend's flat address space.
// Block IDs are random; they never derive from the content they store, so
// chunk hashes never leak to the backend.
type BlockID = uuid.UUID

// Backend is the pluggable, flat key/value surface the repository engine
// persists itself onto. Implementations must make WriteBlock atomic: a
// reader must never observe a partially-written block.
type Backend interface {
	// ReadBlock returns the payload stored under id, or ok=false if absent.
	ReadBlock(id BlockID) (data []byte, ok bool, err error)

	// WriteBlock creates or atomically replaces the block at id.
	WriteBlock(id BlockID, data []byte) error

	// RemoveBlock deletes the block at id. It is idempotent: removing a
	// block that doesn't exist is not an error.
	RemoveBlock(id BlockID) error

	// ListBlocks enumerates every block ID currently stored.
	ListBlocks() ([]BlockID, error)
}

// NewBlockID generates a fresh random block ID, resampling on the
// vanishingly unlikely collision with one of the two fixed well-known IDs.
func NewBlockID() BlockID {
	for {
		id := uuid.New()
		if id != MetadataBlockID && id != VersionBlockID {
			return id
		}
	}
}

// ParseBlockID parses the string form of a BlockID.
func ParseBlockID(s string) (BlockID, error) {
	return uuid.Parse(s)
}

// MetadataBlockID is the fixed, process-wide block holding the repository's
// unencrypted RepositoryMetadata. Part of the on-disk format; never change.
var MetadataBlockID = uuid.Nil

// VersionBlockID is the fixed, process-wide block holding the repository
// format version marker. Part of the on-disk format; never change.
var VersionBlockID = uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")
