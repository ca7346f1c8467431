package object

import (
	"fmt"

	"github.com/coldkeep/coldkeep/internal/header"
)

func errKeyGone[K comparable](key K) error {
	return fmt.Errorf("key %v no longer present", key)
}

func errBadWhence(whence int) error {
	return fmt.Errorf("invalid seek whence %d", whence)
}

func errNegativePos(pos int64) error {
	return fmt.Errorf("seek to negative position %d", pos)
}

func errChunkMissing(hash header.ChunkHash) error {
	return fmt.Errorf("chunk %x referenced by object but missing from header", hash)
}
