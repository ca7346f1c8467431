package repository

import (
	"fmt"

	"github.com/coldkeep/coldkeep/internal/backend"
)

func errNoMetadata() error {
	return fmt.Errorf("backend has no metadata block: not a repository")
}

func errNoVersion() error {
	return fmt.Errorf("backend has no version block: not a repository")
}

func errVersionMismatch(got string) error {
	return fmt.Errorf("unsupported repository version %q, want %q", got, VersionMagic)
}

func errMissingHeaderBlock(id backend.BlockID) error {
	return fmt.Errorf("header block %s referenced by metadata is missing", id.String())
}

func errEncryptionDisabled() error {
	return fmt.Errorf("change password requires encryption to be enabled")
}

func errPasswordNotAllowed() error {
	return fmt.Errorf("password supplied but encryption is disabled")
}

func errPasswordRequired() error {
	return fmt.Errorf("password required when encryption is enabled")
}

func errNoSuchSlot(id uint8) error {
	return fmt.Errorf("no recovery slot with id %d", id)
}

func errAlreadyHasVersion() error {
	return fmt.Errorf("backend already holds a version block: repository already exists")
}
