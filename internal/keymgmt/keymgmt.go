// Package keymgmt manages the repository's MasterKey and the
// password-derived UserKey that wraps it, including the zeroization
// discipline both secrets require.
package keymgmt

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// KDFParams pins the Argon2id cost parameters used to derive a UserKey
// from a password. These are persisted in RepositoryMetadata so a
// repository always rederives the same key for the same password.
type KDFParams struct {
	MemLimitKiB uint32
	OpsLimit    uint32
	Threads     uint8
}

// DefaultKDFParams returns the interactive-use Argon2id parameters the
// rest of this codebase's crypto tooling uses.
func DefaultKDFParams() KDFParams {
	return KDFParams{MemLimitKiB: 64 * 1024, OpsLimit: 3, Threads: 4}
}

// Key is a secret byte slice with a guaranteed-zeroing Destroy method.
// Both MasterKey and UserKey are Keys; the distinction is purely in how
// each is produced and used.
type Key struct {
	bytes []byte
}

// Bytes returns the key's underlying bytes. The caller must not retain
// the slice past the key's lifetime.
func (k *Key) Bytes() []byte {
	if k == nil {
		return nil
	}
	return k.bytes
}

// Destroy overwrites the key's backing array with zeros. Safe to call
// more than once and on a nil Key.
func (k *Key) Destroy() {
	if k == nil {
		return
	}
	for i := range k.bytes {
		k.bytes[i] = 0
	}
}

// NewKey wraps raw bytes as a Key without copying.
func NewKey(b []byte) *Key { return &Key{bytes: b} }

// GenerateMasterKey generates a random MasterKey of size bytes using a
// cryptographic RNG. size is 0 when encryption is disabled, producing an
// empty key.
func GenerateMasterKey(size int) (*Key, error) {
	if size == 0 {
		return NewKey(nil), nil
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return NewKey(b), nil
}

// GenerateSalt generates a fresh random salt for key derivation.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveUserKey derives a UserKey of keySize bytes from password and salt
// using Argon2id with the given parameters.
func DeriveUserKey(password, salt []byte, keySize int, params KDFParams) *Key {
	derived := argon2.IDKey(password, salt, params.OpsLimit, params.MemLimitKiB, params.Threads, uint32(keySize))
	return NewKey(derived)
}
