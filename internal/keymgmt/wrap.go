package keymgmt

import (
	coldkeep "github.com/coldkeep/coldkeep"
	"github.com/coldkeep/coldkeep/internal/blockcodec"
)

// Wrap seals the MasterKey with the UserKey using the given AEAD,
// producing the bytes stored in RepositoryMetadata.encrypted_master_key.
// An empty MasterKey (encryption disabled) wraps to an empty slice.
func Wrap(encryptor blockcodec.Encryptor, userKey, masterKey []byte) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, nil
	}
	wrapped, err := encryptor.Encrypt(userKey, masterKey)
	if err != nil {
		return nil, coldkeep.E("keymgmt.Wrap", coldkeep.KindIo, err)
	}
	return wrapped, nil
}

// Unwrap recovers the MasterKey from its wrapped form. Authentication
// failure here means the supplied password (and thus derived UserKey) was
// wrong, so it is surfaced as KindPassword rather than KindInvalidData.
func Unwrap(encryptor blockcodec.Encryptor, userKey, wrapped []byte) (*Key, error) {
	if len(wrapped) == 0 {
		return NewKey(nil), nil
	}
	plaintext, err := encryptor.Decrypt(userKey, wrapped)
	if err != nil {
		return nil, coldkeep.E("keymgmt.Unwrap", coldkeep.KindPassword, err)
	}
	return NewKey(plaintext), nil
}
