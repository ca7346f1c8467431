// Package recovery implements optional escrow recovery slots: an
// alternate path to the repository's MasterKey via an ML-KEM-768 keypair
// held outside the password, additive to (never a replacement for) the
// normal password-derived unlock path.
package recovery

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"

	coldkeep "github.com/coldkeep/coldkeep"
)

// Slot is a single escrow recovery entry persisted in RepositoryMetadata.
// SlotID distinguishes multiple slots (e.g. one per escrow holder).
type Slot struct {
	SlotID        uint8
	KEMCiphertext []byte
	Nonce         []byte
	WrappedKey    []byte
}

// GenerateKeyPair generates a fresh ML-KEM-768 keypair for a new escrow
// holder. The private key must be kept by the holder, never stored in
// the repository.
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	pub, priv, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ml-kem-768 keypair: %w", err)
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal public key: %w", err)
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pubBytes, privBytes, nil
}

// AddSlot seals masterKey for the holder of publicKey's matching private
// key, producing a Slot to append to RepositoryMetadata.
func AddSlot(slotID uint8, publicKey, masterKey []byte) (Slot, error) {
	var pub mlkem768.PublicKey
	if err := pub.Unpack(publicKey); err != nil {
		return Slot{}, coldkeep.E("recovery.AddSlot", coldkeep.KindIo, fmt.Errorf("unpack public key: %w", err))
	}

	seed := make([]byte, mlkem768.EncapsulationSeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return Slot{}, coldkeep.E("recovery.AddSlot", coldkeep.KindIo, err)
	}
	ct := make([]byte, mlkem768.CiphertextSize)
	ss := make([]byte, mlkem768.SharedKeySize)
	pub.EncapsulateTo(ct, ss, seed)
	defer zero(ss)

	wrapKey := sha256.Sum256(ss)
	defer zero(wrapKey[:])

	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Slot{}, coldkeep.E("recovery.AddSlot", coldkeep.KindIo, err)
	}
	wrapped, err := aesGCMSeal(wrapKey[:], nonce, masterKey)
	if err != nil {
		return Slot{}, coldkeep.E("recovery.AddSlot", coldkeep.KindIo, err)
	}

	return Slot{SlotID: slotID, KEMCiphertext: ct, Nonce: nonce, WrappedKey: wrapped}, nil
}

// Recover reverses AddSlot: given the escrow holder's private key and the
// matching Slot, it recovers the original MasterKey.
func Recover(privateKey []byte, slot Slot) ([]byte, error) {
	var priv mlkem768.PrivateKey
	if err := priv.Unpack(privateKey); err != nil {
		return nil, coldkeep.E("recovery.Recover", coldkeep.KindPassword, fmt.Errorf("unpack private key: %w", err))
	}

	ss := make([]byte, mlkem768.SharedKeySize)
	priv.DecapsulateTo(ss, slot.KEMCiphertext)
	defer zero(ss)

	wrapKey := sha256.Sum256(ss)
	defer zero(wrapKey[:])

	masterKey, err := aesGCMOpen(wrapKey[:], slot.Nonce, slot.WrappedKey)
	if err != nil {
		return nil, coldkeep.E("recovery.Recover", coldkeep.KindPassword, err)
	}
	return masterKey, nil
}

func aesGCMSeal(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func aesGCMOpen(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
