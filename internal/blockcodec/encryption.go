package blockcodec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptionAlgo names a supported authenticated encryption scheme.
type EncryptionAlgo string

const (
	EncryptionNone     EncryptionAlgo = "none"
	EncryptionAESGCM   EncryptionAlgo = "aes256gcm"
	EncryptionXChaCha  EncryptionAlgo = "xchacha20poly1305"
)

// Encryptor provides authenticated encryption. Tag verification on Decrypt
// is the only integrity check the block codec performs.
type Encryptor interface {
	Encrypt(key, plaintext []byte) (ciphertext []byte, err error)
	Decrypt(key, ciphertext []byte) (plaintext []byte, err error)
	Algorithm() EncryptionAlgo
	KeySize() int
}

// NewEncryptor builds an Encryptor for the given algorithm.
func NewEncryptor(algo EncryptionAlgo) (Encryptor, error) {
	switch algo {
	case EncryptionNone, "":
		return noopEncryptor{}, nil
	case EncryptionAESGCM:
		return aesGCMEncryptor{}, nil
	case EncryptionXChaCha:
		return xChaChaEncryptor{}, nil
	default:
		return nil, fmt.Errorf("unsupported encryption algorithm: %s", algo)
	}
}

type noopEncryptor struct{}

func (noopEncryptor) Encrypt(_, plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (noopEncryptor) Decrypt(_, ciphertext []byte) ([]byte, error) { return ciphertext, nil }
func (noopEncryptor) Algorithm() EncryptionAlgo                     { return EncryptionNone }
func (noopEncryptor) KeySize() int                                  { return 0 }

// aesGCMEncryptor implements Encryptor using AES-256-GCM. The nonce is
// generated fresh per call and prepended to the returned ciphertext.
type aesGCMEncryptor struct{}

func (aesGCMEncryptor) Algorithm() EncryptionAlgo { return EncryptionAESGCM }
func (aesGCMEncryptor) KeySize() int              { return 32 }

func (e aesGCMEncryptor) Encrypt(key, plaintext []byte) ([]byte, error) {
	if len(key) != e.KeySize() {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), e.KeySize())
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (e aesGCMEncryptor) Decrypt(key, ciphertext []byte) ([]byte, error) {
	if len(key) != e.KeySize() {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), e.KeySize())
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return plaintext, nil
}

// xChaChaEncryptor implements Encryptor using XChaCha20-Poly1305, whose
// 24-byte nonce is safe to generate randomly at any volume.
type xChaChaEncryptor struct{}

func (xChaChaEncryptor) Algorithm() EncryptionAlgo { return EncryptionXChaCha }
func (xChaChaEncryptor) KeySize() int              { return chacha20poly1305.KeySize }

func (e xChaChaEncryptor) Encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (e xChaChaEncryptor) Decrypt(key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return plaintext, nil
}
