// Package blockcodec implements the repository's block codec: the
// compress-then-encrypt transform applied to every block written to the
// backend, and its inverse.
package blockcodec

import (
	"fmt"

	coldkeep "github.com/coldkeep/coldkeep"
)

// Codec applies compression and authenticated encryption to block
// payloads. With encryption disabled, Encode/Decode reduce to
// compress/decompress.
type Codec struct {
	compressor Compressor
	encryptor  Encryptor
}

// New builds a Codec from the given algorithms.
func New(compression CompressionAlgo, compressionLevel int, encryption EncryptionAlgo) (*Codec, error) {
	compressor, err := NewCompressor(compression, compressionLevel)
	if err != nil {
		return nil, fmt.Errorf("build compressor: %w", err)
	}
	encryptor, err := NewEncryptor(encryption)
	if err != nil {
		return nil, fmt.Errorf("build encryptor: %w", err)
	}
	return &Codec{compressor: compressor, encryptor: encryptor}, nil
}

// KeySize returns the key size the codec's encryption algorithm requires.
func (c *Codec) KeySize() int { return c.encryptor.KeySize() }

// Encode compresses plaintext and encrypts the result with key, returning
// the opaque payload to persist in the backend.
func (c *Codec) Encode(key, plaintext []byte) ([]byte, error) {
	compressed, err := c.compressor.Compress(plaintext)
	if err != nil {
		return nil, coldkeep.E("blockcodec.Encode", coldkeep.KindIo, err)
	}
	encoded, err := c.encryptor.Encrypt(key, compressed)
	if err != nil {
		return nil, coldkeep.E("blockcodec.Encode", coldkeep.KindIo, err)
	}
	return encoded, nil
}

// Decode reverses Encode. Authentication failure yields KindInvalidData;
// a decompression failure on already-authenticated bytes yields
// KindCorrupt.
func (c *Codec) Decode(key, encoded []byte) ([]byte, error) {
	compressed, err := c.encryptor.Decrypt(key, encoded)
	if err != nil {
		return nil, coldkeep.E("blockcodec.Decode", coldkeep.KindInvalidData, err)
	}
	plaintext, err := c.compressor.Decompress(compressed)
	if err != nil {
		return nil, coldkeep.E("blockcodec.Decode", coldkeep.KindCorrupt, err)
	}
	return plaintext, nil
}
