package blockcodec

import (
	"bytes"
	"crypto/rand"
	"testing"

	coldkeep "github.com/coldkeep/coldkeep"
)

func TestCodec_RoundTrip(t *testing.T) {
	c, err := New(CompressionZstd, 3, EncryptionAESGCM)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key := make([]byte, c.KeySize())
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	plaintext := bytes.Repeat([]byte("data"), 1000)
	encoded, err := c.Encode(key, plaintext)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := c.Decode(key, encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded, plaintext) {
		t.Error("decoded output does not match original plaintext")
	}
}

func TestCodec_DecodeTamperedYieldsInvalidData(t *testing.T) {
	c, err := New(CompressionNone, 0, EncryptionAESGCM)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key := make([]byte, c.KeySize())

	encoded, err := c.Encode(key, []byte("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	encoded[len(encoded)-1] ^= 0xFF

	_, err = c.Decode(key, encoded)
	if !coldkeep.Is(err, coldkeep.KindInvalidData) {
		t.Errorf("expected KindInvalidData, got %v", err)
	}
}

func TestCodec_NoEncryptionNoCompression(t *testing.T) {
	c, err := New(CompressionNone, 0, EncryptionNone)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.KeySize() != 0 {
		t.Errorf("KeySize with no encryption: got %d, want 0", c.KeySize())
	}
	plaintext := []byte("plain")
	encoded, err := c.Encode(nil, plaintext)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(encoded, plaintext) {
		t.Error("with no compression/encryption, Encode should pass data through")
	}
}
