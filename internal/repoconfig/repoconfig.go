// Package repoconfig holds repository-creation parameters, mirroring the
// teacher's PipelineConfig preset idiom (internal/crypto/config.go)
// adapted to this engine's axes: chunking, compression, encryption, and
// the Argon2id KDF cost.
package repoconfig

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/coldkeep/coldkeep/internal/blockcodec"
)

// CreateOptions controls how Create configures a new repository.
type CreateOptions struct {
	ChunkerBits      uint8                      `yaml:"chunker_bits"`
	Compression      blockcodec.CompressionAlgo `yaml:"compression"`
	CompressionLevel int                        `yaml:"compression_level"`
	Encryption       blockcodec.EncryptionAlgo  `yaml:"encryption"`
	KDFMemLimit      uint32                     `yaml:"kdf_mem_limit_kib"`
	KDFOpsLimit      uint32                     `yaml:"kdf_ops_limit"`
}

// Validate checks CreateOptions for internal consistency.
func (o *CreateOptions) Validate() error {
	if o.ChunkerBits < 10 || o.ChunkerBits > 27 {
		return fmt.Errorf("chunker_bits must be between 10 and 27, got %d", o.ChunkerBits)
	}
	if o.Encryption != blockcodec.EncryptionNone {
		if o.KDFMemLimit == 0 {
			return fmt.Errorf("kdf_mem_limit_kib required when encryption is enabled")
		}
		if o.KDFOpsLimit == 0 {
			return fmt.Errorf("kdf_ops_limit required when encryption is enabled")
		}
	}
	return nil
}

// DefaultOptions is the balanced, general-purpose preset: 1 MiB average
// chunks, zstd compression, AES-256-GCM encryption.
var DefaultOptions = CreateOptions{
	ChunkerBits:      20, // 2^20 = 1 MiB average chunk size
	Compression:      blockcodec.CompressionZstd,
	CompressionLevel: 3,
	Encryption:       blockcodec.EncryptionAESGCM,
	KDFMemLimit:      64 * 1024,
	KDFOpsLimit:      3,
}

// FastOptions favors throughput over space savings: larger chunks,
// snappy compression, no KDF hardening beyond the minimum.
var FastOptions = CreateOptions{
	ChunkerBits: 22, // 4 MiB average
	Compression: blockcodec.CompressionSnappy,
	Encryption:  blockcodec.EncryptionAESGCM,
	KDFMemLimit: 19 * 1024,
	KDFOpsLimit: 2,
}

// ArchiveOptions favors maximum space savings for cold, rarely-read
// data: smaller chunks (more dedup granularity) and a high zstd
// compression level (9).
var ArchiveOptions = CreateOptions{
	ChunkerBits:      18, // 256 KiB average
	Compression:      blockcodec.CompressionZstd,
	CompressionLevel: 9,
	Encryption:       blockcodec.EncryptionXChaCha,
	KDFMemLimit:      128 * 1024,
	KDFOpsLimit:      4,
}

// GetPreset returns a named preset configuration.
func GetPreset(name string) (CreateOptions, error) {
	switch name {
	case "default", "":
		return DefaultOptions, nil
	case "fast":
		return FastOptions, nil
	case "archive", "cold":
		return ArchiveOptions, nil
	default:
		return CreateOptions{}, fmt.Errorf("unknown preset: %s", name)
	}
}

// Load reads CreateOptions from YAML bytes, matching the teacher's
// internal/config package's yaml.v3 usage.
func Load(data []byte) (CreateOptions, error) {
	var o CreateOptions
	if err := yaml.Unmarshal(data, &o); err != nil {
		return CreateOptions{}, fmt.Errorf("parse repository config: %w", err)
	}
	return o, nil
}
