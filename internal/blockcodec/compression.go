package blockcodec

import (
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// CompressionAlgo names a supported compression scheme.
type CompressionAlgo string

const (
	CompressionNone   CompressionAlgo = "none"
	CompressionZstd   CompressionAlgo = "zstd"
	CompressionSnappy CompressionAlgo = "snappy"
)

// Compressor compresses and decompresses block payloads.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() CompressionAlgo
}

// NewCompressor builds a Compressor for the given algorithm.
func NewCompressor(algo CompressionAlgo, level int) (Compressor, error) {
	switch algo {
	case CompressionNone, "":
		return noopCompressor{}, nil
	case CompressionZstd:
		return newZstdCompressor(level)
	case CompressionSnappy:
		return snappyCompressor{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algo)
	}
}

type noopCompressor struct{}

func (noopCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noopCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noopCompressor) Algorithm() CompressionAlgo              { return CompressionNone }

type snappyCompressor struct{}

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	return out, nil
}

func (snappyCompressor) Algorithm() CompressionAlgo { return CompressionSnappy }

// zstdCompressor implements Compressor using zstd, lazily constructing its
// encoder/decoder since both are relatively expensive to set up.
type zstdCompressor struct {
	level       int
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	encoderOnce sync.Once
	decoderOnce sync.Once
	encoderErr  error
	decoderErr  error
}

func newZstdCompressor(level int) (*zstdCompressor, error) {
	if level < 1 || level > 19 {
		return nil, fmt.Errorf("zstd level must be 1-19, got %d", level)
	}
	return &zstdCompressor{level: level}, nil
}

func (c *zstdCompressor) getEncoder() (*zstd.Encoder, error) {
	c.encoderOnce.Do(func() {
		c.encoder, c.encoderErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.level)),
			zstd.WithEncoderConcurrency(1),
		)
	})
	return c.encoder, c.encoderErr
}

func (c *zstdCompressor) getDecoder() (*zstd.Decoder, error) {
	c.decoderOnce.Do(func() {
		c.decoder, c.decoderErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(256*1024*1024),
		)
	})
	return c.decoder, c.decoderErr
}

func (c *zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := c.getEncoder()
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (c *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec, err := c.getDecoder()
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

func (c *zstdCompressor) Algorithm() CompressionAlgo { return CompressionZstd }
