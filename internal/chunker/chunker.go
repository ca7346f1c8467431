// Package chunker wraps restic/chunker's content-defined chunking so that
// repeated runs over content sharing long common substrings produce
// identical chunk boundaries, the property the repository's
// deduplication relies on.
package chunker

import (
	"bytes"
	"fmt"
	"io"
	"math/bits"

	resticchunker "github.com/restic/chunker"
)

// Config pins the parameters a Chunker needs to reproduce identical
// boundaries across processes: the same polynomial and size bounds must
// be used every time a given repository is written to.
type Config struct {
	MinSize    int
	AvgSize    int
	MaxSize    int
	Polynomial uint64
}

// DefaultConfig derives min/max bounds from chunkerBits (average size
// 2^chunkerBits) using the conventional avg/4 .. avg*4 spread, generating
// a fresh splitting polynomial.
func DefaultConfig(chunkerBits uint8) (Config, error) {
	avg := 1 << chunkerBits
	pol, err := resticchunker.RandomPolynomial()
	if err != nil {
		return Config{}, fmt.Errorf("generate chunker polynomial: %w", err)
	}
	return Config{
		MinSize:    avg / 4,
		AvgSize:    avg,
		MaxSize:    avg * 4,
		Polynomial: uint64(pol),
	}, nil
}

// Chunk is one content-defined slice of an input stream.
type Chunk struct {
	Data   []byte
	Offset int64
}

// Chunker splits byte streams into content-defined chunks.
type Chunker struct {
	cfg Config
}

// New builds a Chunker from cfg.
func New(cfg Config) (*Chunker, error) {
	if cfg.MinSize <= 0 || cfg.AvgSize <= 0 || cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("chunk sizes must be positive")
	}
	if cfg.MinSize > cfg.AvgSize || cfg.AvgSize > cfg.MaxSize {
		return nil, fmt.Errorf("chunk sizes must satisfy min <= avg <= max")
	}
	return &Chunker{cfg: cfg}, nil
}

// Split divides data into content-defined chunks. An empty input yields no
// chunks.
func (c *Chunker) Split(data []byte) ([]Chunk, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return c.SplitReader(bytes.NewReader(data))
}

// SplitReader divides the stream read from r into content-defined chunks.
func (c *Chunker) SplitReader(r io.Reader) ([]Chunk, error) {
	ck := resticchunker.NewWithBoundaries(
		r,
		resticchunker.Pol(c.cfg.Polynomial),
		uint(c.cfg.MinSize),
		uint(c.cfg.MaxSize),
	)
	ck.SetAverageBits(bits.Len(uint(c.cfg.AvgSize)) - 1)

	buf := make([]byte, c.cfg.MaxSize)
	var chunks []Chunk
	var offset int64

	for {
		raw, err := ck.Next(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chunking failed at offset %d: %w", offset, err)
		}

		data := make([]byte, raw.Length)
		copy(data, raw.Data)

		chunks = append(chunks, Chunk{Data: data, Offset: offset})
		offset += int64(raw.Length)
	}

	return chunks, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
