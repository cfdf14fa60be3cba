// Package codec compresses and decompresses record payloads for the
// size-bounded tiers.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Codec turns a record payload into its stored form and back. Stored bytes
// are what the tiers account against their budgets.
type Codec interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// GzipCodec compresses payloads with gzip at a fixed level.
type GzipCodec struct {
	level int
}

// NewGzip returns a gzip codec. An out-of-range level falls back to the
// default compression level.
func NewGzip(level int) *GzipCodec {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &GzipCodec{level: level}
}

// Name implements Codec.
func (c *GzipCodec) Name() string { return "gzip" }

// Compress implements Codec.
func (c *GzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compression: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress implements Codec.
func (c *GzipCodec) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress data: %w", err)
	}
	return out, nil
}

// Nop stores payloads verbatim. Used when compression is disabled and in
// tests that need deterministic entry sizes.
type Nop struct{}

// Name implements Codec.
func (Nop) Name() string { return "none" }

// Compress implements Codec.
func (Nop) Compress(data []byte) ([]byte, error) { return data, nil }

// Decompress implements Codec.
func (Nop) Decompress(data []byte) ([]byte, error) { return data, nil }
