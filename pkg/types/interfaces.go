package types

import (
	"context"
)

// Generator computes a detail record for a key on demand. Implementations
// must be stateless with respect to caching, must tolerate concurrent calls
// for the same key, and must honor ctx cancellation and deadlines.
type Generator interface {
	Generate(ctx context.Context, key CacheKey) (*DetailRecord, error)
}

// GeneratorFunc adapts an ordinary function to the Generator interface.
type GeneratorFunc func(ctx context.Context, key CacheKey) (*DetailRecord, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, key CacheKey) (*DetailRecord, error) {
	return f(ctx, key)
}

// BulkSource supplies the ordered basic record set loaded into Tier 1 at
// process start or on reload.
type BulkSource interface {
	Records(ctx context.Context) ([]BulkRecord, error)
}
