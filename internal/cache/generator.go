package cache

import (
	"context"
	"sync"

	"github.com/recordcache/recordcache/pkg/types"
)

// StaticGenerator serves detail records from a fixed in-memory set. It is the
// simplest useful Generator: wiring tests, demos, and callers whose record
// set is known up front. Generate honors context cancellation but performs no
// other work, so it returns quickly.
type StaticGenerator struct {
	mu      sync.RWMutex
	records map[types.CacheKey]*types.DetailRecord
}

// NewStaticGenerator creates a generator over the given records.
func NewStaticGenerator(records []*types.DetailRecord) *StaticGenerator {
	m := make(map[types.CacheKey]*types.DetailRecord, len(records))
	for _, rec := range records {
		m[rec.Key] = rec
	}
	return &StaticGenerator{records: m}
}

// Generate implements types.Generator. Unknown keys report
// "no detail record" as a plain error, which the coordinator surfaces as
// GENERATION_FAILED.
func (g *StaticGenerator) Generate(ctx context.Context, key types.CacheKey) (*types.DetailRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	rec, ok := g.records[key]
	g.mu.RUnlock()
	if !ok {
		return nil, &unknownKeyError{key: key}
	}

	// Return a copy so callers cannot mutate the backing set.
	out := *rec
	return &out, nil
}

// Add registers or replaces a record.
func (g *StaticGenerator) Add(rec *types.DetailRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[rec.Key] = rec
}

type unknownKeyError struct {
	key types.CacheKey
}

func (e *unknownKeyError) Error() string {
	return "no detail record for " + e.key.String()
}
