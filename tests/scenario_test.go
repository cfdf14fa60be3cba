package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordcache/recordcache/internal/accounting"
	"github.com/recordcache/recordcache/internal/cache"
	"github.com/recordcache/recordcache/internal/codec"
	"github.com/recordcache/recordcache/pkg/errors"
	"github.com/recordcache/recordcache/pkg/types"
)

func widgetKey(id string) types.CacheKey {
	return types.CacheKey{ID: id, Category: "widget"}
}

func basicPayload(t *testing.T, id string) []byte {
	t.Helper()
	payload, err := json.Marshal(&types.BasicRecord{
		Key:       widgetKey(id),
		Name:      "widget " + id,
		Summary:   "scenario record",
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return payload
}

func fullRecord(id string, bodyLen int) *types.DetailRecord {
	return &types.DetailRecord{
		Key:     widgetKey(id),
		Name:    "widget " + id,
		Summary: "full detail for " + id,
		Sections: []types.AnalysisSection{
			{Title: "analysis", Body: strings.Repeat("x", bodyLen), Score: 0.9},
		},
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Startup truncation: five records of 210 declared bytes against a 1000 byte
// budget load exactly four and report a partial load.
func TestStartupLoadTruncation(t *testing.T) {
	gen := cache.NewStaticGenerator(nil)
	opts := cache.DefaultOptions()
	opts.Tier1Budget = 1000
	opts.Tier3Budget = 1 << 20

	coord, err := cache.NewCoordinator(gen, opts)
	require.NoError(t, err)
	defer coord.Close()

	records := make([]types.BulkRecord, 0, 5)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("r%d", i)
		records = append(records, types.BulkRecord{
			Key:     widgetKey(id),
			Payload: basicPayload(t, id),
			Size:    210,
		})
	}

	n, err := coord.Reload(records)
	assert.Equal(t, 4, n)
	require.Error(t, err)
	assert.True(t, errors.IsPartialLoad(err))

	stats := coord.Stats()
	assert.Equal(t, 4, stats.Tier1Count)
	assert.Equal(t, int64(840), stats.Tier1Bytes)

	// The loaded prefix serves; repeated reads return the same record.
	first, tier, err := coord.Get(context.Background(), widgetKey("r0"), types.DetailBasic)
	require.NoError(t, err)
	assert.Equal(t, types.Tier1, tier)
	second, _, err := coord.Get(context.Background(), widgetKey("r0"), types.DetailBasic)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	_, _, err = coord.Get(context.Background(), widgetKey("r4"), types.DetailBasic)
	assert.True(t, errors.IsNotFound(err))
}

// Promotion lifecycle: a full record is generated until its third access
// crosses the threshold, then served from the promotion cache.
func TestPromotionLifecycle(t *testing.T) {
	gen := cache.NewStaticGenerator([]*types.DetailRecord{fullRecord("hot", 256)})
	opts := cache.DefaultOptions()
	opts.PromotionThreshold = 3

	coord, err := cache.NewCoordinator(gen, opts)
	require.NoError(t, err)
	defer coord.Close()

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		rec, tier, err := coord.Get(ctx, widgetKey("hot"), types.DetailFull)
		require.NoError(t, err)
		assert.Equal(t, types.Tier2, tier, "access %d should be generated", i)
		require.IsType(t, &types.DetailRecord{}, rec)
	}

	rec, tier, err := coord.Get(ctx, widgetKey("hot"), types.DetailFull)
	require.NoError(t, err)
	assert.Equal(t, types.Tier3, tier)
	detail := rec.(*types.DetailRecord)
	assert.Equal(t, "widget hot", detail.Name)
	require.Len(t, detail.Sections, 1)
	assert.Equal(t, 256, len(detail.Sections[0].Body))

	stats := coord.Stats()
	assert.Equal(t, uint64(3), stats.Generations)
	assert.Equal(t, uint64(1), stats.Promotions)
	assert.Equal(t, uint64(1), stats.Tier3Hits)
}

// Eviction ordering: with the cache exactly full, inserting a new record
// evicts the entry whose last access is oldest, not the oldest insert.
func TestEvictionFollowsLastAccess(t *testing.T) {
	recA := fullRecord("a", 200)
	recB := fullRecord("b", 200)
	recC := fullRecord("c", 200)
	recD := fullRecord("d", 100)

	sizeOf := func(rec *types.DetailRecord) int64 {
		payload, err := json.Marshal(rec)
		require.NoError(t, err)
		return int64(len(payload))
	}
	budget := sizeOf(recA) + sizeOf(recB) + sizeOf(recC)

	acct := accounting.New(map[types.Tier]int64{types.Tier3: budget})
	promo := cache.NewPromotionCache(codec.Nop{}, acct)

	for _, rec := range []*types.DetailRecord{recA, recB, recC} {
		_, err := promo.Insert(rec.Key, rec)
		require.NoError(t, err)
	}

	// a and b are touched again; c becomes least recently used.
	_, ok := promo.Get(recA.Key)
	require.True(t, ok)
	_, ok = promo.Get(recB.Key)
	require.True(t, ok)

	evicted, err := promo.Insert(recD.Key, recD)
	require.NoError(t, err)
	require.Equal(t, []types.CacheKey{recC.Key}, evicted)

	assert.True(t, promo.Contains(recA.Key))
	assert.True(t, promo.Contains(recB.Key))
	assert.True(t, promo.Contains(recD.Key))
	assert.False(t, promo.Contains(recC.Key))
	assert.LessOrEqual(t, acct.Usage(types.Tier3), budget)
}

// With no accesses after insert, recency equals insertion order: the oldest
// insert is the first eviction victim.
func TestEvictionWithoutReaccess(t *testing.T) {
	recA := fullRecord("a", 200)
	recB := fullRecord("b", 200)
	recC := fullRecord("c", 100)
	recD := fullRecord("d", 150)

	sizeOf := func(rec *types.DetailRecord) int64 {
		payload, err := json.Marshal(rec)
		require.NoError(t, err)
		return int64(len(payload))
	}
	budget := sizeOf(recA) + sizeOf(recB) + sizeOf(recC)

	acct := accounting.New(map[types.Tier]int64{types.Tier3: budget})
	promo := cache.NewPromotionCache(codec.Nop{}, acct)

	for _, rec := range []*types.DetailRecord{recA, recB, recC} {
		_, err := promo.Insert(rec.Key, rec)
		require.NoError(t, err)
	}

	evicted, err := promo.Insert(recD.Key, recD)
	require.NoError(t, err)
	require.Equal(t, []types.CacheKey{recA.Key}, evicted)

	assert.False(t, promo.Contains(recA.Key))
	for _, key := range []types.CacheKey{recB.Key, recC.Key, recD.Key} {
		assert.True(t, promo.Contains(key), "%s should be resident", key)
	}
}

// Generation failure: the error surfaces to the caller, nothing lands in the
// promotion cache, and popularity is not credited.
func TestGenerationFailurePath(t *testing.T) {
	gen := types.GeneratorFunc(func(ctx context.Context, key types.CacheKey) (*types.DetailRecord, error) {
		return nil, fmt.Errorf("backend offline")
	})
	opts := cache.DefaultOptions()
	opts.PromotionThreshold = 1

	coord, err := cache.NewCoordinator(gen, opts)
	require.NoError(t, err)
	defer coord.Close()

	for i := 0; i < 3; i++ {
		_, tier, err := coord.Get(context.Background(), widgetKey("broken"), types.DetailFull)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeGenerationFailed))
		assert.Equal(t, types.TierNone, tier)
	}

	assert.False(t, coord.Tier3Contains(widgetKey("broken")))
	stats := coord.Stats()
	assert.Equal(t, uint64(3), stats.GenerationFailures)
	assert.Equal(t, uint64(0), stats.Generations)
	assert.Equal(t, uint64(0), stats.Promotions)
}

// A key preloaded into tier1 can still serve full requests through the
// generator, but is never duplicated into tier3.
func TestTierExclusivity(t *testing.T) {
	gen := cache.NewStaticGenerator([]*types.DetailRecord{fullRecord("a", 64)})
	opts := cache.DefaultOptions()
	opts.PromotionThreshold = 1

	coord, err := cache.NewCoordinator(gen, opts)
	require.NoError(t, err)
	defer coord.Close()

	_, err = coord.Reload([]types.BulkRecord{{
		Key:     widgetKey("a"),
		Payload: basicPayload(t, "a"),
	}})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, tier, err := coord.Get(context.Background(), widgetKey("a"), types.DetailFull)
		require.NoError(t, err)
		assert.Equal(t, types.Tier2, tier)
	}

	assert.True(t, coord.Tier1Contains(widgetKey("a")))
	assert.False(t, coord.Tier3Contains(widgetKey("a")))
}

// A key promoted while absent from tier1 is dropped from tier3 when a reload
// brings it into the basic store, so it never resides in both tiers.
func TestReloadEvictsPromotedKeys(t *testing.T) {
	gen := cache.NewStaticGenerator([]*types.DetailRecord{fullRecord("a", 64)})
	opts := cache.DefaultOptions()
	opts.PromotionThreshold = 1

	coord, err := cache.NewCoordinator(gen, opts)
	require.NoError(t, err)
	defer coord.Close()

	// Promote into tier3 while tier1 is empty.
	_, _, err = coord.Get(context.Background(), widgetKey("a"), types.DetailFull)
	require.NoError(t, err)
	require.True(t, coord.Tier3Contains(widgetKey("a")))

	_, err = coord.Reload([]types.BulkRecord{{
		Key:     widgetKey("a"),
		Payload: basicPayload(t, "a"),
	}})
	require.NoError(t, err)

	assert.True(t, coord.Tier1Contains(widgetKey("a")))
	assert.False(t, coord.Tier3Contains(widgetKey("a")))
	assert.Equal(t, 0, coord.Stats().Tier3Count)
}

// Concurrency hammer: mixed basic and full traffic over a small budget never
// breaks the accounting invariant or returns a wrong record.
func TestConcurrentMixedTraffic(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	details := make([]*types.DetailRecord, 0, len(ids))
	records := make([]types.BulkRecord, 0, len(ids))
	for _, id := range ids {
		details = append(details, fullRecord(id, 512))
		records = append(records, types.BulkRecord{
			Key:     widgetKey("basic-" + id),
			Payload: basicPayload(t, "basic-"+id),
		})
	}

	gen := cache.NewStaticGenerator(details)
	opts := cache.DefaultOptions()
	opts.Tier3Budget = 2048 // small enough to force constant eviction
	opts.PromotionThreshold = 2
	opts.PromotionCooldown = 10 * time.Millisecond

	coord, err := cache.NewCoordinator(gen, opts)
	require.NoError(t, err)
	defer coord.Close()

	_, err = coord.Reload(records)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ctx := context.Background()
			for i := 0; i < 50; i++ {
				id := ids[(w+i)%len(ids)]

				rec, tier, err := coord.Get(ctx, widgetKey(id), types.DetailFull)
				assert.NoError(t, err)
				assert.Contains(t, []types.Tier{types.Tier2, types.Tier3}, tier)
				if detail, ok := rec.(*types.DetailRecord); assert.True(t, ok) {
					assert.Equal(t, "widget "+id, detail.Name)
				}

				_, tier, err = coord.Get(ctx, widgetKey("basic-"+id), types.DetailBasic)
				assert.NoError(t, err)
				assert.Equal(t, types.Tier1, tier)
			}
		}(w)
	}
	wg.Wait()

	stats := coord.Stats()
	assert.LessOrEqual(t, stats.Tier3Bytes, int64(2048))
	assert.Equal(t, uint64(800), stats.TotalRequests)
	assert.Equal(t, uint64(0), stats.CorruptEntries)
}

// Clearing tier3 resets promotion state so a hot key must earn its slot
// again.
func TestClearResetsPromotionState(t *testing.T) {
	gen := cache.NewStaticGenerator([]*types.DetailRecord{fullRecord("hot", 64)})
	opts := cache.DefaultOptions()
	opts.PromotionThreshold = 2

	coord, err := cache.NewCoordinator(gen, opts)
	require.NoError(t, err)
	defer coord.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _, err := coord.Get(ctx, widgetKey("hot"), types.DetailFull)
		require.NoError(t, err)
	}
	require.True(t, coord.Tier3Contains(widgetKey("hot")))

	require.NoError(t, coord.Clear(types.Tier3))
	assert.False(t, coord.Tier3Contains(widgetKey("hot")))

	// One access is below the threshold again.
	_, tier, err := coord.Get(ctx, widgetKey("hot"), types.DetailFull)
	require.NoError(t, err)
	assert.Equal(t, types.Tier2, tier)
	assert.False(t, coord.Tier3Contains(widgetKey("hot")))
}
