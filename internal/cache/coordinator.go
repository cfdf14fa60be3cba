package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/recordcache/recordcache/internal/accounting"
	"github.com/recordcache/recordcache/internal/codec"
	"github.com/recordcache/recordcache/internal/metrics"
	"github.com/recordcache/recordcache/pkg/errors"
	"github.com/recordcache/recordcache/pkg/types"
	"github.com/recordcache/recordcache/pkg/utils"
)

// Options configures a Coordinator.
type Options struct {
	// Tier1Budget and Tier3Budget bound the compressed bytes each tier may
	// hold. Both must be positive.
	Tier1Budget int64
	Tier3Budget int64

	// PromotionThreshold is the access count at which a generated record
	// becomes eligible for Tier 3.
	PromotionThreshold int64

	// PromotionCooldown delays further promotion attempts for a key after an
	// insert was rejected for lack of budget.
	PromotionCooldown time.Duration

	// GenerationTimeout caps every generator invocation, in addition to any
	// deadline already on the caller's context. Zero means no extra cap.
	GenerationTimeout time.Duration

	// DecayInterval, when positive, halves popularity counters once per
	// interval.
	DecayInterval time.Duration

	Codec   codec.Codec
	Logger  *utils.Logger
	Metrics *metrics.Collector
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		Tier1Budget:        256 * 1024 * 1024,
		Tier3Budget:        64 * 1024 * 1024,
		PromotionThreshold: 3,
		PromotionCooldown:  5 * time.Minute,
		GenerationTimeout:  10 * time.Second,
	}
}

// Coordinator orchestrates lookups across the tiers. Basic requests are
// served from Tier 1 only; full requests are served from Tier 3, falling back
// to the generator, with popularity-driven promotion of the result.
type Coordinator struct {
	opts      Options
	acct      *accounting.Accountant
	tier1     *RecordStore
	tier3     *PromotionCache
	tracker   *PopularityTracker
	generator types.Generator
	flight    singleflight.Group
	logger    *utils.Logger
	metrics   *metrics.Collector

	statsMu sync.Mutex
	stats   counterSet
}

type counterSet struct {
	totalRequests    uint64
	tier1Hits        uint64
	tier1Misses      uint64
	tier3Hits        uint64
	tier3Misses      uint64
	generations      uint64
	genFailures      uint64
	promotions       uint64
	promotionRejects uint64
}

// NewCoordinator creates a coordinator around the given generator. The
// generator is required; budgets and the promotion threshold must be
// positive.
func NewCoordinator(gen types.Generator, opts Options) (*Coordinator, error) {
	if gen == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "generator is required").
			WithComponent("coordinator")
	}
	if opts.Tier1Budget <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "tier1 budget must be positive, got %d", opts.Tier1Budget).
			WithComponent("coordinator")
	}
	if opts.Tier3Budget <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "tier3 budget must be positive, got %d", opts.Tier3Budget).
			WithComponent("coordinator")
	}
	if opts.PromotionThreshold < 1 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "promotion threshold must be at least 1, got %d", opts.PromotionThreshold).
			WithComponent("coordinator")
	}
	if opts.Codec == nil {
		opts.Codec = codec.NewGzip(-1)
	}

	acct := accounting.New(map[types.Tier]int64{
		types.Tier1: opts.Tier1Budget,
		types.Tier3: opts.Tier3Budget,
	})

	tier3 := NewPromotionCache(opts.Codec, acct)
	c := &Coordinator{
		opts:      opts,
		acct:      acct,
		tier1:     NewRecordStore(opts.Codec, acct),
		tier3:     tier3,
		tracker:   NewPopularityTracker(opts.PromotionThreshold, opts.PromotionCooldown, tier3.Contains),
		generator: gen,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}

	if opts.DecayInterval > 0 {
		c.tracker.StartDecay(opts.DecayInterval)
	}
	return c, nil
}

// Get serves a record at the requested detail level.
//
// Basic lookups are answered from Tier 1 or fail with NOT_FOUND; there is no
// generation fallback at that level. Full lookups are answered from Tier 3
// when resident, otherwise generated under the caller's deadline; generated
// records are returned to the caller whether or not promotion succeeds.
func (c *Coordinator) Get(ctx context.Context, key types.CacheKey, level types.DetailLevel) (types.Record, types.Tier, error) {
	c.bump(func(s *counterSet) { s.totalRequests++ })
	c.metrics.RecordRequest(level.String())

	switch level {
	case types.DetailBasic:
		return c.getBasic(key)
	case types.DetailFull:
		return c.getFull(ctx, key)
	default:
		return nil, types.TierNone, errors.Newf(errors.ErrCodeInvalidState, "unknown detail level %d", int(level)).
			WithComponent("coordinator").WithOperation("Get")
	}
}

func (c *Coordinator) getBasic(key types.CacheKey) (types.Record, types.Tier, error) {
	if rec, ok := c.tier1.Get(key); ok {
		c.bump(func(s *counterSet) { s.tier1Hits++ })
		c.metrics.RecordHit(types.Tier1.String())
		return rec, types.Tier1, nil
	}
	c.bump(func(s *counterSet) { s.tier1Misses++ })
	c.metrics.RecordMiss(types.Tier1.String())
	return nil, types.TierNone, errors.Newf(errors.ErrCodeNotFound, "no basic record for %s", key).
		WithComponent("coordinator").WithOperation("Get")
}

func (c *Coordinator) getFull(ctx context.Context, key types.CacheKey) (types.Record, types.Tier, error) {
	if rec, ok := c.tier3.Get(key); ok {
		c.bump(func(s *counterSet) { s.tier3Hits++ })
		c.metrics.RecordHit(types.Tier3.String())
		return rec, types.Tier3, nil
	}
	c.bump(func(s *counterSet) { s.tier3Misses++ })
	c.metrics.RecordMiss(types.Tier3.String())

	rec, err := c.generate(ctx, key)
	if err != nil {
		return nil, types.TierNone, err
	}

	count := c.tracker.RecordAccess(key)
	c.maybePromote(key, count, rec)
	c.publishUsage()
	return rec, types.Tier2, nil
}

// generate invokes the generator through a single-flight group so concurrent
// misses on one key share a single invocation. The shared call runs detached
// from any single caller, bounded only by GenerationTimeout, so a caller with
// a short deadline cannot cancel the work out from under the others. Each
// caller still waits under its own context and gets a timeout without the
// result when that expires first.
func (c *Coordinator) generate(ctx context.Context, key types.CacheKey) (*types.DetailRecord, error) {
	start := time.Now()
	ch := c.flight.DoChan(key.String(), func() (interface{}, error) {
		genCtx := context.Background()
		cancel := func() {}
		if c.opts.GenerationTimeout > 0 {
			genCtx, cancel = context.WithTimeout(genCtx, c.opts.GenerationTimeout)
		}
		defer cancel()
		return c.generator.Generate(genCtx, key)
	})

	waitCtx := ctx
	cancel := func() {}
	if c.opts.GenerationTimeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, c.opts.GenerationTimeout)
	}
	defer cancel()

	select {
	case res := <-ch:
		elapsed := time.Since(start)
		if res.Err != nil {
			c.bump(func(s *counterSet) { s.genFailures++ })
			c.metrics.ObserveGeneration(elapsed, false)
			return nil, c.generationError(key, res.Err)
		}
		rec, ok := res.Val.(*types.DetailRecord)
		if !ok || rec == nil {
			c.bump(func(s *counterSet) { s.genFailures++ })
			c.metrics.ObserveGeneration(elapsed, false)
			return nil, errors.Newf(errors.ErrCodeGenerationFailed, "generator returned no record for %s", key).
				WithComponent("coordinator").WithOperation("Get")
		}
		c.bump(func(s *counterSet) { s.generations++ })
		c.metrics.ObserveGeneration(elapsed, true)
		return rec, nil

	case <-waitCtx.Done():
		c.bump(func(s *counterSet) { s.genFailures++ })
		c.metrics.ObserveGeneration(time.Since(start), false)
		return nil, c.generationError(key, waitCtx.Err())
	}
}

func (c *Coordinator) generationError(key types.CacheKey, cause error) error {
	code := errors.ErrCodeGenerationFailed
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		code = errors.ErrCodeGenerationTimeout
	case errors.Is(cause, context.Canceled):
		code = errors.ErrCodeGenerationCanceled
	}
	return errors.Newf(code, "generation for %s failed", key).
		WithComponent("coordinator").WithOperation("Get").WithCause(cause)
}

// maybePromote inserts the record into Tier 3 once the popularity threshold
// is crossed. A key resident in Tier 1 is never promoted, so a key lives in
// at most one tier. A rejected insert arms the key's cooldown.
func (c *Coordinator) maybePromote(key types.CacheKey, count int64, rec *types.DetailRecord) {
	if !c.tracker.ShouldPromote(key) {
		return
	}
	if c.tier1.Contains(key) {
		return
	}

	evicted, err := c.tier3.Insert(key, rec)
	if len(evicted) > 0 {
		c.metrics.RecordEviction(types.Tier3.String(), len(evicted))
	}
	if err != nil {
		if errors.IsBudgetExceeded(err) {
			c.tracker.SetCooldown(key)
			c.bump(func(s *counterSet) { s.promotionRejects++ })
			c.metrics.RecordPromotionRejected()
			c.logger.Debug("promotion of %s rejected after %d accesses: %v", key, count, err)
			return
		}
		c.logger.Warn("promotion of %s failed: %v", key, err)
		return
	}

	c.bump(func(s *counterSet) { s.promotions++ })
	c.metrics.RecordPromotion()
	c.logger.Debug("promoted %s after %d accesses, evicted %d entries", key, count, len(evicted))
}

// Reload builds a new Tier 1 record set and swaps it in atomically. It
// returns how many records were loaded; a PARTIAL_LOAD error means the budget
// truncated the set but the loaded prefix is live.
func (c *Coordinator) Reload(records []types.BulkRecord) (int, error) {
	n, err := c.tier1.LoadAll(records)
	if err != nil && !errors.IsPartialLoad(err) {
		return n, err
	}

	// A reloaded key may have been promoted while it was absent from Tier 1.
	// Drop the Tier 3 copy so a key stays resident in at most one tier.
	for _, rec := range records {
		if c.tier1.Contains(rec.Key) && c.tier3.Remove(rec.Key) {
			c.logger.Debug("dropped %s from tier3 after reload", rec.Key)
		}
	}

	c.logger.Info("tier1 loaded %d records (%s)", n, utils.FormatBytes(c.acct.Usage(types.Tier1)))
	c.publishUsage()
	return n, err
}

// Clear empties one tier, or everything when tier is TierAll. Clearing Tier 3
// also resets the popularity tracker; clearing everything resets the request
// counters too.
func (c *Coordinator) Clear(tier types.Tier) error {
	switch tier {
	case types.Tier1:
		c.tier1.Clear()
	case types.Tier3:
		c.tier3.Clear()
		c.tracker.Reset()
	case types.TierAll:
		c.tier1.Clear()
		c.tier3.Clear()
		c.tracker.Reset()
		c.statsMu.Lock()
		c.stats = counterSet{}
		c.statsMu.Unlock()
	default:
		return errors.Newf(errors.ErrCodeInvalidState, "cannot clear %s", tier).
			WithComponent("coordinator").WithOperation("Clear")
	}
	c.logger.Info("cleared %s", tier)
	c.publishUsage()
	return nil
}

// Stats returns a snapshot of the cache state and counters.
func (c *Coordinator) Stats() types.CacheStats {
	c.statsMu.Lock()
	s := c.stats
	c.statsMu.Unlock()

	out := types.CacheStats{
		TotalRequests:      s.totalRequests,
		Tier1Hits:          s.tier1Hits,
		Tier1Misses:        s.tier1Misses,
		Tier3Hits:          s.tier3Hits,
		Tier3Misses:        s.tier3Misses,
		Tier1Bytes:         c.acct.Usage(types.Tier1),
		Tier3Bytes:         c.acct.Usage(types.Tier3),
		Tier1Count:         c.tier1.Len(),
		Tier3Count:         c.tier3.Len(),
		Generations:        s.generations,
		GenerationFailures: s.genFailures,
		Promotions:         s.promotions,
		PromotionRejects:   s.promotionRejects,
		Evictions:          c.tier3.Evictions(),
		CorruptEntries:     c.tier1.CorruptCount() + c.tier3.CorruptCount(),
	}
	if total := s.tier1Hits + s.tier1Misses; total > 0 {
		out.Tier1HitRate = float64(s.tier1Hits) / float64(total)
	}
	if total := s.tier3Hits + s.tier3Misses; total > 0 {
		out.Tier3HitRate = float64(s.tier3Hits) / float64(total)
	}
	return out
}

// Tier1Contains reports Tier 1 residency for key.
func (c *Coordinator) Tier1Contains(key types.CacheKey) bool { return c.tier1.Contains(key) }

// Tier3Contains reports Tier 3 residency for key.
func (c *Coordinator) Tier3Contains(key types.CacheKey) bool { return c.tier3.Contains(key) }

// Tier3Info returns Tier 3 entry metadata for key.
func (c *Coordinator) Tier3Info(key types.CacheKey) (types.EntryInfo, bool) { return c.tier3.Info(key) }

// Close stops background work. The coordinator must not be used afterwards.
func (c *Coordinator) Close() {
	c.tracker.Close()
}

func (c *Coordinator) bump(f func(*counterSet)) {
	c.statsMu.Lock()
	f(&c.stats)
	c.statsMu.Unlock()
}

func (c *Coordinator) publishUsage() {
	c.metrics.SetTierUsage(types.Tier1.String(), c.acct.Usage(types.Tier1), c.tier1.Len())
	c.metrics.SetTierUsage(types.Tier3.String(), c.acct.Usage(types.Tier3), c.tier3.Len())
}
