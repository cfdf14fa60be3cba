// Package recordcache assembles the tiered record cache from its parts: a
// preloaded compressed store of basic records, an on-demand generator, and a
// bounded LRU cache of promoted detail records.
package recordcache

import (
	"context"
	"io"

	"github.com/recordcache/recordcache/internal/cache"
	"github.com/recordcache/recordcache/internal/codec"
	"github.com/recordcache/recordcache/internal/config"
	"github.com/recordcache/recordcache/internal/loader"
	"github.com/recordcache/recordcache/internal/metrics"
	"github.com/recordcache/recordcache/pkg/errors"
	"github.com/recordcache/recordcache/pkg/types"
	"github.com/recordcache/recordcache/pkg/utils"
)

// Cache is the assembled subsystem. It wraps the coordinator and owns the
// optional metrics endpoint.
type Cache struct {
	coordinator *cache.Coordinator
	collector   *metrics.Collector
	logger      *utils.Logger
}

// New builds a Cache from a validated configuration and a generator. logOutput
// receives log lines; nil disables logging.
func New(cfg *config.Configuration, gen types.Generator, logOutput io.Writer) (*Cache, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var logger *utils.Logger
	if logOutput != nil {
		level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
		if err != nil {
			return nil, err
		}
		logger = utils.NewLogger(level, logOutput)
	}

	tier1Budget, err := cfg.Tier1BudgetBytes()
	if err != nil {
		return nil, err
	}
	tier3Budget, err := cfg.Tier3BudgetBytes()
	if err != nil {
		return nil, err
	}

	var c codec.Codec = codec.Nop{}
	if cfg.Compression.Enabled {
		c = codec.NewGzip(cfg.Compression.Level)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector, err = metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Port:      cfg.Metrics.Port,
			Path:      cfg.Metrics.Path,
			Namespace: cfg.Metrics.Namespace,
		})
		if err != nil {
			return nil, err
		}
	}

	coordinator, err := cache.NewCoordinator(gen, cache.Options{
		Tier1Budget:        tier1Budget,
		Tier3Budget:        tier3Budget,
		PromotionThreshold: cfg.Cache.PromotionThreshold,
		PromotionCooldown:  cfg.Cache.PromotionCooldown.Std(),
		GenerationTimeout:  cfg.Cache.GenerationTimeout.Std(),
		DecayInterval:      cfg.Cache.DecayInterval.Std(),
		Codec:              c,
		Logger:             logger,
		Metrics:            collector,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{coordinator: coordinator, collector: collector, logger: logger}, nil
}

// Load populates Tier 1 from the given source, replacing any previous
// contents. A PARTIAL_LOAD error means the budget truncated the set but the
// loaded prefix is serving.
func (c *Cache) Load(ctx context.Context, src types.BulkSource) (int, error) {
	if src == nil {
		return 0, errors.NewError(errors.ErrCodeInvalidConfig, "bulk source is required").
			WithComponent("recordcache").WithOperation("Load")
	}
	records, err := src.Records(ctx)
	if err != nil {
		return 0, err
	}
	return c.coordinator.Reload(records)
}

// LoadFile populates Tier 1 from a JSON-lines record file.
func (c *Cache) LoadFile(ctx context.Context, path string) (int, error) {
	return c.Load(ctx, loader.NewJSONLinesSource(path, c.logger))
}

// Get serves a record at the requested detail level, reporting which tier
// answered.
func (c *Cache) Get(ctx context.Context, key types.CacheKey, level types.DetailLevel) (types.Record, types.Tier, error) {
	return c.coordinator.Get(ctx, key, level)
}

// Stats returns a snapshot of cache counters and residency.
func (c *Cache) Stats() types.CacheStats {
	return c.coordinator.Stats()
}

// Clear empties the given tier, or everything with types.TierAll.
func (c *Cache) Clear(tier types.Tier) error {
	return c.coordinator.Clear(tier)
}

// StartMetrics begins serving the prometheus endpoint, when metrics are
// enabled. It returns immediately.
func (c *Cache) StartMetrics() error {
	if c.collector == nil {
		return nil
	}
	return c.collector.Start()
}

// Close stops background work and the metrics endpoint, if running.
func (c *Cache) Close(ctx context.Context) error {
	c.coordinator.Close()
	if c.collector != nil {
		return c.collector.Stop(ctx)
	}
	return nil
}
