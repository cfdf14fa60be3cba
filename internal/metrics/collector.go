// Package metrics exposes cache behavior as Prometheus metrics with an
// optional HTTP endpoint.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "recordcache",
	}
}

// Collector records cache metrics. A nil *Collector is valid and drops every
// observation, so instrumentation points never need a nil check.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	requestCounter     *prometheus.CounterVec
	hitCounter         *prometheus.CounterVec
	missCounter        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	promotionCounter   *prometheus.CounterVec
	evictionCounter    *prometheus.CounterVec
	usageGauge         *prometheus.GaugeVec
	entriesGauge       *prometheus.GaugeVec

	server *http.Server
}

// NewCollector creates a metrics collector. A disabled config returns a
// collector that records nothing and serves nothing.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "recordcache"
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		config:   config,
		registry: registry,
	}

	ns := config.Namespace
	c.requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "requests_total",
		Help:      "Total cache requests by detail level",
	}, []string{"level"})

	c.hitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "hits_total",
		Help:      "Cache hits by tier",
	}, []string{"tier"})

	c.missCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "misses_total",
		Help:      "Cache misses by tier",
	}, []string{"tier"})

	c.generationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "generation_duration_seconds",
		Help:      "Detail record generation latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})

	c.promotionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "promotions_total",
		Help:      "Promotion attempts by outcome",
	}, []string{"outcome"})

	c.evictionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "evictions_total",
		Help:      "Entries evicted by tier",
	}, []string{"tier"})

	c.usageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "tier_bytes",
		Help:      "Accounted bytes per tier",
	}, []string{"tier"})

	c.entriesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "tier_entries",
		Help:      "Resident entries per tier",
	}, []string{"tier"})

	collectors := []prometheus.Collector{
		c.requestCounter, c.hitCounter, c.missCounter,
		c.generationDuration, c.promotionCounter, c.evictionCounter,
		c.usageGauge, c.entriesGauge,
	}
	for _, col := range collectors {
		if err := registry.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return c, nil
}

func (c *Collector) enabled() bool {
	return c != nil && c.registry != nil
}

// RecordRequest counts one request at the given detail level.
func (c *Collector) RecordRequest(level string) {
	if !c.enabled() {
		return
	}
	c.requestCounter.WithLabelValues(level).Inc()
}

// RecordHit counts a hit in the given tier.
func (c *Collector) RecordHit(tier string) {
	if !c.enabled() {
		return
	}
	c.hitCounter.WithLabelValues(tier).Inc()
}

// RecordMiss counts a miss in the given tier.
func (c *Collector) RecordMiss(tier string) {
	if !c.enabled() {
		return
	}
	c.missCounter.WithLabelValues(tier).Inc()
}

// ObserveGeneration records one generator invocation.
func (c *Collector) ObserveGeneration(d time.Duration, success bool) {
	if !c.enabled() {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	c.generationDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordPromotion counts a successful promotion.
func (c *Collector) RecordPromotion() {
	if !c.enabled() {
		return
	}
	c.promotionCounter.WithLabelValues("promoted").Inc()
}

// RecordPromotionRejected counts a promotion rejected for lack of budget.
func (c *Collector) RecordPromotionRejected() {
	if !c.enabled() {
		return
	}
	c.promotionCounter.WithLabelValues("rejected").Inc()
}

// RecordEviction counts n entries evicted from the tier.
func (c *Collector) RecordEviction(tier string, n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.evictionCounter.WithLabelValues(tier).Add(float64(n))
}

// SetTierUsage publishes the tier's current accounted bytes and entry count.
func (c *Collector) SetTierUsage(tier string, bytes int64, entries int) {
	if !c.enabled() {
		return
	}
	c.usageGauge.WithLabelValues(tier).Set(float64(bytes))
	c.entriesGauge.WithLabelValues(tier).Set(float64(entries))
}

// Handler returns the Prometheus scrape handler, or a 404 handler when
// metrics are disabled.
func (c *Collector) Handler() http.Handler {
	if !c.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start serves the metrics endpoint on the configured port until Stop is
// called.
func (c *Collector) Start() error {
	if !c.enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		_ = c.server.ListenAndServe()
	}()
	return nil
}

// Stop shuts the metrics endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// Registry exposes the underlying registry for embedding in a larger metrics
// surface. Nil when metrics are disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}
