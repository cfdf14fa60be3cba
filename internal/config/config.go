// Package config loads and validates the record cache configuration from
// YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/recordcache/recordcache/pkg/errors"
	"github.com/recordcache/recordcache/pkg/utils"
)

// Duration wraps time.Duration so YAML files can use strings like "30s".
// Plain integers are read as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := unmarshal(&n); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Configuration represents the complete application configuration
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	Cache       CacheConfig       `yaml:"cache"`
	Compression CompressionConfig `yaml:"compression"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// CacheConfig represents the tier budgets and promotion policy
type CacheConfig struct {
	Tier1Budget        string   `yaml:"tier1_budget"`
	Tier3Budget        string   `yaml:"tier3_budget"`
	PromotionThreshold int64    `yaml:"promotion_threshold"`
	PromotionCooldown  Duration `yaml:"promotion_cooldown"`
	GenerationTimeout  Duration `yaml:"generation_timeout"`
	DecayInterval      Duration `yaml:"decay_interval"`
}

// CompressionConfig represents compression settings
type CompressionConfig struct {
	Enabled bool `yaml:"enabled"`
	Level   int  `yaml:"level"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
		},
		Cache: CacheConfig{
			Tier1Budget:        "256MB",
			Tier3Budget:        "64MB",
			PromotionThreshold: 3,
			PromotionCooldown:  Duration(5 * time.Minute),
			GenerationTimeout:  Duration(10 * time.Second),
			DecayInterval:      0,
		},
		Compression: CompressionConfig{
			Enabled: true,
			Level:   6,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "recordcache",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Newf(errors.ErrCodeConfigLoad, "failed to read config file %s", filename).
			WithComponent("config").WithCause(err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Newf(errors.ErrCodeConfigLoad, "failed to parse config file %s", filename).
			WithComponent("config").WithCause(err)
	}

	return nil
}

// LoadFromEnv loads configuration overrides from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("RECORDCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("RECORDCACHE_TIER1_BUDGET"); val != "" {
		c.Cache.Tier1Budget = val
	}
	if val := os.Getenv("RECORDCACHE_TIER3_BUDGET"); val != "" {
		c.Cache.Tier3Budget = val
	}
	if val := os.Getenv("RECORDCACHE_PROMOTION_THRESHOLD"); val != "" {
		if threshold, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Cache.PromotionThreshold = threshold
		}
	}
	if val := os.Getenv("RECORDCACHE_PROMOTION_COOLDOWN"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.PromotionCooldown = Duration(d)
		}
	}
	if val := os.Getenv("RECORDCACHE_GENERATION_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.GenerationTimeout = Duration(d)
		}
	}
	if val := os.Getenv("RECORDCACHE_DECAY_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.DecayInterval = Duration(d)
		}
	}
	if val := os.Getenv("RECORDCACHE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.NewError(errors.ErrCodeInternalError, "failed to marshal config").
			WithComponent("config").WithCause(err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Newf(errors.ErrCodeConfigLoad, "failed to create config directory for %s", filename).
			WithComponent("config").WithCause(err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Newf(errors.ErrCodeConfigLoad, "failed to write config file %s", filename).
			WithComponent("config").WithCause(err)
	}

	return nil
}

// Tier1BudgetBytes parses the configured Tier 1 budget.
func (c *Configuration) Tier1BudgetBytes() (int64, error) {
	return utils.ParseBytes(c.Cache.Tier1Budget)
}

// Tier3BudgetBytes parses the configured Tier 3 budget.
func (c *Configuration) Tier3BudgetBytes() (int64, error) {
	return utils.ParseBytes(c.Cache.Tier3Budget)
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	tier1, err := c.Tier1BudgetBytes()
	if err != nil {
		return errors.Newf(errors.ErrCodeConfigValidation, "invalid tier1_budget %q", c.Cache.Tier1Budget).
			WithComponent("config").WithCause(err)
	}
	if tier1 <= 0 {
		return errors.NewError(errors.ErrCodeConfigValidation, "tier1_budget must be positive").
			WithComponent("config")
	}

	tier3, err := c.Tier3BudgetBytes()
	if err != nil {
		return errors.Newf(errors.ErrCodeConfigValidation, "invalid tier3_budget %q", c.Cache.Tier3Budget).
			WithComponent("config").WithCause(err)
	}
	if tier3 <= 0 {
		return errors.NewError(errors.ErrCodeConfigValidation, "tier3_budget must be positive").
			WithComponent("config")
	}

	if c.Cache.PromotionThreshold < 1 {
		return errors.Newf(errors.ErrCodeConfigValidation, "promotion_threshold must be at least 1, got %d", c.Cache.PromotionThreshold).
			WithComponent("config")
	}
	if c.Cache.PromotionCooldown < 0 {
		return errors.NewError(errors.ErrCodeConfigValidation, "promotion_cooldown cannot be negative").
			WithComponent("config")
	}
	if c.Cache.GenerationTimeout < 0 {
		return errors.NewError(errors.ErrCodeConfigValidation, "generation_timeout cannot be negative").
			WithComponent("config")
	}
	if c.Cache.DecayInterval < 0 {
		return errors.NewError(errors.ErrCodeConfigValidation, "decay_interval cannot be negative").
			WithComponent("config")
	}

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return errors.Newf(errors.ErrCodeConfigValidation, "invalid log_level %q", c.Global.LogLevel).
			WithComponent("config").WithCause(err)
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.Newf(errors.ErrCodeConfigValidation, "invalid metrics port %d", c.Metrics.Port).
			WithComponent("config")
	}

	return nil
}
