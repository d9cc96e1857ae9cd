// Package config provides configuration loading for recalld.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// ServerConfig holds the daemon's listener settings.
type ServerConfig struct {
	// MetricsAddr is the Prometheus scrape listener address.
	MetricsAddr string `koanf:"metrics_addr"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// StoreConfig holds the durable store settings.
type StoreConfig struct {
	// Path is the storage directory.
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored vector data.
	Compress bool `koanf:"compress"`
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	// Provider is fastembed or static.
	Provider string `koanf:"provider"`

	// Model is the fastembed model name.
	Model string `koanf:"model"`

	// CacheDir caches downloaded model files.
	CacheDir string `koanf:"cache_dir"`

	// Dimension is the vector length for the static provider.
	Dimension int `koanf:"dimension"`
}

// EngineConfig holds the memory engine tunables.
type EngineConfig struct {
	RecencyWeight    float64 `koanf:"recency_weight"`
	FrequencyWeight  float64 `koanf:"frequency_weight"`
	RelevanceWeight  float64 `koanf:"relevance_weight"`
	ImportanceWeight float64 `koanf:"importance_weight"`

	RecencyHalfLife     time.Duration `koanf:"recency_half_life"`
	FrequencySaturation float64       `koanf:"frequency_saturation"`

	DuplicateHigh float64 `koanf:"duplicate_high"`
	DuplicateLow  float64 `koanf:"duplicate_low"`

	PromoteThreshold float64 `koanf:"promote_threshold"`
	HotFloor         float64 `koanf:"hot_floor"`
	WarmFloor        float64 `koanf:"warm_floor"`
	ColdFloor        float64 `koanf:"cold_floor"`

	ReviewWindow  time.Duration `koanf:"review_window"`
	CacheCapacity int           `koanf:"cache_capacity"`

	BudgetTokens    int     `koanf:"budget_tokens"`
	BudgetHotShare  float64 `koanf:"budget_hot_share"`
	ImportanceBoost float64 `koanf:"importance_boost"`
	ConflictRetries int     `koanf:"conflict_retries"`
}

// SweepConfig holds the background sweeper settings.
type SweepConfig struct {
	// Interval is the time between sweeps.
	Interval time.Duration `koanf:"interval"`

	// Timeout bounds a single sweep run.
	Timeout time.Duration `koanf:"timeout"`
}

// Config is the full recalld configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Store     StoreConfig     `koanf:"store"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Engine    EngineConfig    `koanf:"engine"`
	Sweep     SweepConfig     `koanf:"sweep"`
}

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (RECALLD_LOGGING_LEVEL, RECALLD_ENGINE_CACHE_CAPACITY, ...)
//  2. YAML config file (~/.config/recalld/config.yaml by default)
//  3. Hardcoded defaults
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "recalld", "config.yaml")
	}

	if content, err := os.ReadFile(configPath); err == nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
	}

	// RECALLD_SECTION_FIELD_NAME maps to section.field_name: the first
	// underscore after the prefix separates section from field.
	if err := k.Load(env.Provider("RECALLD_", ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, "RECALLD_"))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyDefaults fills unset fields. Engine defaults come from the engine's
// own empirical tuning so the two never drift.
func applyDefaults(cfg *Config) {
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = "127.0.0.1:9464"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.config/recalld/store"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "fastembed"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 384
	}

	def := memory.DefaultConfig()
	e := &cfg.Engine
	if e.RecencyWeight == 0 && e.FrequencyWeight == 0 && e.RelevanceWeight == 0 && e.ImportanceWeight == 0 {
		e.RecencyWeight = def.Weights.Recency
		e.FrequencyWeight = def.Weights.Frequency
		e.RelevanceWeight = def.Weights.Relevance
		e.ImportanceWeight = def.Weights.Importance
	}
	if e.RecencyHalfLife == 0 {
		e.RecencyHalfLife = def.RecencyHalfLife
	}
	if e.FrequencySaturation == 0 {
		e.FrequencySaturation = def.FrequencySaturation
	}
	if e.DuplicateHigh == 0 {
		e.DuplicateHigh = def.DuplicateHigh
	}
	if e.DuplicateLow == 0 {
		e.DuplicateLow = def.DuplicateLow
	}
	if e.PromoteThreshold == 0 {
		e.PromoteThreshold = def.Tiers.Promote
	}
	if e.HotFloor == 0 {
		e.HotFloor = def.Tiers.Hot
	}
	if e.WarmFloor == 0 {
		e.WarmFloor = def.Tiers.Warm
	}
	if e.ColdFloor == 0 {
		e.ColdFloor = def.Tiers.Cold
	}
	if e.ReviewWindow == 0 {
		e.ReviewWindow = def.ReviewWindow
	}
	if e.CacheCapacity == 0 {
		e.CacheCapacity = def.CacheCapacity
	}
	if e.BudgetTokens == 0 {
		e.BudgetTokens = def.DefaultBudget.MaxTokens
	}
	if e.BudgetHotShare == 0 {
		e.BudgetHotShare = def.DefaultBudget.HotReserve
	}
	if e.ImportanceBoost == 0 {
		e.ImportanceBoost = def.ImportanceBoost
	}
	if e.ConflictRetries == 0 {
		e.ConflictRetries = def.ConflictRetries
	}

	if cfg.Sweep.Interval == 0 {
		cfg.Sweep.Interval = time.Hour
	}
	if cfg.Sweep.Timeout == 0 {
		cfg.Sweep.Timeout = 10 * time.Minute
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	switch c.Embedding.Provider {
	case "fastembed", "static":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.Sweep.Timeout <= 0 {
		return fmt.Errorf("sweep timeout must be positive")
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

// EngineConfig converts the flat engine section into the engine's config.
func (c *Config) EngineConfig() memory.Config {
	e := c.Engine
	return memory.Config{
		Weights: memory.Weights{
			Recency:    e.RecencyWeight,
			Frequency:  e.FrequencyWeight,
			Relevance:  e.RelevanceWeight,
			Importance: e.ImportanceWeight,
		},
		RecencyHalfLife:     e.RecencyHalfLife,
		FrequencySaturation: e.FrequencySaturation,
		DuplicateHigh:       e.DuplicateHigh,
		DuplicateLow:        e.DuplicateLow,
		Tiers: memory.TierThresholds{
			Promote: e.PromoteThreshold,
			Hot:     e.HotFloor,
			Warm:    e.WarmFloor,
			Cold:    e.ColdFloor,
		},
		ReviewWindow:  e.ReviewWindow,
		CacheCapacity: e.CacheCapacity,
		DefaultBudget: memory.TokenBudget{
			MaxTokens:  e.BudgetTokens,
			HotReserve: e.BudgetHotShare,
		},
		ImportanceBoost: e.ImportanceBoost,
		ConflictRetries: e.ConflictRetries,
	}
}
