package memory

import (
	"errors"
	"fmt"
	"time"
)

// Weights are the aggregate-score coefficients. They are normalized at
// scoring time, so only their relative magnitudes matter.
type Weights struct {
	Recency    float64 `json:"recency"`
	Frequency  float64 `json:"frequency"`
	Relevance  float64 `json:"relevance"`
	Importance float64 `json:"importance"`
}

func (w Weights) sum() float64 {
	return w.Recency + w.Frequency + w.Relevance + w.Importance
}

// TierThresholds are the aggregate-score floors for remaining in a tier.
// A memory whose snapshot falls under its current tier's floor is demoted
// one step on the next sweep.
type TierThresholds struct {
	// Promote is the score above which a memory is promoted to hot.
	Promote float64 `json:"promote"`

	// Hot, Warm, and Cold are the floors for staying in those tiers.
	Hot  float64 `json:"hot"`
	Warm float64 `json:"warm"`
	Cold float64 `json:"cold"`
}

// Config holds the engine tunables. Thresholds and weights are deliberately
// configuration, not constants: the defaults are empirical starting points.
type Config struct {
	// Weights aggregate the four score components.
	Weights Weights `json:"weights"`

	// RecencyHalfLife is the age at which the recency component halves.
	RecencyHalfLife time.Duration `json:"recency_half_life"`

	// FrequencySaturation is the access count at which the frequency
	// component reaches one half; growth saturates beyond it so repeated
	// trivial access cannot dominate relevance.
	FrequencySaturation float64 `json:"frequency_saturation"`

	// DuplicateHigh is the similarity above which a candidate is a
	// high-confidence duplicate of an existing memory.
	DuplicateHigh float64 `json:"duplicate_high"`

	// DuplicateLow is the similarity below which a candidate is accepted
	// as new without further checks. Between the two thresholds the
	// deduplicator falls back to lexical comparison.
	DuplicateLow float64 `json:"duplicate_low"`

	// Tiers configures promotion and demotion score thresholds.
	Tiers TierThresholds `json:"tiers"`

	// ReviewWindow is how long a memory may go without access or rescoring
	// before a sweep recomputes its snapshot.
	ReviewWindow time.Duration `json:"review_window"`

	// CacheCapacity is the per-scope entry bound of the hot cache.
	CacheCapacity int `json:"cache_capacity"`

	// DefaultBudget is used when a query supplies a zero-value budget.
	DefaultBudget TokenBudget `json:"default_budget"`

	// ImportanceBoost is added to a memory's importance when it is
	// reinforced by confirming evidence or a merged duplicate.
	ImportanceBoost float64 `json:"importance_boost"`

	// ConflictRetries bounds internal retries of writes that lose a
	// version race before ErrConflict reaches the caller.
	ConflictRetries int `json:"conflict_retries"`
}

// DefaultConfig returns the empirical default tuning.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Recency:    0.25,
			Frequency:  0.15,
			Relevance:  0.40,
			Importance: 0.20,
		},
		RecencyHalfLife:     72 * time.Hour,
		FrequencySaturation: 5,
		DuplicateHigh:       0.92,
		DuplicateLow:        0.75,
		Tiers: TierThresholds{
			Promote: 0.75,
			Hot:     0.60,
			Warm:    0.40,
			Cold:    0.20,
		},
		ReviewWindow:  24 * time.Hour,
		CacheCapacity: 1024,
		DefaultBudget: TokenBudget{
			MaxTokens:  2048,
			HotReserve: 0.25,
		},
		ImportanceBoost: 0.05,
		ConflictRetries: 3,
	}
}

// Validate checks the configuration at construction time.
func (c Config) Validate() error {
	if c.Weights.Recency < 0 || c.Weights.Frequency < 0 || c.Weights.Relevance < 0 || c.Weights.Importance < 0 {
		return errors.New("score weights cannot be negative")
	}
	if c.Weights.sum() <= 0 {
		return errors.New("at least one score weight must be positive")
	}
	if c.RecencyHalfLife <= 0 {
		return errors.New("recency half-life must be positive")
	}
	if c.FrequencySaturation <= 0 {
		return errors.New("frequency saturation must be positive")
	}
	if c.DuplicateHigh <= 0 || c.DuplicateHigh > 1 {
		return fmt.Errorf("duplicate high threshold %.2f out of range (0,1]", c.DuplicateHigh)
	}
	if c.DuplicateLow < 0 || c.DuplicateLow >= c.DuplicateHigh {
		return fmt.Errorf("duplicate low threshold %.2f must be in [0, high)", c.DuplicateLow)
	}
	if c.Tiers.Promote <= c.Tiers.Hot {
		return errors.New("promote threshold must exceed the hot floor")
	}
	if c.Tiers.Hot <= c.Tiers.Warm || c.Tiers.Warm <= c.Tiers.Cold {
		return errors.New("tier floors must strictly decrease hot > warm > cold")
	}
	if c.Tiers.Cold < 0 {
		return errors.New("tier floors cannot be negative")
	}
	if c.ReviewWindow <= 0 {
		return errors.New("review window must be positive")
	}
	if c.CacheCapacity <= 0 {
		return errors.New("cache capacity must be positive")
	}
	if err := c.DefaultBudget.Validate(); err != nil {
		return fmt.Errorf("default budget: %w", err)
	}
	if c.ImportanceBoost < 0 || c.ImportanceBoost > 1 {
		return errors.New("importance boost must be between 0.0 and 1.0")
	}
	if c.ConflictRetries < 0 {
		return errors.New("conflict retries cannot be negative")
	}
	return nil
}
