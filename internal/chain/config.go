// Package chain groups a user's unlinked prompts into time-proximity sessions,
// derives chain metadata from each session and persists the result.
package chain

import "time"

const (
	DefaultThresholdMinutes      = 30.0
	DefaultLookback              = 7 * 24 * time.Hour
	DefaultMaxConcurrentPersists = 4
)

// Config controls segmentation and persistence. The zero value of any field
// falls back to its default.
type Config struct {
	// ThresholdMinutes is the largest gap between consecutive prompts that
	// keeps them in the same session. A gap equal to it stays in the session.
	ThresholdMinutes float64
	// Lookback bounds how far back candidate prompts are fetched.
	Lookback time.Duration
	// MaxConcurrentPersists bounds the chains persisted in parallel.
	MaxConcurrentPersists int
	// RunTimeout wraps a whole detection run when positive.
	RunTimeout time.Duration
	// ReuseOnConflict stamps each chain with an idempotency key and re-links
	// an existing chain when the store reports a conflict on that key.
	ReuseOnConflict bool
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		ThresholdMinutes:      DefaultThresholdMinutes,
		Lookback:              DefaultLookback,
		MaxConcurrentPersists: DefaultMaxConcurrentPersists,
	}
}

func (c Config) withDefaults() Config {
	if c.ThresholdMinutes <= 0 {
		c.ThresholdMinutes = DefaultThresholdMinutes
	}
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	if c.MaxConcurrentPersists <= 0 {
		c.MaxConcurrentPersists = DefaultMaxConcurrentPersists
	}
	return c
}
