package core

import (
	"fmt"
	"time"
)

// Engine defaults.
const (
	DefaultSimilarityThreshold = 0.9
	DefaultHistoryWindowDays   = 30
	DefaultConcurrency         = 4
	DefaultCollectTimeout      = 2 * time.Minute
)

// EngineConfig is the immutable configuration passed into every pair.
type EngineConfig struct {
	SimilarityThreshold float64
	IncrementalEnabled  bool
	HistoryWindowDays   int
	Concurrency         int
	CollectTimeout      time.Duration
}

// DefaultEngineConfig returns the documented defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SimilarityThreshold: DefaultSimilarityThreshold,
		IncrementalEnabled:  true,
		HistoryWindowDays:   DefaultHistoryWindowDays,
		Concurrency:         DefaultConcurrency,
		CollectTimeout:      DefaultCollectTimeout,
	}
}

// Validate checks the configuration ranges.
func (c EngineConfig) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold %v out of range [0,1]", c.SimilarityThreshold)
	}
	if c.HistoryWindowDays < 1 {
		return fmt.Errorf("history window must be at least 1 day, got %d", c.HistoryWindowDays)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.CollectTimeout <= 0 {
		return fmt.Errorf("collect timeout must be positive, got %s", c.CollectTimeout)
	}
	return nil
}

// Since returns the start of the history window relative to now.
func (c EngineConfig) Since(now time.Time) time.Time {
	return now.Add(-time.Duration(c.HistoryWindowDays) * 24 * time.Hour)
}
