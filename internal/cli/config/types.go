// Package config loads dfmigrate CLI configuration from defaults, an
// optional YAML file, DATAFORM_ environment variables and command flags.
package config

import (
	"time"

	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// Defaults for values not covered by core.EngineConfig.
const (
	DefaultInputDir   = "snapshots"
	DefaultOutputDir  = "dataform"
	DefaultStateFile  = ".dfmigrate/state.db"
	DefaultOutputMode = "auto"
	DefaultHistoryCap = 20
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "DATAFORM_"

// Config holds all CLI configuration options.
type Config struct {
	Projects            []string        `koanf:"projects"`
	Locations           []string        `koanf:"locations"`
	HistoryDays         int             `koanf:"history_days"`
	SimilarityThreshold float64         `koanf:"similarity_threshold"`
	EnableIncremental   bool            `koanf:"enable_incremental"`
	Concurrency         int             `koanf:"concurrency"`
	CollectTimeout      time.Duration   `koanf:"collect_timeout"`
	InputDir            string          `koanf:"input_dir"`
	OutputDir           string          `koanf:"output_dir"`
	StatePath           string          `koanf:"state_path"`
	OutputMode          string          `koanf:"output_mode"`
	Verbose             bool            `koanf:"verbose"`
	Collector           CollectorConfig `koanf:"collector"`
	Emitter             EmitterConfig   `koanf:"emitter"`
}

// CollectorConfig tunes retries and the per-project circuit breaker.
type CollectorConfig struct {
	Retries         uint64        `koanf:"retries"`
	RetryBase       time.Duration `koanf:"retry_base"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
	SaveRaw         bool          `koanf:"save_raw"`
	Compress        bool          `koanf:"compress"`
}

// EmitterConfig sets the workflow_settings.yaml defaults.
type EmitterConfig struct {
	CoreVersion      string `koanf:"core_version"`
	DefaultDataset   string `koanf:"default_dataset"`
	AssertionDataset string `koanf:"assertion_dataset"`
}

// Engine converts the configuration into the immutable engine value.
func (c *Config) Engine() core.EngineConfig {
	return core.EngineConfig{
		SimilarityThreshold: c.SimilarityThreshold,
		IncrementalEnabled:  c.EnableIncremental,
		HistoryWindowDays:   c.HistoryDays,
		Concurrency:         c.Concurrency,
		CollectTimeout:      c.CollectTimeout,
	}
}

// Pairs returns the cross product of configured projects and locations in
// configuration order.
func (c *Config) Pairs() []core.Pair {
	pairs := make([]core.Pair, 0, len(c.Projects)*len(c.Locations))
	for _, p := range c.Projects {
		for _, l := range c.Locations {
			pairs = append(pairs, core.Pair{Project: p, Location: l})
		}
	}
	return pairs
}
