// Package engine drives the migration pipeline. For every (project, location)
// pair it collects raw metadata, normalizes it, clusters and deduplicates the
// queries, builds the action graph and hands the result to an emitter.
// Pairs are independent: a failure in one never affects another.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/leapstack-labs/dfmigrate/internal/similarity"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// CollectRequest scopes a collection to one pair and history window.
type CollectRequest struct {
	Pair  core.Pair
	Since time.Time
}

// Collector retrieves raw catalog and job records for a pair. Collect should
// return once ctx is done. The engine stops waiting at the collect timeout
// either way, but a call that ignores ctx keeps its goroutine until it returns.
type Collector interface {
	Collect(ctx context.Context, req CollectRequest) (*core.RawSnapshot, error)
}

// Emitter writes the artifacts for a finished pair.
type Emitter interface {
	Emit(ctx context.Context, res *core.PairResult) error
}

// Recorder persists run history.
type Recorder interface {
	StartRun(ctx context.Context, cfg core.EngineConfig, pairs int) (string, error)
	RecordPair(ctx context.Context, runID string, res *core.PairResult) error
	CompleteRun(ctx context.Context, runID string, status core.RunStatus, runErr error) error
}

// Engine runs the pipeline over a set of pairs.
type Engine struct {
	cfg       core.EngineConfig
	collector Collector
	emitter   Emitter
	recorder  Recorder
	scorer    similarity.Scorer
	logger    *slog.Logger
	now       func() time.Time
}

// Config holds engine configuration.
type Config struct {
	// Engine holds the thresholds and limits of a run.
	Engine core.EngineConfig
	// Collector is required.
	Collector Collector
	// Emitter is optional; without one the run only analyzes.
	Emitter Emitter
	// Recorder is optional.
	Recorder Recorder
	// Scorer overrides Jaccard similarity.
	Scorer similarity.Scorer
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
	// Now overrides the clock.
	Now func() time.Time
}

// New validates cfg and creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Collector == nil {
		return nil, errors.New("engine: collector is required")
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		cfg:       cfg.Engine,
		collector: cfg.Collector,
		emitter:   cfg.Emitter,
		recorder:  cfg.Recorder,
		scorer:    cfg.Scorer,
		logger:    logger,
		now:       now,
	}, nil
}

// RunResult is the outcome of Engine.Run. Pairs are in input order.
type RunResult struct {
	ID          string
	Pairs       []*core.PairResult
	StartedAt   time.Time
	CompletedAt time.Time
}

// Status aggregates the pair outcomes.
func (r *RunResult) Status() core.RunStatus {
	return core.AggregateStatus(r.Pairs)
}

// Succeeded counts the pairs that completed without failure.
func (r *RunResult) Succeeded() int {
	n := 0
	for _, p := range r.Pairs {
		if p.Succeeded() {
			n++
		}
	}
	return n
}
