// Package state persists run history: one row per migration run, a summary
// per pair and every deduplication decision, so past runs can be listed and
// audited without the emitted files.
package state

import (
	"context"

	"github.com/leapstack-labs/dfmigrate/internal/engine"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// Store is the run-history store.
type Store interface {
	engine.Recorder

	// Lifecycle
	Open(path string) error
	Close() error
	Migrate() error

	// Queries
	GetRun(ctx context.Context, id string) (*core.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*core.Run, error)
	GetPairResults(ctx context.Context, runID string) ([]*core.PairSummary, error)
	GetDedupDecisions(ctx context.Context, runID string) ([]*DedupDecision, error)
}

// DedupDecision is a persisted dedup log entry.
type DedupDecision struct {
	ID    string
	RunID string
	Pair  core.Pair
	core.DedupEntry
}

// NotFoundError is returned when a run does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "run not found: " + e.ID
}
