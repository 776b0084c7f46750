package core

import "time"

// PairState is the position of a pair in the processing state machine:
// COLLECTED -> NORMALIZED -> CLUSTERED -> GRAPH_BUILT -> {GRAPH_VALID | GRAPH_CYCLIC}.
type PairState string

// Pair states.
const (
	StatePending     PairState = "PENDING"
	StateCollected   PairState = "COLLECTED"
	StateNormalized  PairState = "NORMALIZED"
	StateClustered   PairState = "CLUSTERED"
	StateGraphBuilt  PairState = "GRAPH_BUILT"
	StateGraphValid  PairState = "GRAPH_VALID"
	StateGraphCyclic PairState = "GRAPH_CYCLIC"
	StateFailed      PairState = "FAILED"
	StateCancelled   PairState = "CANCELLED"
)

// Terminal reports whether the state ends the pipeline.
func (s PairState) Terminal() bool {
	switch s {
	case StateGraphValid, StateGraphCyclic, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Stage names the pipeline step an error was raised in.
type Stage string

// Pipeline stages.
const (
	StageCollect   Stage = "collect"
	StageNormalize Stage = "normalize"
	StageCluster   Stage = "cluster"
	StageGraph     Stage = "graph"
	StageEmit      Stage = "emit"
)

// StageError is one error recorded against a pair.
type StageError struct {
	Stage  Stage     `json:"stage"`
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

// PairResult is the complete outcome of processing one pair.
type PairResult struct {
	Pair       Pair                 `json:"pair"`
	State      PairState            `json:"state"`
	Graph      *ActionGraph         `json:"graph,omitempty"`
	Clusters   []*SimilarityCluster `json:"clusters,omitempty"`
	DedupLog   []DedupEntry         `json:"dedup_log"`
	Errors     []StageError         `json:"errors"`
	Queries    int                  `json:"queries"`
	Tables     int                  `json:"tables"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}

// AddError appends an error in occurrence order.
func (r *PairResult) AddError(stage Stage, kind ErrorKind, detail string) {
	r.Errors = append(r.Errors, StageError{Stage: stage, Kind: kind, Detail: detail})
}

// Failed reports whether a pair-level error was recorded.
func (r *PairResult) Failed() bool {
	for _, e := range r.Errors {
		if e.Kind.PairLevel() {
			return true
		}
	}
	return r.State == StateFailed || r.State == StateCancelled
}

// Succeeded reports whether the pair produced a valid, emitted graph.
func (r *PairResult) Succeeded() bool {
	return r.State == StateGraphValid && !r.Failed()
}

// RunStatus aggregates pair outcomes for a whole run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning      RunStatus = "running"
	RunStatusAllSucceeded RunStatus = "all_succeeded"
	RunStatusPartial      RunStatus = "partial"
	RunStatusAllFailed    RunStatus = "all_failed"
)

// AggregateStatus folds pair results into a run status.
// A run with no pairs counts as all failed.
func AggregateStatus(results []*PairResult) RunStatus {
	ok := 0
	for _, r := range results {
		if r != nil && r.Succeeded() {
			ok++
		}
	}
	switch {
	case len(results) > 0 && ok == len(results):
		return RunStatusAllSucceeded
	case ok > 0:
		return RunStatusPartial
	default:
		return RunStatusAllFailed
	}
}

// Run is a persisted migration run.
type Run struct {
	ID          string
	Status      RunStatus
	Threshold   float64
	Incremental bool
	WindowDays  int
	Pairs       int
	Succeeded   int
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// PairSummary is the persisted digest of a PairResult.
type PairSummary struct {
	RunID    string       `json:"run_id"`
	Pair     Pair         `json:"pair"`
	State    PairState    `json:"state"`
	Success  bool         `json:"success"`
	Nodes    int          `json:"nodes"`
	Edges    int          `json:"edges"`
	Clusters int          `json:"clusters"`
	Dedups   int          `json:"dedups"`
	Errors   []StageError `json:"errors"`
}
