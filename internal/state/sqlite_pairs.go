package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// RecordPair stores the summary and dedup decisions of a pair result in a
// single transaction. Recording the same pair twice replaces the first.
func (s *SQLiteStore) RecordPair(ctx context.Context, runID string, res *core.PairResult) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	sum := Summarize(runID, res)
	errs, err := json.Marshal(sum.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode errors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`DELETE FROM dedup_decisions WHERE run_id = ? AND project = ? AND location = ?`,
		runID, res.Pair.Project, res.Pair.Location)
	if err != nil {
		return fmt.Errorf("failed to replace dedup decisions: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM pair_results WHERE run_id = ? AND project = ? AND location = ?`,
		runID, res.Pair.Project, res.Pair.Location)
	if err != nil {
		return fmt.Errorf("failed to replace pair result: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pair_results
		   (run_id, project, location, state, success, nodes, edges, clusters, dedups, errors, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, res.Pair.Project, res.Pair.Location, string(sum.State), sum.Success,
		sum.Nodes, sum.Edges, sum.Clusters, sum.Dedups, string(errs),
		millis(res.StartedAt), millis(res.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record pair result: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dedup_decisions
		   (id, run_id, project, location, destination, cluster_id, subsumed_job_id, representative_job_id, score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare dedup insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range res.DedupLog {
		_, err := stmt.ExecContext(ctx, decisionID(), runID, res.Pair.Project, res.Pair.Location,
			d.Destination.String(), d.ClusterID, d.SubsumedJobID, d.RepresentativeJobID, d.Score)
		if err != nil {
			return fmt.Errorf("failed to record dedup decision: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pair result: %w", err)
	}

	s.logger.Debug("recorded pair",
		slog.String("run_id", runID),
		slog.String("pair", res.Pair.String()),
		slog.String("state", string(res.State)),
		slog.Int("decisions", len(res.DedupLog)))
	return nil
}

// Summarize reduces a pair result to its persisted digest.
func Summarize(runID string, res *core.PairResult) *core.PairSummary {
	sum := &core.PairSummary{
		RunID:    runID,
		Pair:     res.Pair,
		State:    res.State,
		Success:  res.Succeeded(),
		Clusters: len(res.Clusters),
		Dedups:   len(res.DedupLog),
		Errors:   res.Errors,
	}
	if res.Graph != nil {
		sum.Nodes = len(res.Graph.Nodes)
		sum.Edges = len(res.Graph.Edges)
	}
	if sum.Errors == nil {
		sum.Errors = []core.StageError{}
	}
	return sum
}

// GetPairResults returns the pair summaries of a run ordered by pair.
func (s *SQLiteStore) GetPairResults(ctx context.Context, runID string) ([]*core.PairSummary, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT project, location, state, success, nodes, edges, clusters, dedups, errors
		 FROM pair_results WHERE run_id = ? ORDER BY project, location`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pair results: %w", err)
	}
	defer rows.Close()

	var out []*core.PairSummary
	for rows.Next() {
		sum := &core.PairSummary{RunID: runID}
		var state, errs string
		if err := rows.Scan(&sum.Pair.Project, &sum.Pair.Location, &state, &sum.Success,
			&sum.Nodes, &sum.Edges, &sum.Clusters, &sum.Dedups, &errs); err != nil {
			return nil, fmt.Errorf("failed to scan pair result: %w", err)
		}
		sum.State = core.PairState(state)
		if err := json.Unmarshal([]byte(errs), &sum.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode errors of %s: %w", sum.Pair, err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetDedupDecisions returns every dedup decision of a run ordered by pair,
// destination, cluster and subsumed job.
func (s *SQLiteStore) GetDedupDecisions(ctx context.Context, runID string) ([]*DedupDecision, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project, location, destination, cluster_id, subsumed_job_id, representative_job_id, score
		 FROM dedup_decisions WHERE run_id = ?
		 ORDER BY project, location, destination, cluster_id, subsumed_job_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get dedup decisions: %w", err)
	}
	defer rows.Close()

	var out []*DedupDecision
	for rows.Next() {
		d := &DedupDecision{RunID: runID}
		var dest string
		if err := rows.Scan(&d.ID, &d.Pair.Project, &d.Pair.Location, &dest, &d.ClusterID,
			&d.SubsumedJobID, &d.RepresentativeJobID, &d.Score); err != nil {
			return nil, fmt.Errorf("failed to scan dedup decision: %w", err)
		}
		ref, err := core.ParseTableRef(dest)
		if err != nil {
			return nil, err
		}
		d.Destination = ref
		out = append(out, d)
	}
	return out, rows.Err()
}

