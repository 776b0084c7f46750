package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

const runColumns = `id, status, threshold, incremental, window_days, pairs, succeeded, started_at, completed_at, error`

// StartRun records a new run in the running state and returns its ID.
func (s *SQLiteStore) StartRun(ctx context.Context, cfg core.EngineConfig, pairs int) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	id := generateID()
	s.logger.Debug("creating run", slog.String("id", id), slog.Int("pairs", pairs))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, threshold, incremental, window_days, pairs, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(core.RunStatusRunning), cfg.SimilarityThreshold, cfg.IncrementalEnabled,
		cfg.HistoryWindowDays, pairs, s.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// CompleteRun sets the final status of a run. The succeeded count is
// derived from the recorded pair results.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status core.RunStatus, runErr error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var errMsg sql.NullString
	if runErr != nil {
		errMsg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ?,
		        succeeded = (SELECT COUNT(*) FROM pair_results WHERE run_id = ? AND success = 1)
		 WHERE id = ?`,
		string(status), s.now().UnixMilli(), errMsg, id, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*core.Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*core.Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*core.Run, error) {
	var (
		run         core.Run
		status      string
		startedAt   int64
		completedAt sql.NullInt64
		errMsg      sql.NullString
	)
	err := sc.Scan(&run.ID, &status, &run.Threshold, &run.Incremental, &run.WindowDays,
		&run.Pairs, &run.Succeeded, &startedAt, &completedAt, &errMsg)
	if err != nil {
		return nil, err
	}
	run.Status = core.RunStatus(status)
	run.StartedAt = *fromMillis(sql.NullInt64{Int64: startedAt, Valid: true})
	run.CompletedAt = fromMillis(completedAt)
	run.Error = errMsg.String
	return &run, nil
}
