package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// Run processes pairs concurrently, at most Concurrency at a time. Once ctx
// is cancelled no new pair is started; pairs that never started are reported
// CANCELLED and in-flight pairs stop at their next stage boundary. Pair
// failures are reported in the results, never as the returned error, which
// is reserved for run-history failures.
func (e *Engine) Run(ctx context.Context, pairs []core.Pair) (*RunResult, error) {
	rr := &RunResult{
		Pairs:     make([]*core.PairResult, len(pairs)),
		StartedAt: e.now(),
	}

	if e.recorder != nil {
		id, err := e.recorder.StartRun(ctx, e.cfg, len(pairs))
		if err != nil {
			return nil, fmt.Errorf("start run: %w", err)
		}
		rr.ID = id
	}

	e.logger.Info("starting run",
		slog.String("run_id", rr.ID),
		slog.Int("pairs", len(pairs)),
		slog.Int("concurrency", e.cfg.Concurrency),
		slog.Float64("threshold", e.cfg.SimilarityThreshold))

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, pair := range pairs {
		if ctx.Err() != nil {
			rr.Pairs[i] = e.notStarted(ctx, pair)
			continue
		}
		g.Go(func() error {
			rr.Pairs[i] = e.processPair(ctx, pair)
			return nil
		})
	}
	_ = g.Wait()
	rr.CompletedAt = e.now()

	status := rr.Status()
	var errs []error
	if e.recorder != nil {
		// store writes are serialized after the workers finish
		for _, res := range rr.Pairs {
			if err := e.recorder.RecordPair(context.WithoutCancel(ctx), rr.ID, res); err != nil {
				errs = append(errs, fmt.Errorf("record %s: %w", res.Pair, err))
			}
		}
		var runErr error
		if ctx.Err() != nil {
			runErr = ctx.Err()
		}
		if err := e.recorder.CompleteRun(context.WithoutCancel(ctx), rr.ID, status, runErr); err != nil {
			errs = append(errs, fmt.Errorf("complete run: %w", err))
		}
	}

	e.logger.Info("run complete",
		slog.String("run_id", rr.ID),
		slog.String("status", string(status)),
		slog.Int("succeeded", rr.Succeeded()),
		slog.Int("pairs", len(pairs)),
		slog.Duration("duration", rr.CompletedAt.Sub(rr.StartedAt)))

	return rr, errors.Join(errs...)
}

func (e *Engine) notStarted(ctx context.Context, pair core.Pair) *core.PairResult {
	res := newPairResult(pair)
	res.StartedAt = e.now()
	res.FinishedAt = res.StartedAt
	cancelled(ctx, res, core.StageCollect)
	return res
}

func (e *Engine) processPair(ctx context.Context, pair core.Pair) *core.PairResult {
	if ctx.Err() != nil {
		return e.notStarted(ctx, pair)
	}

	log := e.logger.With(slog.String("project", pair.Project), slog.String("location", pair.Location))
	res := newPairResult(pair)
	res.StartedAt = e.now()
	defer func() { res.FinishedAt = e.now() }()

	log.Debug("collecting", slog.Time("since", e.cfg.Since(res.StartedAt)))
	snap, err := e.collect(ctx, pair, res.StartedAt)
	if err != nil {
		if ctx.Err() != nil {
			cancelled(ctx, res, core.StageCollect)
			return res
		}
		var cerr *core.CollectionError
		if !errors.As(err, &cerr) {
			cerr = &core.CollectionError{Pair: pair, Err: err}
		}
		log.Error("collection failed", slog.Bool("timeout", cerr.Timeout), slog.Any("error", err))
		res.AddError(core.StageCollect, core.ErrKindCollection, cerr.Error())
		res.State = core.StateFailed
		return res
	}
	res.State = core.StateCollected

	analyze(ctx, e.cfg, e.scorer, snap, res, log)
	switch res.State {
	case core.StateGraphValid, core.StateGraphCyclic:
	default:
		log.Warn("pair did not complete", slog.String("state", string(res.State)))
		return res
	}

	if e.emitter == nil || cancelled(ctx, res, core.StageEmit) {
		return res
	}
	if err := e.emitter.Emit(ctx, res); err != nil {
		log.Error("emit failed", slog.Any("error", err))
		res.AddError(core.StageEmit, core.ErrKindWrite, err.Error())
		return res
	}

	log.Info("pair complete",
		slog.String("state", string(res.State)),
		slog.Int("nodes", len(res.Graph.Nodes)),
		slog.Int("deduplicated", len(res.DedupLog)))
	return res
}

// collect bounds the collector call by CollectTimeout. The call runs on its
// own goroutine so a collector that ignores ctx cannot hold the pair past the
// deadline; its late result is dropped.
func (e *Engine) collect(ctx context.Context, pair core.Pair, now time.Time) (*core.RawSnapshot, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CollectTimeout)
	defer cancel()

	type result struct {
		snap *core.RawSnapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := e.collector.Collect(cctx, CollectRequest{Pair: pair, Since: e.cfg.Since(now)})
		done <- result{snap, err}
	}()

	var snap *core.RawSnapshot
	var err error
	select {
	case r := <-done:
		snap, err = r.snap, r.err
	case <-cctx.Done():
		err = cctx.Err()
	}
	if err != nil {
		if ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, &core.CollectionError{Pair: pair, Timeout: true, Err: err}
		}
		return nil, err
	}
	if snap == nil {
		return nil, &core.CollectionError{Pair: pair, Err: errors.New("collector returned no snapshot")}
	}
	return snap, nil
}
