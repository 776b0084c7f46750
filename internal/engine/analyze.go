package engine

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/dfmigrate/internal/graph"
	"github.com/leapstack-labs/dfmigrate/internal/normalize"
	"github.com/leapstack-labs/dfmigrate/internal/similarity"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// Analyze runs normalization, clustering and graph construction over an
// already collected snapshot. The returned result is in GRAPH_VALID,
// GRAPH_CYCLIC, FAILED or CANCELLED state. Cancellation is checked between
// stages.
func Analyze(ctx context.Context, cfg core.EngineConfig, pair core.Pair, snap *core.RawSnapshot, logger *slog.Logger) *core.PairResult {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	res := newPairResult(pair)
	res.State = core.StateCollected
	analyze(ctx, cfg, nil, snap, res, logger)
	return res
}

func newPairResult(pair core.Pair) *core.PairResult {
	return &core.PairResult{
		Pair:     pair,
		State:    core.StatePending,
		DedupLog: []core.DedupEntry{},
		Errors:   []core.StageError{},
	}
}

func analyze(ctx context.Context, cfg core.EngineConfig, scorer similarity.Scorer, snap *core.RawSnapshot, res *core.PairResult, log *slog.Logger) {
	if cancelled(ctx, res, core.StageNormalize) {
		return
	}
	norm := normalize.New(log).Normalize(res.Pair, snap)
	for _, e := range norm.Errors {
		res.AddError(core.StageNormalize, core.ErrKindNormalization, e.Error())
	}
	res.Tables = len(norm.Tables)
	res.Queries = len(norm.Queries)
	res.State = core.StateNormalized
	log.Debug("normalized",
		slog.Int("tables", len(norm.Tables)),
		slog.Int("queries", len(norm.Queries)),
		slog.Int("rejected", len(norm.Errors)),
		slog.Int("skipped", norm.Skipped))

	if cancelled(ctx, res, core.StageCluster) {
		return
	}
	clusters := similarity.NewIndex(cfg.SimilarityThreshold, scorer).Build(norm.Queries)
	sel, err := similarity.Select(clusters, norm.Queries)
	if err != nil {
		res.AddError(core.StageCluster, core.ErrKindInternal, err.Error())
		res.State = core.StateFailed
		return
	}
	res.Clusters = sel.Clusters
	res.DedupLog = append(res.DedupLog, sel.DedupLog...)
	res.State = core.StateClustered
	log.Debug("clustered",
		slog.Int("clusters", len(sel.Clusters)),
		slog.Int("deduplicated", len(sel.DedupLog)))

	if cancelled(ctx, res, core.StageGraph) {
		return
	}
	g, cycle, err := graph.NewBuilder(cfg.IncrementalEnabled, log).Build(graph.Input{
		Pair:     res.Pair,
		Tables:   norm.Tables,
		Clusters: sel.Clusters,
		Records:  norm.Queries,
	})
	if err != nil {
		res.AddError(core.StageGraph, core.ErrKindInternal, err.Error())
		res.State = core.StateFailed
		return
	}
	res.Graph = g
	res.State = core.StateGraphBuilt
	if cycle != nil {
		res.AddError(core.StageGraph, core.ErrKindCycle, cycle.Error())
		res.State = core.StateGraphCyclic
		return
	}
	res.State = core.StateGraphValid
}

// cancelled marks res CANCELLED when ctx is done.
func cancelled(ctx context.Context, res *core.PairResult, stage core.Stage) bool {
	if ctx.Err() == nil {
		return false
	}
	res.AddError(stage, core.ErrKindCancelled, ctx.Err().Error())
	res.State = core.StateCancelled
	return true
}
