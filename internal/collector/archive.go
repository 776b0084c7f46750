package collector

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/dfmigrate/internal/engine"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// Archive saves every snapshot the inner collector returns under Root, in
// the layout Snapshot reads, so a run can be replayed offline. Failing to
// save is logged and does not fail the collection.
type Archive struct {
	Inner    engine.Collector
	Root     string
	Compress bool
	Logger   *slog.Logger
}

// Collect implements engine.Collector.
func (a *Archive) Collect(ctx context.Context, req engine.CollectRequest) (*core.RawSnapshot, error) {
	snap, err := a.Inner.Collect(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := WriteSnapshot(a.Root, snap, a.Compress); err != nil {
		logger := a.Logger
		if logger == nil {
			logger = slog.New(slog.DiscardHandler)
		}
		logger.Warn("failed to save raw snapshot",
			slog.String("project", req.Pair.Project),
			slog.String("location", req.Pair.Location),
			slog.String("error", err.Error()))
	}
	return snap, nil
}
