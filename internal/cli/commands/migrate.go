package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/dfmigrate/internal/cli/output"
	"github.com/leapstack-labs/dfmigrate/internal/emitter"
	"github.com/leapstack-labs/dfmigrate/internal/engine"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Generate Dataform actions from warehouse history",
		Long: `Read table metadata and job history for every project/location pair,
collapse equivalent queries into one canonical transformation per table,
and write Dataform definitions (actions.yaml, workflow_settings.yaml and
one SQL file per action) under the output directory.

Pairs are processed independently: a failure in one pair never affects
another. A report is written to <output-dir>/reports.

Exit codes:
  0  every pair succeeded
  2  some pairs failed
  1  every pair failed, or the run could not start`,
		Example: `  # Migrate two projects in the US location
  dfmigrate migrate --project shop,ads --location US

  # Migrate every snapshot under ./snapshots with a looser threshold
  dfmigrate migrate --similarity-threshold 0.8

  # Full refresh only, JSON report
  dfmigrate migrate --project shop --location EU --disable-incremental --output-mode json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd)
		},
	}

	addRunFlags(cmd)
	cmd.Flags().String("output-dir", "", "Directory to write Dataform definitions to")
	cmd.Flags().Bool("save-raw", false, "Save collected snapshots under <output-dir>/raw")
	cmd.Flags().Bool("compress", false, "Compress saved snapshots with zstd")

	return cmd
}

func runMigrate(cmd *cobra.Command) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	cfg, logger, r := cc.Cfg, cc.Logger, cc.Renderer

	pairs, err := resolvePairs(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg.StatePath, logger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() { _ = store.Close() }()

	files := emitter.NewFiles(cfg.OutputDir, logger)
	files.CoreVersion = cfg.Emitter.CoreVersion
	files.DefaultDataset = cfg.Emitter.DefaultDataset
	files.AssertionDataset = cfg.Emitter.AssertionDataset

	eng, err := engine.New(engine.Config{
		Engine:    cfg.Engine(),
		Collector: newCollector(cfg, logger),
		Emitter:   files,
		Recorder:  store,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	rr, err := eng.Run(ctx, pairs)
	if rr == nil {
		return err
	}
	if err != nil {
		logger.Warn("run history incomplete", slog.String("error", err.Error()))
	}

	return report(ctx, r, cfg.OutputDir, rr, logger)
}

// report writes the report file and prints the report, then maps the run
// status to the command error.
func report(ctx context.Context, r *output.Renderer, outputDir string, rr *engine.RunResult, logger *slog.Logger) error {
	rep := output.NewRunReport(rr)

	path, err := output.WriteReportFile(outputDir, rep, r.EffectiveMode())
	if err != nil {
		logger.Error("failed to write report", slog.String("error", err.Error()))
	} else {
		logger.Debug("wrote report", slog.String("path", path))
	}

	if err := r.RenderReport(rep); err != nil {
		return err
	}
	if ctx.Err() != nil {
		r.Warning("run interrupted; unfinished pairs were cancelled")
	}
	return statusErr(rep.Status)
}
