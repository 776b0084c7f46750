// Package commands implements the dfmigrate subcommands.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/dfmigrate/internal/cli/config"
	"github.com/leapstack-labs/dfmigrate/internal/cli/output"
	"github.com/leapstack-labs/dfmigrate/internal/collector"
	"github.com/leapstack-labs/dfmigrate/internal/engine"
	"github.com/leapstack-labs/dfmigrate/internal/state"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// RawDir is where --save-raw stores collected snapshots under the output dir.
const RawDir = "raw"

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext builds the context from the config loaded by the root
// command.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	mode, err := output.ParseMode(cfg.OutputMode)
	if err != nil {
		return nil, err
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode),
	}, nil
}

// StatusError reports a run that did not fully succeed. It carries the
// process exit code: 2 for partial success, 1 otherwise.
type StatusError struct {
	Status core.RunStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("run finished with status %s", e.Status)
}

// ExitCode maps the status to the process exit code.
func (e *StatusError) ExitCode() int {
	if e.Status == core.RunStatusPartial {
		return 2
	}
	return 1
}

// statusErr returns nil for a fully successful run.
func statusErr(status core.RunStatus) error {
	if status == core.RunStatusAllSucceeded {
		return nil
	}
	return &StatusError{Status: status}
}

// addRunFlags registers the flags shared by migrate and plan.
func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSlice("project", nil, "Project to migrate (repeatable or comma-separated)")
	f.StringSlice("location", nil, "Location to migrate (repeatable or comma-separated)")
	f.Int("days", core.DefaultHistoryWindowDays, "Days of job history to analyze")
	f.Float64("similarity-threshold", core.DefaultSimilarityThreshold, "Similarity at or above which queries are merged (0-1)")
	f.Bool("disable-incremental", false, "Emit every table as a full refresh")
	f.String("input-dir", "", "Directory holding <project>/<location> snapshots")
	f.Int("concurrency", core.DefaultConcurrency, "Maximum pairs processed at once")
	f.Duration("timeout", core.DefaultCollectTimeout, "Timeout for collecting one pair")
	f.Uint64("retries", collector.DefaultMaxRetries, "Retries for transient collection failures")
}

// resolvePairs returns the configured project x location pairs. When either
// list is empty the input directory is scanned and filtered by the other.
func resolvePairs(cfg *config.Config) ([]core.Pair, error) {
	if len(cfg.Projects) > 0 && len(cfg.Locations) > 0 {
		return cfg.Pairs(), nil
	}

	found, err := collector.Discover(cfg.InputDir)
	if err != nil {
		return nil, fmt.Errorf("discover pairs in %s: %w", cfg.InputDir, err)
	}
	var pairs []core.Pair
	for _, p := range found {
		if len(cfg.Projects) > 0 && !slices.Contains(cfg.Projects, p.Project) {
			continue
		}
		if len(cfg.Locations) > 0 && !slices.Contains(cfg.Locations, p.Location) {
			continue
		}
		pairs = append(pairs, p)
	}
	if len(pairs) == 0 {
		if err := cfg.ValidatePairs(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("no snapshots for the configured projects and locations in %s", cfg.InputDir)
	}
	return pairs, nil
}

// newCollector builds the snapshot reader wrapped with retries and the
// per-project breaker, optionally archiving what it reads.
func newCollector(cfg *config.Config, logger *slog.Logger) engine.Collector {
	var c engine.Collector = &collector.Snapshot{Root: cfg.InputDir}
	if cfg.Collector.SaveRaw {
		c = &collector.Archive{
			Inner:    c,
			Root:     filepath.Join(cfg.OutputDir, RawDir),
			Compress: cfg.Collector.Compress,
			Logger:   logger,
		}
	}
	return collector.NewResilient(c,
		collector.WithRetries(cfg.Collector.Retries, cfg.Collector.RetryBase),
		collector.WithBreaker(cfg.Collector.BreakerFailures, cfg.Collector.BreakerCooldown),
		collector.WithLogger(logger))
}

// openStore opens and migrates the run-history store.
func openStore(path string, logger *slog.Logger) (*state.SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store := state.NewSQLiteStore(logger)
	if err := store.Open(path); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
