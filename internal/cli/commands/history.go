package commands

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/dfmigrate/internal/cli/config"
	"github.com/leapstack-labs/dfmigrate/internal/cli/output"
	"github.com/leapstack-labs/dfmigrate/internal/state"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit     int
	Decisions bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past migration runs",
		Long: `List recent migration runs recorded in the state database, newest
first. With a run ID, show the per-pair results of that run and, with
--decisions, every query the run deduplicated.`,
		Example: `  # Last 20 runs
  dfmigrate history

  # One run with its deduplication decisions as JSON
  dfmigrate history 3f6c... --decisions --output-mode json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, args, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", config.DefaultHistoryCap, "Maximum runs to list (0 for all)")
	cmd.Flags().BoolVar(&opts.Decisions, "decisions", false, "Include deduplication decisions of the run")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string, opts *HistoryOptions) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	r := cc.Renderer

	store, err := openStore(cc.Cfg.StatePath, cc.Logger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	if len(args) == 0 {
		runs, err := store.ListRuns(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return r.RenderRuns(runs)
	}

	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		var nf *state.NotFoundError
		if errors.As(err, &nf) {
			return fmt.Errorf("%w\nHint: run 'dfmigrate history' to list run IDs", err)
		}
		return err
	}
	pairs, err := store.GetPairResults(ctx, run.ID)
	if err != nil {
		return err
	}

	var decisions []*state.DedupDecision
	if opts.Decisions {
		if decisions, err = store.GetDedupDecisions(ctx, run.ID); err != nil {
			return err
		}
	}

	if r.EffectiveMode() == output.ModeJSON {
		if !opts.Decisions {
			return r.RenderRunDetail(run, pairs)
		}
		return writeDecisionsJSON(r, decisions)
	}

	if err := r.RenderRunDetail(run, pairs); err != nil {
		return err
	}
	if opts.Decisions {
		r.Println("")
		r.Header(2, "Deduplication decisions")
		renderDecisions(r, decisions)
	}
	return nil
}

// decisionRow is the JSON shape of a persisted dedup decision.
type decisionRow struct {
	ID                  string  `json:"id"`
	Project             string  `json:"project"`
	Location            string  `json:"location"`
	Destination         string  `json:"destination"`
	ClusterID           string  `json:"cluster_id"`
	SubsumedJobID       string  `json:"subsumed_job_id"`
	RepresentativeJobID string  `json:"representative_job_id"`
	Score               float64 `json:"score"`
}

func writeDecisionsJSON(r *output.Renderer, decisions []*state.DedupDecision) error {
	rows := make([]decisionRow, 0, len(decisions))
	for _, d := range decisions {
		rows = append(rows, decisionRow{
			ID:                  d.ID,
			Project:             d.Pair.Project,
			Location:            d.Pair.Location,
			Destination:         d.Destination.String(),
			ClusterID:           d.ClusterID,
			SubsumedJobID:       d.SubsumedJobID,
			RepresentativeJobID: d.RepresentativeJobID,
			Score:               d.Score,
		})
	}
	enc := json.NewEncoder(r.Writer())
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func renderDecisions(r *output.Renderer, decisions []*state.DedupDecision) {
	if len(decisions) == 0 {
		r.Muted("No queries were deduplicated.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Pair", "Destination", "Subsumed", "Representative", "Score"})
	for _, d := range decisions {
		t.AppendRow(table.Row{d.Pair.String(), d.Destination.String(), d.SubsumedJobID, d.RepresentativeJobID, fmt.Sprintf("%.3f", d.Score)})
	}
	t.Render()
}
