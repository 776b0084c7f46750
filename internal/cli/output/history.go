package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// RunRow is the JSON shape of one history entry.
type RunRow struct {
	ID          string         `json:"id"`
	Status      core.RunStatus `json:"status"`
	Pairs       int            `json:"pair_count"`
	Succeeded   int            `json:"succeeded"`
	Threshold   float64        `json:"similarity_threshold"`
	Incremental bool           `json:"incremental"`
	WindowDays  int            `json:"history_days"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func newRunRow(run *core.Run) RunRow {
	return RunRow{
		ID:          run.ID,
		Status:      run.Status,
		Pairs:       run.Pairs,
		Succeeded:   run.Succeeded,
		Threshold:   run.Threshold,
		Incremental: run.Incremental,
		WindowDays:  run.WindowDays,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Error:       run.Error,
	}
}

// RenderRuns writes run history, newest first as given.
func (r *Renderer) RenderRuns(runs []*core.Run) error {
	if r.EffectiveMode() == ModeJSON {
		rows := make([]RunRow, 0, len(runs))
		for _, run := range runs {
			rows = append(rows, newRunRow(run))
		}
		return writeJSON(r.out, rows)
	}

	if len(runs) == 0 {
		r.Muted("No runs recorded.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Started", "Status", "Pairs", "Threshold", "Days", "Incremental", "Duration"})
	for _, run := range runs {
		duration := "-"
		if run.CompletedAt != nil {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		t.AppendRow(table.Row{
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			r.statusText(run.Status),
			fmt.Sprintf("%d/%d", run.Succeeded, run.Pairs),
			run.Threshold,
			run.WindowDays,
			run.Incremental,
			duration,
		})
	}
	t.Render()
	return nil
}

// RunDetail is the JSON shape of a single run with its pairs.
type RunDetail struct {
	RunRow
	Pairs []*core.PairSummary `json:"pairs"`
}

// RenderRunDetail writes one run and its pair summaries.
func (r *Renderer) RenderRunDetail(run *core.Run, pairs []*core.PairSummary) error {
	if r.EffectiveMode() == ModeJSON {
		if pairs == nil {
			pairs = []*core.PairSummary{}
		}
		return writeJSON(r.out, RunDetail{RunRow: newRunRow(run), Pairs: pairs})
	}

	r.Header(1, "Run "+run.ID)
	r.Println(FormatKeyValue("Status", r.statusText(run.Status)))
	r.Println(FormatKeyValue("Started", run.StartedAt.Local().Format(time.DateTime)))
	r.Println(FormatKeyValue("Pairs", fmt.Sprintf("%d/%d succeeded", run.Succeeded, run.Pairs)))
	if run.Error != "" {
		r.Println(FormatKeyValue("Error", r.styles.Error.Render(run.Error)))
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Project", "Location", "State", "Nodes", "Edges", "Clusters", "Dedup", "Errors"})
	for _, p := range pairs {
		t.AppendRow(table.Row{p.Pair.Project, p.Pair.Location, string(p.State), p.Nodes, p.Edges, p.Clusters, p.Dedups, len(p.Errors)})
	}
	t.Render()

	for _, p := range pairs {
		for _, e := range p.Errors {
			r.Printf("  %s %s\n", r.styles.Muted.Render(fmt.Sprintf("[%s/%s]", p.Pair, e.Stage)), fmt.Sprintf("%s: %s", e.Kind, e.Detail))
		}
	}
	return nil
}
