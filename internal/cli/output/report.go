package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/dfmigrate/internal/engine"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// ReportsDir is the directory under the output root that holds run reports.
const ReportsDir = "reports"

// Report file names per mode.
const (
	StatusFile  = "status.txt"
	ReportFile  = "report.txt"
	ResultsFile = "results.json"
)

// RunReport is the rendered summary of a migration run.
type RunReport struct {
	RunID           string           `json:"run_id,omitempty"`
	Status          core.RunStatus   `json:"status"`
	Total           int              `json:"total"`
	Succeeded       int              `json:"succeeded"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
	DurationSeconds float64          `json:"duration_seconds"`
	Projects        []*ProjectReport `json:"projects"`
}

// ProjectReport groups the locations of one project.
type ProjectReport struct {
	Project         string        `json:"project"`
	Succeeded       bool          `json:"succeeded"`
	DurationSeconds float64       `json:"duration_seconds"`
	Locations       []*PairReport `json:"location_results"`
}

// PairReport is the outcome of one project/location pair.
type PairReport struct {
	Location        string            `json:"location"`
	State           core.PairState    `json:"state"`
	Succeeded       bool              `json:"succeeded"`
	DurationSeconds float64           `json:"duration_seconds"`
	Metrics         PairMetrics       `json:"metrics"`
	Errors          []core.StageError `json:"errors"`
}

// PairMetrics counts what a pair produced.
type PairMetrics struct {
	Tables   int `json:"tables"`
	Queries  int `json:"queries"`
	Clusters int `json:"clusters"`
	Dedups   int `json:"deduplicated"`
	Nodes    int `json:"nodes"`
	Edges    int `json:"edges"`
}

// NewRunReport summarizes a run result. Projects keep first-seen order.
func NewRunReport(rr *engine.RunResult) *RunReport {
	rep := &RunReport{
		RunID:           rr.ID,
		Status:          rr.Status(),
		Total:           len(rr.Pairs),
		Succeeded:       rr.Succeeded(),
		StartedAt:       rr.StartedAt,
		CompletedAt:     rr.CompletedAt,
		DurationSeconds: seconds(rr.StartedAt, rr.CompletedAt),
		Projects:        []*ProjectReport{},
	}

	byProject := make(map[string]*ProjectReport)
	for _, res := range rr.Pairs {
		pr, ok := byProject[res.Pair.Project]
		if !ok {
			pr = &ProjectReport{Project: res.Pair.Project, Succeeded: true}
			byProject[res.Pair.Project] = pr
			rep.Projects = append(rep.Projects, pr)
		}
		loc := newPairReport(res)
		pr.Locations = append(pr.Locations, loc)
		pr.Succeeded = pr.Succeeded && loc.Succeeded
		pr.DurationSeconds += loc.DurationSeconds
	}
	return rep
}

func newPairReport(res *core.PairResult) *PairReport {
	pr := &PairReport{
		Location:        res.Pair.Location,
		State:           res.State,
		Succeeded:       res.Succeeded(),
		DurationSeconds: seconds(res.StartedAt, res.FinishedAt),
		Metrics: PairMetrics{
			Tables:   res.Tables,
			Queries:  res.Queries,
			Clusters: len(res.Clusters),
			Dedups:   len(res.DedupLog),
		},
		Errors: res.Errors,
	}
	if pr.Errors == nil {
		pr.Errors = []core.StageError{}
	}
	if res.Graph != nil {
		pr.Metrics.Nodes = len(res.Graph.Nodes)
		pr.Metrics.Edges = len(res.Graph.Edges)
	}
	return pr
}

func seconds(from, to time.Time) float64 {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from).Seconds()
}

// AllSucceeded reports whether every pair succeeded.
func (r *RunReport) AllSucceeded() bool {
	return r.Status == core.RunStatusAllSucceeded
}

// RenderReport writes the report in the renderer's effective mode.
func (r *Renderer) RenderReport(rep *RunReport) error {
	switch r.EffectiveMode() {
	case ModeJSON:
		return writeJSON(r.out, rep)
	case ModeDetailed:
		r.renderDetailed(rep)
		return nil
	default:
		r.renderMinimal(rep)
		return nil
	}
}

func (r *Renderer) renderMinimal(rep *RunReport) {
	if rep.AllSucceeded() {
		r.Println(r.styles.Success.Render("✓"))
		return
	}
	r.Println(r.styles.Error.Render("✗"))
}

func (r *Renderer) renderDetailed(rep *RunReport) {
	r.Header(1, "Migration Results")
	if rep.RunID != "" {
		r.Println(FormatKeyValue("Run", rep.RunID))
	}
	r.Println(FormatKeyValue("Status", r.statusText(rep.Status)))
	r.Println(FormatKeyValue("Pairs", fmt.Sprintf("%d/%d succeeded", rep.Succeeded, rep.Total)))
	r.Println(FormatKeyValue("Duration", formatSeconds(rep.DurationSeconds)))

	for _, pr := range rep.Projects {
		r.Println("")
		mark := r.styles.Success.Render("✓")
		if !pr.Succeeded {
			mark = r.styles.Error.Render("✗")
		}
		r.Header(2, fmt.Sprintf("%s %s", mark, pr.Project))

		t := table.NewWriter()
		t.SetOutputMirror(r.out)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Location", "State", "Tables", "Queries", "Clusters", "Dedup", "Nodes", "Edges", "Duration"})
		for _, loc := range pr.Locations {
			t.AppendRow(table.Row{
				loc.Location, string(loc.State),
				loc.Metrics.Tables, loc.Metrics.Queries, loc.Metrics.Clusters, loc.Metrics.Dedups,
				loc.Metrics.Nodes, loc.Metrics.Edges,
				formatSeconds(loc.DurationSeconds),
			})
		}
		t.Render()

		for _, loc := range pr.Locations {
			for _, e := range loc.Errors {
				style := r.styles.Error
				if !e.Kind.PairLevel() {
					style = r.styles.Warning
				}
				r.Printf("  %s %s\n", r.styles.Muted.Render(fmt.Sprintf("[%s/%s]", loc.Location, e.Stage)),
					style.Render(fmt.Sprintf("%s: %s", e.Kind, e.Detail)))
			}
		}
	}
}

func (r *Renderer) statusText(s core.RunStatus) string {
	label := strings.ReplaceAll(string(s), "_", " ")
	switch s {
	case core.RunStatusAllSucceeded:
		return r.styles.Success.Render(label)
	case core.RunStatusPartial:
		return r.styles.Warning.Render(label)
	case core.RunStatusRunning:
		return r.styles.Info.Render(label)
	default:
		return r.styles.Error.Render(label)
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 2, 64) + "s"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ReportPath returns where WriteReportFile stores a report for mode.
func ReportPath(outputDir string, mode Mode) string {
	name := StatusFile
	switch mode {
	case ModeDetailed:
		name = ReportFile
	case ModeJSON:
		name = ResultsFile
	}
	return filepath.Join(outputDir, ReportsDir, name)
}

// WriteReportFile writes the report under <outputDir>/reports and returns its
// path. Auto mode is written as minimal; files never carry colour.
func WriteReportFile(outputDir string, rep *RunReport, mode Mode) (string, error) {
	if mode == ModeAuto || mode == "" {
		mode = ModeMinimal
	}
	path := ReportPath(outputDir, mode)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create reports directory: %w", err)
	}

	f, err := os.Create(path) //nolint:gosec // path is built from the configured output dir
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	if err := NewRenderer(f, io.Discard, mode).RenderReport(rep); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report: %w", err)
	}
	return path, nil
}
