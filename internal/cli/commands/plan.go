package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/dfmigrate/internal/cli/output"
	"github.com/leapstack-labs/dfmigrate/internal/engine"
	"github.com/leapstack-labs/dfmigrate/internal/graph"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// PlanPair is the JSON shape of one planned pair.
type PlanPair struct {
	Project  string                    `json:"project"`
	Location string                    `json:"location"`
	State    core.PairState            `json:"state"`
	Levels   [][]PlanNode              `json:"levels"`
	Roots    []string                  `json:"roots,omitempty"`
	Edges    int                       `json:"edges"`
	Cycle    []string                  `json:"cycle,omitempty"`
	Clusters []*core.SimilarityCluster `json:"clusters"`
	DedupLog []core.DedupEntry         `json:"dedup_log"`
	Errors   []core.StageError         `json:"errors"`
}

// PlanNode is one action in an execution level.
type PlanNode struct {
	ID          string          `json:"id"`
	Kind        core.ActionKind `json:"kind"`
	DependsOn   []string        `json:"depends_on,omitempty"`
	UsedBy      []string        `json:"used_by,omitempty"`
	Incremental bool            `json:"incremental"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the actions a migration would generate",
		Long: `Analyze every project/location pair like migrate does, without writing
any files or run history, and print the result: actions grouped by
execution level, the query clusters per table and the deduplication log.

Actions in the same level have no dependencies on each other.`,
		Example: `  # Plan one pair
  dfmigrate plan --project shop --location US

  # Plan everything under ./snapshots as JSON
  dfmigrate plan --output-mode json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func runPlan(cmd *cobra.Command) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	cfg, r := cc.Cfg, cc.Renderer

	pairs, err := resolvePairs(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(engine.Config{
		Engine:    cfg.Engine(),
		Collector: newCollector(cfg, cc.Logger),
		Logger:    cc.Logger,
	})
	if err != nil {
		return err
	}
	rr, err := eng.Run(ctx, pairs)
	if err != nil {
		return err
	}

	plans := make([]*PlanPair, 0, len(rr.Pairs))
	for _, res := range rr.Pairs {
		plans = append(plans, newPlanPair(res))
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		enc := json.NewEncoder(r.Writer())
		enc.SetIndent("", "  ")
		if err := enc.Encode(plans); err != nil {
			return err
		}
	case output.ModeDetailed:
		for i, p := range plans {
			if i > 0 {
				r.Println("")
			}
			planText(r, p)
		}
	default:
		for _, p := range plans {
			planSummary(r, p)
		}
	}
	return statusErr(rr.Status())
}

func newPlanPair(res *core.PairResult) *PlanPair {
	p := &PlanPair{
		Project:  res.Pair.Project,
		Location: res.Pair.Location,
		State:    res.State,
		Levels:   [][]PlanNode{},
		Clusters: res.Clusters,
		DedupLog: res.DedupLog,
		Errors:   res.Errors,
	}
	if p.Clusters == nil {
		p.Clusters = []*core.SimilarityCluster{}
	}
	g := res.Graph
	if g == nil {
		return p
	}
	for _, id := range g.Cycle {
		p.Cycle = append(p.Cycle, id.String())
	}

	layout, err := graph.NewLayout(g)
	if err != nil {
		return p
	}
	p.Roots = names(layout.Roots)
	p.Edges = layout.Edges
	for _, level := range layout.Levels {
		nodes := make([]PlanNode, 0, len(level))
		for _, id := range level {
			n, _ := g.Node(id)
			nodes = append(nodes, PlanNode{
				ID:          id.String(),
				Kind:        n.Kind,
				DependsOn:   names(layout.DependsOn(id)),
				UsedBy:      names(layout.UsedBy(id)),
				Incremental: n.Incremental,
			})
		}
		p.Levels = append(p.Levels, nodes)
	}
	return p
}

func names(ids []core.NodeID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func (p *PlanPair) actions() int {
	n := 0
	for _, l := range p.Levels {
		n += len(l)
	}
	return n
}

func planSummary(r *output.Renderer, p *PlanPair) {
	styles := r.Styles()
	name := p.Project + "/" + p.Location
	if p.State != core.StateGraphValid {
		r.Printf("%s %s %s\n", styles.Error.Render("✗"), name, styles.Muted.Render(string(p.State)))
		return
	}
	r.Printf("%s %s %s\n", styles.Success.Render("✓"), name,
		styles.Muted.Render(fmt.Sprintf("%d actions, %d levels, %d deduplicated", p.actions(), len(p.Levels), len(p.DedupLog))))
}

func planText(r *output.Renderer, p *PlanPair) {
	styles := r.Styles()
	r.Header(1, fmt.Sprintf("Plan %s/%s", p.Project, p.Location))
	r.Println(output.FormatKeyValue("State", string(p.State)))

	for i, level := range p.Levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", i)))
		for _, n := range level {
			kind := string(n.Kind)
			r.Printf("  %s %s\n", styles.NodePath.Render(n.ID), styles.Muted.Render("("+kind+")"))
			if len(n.DependsOn) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("depends on:"), strings.Join(n.DependsOn, ", "))
			}
			if len(n.UsedBy) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("used by:"), strings.Join(n.UsedBy, ", "))
			}
		}
	}
	if len(p.Levels) > 0 {
		r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d actions, %d dependencies, roots: %s",
			p.actions(), p.Edges, strings.Join(p.Roots, ", "))))
	}
	if len(p.Cycle) > 0 {
		r.Println(styles.Error.Render("Cycle: " + strings.Join(p.Cycle, ", ")))
	}

	if len(p.Clusters) > 0 {
		r.Println("")
		r.Header(2, "Clusters")
		t := table.NewWriter()
		t.SetOutputMirror(r.Writer())
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Cluster", "Members", "Representative"})
		for _, c := range p.Clusters {
			t.AppendRow(table.Row{c.ID, len(c.Members), c.Representative})
		}
		t.Render()
	}

	if len(p.DedupLog) > 0 {
		r.Println("")
		r.Header(2, "Deduplicated")
		for _, d := range p.DedupLog {
			r.Printf("  %s -> %s %s\n", d.SubsumedJobID, d.RepresentativeJobID,
				styles.Muted.Render(fmt.Sprintf("(%.2f, %s)", d.Score, d.Destination)))
		}
	}

	for _, e := range p.Errors {
		style := styles.Error
		if !e.Kind.PairLevel() {
			style = styles.Warning
		}
		r.Printf("  %s %s\n", styles.Muted.Render("["+string(e.Stage)+"]"), style.Render(fmt.Sprintf("%s: %s", e.Kind, e.Detail)))
	}
}
