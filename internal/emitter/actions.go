package emitter

import (
	"fmt"
	"path"
	"strings"

	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// WorkflowSettings is workflow_settings.yaml.
type WorkflowSettings struct {
	DataformCoreVersion     string `yaml:"dataformCoreVersion"`
	DefaultProject          string `yaml:"defaultProject"`
	DefaultLocation         string `yaml:"defaultLocation"`
	DefaultDataset          string `yaml:"defaultDataset"`
	DefaultAssertionDataset string `yaml:"defaultAssertionDataset"`
}

// ActionsFile is definitions/actions.yaml.
type ActionsFile struct {
	Actions []Action `yaml:"actions"`
}

// Action holds exactly one of its fields.
type Action struct {
	Table            *TableConfig       `yaml:"table,omitempty"`
	View             *TableConfig       `yaml:"view,omitempty"`
	IncrementalTable *TableConfig       `yaml:"incrementalTable,omitempty"`
	Declaration      *DeclarationConfig `yaml:"declaration,omitempty"`
}

// Target names a warehouse table.
type Target struct {
	Project string `yaml:"project,omitempty"`
	Dataset string `yaml:"dataset"`
	Name    string `yaml:"name"`
}

// TableConfig configures a table, view or incremental table action.
type TableConfig struct {
	Name              string             `yaml:"name"`
	Dataset           string             `yaml:"dataset"`
	Filename          string             `yaml:"filename"`
	Description       string             `yaml:"description,omitempty"`
	DependencyTargets []Target           `yaml:"dependencyTargets,omitempty"`
	Columns           []ColumnDescriptor `yaml:"columns,omitempty"`
	BigQuery          *BigQueryOptions   `yaml:"bigquery,omitempty"`
}

// DeclarationConfig declares an existing source table.
type DeclarationConfig struct {
	Project     string             `yaml:"project,omitempty"`
	Dataset     string             `yaml:"dataset"`
	Name        string             `yaml:"name"`
	Description string             `yaml:"description,omitempty"`
	Columns     []ColumnDescriptor `yaml:"columns,omitempty"`
}

// ColumnDescriptor documents one (possibly nested) column.
type ColumnDescriptor struct {
	Path               []string `yaml:"path,flow"`
	Description        string   `yaml:"description,omitempty"`
	BigQueryPolicyTags []string `yaml:"bigqueryPolicyTags,omitempty"`
}

// BigQueryOptions carries the physical table settings.
type BigQueryOptions struct {
	PartitionBy             string            `yaml:"partitionBy,omitempty"`
	PartitionExpirationDays int               `yaml:"partitionExpirationDays,omitempty"`
	ClusterBy               []string          `yaml:"clusterBy,omitempty,flow"`
	Labels                  map[string]string `yaml:"labels,omitempty"`
}

// SQLPath returns the definitions-relative file of a node.
func SQLPath(id core.NodeID) string {
	return path.Join(id.Dataset, id.Table+".sql")
}

// BuildActions converts an acyclic graph into actions in topological order.
func BuildActions(g *core.ActionGraph) (*ActionsFile, error) {
	if g.Cyclic() {
		return nil, fmt.Errorf("graph for %s has no topological order", g.Pair)
	}

	out := &ActionsFile{Actions: make([]Action, 0, len(g.TopoOrder))}
	for _, id := range g.TopoOrder {
		n, ok := g.Node(id)
		if !ok {
			return nil, fmt.Errorf("topological order names unknown node %s", id)
		}
		out.Actions = append(out.Actions, buildAction(n))
	}
	return out, nil
}

func buildAction(n *core.ActionNode) Action {
	if n.Kind == core.ActionDeclaration {
		d := &DeclarationConfig{Project: n.ID.Project, Dataset: n.ID.Dataset, Name: n.ID.Table}
		if n.Table != nil {
			d.Description = n.Table.Description
			d.Columns = columns(n.Table.Schema)
		}
		return Action{Declaration: d}
	}

	cfg := &TableConfig{
		Name:        n.ID.Table,
		Dataset:     n.ID.Dataset,
		Filename:    SQLPath(n.ID),
		Description: "Auto-generated from " + n.ID.String(),
	}
	for _, dep := range n.Dependencies {
		cfg.DependencyTargets = append(cfg.DependencyTargets, Target{Dataset: dep.Dataset, Name: dep.Table})
	}
	if t := n.Table; t != nil {
		if t.Description != "" {
			cfg.Description = t.Description
		}
		cfg.Columns = columns(t.Schema)
		if n.Kind != core.ActionView {
			cfg.BigQuery = bigQueryOptions(t)
		}
	}

	switch n.Kind {
	case core.ActionView:
		return Action{View: cfg}
	case core.ActionIncremental:
		return Action{IncrementalTable: cfg}
	default:
		return Action{Table: cfg}
	}
}

func bigQueryOptions(t *core.TableDescriptor) *BigQueryOptions {
	opts := &BigQueryOptions{ClusterBy: t.Clustering, Labels: t.Labels}
	if p := t.Partitioning; p != nil {
		opts.PartitionBy = p.Field
		if p.Field == "" {
			opts.PartitionBy = "DATE(" + core.IngestionTimeField + ")"
		}
		opts.PartitionExpirationDays = int(p.ExpirationDays())
	}
	if opts.PartitionBy == "" && len(opts.ClusterBy) == 0 && len(opts.Labels) == 0 {
		return nil
	}
	return opts
}

// columns flattens the schema into column descriptors, keeping only
// columns that carry documentation.
func columns(schema []core.Column) []ColumnDescriptor {
	var out []ColumnDescriptor
	var walk func(prefix []string, cols []core.Column)
	walk = func(prefix []string, cols []core.Column) {
		for _, c := range cols {
			p := append(append([]string(nil), prefix...), c.Name)
			if c.Description != "" || len(c.PolicyTags) > 0 {
				out = append(out, ColumnDescriptor{
					Path:               p,
					Description:        strings.TrimSpace(c.Description),
					BigQueryPolicyTags: c.PolicyTags,
				})
			}
			walk(p, c.Fields)
		}
	}
	walk(nil, schema)
	return out
}
