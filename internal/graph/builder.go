// Package graph builds the per-pair action graph from canonical queries:
// it derives dependencies from declared table references, orders the
// actions, reports cycles and classifies incremental tables.
package graph

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/leapstack-labs/dfmigrate/internal/dag"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// Builder assembles ActionGraphs.
type Builder struct {
	incremental bool
	logger      *slog.Logger
}

// NewBuilder creates a Builder. With incremental false every node is a
// full refresh. A nil logger discards output.
func NewBuilder(incremental bool, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{incremental: incremental, logger: logger}
}

// Input is everything the builder needs for one pair. Clusters must come
// from similarity.Select: representatives set and the most recent
// cluster first within each destination.
type Input struct {
	Pair     core.Pair
	Tables   []*core.TableDescriptor
	Clusters []*core.SimilarityCluster
	Records  []*core.QueryRecord
}

// Build constructs the graph. When dependencies form a cycle the graph is
// returned without a topological order together with a CycleDetectedError
// naming every node on a detected cycle. The error return is reserved for
// broken invariants.
func (b *Builder) Build(in Input) (*core.ActionGraph, *core.CycleDetectedError, error) {
	log := b.logger.With(slog.String("project", in.Pair.Project), slog.String("location", in.Pair.Location))

	records := make(map[string]*core.QueryRecord, len(in.Records))
	for _, r := range in.Records {
		records[r.JobID] = r
	}
	tables := make(map[core.TableRef]*core.TableDescriptor, len(in.Tables))
	for _, t := range in.Tables {
		tables[t.Ref] = t
	}

	nodes := make(map[core.NodeID]*core.ActionNode)
	reps := make(map[core.NodeID]*core.QueryRecord)

	for _, c := range in.Clusters {
		if c.Destination.Project != in.Pair.Project {
			log.Debug("skipping cluster outside project", slog.String("destination", c.Destination.String()))
			continue
		}
		id := in.Pair.Node(c.Destination.Dataset, c.Destination.Table)
		if n, ok := nodes[id]; ok {
			n.Provenance.Alternates = append(n.Provenance.Alternates, c.ID)
			continue
		}
		rep, ok := records[c.Representative]
		if !ok {
			return nil, nil, fmt.Errorf("representative %s of %s has no query record", c.Representative, c.ID)
		}

		desc := tables[c.Destination]
		n := &core.ActionNode{
			ID:    id,
			Kind:  core.ActionTable,
			SQL:   canonicalSQL(rep.RawSQL),
			Table: desc,
			Provenance: core.Provenance{
				ClusterID:      c.ID,
				Representative: rep.JobID,
				DedupCount:     len(c.Members) - 1,
			},
		}
		if desc != nil && desc.Kind == core.KindView {
			n.Kind = core.ActionView
		}
		if b.incremental && isIncremental(desc, in.Records) {
			n.Incremental = true
			n.Kind = core.ActionIncremental
		}
		nodes[id] = n
		reps[id] = rep
	}

	// catalog tables nothing wrote to are declared as sources
	for _, t := range in.Tables {
		if t.Ref.Project != in.Pair.Project {
			continue
		}
		id := in.Pair.Node(t.Ref.Dataset, t.Ref.Table)
		if _, ok := nodes[id]; ok {
			continue
		}
		nodes[id] = &core.ActionNode{ID: id, Kind: core.ActionDeclaration, Table: t}
	}

	g := dag.NewGraph()
	for id, n := range nodes {
		g.AddNode(id.String(), n)
	}

	for id, rep := range reps {
		n := nodes[id]
		for _, ref := range rep.Referenced {
			if ref == id.Ref() {
				continue
			}
			dep := in.Pair.Node(ref.Dataset, ref.Table)
			if _, ok := nodes[dep]; !ok || ref.Project != in.Pair.Project {
				n.External = append(n.External, ref)
				log.Debug("dropping external reference",
					slog.String("destination", id.String()), slog.String("reference", ref.String()))
				continue
			}
			n.Dependencies = append(n.Dependencies, dep)
			if err := g.AddEdge(dep.String(), id.String()); err != nil {
				return nil, nil, fmt.Errorf("add edge %s -> %s: %w", dep, id, err)
			}
		}
		core.SortNodeIDs(n.Dependencies)
	}

	graph := &core.ActionGraph{Pair: in.Pair}
	for _, sid := range g.IDs() {
		node, _ := g.GetNode(sid)
		graph.Nodes = append(graph.Nodes, node.Data.(*core.ActionNode))
	}
	idOf := func(s string) core.NodeID {
		node, _ := g.GetNode(s)
		return node.Data.(*core.ActionNode).ID
	}
	for _, e := range g.Edges() {
		graph.Edges = append(graph.Edges, core.Edge{From: idOf(e[0]), To: idOf(e[1])})
	}

	var cycleErr *core.CycleDetectedError
	if cycles := g.FindCycles(); len(cycles) > 0 {
		seen := make(map[string]bool)
		for _, cycle := range cycles {
			for _, s := range cycle {
				if !seen[s] {
					seen[s] = true
					graph.Cycle = append(graph.Cycle, idOf(s))
				}
			}
		}
		core.SortNodeIDs(graph.Cycle)
		cycleErr = &core.CycleDetectedError{Pair: in.Pair, Nodes: slices.Clone(graph.Cycle)}
		log.Warn("dependency cycle", slog.String("nodes", cycleErr.Error()))
	} else {
		order, err := g.TopologicalSort()
		if err != nil {
			return nil, nil, err
		}
		graph.TopoOrder = make([]core.NodeID, len(order))
		for i, s := range order {
			graph.TopoOrder[i] = idOf(s)
		}
	}

	if err := graph.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid graph for %s: %w", in.Pair, err)
	}

	log.Debug("graph built",
		slog.Int("nodes", len(graph.Nodes)),
		slog.Int("edges", len(graph.Edges)),
		slog.Bool("cyclic", cycleErr != nil))
	return graph, cycleErr, nil
}

// canonicalSQL trims surrounding whitespace and trailing semicolons.
func canonicalSQL(sql string) string {
	s := strings.TrimSpace(sql)
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	return s
}
