package graph

import (
	"fmt"

	"github.com/leapstack-labs/dfmigrate/internal/dag"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// Layout is the execution view of an acyclic graph.
type Layout struct {
	// Levels groups nodes by execution level. Level 0 holds nodes without
	// dependencies; nodes of one level can run in parallel.
	Levels [][]core.NodeID
	// Roots are the nodes nothing depends on upstream.
	Roots []core.NodeID
	Nodes int
	Edges int

	d   *dag.Graph
	ids map[string]core.NodeID
}

// NewLayout computes the layout of g. Cyclic graphs have none.
func NewLayout(g *core.ActionGraph) (*Layout, error) {
	if g.Cyclic() {
		return nil, &core.CycleDetectedError{Pair: g.Pair, Nodes: g.Cycle}
	}

	l := &Layout{d: dag.NewGraph(), ids: make(map[string]core.NodeID, len(g.Nodes))}
	for _, n := range g.Nodes {
		l.d.AddNode(n.ID.String(), n)
		l.ids[n.ID.String()] = n.ID
	}
	for _, e := range g.Edges {
		if err := l.d.AddEdge(e.From.String(), e.To.String()); err != nil {
			return nil, fmt.Errorf("add edge %s -> %s: %w", e.From, e.To, err)
		}
	}

	levels, err := l.d.GetExecutionLevels()
	if err != nil {
		return nil, err
	}
	l.Levels = make([][]core.NodeID, len(levels))
	for i, level := range levels {
		l.Levels[i] = l.resolve(level)
	}
	l.Roots = l.resolve(l.d.GetRoots())
	l.Nodes = l.d.NodeCount()
	l.Edges = l.d.EdgeCount()
	return l, nil
}

// DependsOn returns the dependencies of id, sorted.
func (l *Layout) DependsOn(id core.NodeID) []core.NodeID {
	return l.resolve(l.d.GetParents(id.String()))
}

// UsedBy returns the dependents of id, sorted.
func (l *Layout) UsedBy(id core.NodeID) []core.NodeID {
	return l.resolve(l.d.GetChildren(id.String()))
}

func (l *Layout) resolve(names []string) []core.NodeID {
	if len(names) == 0 {
		return nil
	}
	out := make([]core.NodeID, len(names))
	for i, s := range names {
		out[i] = l.ids[s]
	}
	return out
}
