// Package dag provides the directed graph used to order actions.
// It supports three-color cycle search, deterministic topological
// sorting and execution levels.
package dag

import (
	"fmt"
	"slices"
)

// Node represents a node in the graph.
type Node struct {
	// ID is the unique identifier (action identity string)
	ID string
	// Data holds arbitrary node data
	Data any
}

// Graph is a directed graph with edges pointing from a dependency
// (parent) to its dependent (child). Adjacency lists are kept sorted.
type Graph struct {
	nodes   map[string]*Node
	edges   map[string][]string // parent -> children (dependents)
	parents map[string][]string // child -> parents (dependencies)
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node, or replaces the data of an existing one.
func (g *Graph) AddNode(id string, data any) {
	if n, exists := g.nodes[id]; exists {
		n.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}
	if parentID == childID {
		return fmt.Errorf("self-loop detected: %s", parentID)
	}

	g.edges[parentID] = insertSorted(g.edges[parentID], childID)
	g.parents[childID] = insertSorted(g.parents[childID], parentID)
	return nil
}

func insertSorted(list []string, id string) []string {
	i, found := slices.BinarySearch(list, id)
	if found {
		return list
	}
	return slices.Insert(list, i, id)
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetParents returns the parents (dependencies) of a node, sorted.
func (g *Graph) GetParents(id string) []string {
	return g.parents[id]
}

// GetChildren returns the children (dependents) of a node, sorted.
func (g *Graph) GetChildren(id string) []string {
	return g.edges[id]
}

// IDs returns all node IDs in sorted order.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// Edges returns every edge as a [parent, child] pair ordered by parent then child.
func (g *Graph) Edges() [][2]string {
	var out [][2]string
	for _, id := range g.IDs() {
		for _, child := range g.edges[id] {
			out = append(out, [2]string{id, child})
		}
	}
	return out
}

const (
	white = iota // unvisited
	gray         // on the current DFS path
	black        // finished
)

// FindCycles runs a three-color depth-first search over the nodes in ID
// order and returns one cycle per back edge found. Each cycle lists the
// nodes on the path from the back edge's target to its source.
func (g *Graph) FindCycles() [][]string {
	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)

		for _, child := range g.edges[id] {
			switch color[child] {
			case white:
				visit(child)
			case gray:
				start := slices.Index(stack, child)
				cycles = append(cycles, slices.Clone(stack[start:]))
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range g.IDs() {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// HasCycle returns true if the graph contains a cycle, along with the first cycle found.
func (g *Graph) HasCycle() (bool, []string) {
	cycles := g.FindCycles()
	if len(cycles) == 0 {
		return false, nil
	}
	return true, cycles[0]
}

// TopologicalSort returns node IDs with every dependency before its
// dependents. Among nodes that are ready at the same time the smallest
// ID comes first, so the order is total and stable across runs.
func (g *Graph) TopologicalSort() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	var ready []string
	for _, id := range g.IDs() {
		indegree[id] = len(g.parents[id])
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, child := range g.edges[id] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = insertSorted(ready, child)
			}
		}
	}

	if len(order) != len(g.nodes) {
		_, cycle := g.HasCycle()
		return nil, fmt.Errorf("cycle detected: %v", cycle)
	}
	return order, nil
}

// GetExecutionLevels returns nodes grouped by execution level.
// Nodes at level N can be executed in parallel after level N-1 completes.
// Level 0 contains nodes with no dependencies.
func (g *Graph) GetExecutionLevels() ([][]string, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(order))
	maxLevel := -1
	for _, id := range order {
		l := 0
		for _, parent := range g.parents[id] {
			if level[parent]+1 > l {
				l = level[parent] + 1
			}
		}
		level[id] = l
		maxLevel = max(maxLevel, l)
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range order {
		levels[level[id]] = append(levels[level[id]], id)
	}
	for i := range levels {
		slices.Sort(levels[i])
	}
	return levels, nil
}

// GetRoots returns nodes with no parents (no dependencies).
func (g *Graph) GetRoots() []string {
	var roots []string
	for _, id := range g.IDs() {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}
