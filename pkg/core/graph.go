package core

import (
	"fmt"
	"slices"
)

// PairScore is one audited similarity comparison inside a cluster.
type PairScore struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"`
}

// SimilarityCluster groups near-identical queries writing the same destination.
type SimilarityCluster struct {
	ID             string      `json:"id"`
	Destination    TableRef    `json:"destination"`
	Members        []string    `json:"members"`
	Representative string      `json:"representative"`
	PairwiseScores []PairScore `json:"pairwise_scores,omitempty"`
}

// Score returns the audited score between two members.
func (c *SimilarityCluster) Score(a, b string) (float64, bool) {
	for _, ps := range c.PairwiseScores {
		if (ps.A == a && ps.B == b) || (ps.A == b && ps.B == a) {
			return ps.Score, true
		}
	}
	return 0, false
}

// DedupEntry records that one query was subsumed by a cluster representative.
type DedupEntry struct {
	Destination         TableRef `json:"destination"`
	ClusterID           string   `json:"cluster_id"`
	SubsumedJobID       string   `json:"subsumed_job_id"`
	RepresentativeJobID string   `json:"representative_job_id"`
	Score               float64  `json:"score"`
}

// ActionKind is the downstream action type of a node.
type ActionKind string

// Action kinds.
const (
	ActionTable       ActionKind = "table"
	ActionView        ActionKind = "view"
	ActionIncremental ActionKind = "incremental"
	ActionDeclaration ActionKind = "declaration"
)

// Provenance links a node back to the cluster that produced it.
type Provenance struct {
	ClusterID      string   `json:"cluster_id,omitempty"`
	Representative string   `json:"representative,omitempty"`
	DedupCount     int      `json:"dedup_count"`
	Alternates     []string `json:"alternates,omitempty"`
}

// ActionNode is one transformation (or declared source) in an ActionGraph.
type ActionNode struct {
	ID           NodeID           `json:"id"`
	Kind         ActionKind       `json:"kind"`
	SQL          string           `json:"sql,omitempty"`
	Dependencies []NodeID         `json:"dependencies,omitempty"`
	External     []TableRef       `json:"external,omitempty"`
	Incremental  bool             `json:"incremental"`
	Provenance   Provenance       `json:"provenance"`
	Table        *TableDescriptor `json:"table,omitempty"`
}

// Edge points from a dependency to its dependent.
type Edge struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// ActionGraph is the action set of one (project, location) pair.
// TopoOrder is nil when the graph contains a cycle.
type ActionGraph struct {
	Pair      Pair          `json:"pair"`
	Nodes     []*ActionNode `json:"nodes"`
	Edges     []Edge        `json:"edges"`
	TopoOrder []NodeID      `json:"topo_order,omitempty"`
	Cycle     []NodeID      `json:"cycle,omitempty"`
}

// Node returns the node with the given identity.
func (g *ActionGraph) Node(id NodeID) (*ActionNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// Cyclic reports whether a cycle prevented ordering.
func (g *ActionGraph) Cyclic() bool {
	return len(g.Cycle) > 0
}

// Validate checks the pair-scoping invariants: every node and edge belongs
// to the graph's project and location and node identities are unique.
func (g *ActionGraph) Validate() error {
	seen := make(map[NodeID]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID.Pair() != g.Pair {
			return fmt.Errorf("node %s outside pair %s", n.ID, g.Pair)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node %s", n.ID)
		}
		seen[n.ID] = true
	}
	for _, e := range g.Edges {
		if !seen[e.From] || !seen[e.To] {
			return fmt.Errorf("edge %s -> %s crosses pair %s", e.From, e.To, g.Pair)
		}
	}
	if g.TopoOrder != nil && len(g.TopoOrder) != len(g.Nodes) {
		return fmt.Errorf("topological order has %d nodes, graph has %d", len(g.TopoOrder), len(g.Nodes))
	}
	return nil
}

// SortNodeIDs sorts identities in place by their string form.
func SortNodeIDs(ids []NodeID) {
	slices.SortFunc(ids, NodeID.Compare)
}
