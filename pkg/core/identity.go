package core

import (
	"fmt"
	"strings"
)

// TableRef identifies a warehouse table.
type TableRef struct {
	Project string `json:"project"`
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
}

// String returns the dotted form project.dataset.table.
func (r TableRef) String() string {
	return r.Project + "." + r.Dataset + "." + r.Table
}

// IsZero reports whether any part of the reference is missing.
func (r TableRef) IsZero() bool {
	return r.Project == "" || r.Dataset == "" || r.Table == ""
}

// Compare orders references by project, dataset, then table.
func (r TableRef) Compare(o TableRef) int {
	if c := strings.Compare(r.Project, o.Project); c != 0 {
		return c
	}
	if c := strings.Compare(r.Dataset, o.Dataset); c != 0 {
		return c
	}
	return strings.Compare(r.Table, o.Table)
}

// ParseTableRef parses a project.dataset.table string.
func ParseTableRef(s string) (TableRef, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return TableRef{}, fmt.Errorf("invalid table reference %q: want project.dataset.table", s)
	}
	ref := TableRef{Project: parts[0], Dataset: parts[1], Table: parts[2]}
	if ref.IsZero() {
		return TableRef{}, fmt.Errorf("invalid table reference %q: empty component", s)
	}
	return ref, nil
}

// Pair is the unit of processing: one project in one location.
type Pair struct {
	Project  string `json:"project"`
	Location string `json:"location"`
}

// String returns project/location.
func (p Pair) String() string {
	return p.Project + "/" + p.Location
}

// Compare orders pairs by project, then location.
func (p Pair) Compare(o Pair) int {
	if c := strings.Compare(p.Project, o.Project); c != 0 {
		return c
	}
	return strings.Compare(p.Location, o.Location)
}

// Node returns the identity of a table inside this pair.
func (p Pair) Node(dataset, table string) NodeID {
	return NodeID{Project: p.Project, Location: p.Location, Dataset: dataset, Table: table}
}

// NodeID identifies an action within an ActionGraph.
type NodeID struct {
	Project  string `json:"project"`
	Location string `json:"location"`
	Dataset  string `json:"dataset"`
	Table    string `json:"table"`
}

// String returns project.dataset.table. Location is implied by the graph.
func (n NodeID) String() string {
	return n.Project + "." + n.Dataset + "." + n.Table
}

// Ref returns the table reference of the node.
func (n NodeID) Ref() TableRef {
	return TableRef{Project: n.Project, Dataset: n.Dataset, Table: n.Table}
}

// Pair returns the (project, location) scope of the node.
func (n NodeID) Pair() Pair {
	return Pair{Project: n.Project, Location: n.Location}
}

// Compare orders node identities by their string form.
func (n NodeID) Compare(o NodeID) int {
	if c := strings.Compare(n.String(), o.String()); c != 0 {
		return c
	}
	return strings.Compare(n.Location, o.Location)
}
