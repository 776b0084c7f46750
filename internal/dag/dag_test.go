package dag

import (
	"reflect"
	"testing"
)

func buildGraph(t *testing.T, nodes []string, edges [][2]string) *Graph {
	t.Helper()
	g := NewGraph()
	for _, n := range nodes {
		g.AddNode(n, nil)
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatalf("failed to add edge %v: %v", e, err)
		}
	}
	return g
}

func TestGraph_AddNodeAndEdge(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}})

	if g.NodeCount() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.NodeCount())
	}
	if g.EdgeCount() != 2 {
		t.Errorf("expected 2 edges, got %d", g.EdgeCount())
	}

	g.AddNode("a", "updated")
	if n, _ := g.GetNode("a"); n.Data != "updated" {
		t.Errorf("expected node data to be replaced, got %v", n.Data)
	}
	if g.NodeCount() != 3 {
		t.Errorf("re-adding a node changed the count to %d", g.NodeCount())
	}
}

func TestGraph_AddEdge_InvalidNodes(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)

	if err := g.AddEdge("a", "nonexistent"); err == nil {
		t.Error("expected error for nonexistent child node")
	}
	if err := g.AddEdge("nonexistent", "a"); err == nil {
		t.Error("expected error for nonexistent parent node")
	}
}

func TestGraph_AddEdge_SelfLoop(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)

	if err := g.AddEdge("a", "a"); err == nil {
		t.Error("expected error for self-loop")
	}
}

func TestGraph_DuplicateEdges(t *testing.T) {
	g := buildGraph(t, []string{"a", "b"}, [][2]string{{"a", "b"}, {"a", "b"}})

	if g.EdgeCount() != 1 {
		t.Errorf("expected duplicate edge to be ignored, got %d edges", g.EdgeCount())
	}
}

func TestGraph_ParentsAndChildrenSorted(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c", "z"},
		[][2]string{{"z", "b"}, {"a", "b"}, {"a", "z"}, {"a", "c"}})

	if got := g.GetParents("b"); !reflect.DeepEqual(got, []string{"a", "z"}) {
		t.Errorf("unexpected parents of b: %v", got)
	}
	if got := g.GetChildren("a"); !reflect.DeepEqual(got, []string{"b", "c", "z"}) {
		t.Errorf("unexpected children of a: %v", got)
	}

	want := [][2]string{{"a", "b"}, {"a", "c"}, {"a", "z"}, {"z", "b"}}
	if got := g.Edges(); !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected edges: %v", got)
	}
}

func TestGraph_FindCycles_NoCycle(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}})

	if cycles := g.FindCycles(); len(cycles) != 0 {
		t.Errorf("expected no cycles, got %v", cycles)
	}
	if has, _ := g.HasCycle(); has {
		t.Error("expected HasCycle to be false")
	}
}

func TestGraph_FindCycles_TwoNode(t *testing.T) {
	g := buildGraph(t, []string{"a", "b"}, [][2]string{{"a", "b"}, {"b", "a"}})

	cycles := g.FindCycles()
	if !reflect.DeepEqual(cycles, [][]string{{"a", "b"}}) {
		t.Errorf("unexpected cycles: %v", cycles)
	}
}

func TestGraph_FindCycles_Disjoint(t *testing.T) {
	g := buildGraph(t,
		[]string{"a", "b", "c", "x", "y", "z", "free"},
		[][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}, {"x", "y"}, {"y", "z"}, {"z", "y"}})

	cycles := g.FindCycles()
	want := [][]string{{"a", "b", "c"}, {"y", "z"}}
	if !reflect.DeepEqual(cycles, want) {
		t.Errorf("expected %v, got %v", want, cycles)
	}
}

func TestGraph_TopologicalSort_Diamond(t *testing.T) {
	//     a
	//    / \
	//   c   b
	//    \ /
	//     d
	g := buildGraph(t, []string{"d", "c", "b", "a"},
		[][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}})

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"a", "b", "c", "d"}; !reflect.DeepEqual(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestGraph_TopologicalSort_TieBreakByID(t *testing.T) {
	// z is ready from the start but sorts after b and m once they are released
	g := buildGraph(t, []string{"z", "a", "b", "m"}, [][2]string{{"a", "b"}, {"a", "m"}})

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"a", "b", "m", "z"}; !reflect.DeepEqual(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestGraph_TopologicalSort_WithCycle(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}, {"c", "b"}})

	if _, err := g.TopologicalSort(); err == nil {
		t.Error("expected error for cyclic graph")
	}
}

func TestGraph_GetExecutionLevels(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c", "d", "e"},
		[][2]string{{"a", "c"}, {"b", "c"}, {"c", "d"}, {"a", "d"}})

	levels, err := g.GetExecutionLevels()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]string{{"a", "b", "e"}, {"c"}, {"d"}}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("expected %v, got %v", want, levels)
	}
}

func TestGraph_GetRoots(t *testing.T) {
	g := buildGraph(t, []string{"c", "b", "a"}, [][2]string{{"a", "b"}})

	if got := g.GetRoots(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("unexpected roots: %v", got)
	}
}

func TestGraph_Empty(t *testing.T) {
	g := NewGraph()

	order, err := g.TopologicalSort()
	if err != nil || len(order) != 0 {
		t.Errorf("expected empty order, got %v, %v", order, err)
	}
	levels, err := g.GetExecutionLevels()
	if err != nil || len(levels) != 0 {
		t.Errorf("expected no levels, got %v, %v", levels, err)
	}
}
