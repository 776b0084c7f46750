// Package similarity clusters the queries that wrote the same destination
// table and selects one canonical query per cluster.
package similarity

import (
	"slices"
	"strings"

	"github.com/leapstack-labs/dfmigrate/pkg/core"
	"github.com/leapstack-labs/dfmigrate/pkg/sqltext"
)

// Scorer compares the token shapes of two normalized queries and returns
// a score in [0,1], where 1 means identical.
type Scorer func(a, b []string) float64

// Jaccard is the token-set Jaccard index |A∩B| / |A∪B|.
// Two empty shapes are identical.
func Jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, tok := range a {
		setA[tok] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, tok := range b {
		setB[tok] = struct{}{}
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}

	inter := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

// Index groups queries per destination by single-link clustering over
// the "score >= threshold" relation.
type Index struct {
	threshold float64
	scorer    Scorer
}

// NewIndex creates an Index. A nil scorer selects Jaccard.
func NewIndex(threshold float64, scorer Scorer) *Index {
	if scorer == nil {
		scorer = Jaccard
	}
	return &Index{threshold: threshold, scorer: scorer}
}

// Build clusters the SUCCESS records. Records of different destinations are
// never compared. Within a destination every SUCCESS record ends up in
// exactly one cluster. Clusters are returned ordered by destination, then
// by their smallest member; Select assigns ids and representatives.
func (ix *Index) Build(records []*core.QueryRecord) []*core.SimilarityCluster {
	groups := make(map[core.TableRef][]*core.QueryRecord)
	for _, r := range records {
		if r.Status != core.QuerySuccess {
			continue
		}
		groups[r.Destination] = append(groups[r.Destination], r)
	}

	dests := make([]core.TableRef, 0, len(groups))
	for d := range groups {
		dests = append(dests, d)
	}
	slices.SortFunc(dests, core.TableRef.Compare)

	var out []*core.SimilarityCluster
	for _, d := range dests {
		out = append(out, ix.cluster(d, groups[d])...)
	}
	return out
}

func (ix *Index) cluster(dest core.TableRef, group []*core.QueryRecord) []*core.SimilarityCluster {
	slices.SortFunc(group, func(a, b *core.QueryRecord) int { return strings.Compare(a.JobID, b.JobID) })

	shapes := make([][]string, len(group))
	for i, r := range group {
		shapes[i] = sqltext.Shape(r.NormalizedSQL)
	}

	uf := newUnionFind(len(group))
	scores := make([][]float64, len(group))
	for i := range group {
		scores[i] = make([]float64, len(group))
		for j := 0; j < i; j++ {
			s := ix.scorer(shapes[j], shapes[i])
			scores[i][j], scores[j][i] = s, s
			if s >= ix.threshold {
				uf.union(i, j)
			}
		}
	}

	byRoot := make(map[int][]int)
	var roots []int
	for i := range group {
		root := uf.find(i)
		if _, ok := byRoot[root]; !ok {
			roots = append(roots, root)
		}
		byRoot[root] = append(byRoot[root], i)
	}

	// roots are discovered in job id order, so clusters come out ordered
	// by their smallest member
	clusters := make([]*core.SimilarityCluster, 0, len(roots))
	for _, root := range roots {
		idx := byRoot[root]
		c := &core.SimilarityCluster{Destination: dest, Members: make([]string, len(idx))}
		for k, i := range idx {
			c.Members[k] = group[i].JobID
			for _, j := range idx[:k] {
				c.PairwiseScores = append(c.PairwiseScores, core.PairScore{
					A: group[j].JobID, B: group[i].JobID, Score: scores[i][j],
				})
			}
		}
		clusters = append(clusters, c)
	}
	return clusters
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	switch {
	case ra == rb:
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}
