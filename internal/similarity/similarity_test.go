package similarity

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/dfmigrate/internal/testutil"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
	"github.com/leapstack-labs/dfmigrate/pkg/sqltext"
)

var (
	sales  = core.TableRef{Project: "p", Dataset: "ds", Table: "sales"}
	orders = core.TableRef{Project: "p", Dataset: "ds", Table: "orders"}
)

func rec(id string, dest core.TableRef, sql string, at time.Duration) *core.QueryRecord {
	return &core.QueryRecord{
		JobID:         id,
		Timestamp:     testutil.At(at),
		RawSQL:        sql,
		NormalizedSQL: sqltext.Normalize(sql),
		Destination:   dest,
		Status:        core.QuerySuccess,
	}
}

func members(clusters []*core.SimilarityCluster) [][]string {
	out := make([][]string, len(clusters))
	for i, c := range clusters {
		out[i] = c.Members
	}
	return out
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{name: "identical", a: []string{"select", "a"}, b: []string{"a", "select"}, want: 1},
		{name: "both empty", a: nil, b: nil, want: 1},
		{name: "one empty", a: []string{"a"}, b: nil, want: 0},
		{name: "disjoint", a: []string{"a"}, b: []string{"b"}, want: 0},
		{name: "three of five", a: []string{"a", "b", "c", "d"}, b: []string{"a", "b", "c", "e"}, want: 0.6},
		{name: "duplicates ignored", a: []string{"a", "a", "b"}, b: []string{"a", "b", "b"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Jaccard(tt.a, tt.b))
			assert.Equal(t, tt.want, Jaccard(tt.b, tt.a))
		})
	}
}

func TestSalesScenario(t *testing.T) {
	q1 := rec("q1", sales, "SELECT region, SUM(amount) FROM ds.orders GROUP BY region", 0)
	q2 := rec("q2", sales, "SELECT sku, COUNT(*) AS n FROM ds.returns WHERE reason IS NOT NULL GROUP BY sku", time.Hour)
	q3 := rec("q3", sales, "select region,\n  SUM(amount)\nfrom ds.orders group by region;", 2*time.Hour)
	records := []*core.QueryRecord{q1, q2, q3}

	clusters := NewIndex(0.9, nil).Build(records)
	sel, err := Select(clusters, records)
	require.NoError(t, err)

	require.Len(t, sel.Clusters, 2)
	assert.Equal(t, []string{"q1", "q3"}, sel.Clusters[0].Members)
	assert.Equal(t, "q3", sel.Clusters[0].Representative)
	assert.Equal(t, "p.ds.sales#1", sel.Clusters[0].ID)
	assert.Equal(t, []string{"q2"}, sel.Clusters[1].Members)
	assert.Equal(t, "q2", sel.Clusters[1].Representative)
	assert.Equal(t, "p.ds.sales#2", sel.Clusters[1].ID)

	assert.Equal(t, []core.DedupEntry{{
		Destination:         sales,
		ClusterID:           "p.ds.sales#1",
		SubsumedJobID:       "q1",
		RepresentativeJobID: "q3",
		Score:               1.0,
	}}, sel.DedupLog)
}

func TestThresholdBoundary(t *testing.T) {
	// shapes {select,a,b,c} and {select,a,b,d} score exactly 3/5
	records := []*core.QueryRecord{
		rec("j1", sales, "SELECT a, b, c", 0),
		rec("j2", sales, "SELECT a, b, d", time.Minute),
	}

	joined := NewIndex(0.6, nil).Build(records)
	assert.Equal(t, [][]string{{"j1", "j2"}}, members(joined))
	score, ok := joined[0].Score("j1", "j2")
	require.True(t, ok)
	assert.Equal(t, 0.6, score)

	split := NewIndex(math.Nextafter(0.6, 1), nil).Build(records)
	assert.Equal(t, [][]string{{"j1"}, {"j2"}}, members(split))
}

func TestSingleLinkChain(t *testing.T) {
	// a~b and b~c at 0.6, a~c well below: single link joins all three
	records := []*core.QueryRecord{
		rec("a", sales, "SELECT a, b, c", 0),
		rec("b", sales, "SELECT a, b, d", time.Minute),
		rec("c", sales, "SELECT a, e, d", 2*time.Minute),
	}
	clusters := NewIndex(0.6, nil).Build(records)
	assert.Equal(t, [][]string{{"a", "b", "c"}}, members(clusters))
	assert.Len(t, clusters[0].PairwiseScores, 3)

	sel, err := Select(clusters, records)
	require.NoError(t, err)
	assert.Equal(t, "c", sel.Clusters[0].Representative)
	require.Len(t, sel.DedupLog, 2)
	assert.Equal(t, "a", sel.DedupLog[0].SubsumedJobID)
	assert.InDelta(t, 2.0/6.0, sel.DedupLog[0].Score, 1e-12)
	assert.Equal(t, "b", sel.DedupLog[1].SubsumedJobID)
	assert.Equal(t, 0.6, sel.DedupLog[1].Score)
}

func TestPartitionInvariant(t *testing.T) {
	failed := rec("f1", sales, "SELECT 1", 0)
	failed.Status = core.QueryFailed
	records := []*core.QueryRecord{
		rec("s1", sales, "SELECT x FROM a", 0),
		rec("s2", sales, "SELECT y, z FROM b JOIN c USING (k)", time.Minute),
		rec("s3", sales, "SELECT x FROM a WHERE d = 1", 2*time.Minute),
		rec("o1", orders, "SELECT x FROM a", 0),
		failed,
	}

	clusters := NewIndex(0.5, nil).Build(records)

	seen := make(map[string]int)
	for _, c := range clusters {
		require.NotEmpty(t, c.Members)
		for _, m := range c.Members {
			seen[m]++
		}
	}
	assert.Equal(t, map[string]int{"s1": 1, "s2": 1, "s3": 1, "o1": 1}, seen)
}

func TestNoCrossDestinationComparison(t *testing.T) {
	always := func(a, b []string) float64 { return 1 }
	records := []*core.QueryRecord{
		rec("s1", sales, "SELECT 1", 0),
		rec("o1", orders, "SELECT 1", 0),
		rec("s2", sales, "SELECT totally different", 0),
	}

	clusters := NewIndex(0.9, always).Build(records)
	require.Len(t, clusters, 2)
	assert.Equal(t, orders, clusters[0].Destination)
	assert.Equal(t, []string{"o1"}, clusters[0].Members)
	assert.Equal(t, sales, clusters[1].Destination)
	assert.Equal(t, []string{"s1", "s2"}, clusters[1].Members)
}

func TestSelect_TieBreakSmallestJobID(t *testing.T) {
	records := []*core.QueryRecord{
		rec("job_b", sales, "SELECT 1", 0),
		rec("job_a", sales, "SELECT 2", 0),
		rec("job_c", sales, "SELECT 3", 0),
	}
	clusters := NewIndex(0.9, nil).Build(records)
	sel, err := Select(clusters, records)
	require.NoError(t, err)
	require.Len(t, sel.Clusters, 1)
	assert.Equal(t, "job_a", sel.Clusters[0].Representative)
}

func TestSelect_OrdersClustersByRecency(t *testing.T) {
	records := []*core.QueryRecord{
		rec("old", sales, "SELECT a FROM x", 0),
		rec("new", sales, "SELECT b, c, d FROM y JOIN z ON k", time.Hour),
	}
	clusters := NewIndex(0.9, nil).Build(records)
	sel, err := Select(clusters, records)
	require.NoError(t, err)
	require.Len(t, sel.Clusters, 2)
	assert.Equal(t, "new", sel.Clusters[0].Representative)
	assert.Equal(t, "p.ds.sales#1", sel.Clusters[0].ID)
	assert.Equal(t, "old", sel.Clusters[1].Representative)
	assert.Empty(t, sel.DedupLog)
}

func TestSelect_MissingRecord(t *testing.T) {
	clusters := []*core.SimilarityCluster{{Destination: sales, Members: []string{"ghost"}}}
	_, err := Select(clusters, nil)
	assert.Error(t, err)
}

func TestDeterminism(t *testing.T) {
	build := func(seed int64) *Selection {
		records := []*core.QueryRecord{
			rec("q1", sales, "SELECT a, b FROM t WHERE d = '2024-01-01'", 0),
			rec("q2", sales, "SELECT a, b FROM t WHERE d = '2024-01-02'", time.Hour),
			rec("q3", sales, "SELECT c FROM u", time.Hour),
			rec("q4", orders, "SELECT * FROM raw", 0),
			rec("q5", orders, "select * from raw;", 0),
		}
		r := rand.New(rand.NewSource(seed))
		r.Shuffle(len(records), func(i, j int) { records[i], records[j] = records[j], records[i] })
		sel, err := Select(NewIndex(0.9, nil).Build(records), records)
		require.NoError(t, err)
		return sel
	}

	want := build(1)
	for seed := int64(2); seed < 10; seed++ {
		if diff := cmp.Diff(want, build(seed)); diff != "" {
			t.Fatalf("selection differs for seed %d (-want +got):\n%s", seed, diff)
		}
	}
}
