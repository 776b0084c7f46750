package similarity

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// Selection is the outcome of canonical selection.
type Selection struct {
	// Clusters ordered by destination, then most recent representative
	// first, with ids <destination>#<n> assigned in that order.
	Clusters []*core.SimilarityCluster
	// DedupLog has one entry per non-representative member, ordered by
	// destination, cluster and subsumed job id.
	DedupLog []core.DedupEntry
}

// Select picks the representative of each cluster: the member with the
// most recent timestamp, ties broken by the lexicographically smallest
// job id. records must contain every member.
func Select(clusters []*core.SimilarityCluster, records []*core.QueryRecord) (*Selection, error) {
	byID := make(map[string]*core.QueryRecord, len(records))
	for _, r := range records {
		byID[r.JobID] = r
	}

	for _, c := range clusters {
		var best *core.QueryRecord
		for _, id := range c.Members {
			r, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("cluster member %s has no query record", id)
			}
			if best == nil || r.Newer(best) {
				best = r
			}
		}
		if best == nil {
			return nil, fmt.Errorf("empty cluster for %s", c.Destination)
		}
		c.Representative = best.JobID
	}

	ordered := slices.Clone(clusters)
	slices.SortStableFunc(ordered, func(a, b *core.SimilarityCluster) int {
		if c := a.Destination.Compare(b.Destination); c != 0 {
			return c
		}
		ra, rb := byID[a.Representative], byID[b.Representative]
		switch {
		case ra.Newer(rb):
			return -1
		case rb.Newer(ra):
			return 1
		}
		return strings.Compare(ra.JobID, rb.JobID)
	})

	sel := &Selection{Clusters: ordered}
	n := 0
	for i, c := range ordered {
		if i == 0 || c.Destination != ordered[i-1].Destination {
			n = 0
		}
		n++
		c.ID = fmt.Sprintf("%s#%d", c.Destination, n)

		for _, id := range c.Members {
			if id == c.Representative {
				continue
			}
			score, _ := c.Score(id, c.Representative)
			sel.DedupLog = append(sel.DedupLog, core.DedupEntry{
				Destination:         c.Destination,
				ClusterID:           c.ID,
				SubsumedJobID:       id,
				RepresentativeJobID: c.Representative,
				Score:               score,
			})
		}
	}
	return sel, nil
}
