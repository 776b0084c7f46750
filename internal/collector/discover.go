package collector

import (
	"fmt"
	"os"
	"path"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// Discover lists the pairs that have a snapshot under root. Pairs are
// matched as "<project>/<location>" against the optional glob patterns
// (for example "analytics-*/US"); with no patterns every pair is returned.
// The result is sorted and free of duplicates.
func Discover(root string, patterns ...string) ([]core.Pair, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pair pattern %q", p)
		}
	}

	matches, err := doublestar.Glob(os.DirFS(root), "*/*/*.ndjson*")
	if err != nil {
		return nil, fmt.Errorf("discover pairs in %s: %w", root, err)
	}

	var pairs []core.Pair
	for _, m := range matches {
		if !snapshotFiles[path.Base(m)] {
			continue
		}
		dir := path.Dir(m)
		if !matchAny(patterns, dir) {
			continue
		}
		pairs = append(pairs, core.Pair{Project: path.Dir(dir), Location: path.Base(dir)})
	}

	slices.SortFunc(pairs, func(a, b core.Pair) int { return a.Compare(b) })
	return slices.Compact(pairs), nil
}

var snapshotFiles = map[string]bool{
	TablesFile:           true,
	JobsFile:             true,
	TablesFile + zstdExt: true,
	JobsFile + zstdExt:   true,
}

func matchAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
