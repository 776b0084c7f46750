// Package collector provides engine.Collector implementations. Snapshot
// reads raw catalog and job records persisted as NDJSON, optionally zstd
// compressed; Resilient wraps any collector with retries and a per-project
// circuit breaker.
package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/leapstack-labs/dfmigrate/internal/engine"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// Snapshot file names within a pair directory.
const (
	TablesFile = "tables.ndjson"
	JobsFile   = "jobs.ndjson"

	zstdExt = ".zst"
)

// ErrMalformed marks a record that could not be decoded.
var ErrMalformed = errors.New("malformed record")

// Snapshot reads <Root>/<project>/<location>/{tables,jobs}.ndjson. Either
// file may carry a .zst suffix. A missing pair directory is an error; a
// missing file inside it yields no records.
type Snapshot struct {
	Root string
}

var _ engine.Collector = (*Snapshot)(nil)

// PairDir returns the directory holding a pair's files under root.
func PairDir(root string, pair core.Pair) string {
	return filepath.Join(root, pair.Project, pair.Location)
}

// Collect implements engine.Collector. Jobs created before req.Since are
// dropped.
func (s *Snapshot) Collect(ctx context.Context, req engine.CollectRequest) (*core.RawSnapshot, error) {
	dir := PairDir(s.Root, req.Pair)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot for %s: %w", req.Pair, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("snapshot for %s: %s is not a directory", req.Pair, dir)
	}

	snap := &core.RawSnapshot{Pair: req.Pair}
	err = readNDJSON(ctx, filepath.Join(dir, TablesFile), func(dec *json.Decoder) error {
		var t core.RawTable
		if err := dec.Decode(&t); err != nil {
			return err
		}
		snap.Tables = append(snap.Tables, t)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readNDJSON(ctx, filepath.Join(dir, JobsFile), func(dec *json.Decoder) error {
		var j core.RawJob
		if err := dec.Decode(&j); err != nil {
			return err
		}
		if !req.Since.IsZero() && j.CreatedAt().Before(req.Since) {
			return nil
		}
		snap.Jobs = append(snap.Jobs, j)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// readNDJSON opens path, or path.zst when only the compressed form exists,
// and calls decode once per record.
func readNDJSON(ctx context.Context, path string, decode func(*json.Decoder) error) error {
	f, compressed, err := openEither(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if compressed {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("creating zstd decoder for %s: %w", f.Name(), err)
		}
		defer zr.Close()
		r = zr
	}

	dec := json.NewDecoder(r)
	for n := 1; dec.More(); n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := decode(dec); err != nil {
			return fmt.Errorf("%s: record %d: %w: %w", f.Name(), n, ErrMalformed, err)
		}
	}
	return nil
}

func openEither(path string) (*os.File, bool, error) {
	f, err := os.Open(path)
	if err == nil {
		return f, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	f, err = os.Open(path + zstdExt)
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// WriteSnapshot persists snap under root in the layout Snapshot reads.
// With compress set the files are zstd compressed.
func WriteSnapshot(root string, snap *core.RawSnapshot, compress bool) error {
	dir := PairDir(root, snap.Pair)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tables := make([]any, len(snap.Tables))
	for i := range snap.Tables {
		tables[i] = &snap.Tables[i]
	}
	if err := writeNDJSON(filepath.Join(dir, TablesFile), tables, compress); err != nil {
		return err
	}

	jobs := make([]any, len(snap.Jobs))
	for i := range snap.Jobs {
		jobs[i] = &snap.Jobs[i]
	}
	return writeNDJSON(filepath.Join(dir, JobsFile), jobs, compress)
}

func writeNDJSON(path string, records []any, compress bool) error {
	stale := path + zstdExt
	if compress {
		path, stale = stale, path
	}
	// a leftover file in the other encoding would shadow or duplicate this one
	if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", stale, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var zw *zstd.Encoder
	if compress {
		zw, err = zstd.NewWriter(bw)
		if err != nil {
			return fmt.Errorf("creating zstd encoder: %w", err)
		}
		w = zw
	}

	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			if zw != nil {
				zw.Close()
			}
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("closing encoder: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
