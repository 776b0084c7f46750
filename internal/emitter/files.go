// Package emitter renders finished pair results as a Dataform repository:
// workflow settings, an actions.yaml in topological order, one SQL file per
// action and an append-only dedup decision log per destination table.
package emitter

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
	"lukechampine.com/blake3"

	"github.com/leapstack-labs/dfmigrate/internal/engine"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// Defaults for workflow_settings.yaml.
const (
	DefaultCoreVersion      = "3.0.8"
	DefaultDataset          = "dataform_staging"
	DefaultAssertionDataset = "dataform_assertions"
)

// Directory and file names inside a pair directory.
const (
	DefinitionsDir       = "definitions"
	LogsDir              = "logs"
	WorkflowSettingsFile = "workflow_settings.yaml"
	ActionsFileName      = "actions.yaml"
	CycleReport          = "cycle.json"
)

// Files writes pair results under <Root>/<project>/<location>/.
type Files struct {
	Root             string
	CoreVersion      string
	DefaultDataset   string
	AssertionDataset string
	Logger           *slog.Logger
}

var _ engine.Emitter = (*Files)(nil)

// NewFiles creates a Files emitter with the default settings.
func NewFiles(root string, logger *slog.Logger) *Files {
	return &Files{
		Root:             root,
		CoreVersion:      DefaultCoreVersion,
		DefaultDataset:   DefaultDataset,
		AssertionDataset: DefaultAssertionDataset,
		Logger:           logger,
	}
}

// PairDir returns the output directory of a pair.
func (f *Files) PairDir(pair core.Pair) string {
	return filepath.Join(f.Root, pair.Project, pair.Location)
}

// ChoicesLog returns the decision log name for a destination table.
func ChoicesLog(ref core.TableRef) string {
	return ref.Dataset + "_" + ref.Table + "_choices.ndjson"
}

// Choice is one line of a decision log.
type Choice struct {
	JobID                     string  `json:"job_id"`
	RepresentativeJobID       string  `json:"representative_job_id"`
	ClusterID                 string  `json:"cluster_id"`
	Destination               string  `json:"destination"`
	Score                     float64 `json:"score"`
	RepresentativeFingerprint string  `json:"representative_fingerprint,omitempty"`
}

// CycleFile is the diagnostic written instead of definitions for a cyclic
// graph.
type CycleFile struct {
	Pair  core.Pair   `json:"pair"`
	Nodes []string    `json:"nodes"`
	Edges [][2]string `json:"edges"`
	Cycle []string    `json:"cycle"`
}

type file struct {
	path   string
	data   []byte
	append bool
}

// Emit implements engine.Emitter. Valid graphs produce the full layout;
// cyclic graphs logs/cycle.json plus the decision logs. Every file is staged
// next to its target before the first rename, so a pair directory is never
// left half written. ctx is only checked before staging starts.
func (f *Files) Emit(ctx context.Context, res *core.PairResult) error {
	if res.Graph == nil {
		return &core.WriteError{Pair: res.Pair, Path: f.PairDir(res.Pair), Err: errors.New("no graph to emit")}
	}

	var (
		files []file
		err   error
	)
	if res.Graph.Cyclic() {
		files, err = f.renderCycle(res)
	} else {
		files, err = f.render(res)
	}
	if err != nil {
		return &core.WriteError{Pair: res.Pair, Path: f.PairDir(res.Pair), Err: err}
	}

	if err := ctx.Err(); err != nil {
		return &core.WriteError{Pair: res.Pair, Path: f.PairDir(res.Pair), Err: err}
	}

	staged := make([]string, 0, len(files))
	discard := func() {
		for _, tmp := range staged {
			_ = os.Remove(tmp)
		}
	}
	for _, fl := range files {
		tmp, err := stage(fl)
		if err != nil {
			discard()
			return &core.WriteError{Pair: res.Pair, Path: fl.path, Err: err}
		}
		staged = append(staged, tmp)
	}
	for i, fl := range files {
		if err := os.Rename(staged[i], fl.path); err != nil {
			discard()
			return &core.WriteError{Pair: res.Pair, Path: fl.path, Err: err}
		}
	}

	f.logger().Info("emitted pair",
		slog.String("pair", res.Pair.String()),
		slog.String("dir", f.PairDir(res.Pair)),
		slog.Int("files", len(files)),
		slog.Bool("cyclic", res.Graph.Cyclic()))
	return nil
}

func (f *Files) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.Logger
}

func (f *Files) render(res *core.PairResult) ([]file, error) {
	dir := f.PairDir(res.Pair)
	defs := filepath.Join(dir, DefinitionsDir)

	settings, err := marshalYAML(WorkflowSettings{
		DataformCoreVersion:     f.CoreVersion,
		DefaultProject:          res.Pair.Project,
		DefaultLocation:         res.Pair.Location,
		DefaultDataset:          f.DefaultDataset,
		DefaultAssertionDataset: f.AssertionDataset,
	})
	if err != nil {
		return nil, err
	}
	files := []file{{path: filepath.Join(dir, WorkflowSettingsFile), data: settings}}

	actions, err := BuildActions(res.Graph)
	if err != nil {
		return nil, err
	}
	data, err := marshalYAML(actions)
	if err != nil {
		return nil, err
	}
	files = append(files, file{path: filepath.Join(defs, ActionsFileName), data: data})

	fingerprints := make(map[core.TableRef]string)
	for _, id := range res.Graph.TopoOrder {
		n, _ := res.Graph.Node(id)
		if n.Kind == core.ActionDeclaration {
			continue
		}
		fingerprints[id.Ref()] = Fingerprint(n.SQL)
		files = append(files, file{
			path: filepath.Join(defs, filepath.FromSlash(SQLPath(id))),
			data: []byte(n.SQL + "\n"),
		})
	}

	logs, err := renderChoices(filepath.Join(dir, LogsDir), res.DedupLog, fingerprints)
	if err != nil {
		return nil, err
	}
	return append(files, logs...), nil
}

// renderChoices groups dedup entries by destination, one log per table.
func renderChoices(dir string, entries []core.DedupEntry, fingerprints map[core.TableRef]string) ([]file, error) {
	byDest := make(map[core.TableRef]*bytes.Buffer)
	var dests []core.TableRef
	for _, e := range entries {
		buf, ok := byDest[e.Destination]
		if !ok {
			buf = &bytes.Buffer{}
			byDest[e.Destination] = buf
			dests = append(dests, e.Destination)
		}
		line, err := json.Marshal(Choice{
			JobID:                     e.SubsumedJobID,
			RepresentativeJobID:       e.RepresentativeJobID,
			ClusterID:                 e.ClusterID,
			Destination:               e.Destination.String(),
			Score:                     e.Score,
			RepresentativeFingerprint: fingerprints[e.Destination],
		})
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	slices.SortFunc(dests, core.TableRef.Compare)
	files := make([]file, 0, len(dests))
	for _, d := range dests {
		files = append(files, file{path: filepath.Join(dir, ChoicesLog(d)), data: byDest[d].Bytes(), append: true})
	}
	return files, nil
}

func (f *Files) renderCycle(res *core.PairResult) ([]file, error) {
	g := res.Graph
	report := CycleFile{Pair: res.Pair, Nodes: []string{}, Edges: [][2]string{}, Cycle: []string{}}
	for _, n := range g.Nodes {
		report.Nodes = append(report.Nodes, n.ID.String())
	}
	for _, e := range g.Edges {
		report.Edges = append(report.Edges, [2]string{e.From.String(), e.To.String()})
	}
	for _, id := range g.Cycle {
		report.Cycle = append(report.Cycle, id.String())
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, err
	}
	logsDir := filepath.Join(f.PairDir(res.Pair), LogsDir)
	files := []file{{path: filepath.Join(logsDir, CycleReport), data: append(data, '\n')}}

	fingerprints := make(map[core.TableRef]string)
	for _, n := range g.Nodes {
		if n.Kind != core.ActionDeclaration {
			fingerprints[n.ID.Ref()] = Fingerprint(n.SQL)
		}
	}
	logs, err := renderChoices(logsDir, res.DedupLog, fingerprints)
	if err != nil {
		return nil, err
	}
	return append(files, logs...), nil
}

// Fingerprint is a short content hash of SQL text.
func Fingerprint(sql string) string {
	sum := blake3.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:16])
}

func marshalYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// stage writes the final content of fl to a temporary file in the target
// directory and returns its name. Append files carry the existing content.
func stage(fl file) (string, error) {
	dir := filepath.Dir(fl.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	data := fl.data
	if fl.append {
		existing, err := os.ReadFile(fl.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		data = append(existing, data...)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fl.path)+".tmp-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
