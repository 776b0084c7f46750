// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/leapstack-labs/dfmigrate/internal/cli/output"
	"github.com/leapstack-labs/dfmigrate/internal/collector"
	fixtures "github.com/leapstack-labs/dfmigrate/internal/testutil"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// SalesSnapshot returns a pair whose three jobs writing mart.sales differ
// only in literals, so they collapse into one action.
func SalesSnapshot(pair core.Pair) *core.RawSnapshot {
	orders := fixtures.Ref(pair.Project, "raw", "orders")
	sales := fixtures.Ref(pair.Project, "mart", "sales")
	sql := func(region string) string {
		return "SELECT region, SUM(amount) AS total FROM raw.orders WHERE region = '" + region + "' GROUP BY region"
	}
	now := time.Now().UTC()
	return fixtures.Snapshot(pair,
		[]core.RawTable{fixtures.Table(orders), fixtures.Table(sales, fixtures.ClusteredBy("region"))},
		[]core.RawJob{
			fixtures.Job("j1", sales, sql("north"), now.Add(-3*time.Hour), fixtures.Referencing(orders)),
			fixtures.Job("j2", sales, sql("south"), now.Add(-2*time.Hour), fixtures.Referencing(orders)),
			fixtures.Job("j3", sales, sql("west"), now.Add(-1*time.Hour), fixtures.Referencing(orders)),
		})
}

// CycleSnapshot returns a pair whose two tables read each other.
func CycleSnapshot(pair core.Pair) *core.RawSnapshot {
	a := fixtures.Ref(pair.Project, "ds", "a")
	b := fixtures.Ref(pair.Project, "ds", "b")
	now := time.Now().UTC()
	return fixtures.Snapshot(pair,
		[]core.RawTable{fixtures.Table(a), fixtures.Table(b)},
		[]core.RawJob{
			fixtures.Job("ja", a, "SELECT * FROM ds.b", now.Add(-time.Hour), fixtures.Referencing(b)),
			fixtures.Job("jb", b, "SELECT * FROM ds.a", now.Add(-time.Hour), fixtures.Referencing(a)),
		})
}

// SetupTestProject writes snapshots into a fresh input directory and
// returns its path.
func SetupTestProject(t *testing.T, snaps ...*core.RawSnapshot) string {
	t.Helper()

	dir := t.TempDir()
	for _, snap := range snaps {
		if err := collector.WriteSnapshot(dir, snap, false); err != nil {
			t.Fatalf("failed to write snapshot %s: %v", snap.Pair, err)
		}
	}
	return dir
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a renderer whose output is captured in buffers.
func NewTestRenderer(mode output.Mode) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRenderer(out, errOut, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// Output returns the captured stdout.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertContains checks that the string contains the expected substring.
func AssertContains(t *testing.T, s, expected string) {
	t.Helper()
	if !strings.Contains(s, expected) {
		t.Errorf("string %q does not contain expected %q", s, expected)
	}
}
