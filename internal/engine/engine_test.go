package engine

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/leapstack-labs/dfmigrate/internal/testutil"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

var (
	usPair = core.Pair{Project: "shop", Location: "US"}
	euPair = core.Pair{Project: "shop", Location: "EU"}
)

type fakeCollector struct {
	snaps   map[core.Pair]*core.RawSnapshot
	errs    map[core.Pair]error
	blocked map[core.Pair]bool
	hold    chan struct{}
	delay   time.Duration
	onCall  func(core.Pair)

	mu       sync.Mutex
	calls    []core.Pair
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeCollector) Collect(ctx context.Context, req CollectRequest) (*core.RawSnapshot, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Pair)
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.onCall != nil {
		f.onCall(req.Pair)
	}
	if f.blocked[req.Pair] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.hold != nil {
		<-f.hold
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.errs[req.Pair]; err != nil {
		return nil, err
	}
	snap, ok := f.snaps[req.Pair]
	if !ok {
		return nil, os.ErrNotExist
	}
	return snap, nil
}

func (f *fakeCollector) called() []core.Pair {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Pair(nil), f.calls...)
}

type fakeEmitter struct {
	fail map[core.Pair]error

	mu      sync.Mutex
	emitted []core.Pair
}

func (f *fakeEmitter) Emit(_ context.Context, res *core.PairResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[res.Pair]; err != nil {
		return err
	}
	f.emitted = append(f.emitted, res.Pair)
	return nil
}

type fakeRecorder struct {
	started   int
	recorded  []*core.PairResult
	completed core.RunStatus
	runErr    error
}

func (f *fakeRecorder) StartRun(_ context.Context, _ core.EngineConfig, _ int) (string, error) {
	f.started++
	return "run-1", nil
}

func (f *fakeRecorder) RecordPair(_ context.Context, runID string, res *core.PairResult) error {
	if runID != "run-1" {
		return errors.New("unknown run")
	}
	f.recorded = append(f.recorded, res)
	return nil
}

func (f *fakeRecorder) CompleteRun(_ context.Context, _ string, status core.RunStatus, runErr error) error {
	f.completed = status
	f.runErr = runErr
	return nil
}

func salesSnapshot(pair core.Pair) *core.RawSnapshot {
	orders := testutil.Ref(pair.Project, "raw", "orders")
	sales := testutil.Ref(pair.Project, "mart", "sales")
	sql := func(region string) string {
		return "SELECT region, SUM(amount) AS total FROM raw.orders WHERE region = '" + region + "' GROUP BY region"
	}
	return testutil.Snapshot(pair,
		[]core.RawTable{testutil.Table(orders), testutil.Table(sales)},
		[]core.RawJob{
			testutil.Job("j1", sales, sql("north"), testutil.At(-3*time.Hour), testutil.Referencing(orders)),
			testutil.Job("j2", sales, sql("south"), testutil.At(-2*time.Hour), testutil.Referencing(orders)),
			testutil.Job("j3", sales, sql("west"), testutil.At(-1*time.Hour), testutil.Referencing(orders)),
		})
}

func cycleSnapshot(pair core.Pair) *core.RawSnapshot {
	a := testutil.Ref(pair.Project, "ds", "a")
	b := testutil.Ref(pair.Project, "ds", "b")
	return testutil.Snapshot(pair,
		[]core.RawTable{testutil.Table(a), testutil.Table(b)},
		[]core.RawJob{
			testutil.Job("ja", a, "SELECT * FROM ds.b", testutil.At(-time.Hour), testutil.Referencing(b)),
			testutil.Job("jb", b, "SELECT * FROM ds.a", testutil.At(-time.Hour), testutil.Referencing(a)),
		})
}

func testConfig() core.EngineConfig {
	cfg := core.DefaultEngineConfig()
	cfg.CollectTimeout = time.Second
	return cfg
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Engine == (core.EngineConfig{}) {
		cfg.Engine = testConfig()
	}
	cfg.Logger = testutil.NewTestLogger(t)
	cfg.Now = func() time.Time { return testutil.Epoch }
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Engine: testConfig()})
	require.Error(t, err)

	bad := testConfig()
	bad.Concurrency = 0
	_, err = New(Config{Engine: bad, Collector: &fakeCollector{}})
	require.Error(t, err)

	e, err := New(Config{Engine: testConfig(), Collector: &fakeCollector{}})
	require.NoError(t, err)
	assert.NotNil(t, e.logger)
}

func TestAnalyze_SalesDeduplication(t *testing.T) {
	res := Analyze(context.Background(), testConfig(), usPair, salesSnapshot(usPair), testutil.NewTestLogger(t))

	require.Equal(t, core.StateGraphValid, res.State)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 3, res.Queries)
	assert.Equal(t, 2, res.Tables)

	require.Len(t, res.Clusters, 1)
	c := res.Clusters[0]
	assert.Equal(t, "j3", c.Representative)
	assert.Equal(t, []string{"j1", "j2", "j3"}, c.Members)

	require.Len(t, res.DedupLog, 2)
	for _, d := range res.DedupLog {
		assert.Equal(t, "j3", d.RepresentativeJobID)
		assert.InDelta(t, 1.0, d.Score, 1e-9)
	}

	sales, ok := res.Graph.Node(usPair.Node("mart", "sales"))
	require.True(t, ok)
	assert.Equal(t, 2, sales.Provenance.DedupCount)
	assert.Contains(t, sales.SQL, "'west'")
	assert.Equal(t, []string{"shop.raw.orders", "shop.mart.sales"},
		[]string{res.Graph.TopoOrder[0].String(), res.Graph.TopoOrder[1].String()})
}

func TestAnalyze_Cycle(t *testing.T) {
	res := Analyze(context.Background(), testConfig(), usPair, cycleSnapshot(usPair), nil)

	require.Equal(t, core.StateGraphCyclic, res.State)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, core.ErrKindCycle, res.Errors[0].Kind)
	assert.Equal(t, core.StageGraph, res.Errors[0].Stage)
	assert.Contains(t, res.Errors[0].Detail, "shop.ds.a, shop.ds.b")
	assert.True(t, res.Failed())
	assert.False(t, res.Succeeded())
}

func TestAnalyze_NormalizationErrorsDoNotFailPair(t *testing.T) {
	snap := salesSnapshot(usPair)
	snap.Jobs = append(snap.Jobs, testutil.Job("bad", testutil.Ref("shop", "mart", "x"), "", testutil.At(0)))

	res := Analyze(context.Background(), testConfig(), usPair, snap, nil)

	assert.Equal(t, core.StateGraphValid, res.State)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, core.ErrKindNormalization, res.Errors[0].Kind)
	assert.True(t, res.Succeeded())
}

func TestAnalyze_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Analyze(ctx, testConfig(), usPair, salesSnapshot(usPair), nil)
	assert.Equal(t, core.StateCancelled, res.State)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, core.ErrKindCancelled, res.Errors[0].Kind)
	assert.Nil(t, res.Graph)
}

func TestRun_CycleContainedToItsPair(t *testing.T) {
	defer goleak.VerifyNone(t)

	col := &fakeCollector{snaps: map[core.Pair]*core.RawSnapshot{
		usPair: cycleSnapshot(usPair),
		euPair: salesSnapshot(euPair),
	}}
	em := &fakeEmitter{}
	rec := &fakeRecorder{}
	e := newEngine(t, Config{Collector: col, Emitter: em, Recorder: rec})

	rr, err := e.Run(context.Background(), []core.Pair{usPair, euPair})
	require.NoError(t, err)

	assert.Equal(t, "run-1", rr.ID)
	require.Len(t, rr.Pairs, 2)
	assert.Equal(t, usPair, rr.Pairs[0].Pair)
	assert.Equal(t, core.StateGraphCyclic, rr.Pairs[0].State)
	assert.Equal(t, euPair, rr.Pairs[1].Pair)
	assert.Equal(t, core.StateGraphValid, rr.Pairs[1].State)
	assert.Equal(t, core.RunStatusPartial, rr.Status())
	assert.Equal(t, 1, rr.Succeeded())

	assert.ElementsMatch(t, []core.Pair{usPair, euPair}, em.emitted)

	assert.Equal(t, 1, rec.started)
	assert.Len(t, rec.recorded, 2)
	assert.Equal(t, core.RunStatusPartial, rec.completed)
	assert.NoError(t, rec.runErr)
}

func TestRun_AllSucceeded(t *testing.T) {
	defer goleak.VerifyNone(t)

	col := &fakeCollector{snaps: map[core.Pair]*core.RawSnapshot{
		usPair: salesSnapshot(usPair),
		euPair: salesSnapshot(euPair),
	}}
	e := newEngine(t, Config{Collector: col})

	rr, err := e.Run(context.Background(), []core.Pair{usPair, euPair})
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusAllSucceeded, rr.Status())
	assert.Empty(t, rr.ID)
}

func TestRun_CollectionFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	col := &fakeCollector{
		snaps: map[core.Pair]*core.RawSnapshot{euPair: salesSnapshot(euPair)},
		errs:  map[core.Pair]error{usPair: errors.New("permission denied")},
	}
	em := &fakeEmitter{}
	e := newEngine(t, Config{Collector: col, Emitter: em})

	rr, err := e.Run(context.Background(), []core.Pair{usPair, euPair})
	require.NoError(t, err)

	us := rr.Pairs[0]
	assert.Equal(t, core.StateFailed, us.State)
	require.Len(t, us.Errors, 1)
	assert.Equal(t, core.ErrKindCollection, us.Errors[0].Kind)
	assert.Equal(t, core.StageCollect, us.Errors[0].Stage)
	assert.Contains(t, us.Errors[0].Detail, "permission denied")
	assert.Nil(t, us.Graph)

	assert.Equal(t, []core.Pair{euPair}, em.emitted)
	assert.Equal(t, core.RunStatusPartial, rr.Status())
}

func TestRun_CollectTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.CollectTimeout = 20 * time.Millisecond
	col := &fakeCollector{blocked: map[core.Pair]bool{usPair: true}}
	e := newEngine(t, Config{Engine: cfg, Collector: col})

	rr, err := e.Run(context.Background(), []core.Pair{usPair})
	require.NoError(t, err)

	res := rr.Pairs[0]
	assert.Equal(t, core.StateFailed, res.State)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, core.ErrKindCollection, res.Errors[0].Kind)
	assert.Contains(t, res.Errors[0].Detail, "timed out")
	assert.Equal(t, core.RunStatusAllFailed, rr.Status())
}

func TestRun_CollectTimeoutIgnoredContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.CollectTimeout = 20 * time.Millisecond
	hold := make(chan struct{})
	defer close(hold)
	col := &fakeCollector{
		snaps: map[core.Pair]*core.RawSnapshot{usPair: salesSnapshot(usPair)},
		hold:  hold,
	}
	e := newEngine(t, Config{Engine: cfg, Collector: col})

	done := make(chan *RunResult, 1)
	go func() {
		rr, _ := e.Run(context.Background(), []core.Pair{usPair})
		done <- rr
	}()

	var rr *RunResult
	select {
	case rr = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop at the collect timeout")
	}
	res := rr.Pairs[0]
	assert.Equal(t, core.StateFailed, res.State)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, core.ErrKindCollection, res.Errors[0].Kind)
	assert.Contains(t, res.Errors[0].Detail, "timed out")
	assert.Nil(t, res.Graph)
}

func TestRun_EmitFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	col := &fakeCollector{snaps: map[core.Pair]*core.RawSnapshot{usPair: salesSnapshot(usPair)}}
	werr := &core.WriteError{Pair: usPair, Path: "out/actions.yaml", Err: os.ErrPermission}
	em := &fakeEmitter{fail: map[core.Pair]error{usPair: werr}}
	e := newEngine(t, Config{Collector: col, Emitter: em})

	rr, err := e.Run(context.Background(), []core.Pair{usPair})
	require.NoError(t, err)

	res := rr.Pairs[0]
	assert.Equal(t, core.StateGraphValid, res.State)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, core.ErrKindWrite, res.Errors[0].Kind)
	assert.Equal(t, core.StageEmit, res.Errors[0].Stage)
	assert.False(t, res.Succeeded())
	assert.Equal(t, core.RunStatusAllFailed, rr.Status())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	col := &fakeCollector{}
	em := &fakeEmitter{}
	rec := &fakeRecorder{}
	e := newEngine(t, Config{Collector: col, Emitter: em, Recorder: rec})

	rr, err := e.Run(ctx, []core.Pair{usPair, euPair})
	require.NoError(t, err)

	for _, res := range rr.Pairs {
		assert.Equal(t, core.StateCancelled, res.State)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, core.ErrKindCancelled, res.Errors[0].Kind)
	}
	assert.Empty(t, col.called())
	assert.Empty(t, em.emitted)
	assert.Equal(t, core.RunStatusAllFailed, rec.completed)
	assert.ErrorIs(t, rec.runErr, context.Canceled)
}

func TestRun_CancelledMidRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.Concurrency = 1
	col := &fakeCollector{
		snaps: map[core.Pair]*core.RawSnapshot{
			usPair: salesSnapshot(usPair),
			euPair: salesSnapshot(euPair),
		},
		onCall: func(core.Pair) { cancel() },
	}
	em := &fakeEmitter{}
	e := newEngine(t, Config{Engine: cfg, Collector: col, Emitter: em})

	rr, err := e.Run(ctx, []core.Pair{usPair, euPair})
	require.NoError(t, err)

	assert.Equal(t, []core.Pair{usPair}, col.called())
	for _, res := range rr.Pairs {
		assert.Equal(t, core.StateCancelled, res.State, res.Pair.String())
	}
	assert.Empty(t, em.emitted, "no partial output after cancellation")
}

func TestRun_ConcurrencyLimit(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Concurrency = 2
	col := &fakeCollector{snaps: map[core.Pair]*core.RawSnapshot{}, delay: 10 * time.Millisecond}
	var pairs []core.Pair
	for _, loc := range []string{"US", "EU", "asia-east1", "us-central1", "europe-west2", "US-2"} {
		p := core.Pair{Project: "shop", Location: loc}
		col.snaps[p] = salesSnapshot(p)
		pairs = append(pairs, p)
	}
	e := newEngine(t, Config{Engine: cfg, Collector: col})

	rr, err := e.Run(context.Background(), pairs)
	require.NoError(t, err)

	assert.LessOrEqual(t, col.peak.Load(), int32(2))
	for i, res := range rr.Pairs {
		assert.Equal(t, pairs[i], res.Pair)
		assert.Equal(t, core.StateGraphValid, res.State)
	}
}

func TestRun_Deterministic(t *testing.T) {
	defer goleak.VerifyNone(t)

	run := func() *RunResult {
		col := &fakeCollector{snaps: map[core.Pair]*core.RawSnapshot{
			usPair: salesSnapshot(usPair),
			euPair: cycleSnapshot(euPair),
		}}
		rr, err := newEngine(t, Config{Collector: col}).Run(context.Background(), []core.Pair{usPair, euPair})
		require.NoError(t, err)
		return rr
	}

	first, second := run(), run()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}
}
