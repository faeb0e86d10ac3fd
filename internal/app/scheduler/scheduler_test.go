package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentgraph/internal/domain/graph"
	sharederrors "agentgraph/internal/shared/errors"
	"agentgraph/internal/infra/snapshot"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, registry graph.Registry) (*Scheduler, *Metrics) {
	t.Helper()
	metrics := MustNewMetrics(prometheus.NewRegistry())
	return New(Config{Resolver: registry, Metrics: metrics, Jitter: func(time.Duration) time.Duration { return 0 }}), metrics
}

func echo() graph.Executor {
	return graph.ExecutorFunc(func(_ context.Context, in graph.ExecutionInput) graph.ExecutionOutput {
		return graph.Succeed(in.Node.ID)
	})
}

func sleeper(d time.Duration) graph.Executor {
	return graph.ExecutorFunc(func(ctx context.Context, in graph.ExecutionInput) graph.ExecutionOutput {
		select {
		case <-time.After(d):
			return graph.Succeed(in.Node.ID)
		case <-ctx.Done():
			return graph.Fail(sharederrors.CodeCanceled, ctx.Err().Error())
		}
	})
}

type counter struct {
	calls atomic.Int32
	exec  graph.Executor
}

func (c *counter) Execute(ctx context.Context, in graph.ExecutionInput) graph.ExecutionOutput {
	c.calls.Add(1)
	return c.exec.Execute(ctx, in)
}

// failThen fails the first n attempts with code, then succeeds.
func failThen(n int, code string) graph.Executor {
	return graph.ExecutorFunc(func(_ context.Context, in graph.ExecutionInput) graph.ExecutionOutput {
		if in.Attempt <= n {
			return graph.Fail(code, "attempt failed")
		}
		return graph.Succeed("ok")
	})
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func chain(ids ...string) *graph.TaskGraph {
	g := &graph.TaskGraph{ID: "chain"}
	for i, id := range ids {
		node := graph.TaskGraphNode{ID: id, Agent: "work"}
		if i > 0 {
			node.DependsOn = []string{ids[i-1]}
		}
		g.Nodes = append(g.Nodes, node)
	}
	return g
}

func TestRunParallelismIsReal(t *testing.T) {
	s, _ := newTestScheduler(t, graph.Registry{"slow": sleeper(100 * time.Millisecond)})
	g := &graph.TaskGraph{ID: "fan-in", Nodes: []graph.TaskGraphNode{
		{ID: "left", Agent: "slow"},
		{ID: "right", Agent: "slow"},
		{ID: "join", Agent: "slow", DependsOn: []string{"left", "right"}},
	}}

	start := time.Now()
	result, err := s.Run(context.Background(), g, graph.ExecutionContext{TaskID: "t"}, Options{MaxParallel: 2})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, graph.StatusSucceeded, result.Status)
	assert.Less(t, elapsed, 280*time.Millisecond, "independent nodes should overlap")
	assert.Equal(t, "join", result.ExecutionOrder[2])
}

func TestRunFreedSlotAdmitsNextNode(t *testing.T) {
	s, _ := newTestScheduler(t, graph.Registry{
		"short": sleeper(10 * time.Millisecond),
		"long":  sleeper(250 * time.Millisecond),
	})
	g := &graph.TaskGraph{ID: "pool", Nodes: []graph.TaskGraphNode{
		{ID: "a", Agent: "short"},
		{ID: "b", Agent: "long"},
		{ID: "c", Agent: "short"},
	}}

	result, err := s.Run(context.Background(), g, graph.ExecutionContext{}, Options{MaxParallel: 2})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, result.ExecutionOrder)
}

func TestRunHonorsMaxParallel(t *testing.T) {
	var running, peak atomic.Int32
	tracked := graph.ExecutorFunc(func(_ context.Context, in graph.ExecutionInput) graph.ExecutionOutput {
		now := running.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return graph.Succeed(nil)
	})
	s, _ := newTestScheduler(t, graph.Registry{"work": tracked})

	g := &graph.TaskGraph{ID: "wide"}
	for _, id := range []string{"n1", "n2", "n3", "n4", "n5", "n6"} {
		g.Nodes = append(g.Nodes, graph.TaskGraphNode{ID: id, Agent: "work"})
	}

	result, err := s.Run(context.Background(), g, graph.ExecutionContext{}, Options{MaxParallel: 2})

	require.NoError(t, err)
	assert.Equal(t, graph.StatusSucceeded, result.Status)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, result.ExecutionOrder, 6)
}

func TestRunRetriesWithExponentialBackoff(t *testing.T) {
	s, metrics := newTestScheduler(t, graph.Registry{"work": failThen(2, "flaky")})
	sleeps := &sleepRecorder{}
	g := &graph.TaskGraph{ID: "retry", Nodes: []graph.TaskGraphNode{{
		ID:    "fetch",
		Agent: "work",
		Retry: &graph.RetryConfig{MaxAttempts: 3, Backoff: &graph.Backoff{BaseDelayMs: 100, Factor: 2}},
	}}}

	result, err := s.Run(context.Background(), g, graph.ExecutionContext{}, Options{Sleep: sleeps.Sleep})

	require.NoError(t, err)
	node, ok := result.Node("fetch")
	require.True(t, ok)
	assert.Equal(t, graph.NodeSucceeded, node.Status)
	assert.Equal(t, 3, node.Attempts)
	assert.Empty(t, node.FailureClass)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeps.recorded())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.nodeRetries.WithLabelValues("work")))
}

func TestRunAddsBoundedJitter(t *testing.T) {
	var bounds []time.Duration
	s := New(Config{
		Resolver: graph.Registry{"work": failThen(1, "flaky")},
		Metrics:  MustNewMetrics(prometheus.NewRegistry()),
		Jitter: func(max time.Duration) time.Duration {
			bounds = append(bounds, max)
			return max / 2
		},
	})
	sleeps := &sleepRecorder{}
	g := &graph.TaskGraph{ID: "jitter", Nodes: []graph.TaskGraphNode{{
		ID:    "n",
		Agent: "work",
		Retry: &graph.RetryConfig{MaxAttempts: 2, Backoff: &graph.Backoff{BaseDelayMs: 100, Factor: 3, JitterMs: 40}},
	}}}

	_, err := s.Run(context.Background(), g, graph.ExecutionContext{}, Options{Sleep: sleeps.Sleep})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{40 * time.Millisecond}, bounds)
	assert.Equal(t, []time.Duration{120 * time.Millisecond}, sleeps.recorded())
}

func TestRunExhaustedRetriesCompensateOnce(t *testing.T) {
	undo := &counter{exec: graph.ExecutorFunc(func(_ context.Context, in graph.ExecutionInput) graph.ExecutionOutput {
		if in.Failure == nil || in.Failure.Attempts != 3 {
			return graph.Fail("", "missing failure context")
		}
		return graph.Succeed("rolled back")
	})}
	s, metrics := newTestScheduler(t, graph.Registry{
		"work": failThen(100, "flaky"),
		"undo": undo,
	})
	sleeps := &sleepRecorder{}
	g := &graph.TaskGraph{ID: "exhaust", Nodes: []graph.TaskGraphNode{{
		ID:                "charge",
		Agent:             "work",
		CompensationAgent: "undo",
		Retry:             &graph.RetryConfig{MaxAttempts: 3, Backoff: &graph.Backoff{BaseDelayMs: 10}},
	}}}

	result, err := s.Run(context.Background(), g, graph.ExecutionContext{}, Options{Sleep: sleeps.Sleep})

	require.NoError(t, err)
	assert.Equal(t, graph.StatusFailed, result.Status)
	node, _ := result.Node("charge")
	assert.Equal(t, graph.NodeFailed, node.Status)
	assert.Equal(t, graph.FailureRetryable, node.FailureClass)
	assert.Equal(t, 3, node.Attempts)
	assert.Equal(t, "flaky", node.ErrorCode)
	require.NotNil(t, node.Compensation)
	assert.Equal(t, graph.CompensationSucceeded, node.Compensation.Status)
	assert.Equal(t, "rolled back", node.Compensation.Output)
	assert.Equal(t, int32(1), undo.calls.Load())
	assert.Len(t, sleeps.recorded(), 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.nodeFailures.WithLabelValues("work", "retryable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.compensations.WithLabelValues("undo", "succeeded")))
}

func TestRunNonRetryableStopsImmediately(t *testing.T) {
	s, _ := newTestScheduler(t, graph.Registry{"work": failThen(100, "bad_input")})
	sleeps := &sleepRecorder{}
	policy := &graph.FailurePolicy{
		DefaultRetryable: true,
		Rules:            []graph.FailureRule{{ErrorCodes: []string{"bad_input"}, Retryable: false}},
	}
	g := &graph.TaskGraph{ID: "strict", Nodes: []graph.TaskGraphNode{{ID: "validate", Agent: "work"}}}

	result, err := s.Run(context.Background(), g, graph.ExecutionContext{}, Options{
		DefaultRetry:  graph.RetryConfig{MaxAttempts: 5, Backoff: &graph.Backoff{BaseDelayMs: 50}},
		FailurePolicy: policy,
		Sleep:         sleeps.Sleep,
	})

	require.NoError(t, err)
	node, _ := result.Node("validate")
	assert.Equal(t, graph.NodeFailed, node.Status)
	assert.Equal(t, graph.FailureNonRetryable, node.FailureClass)
	assert.Equal(t, 1, node.Attempts)
	assert.Empty(t, sleeps.recorded())
}

func TestRunCompensationFailureKeepsNodeFailed(t *testing.T) {
	s, _ := newTestScheduler(t, graph.Registry{"work": failThen(1, "x")})
	g := &graph.TaskGraph{ID: "comp", Nodes: []graph.TaskGraphNode{{ID: "n", Agent: "work", CompensationAgent: "ghost"}}}

	result, err := s.Run(context.Background(), g, graph.ExecutionContext{}, Options{})

	require.NoError(t, err)
	node, _ := result.Node("n")
	assert.Equal(t, graph.NodeFailed, node.Status)
	require.NotNil(t, node.Compensation)
	assert.Equal(t, graph.CompensationFailed, node.Compensation.Status)
	assert.Contains(t, node.Compensation.Error, "ghost")
}

func TestRunDependencyFailureSkipsDownstream(t *testing.T) {
	s, _ := newTestScheduler(t, graph.Registry{
		"ok":   echo(),
		"boom": failThen(100, "fatal"),
	})
	g := &graph.TaskGraph{ID: "blocked", Nodes: []graph.TaskGraphNode{
		{ID: "a", Agent: "boom"},
		{ID: "b", Agent: "ok", DependsOn: []string{"a"}},
		{ID: "c", Agent: "ok", DependsOn: []string{"b"}},
		{ID: "d", Agent: "ok"},
	}}

	result, err := s.Run(context.Background(), g, graph.ExecutionContext{}, Options{})

	require.NoError(t, err)
	assert.Equal(t, graph.StatusFailed, result.Status)
	for _, id := range []string{"b", "c"} {
		node, _ := result.Node(id)
		assert.Equal(t, graph.NodeSkipped, node.Status, id)
		assert.Equal(t, graph.SkipReasonDependencyFailed, node.Error, id)
		assert.Zero(t, node.Attempts, id)
	}
	d, _ := result.Node("d")
	assert.Equal(t, graph.NodeSucceeded, d.Status)
	assert.ElementsMatch(t, []string{"a", "d"}, result.ExecutionOrder)
}

func TestRunCancelBeforeLaunchSkipsEverything(t *testing.T) {
	work := &counter{exec: echo()}
	s, _ := newTestScheduler(t, graph.Registry{"work": work})
	store := snapshot.NewMemoryStore()
	g := chain("a", "b", "c")

	result, err := s.Run(context.Background(), g, graph.ExecutionContext{TaskID: "task-1"}, Options{
		ShouldCancel:  func() bool { return true },
		SnapshotStore: store,
		SnapshotID:    "snap-cancel",
	})

	require.NoError(t, err)
	assert.Equal(t, graph.StatusCanceled, result.Status)
	for _, node := range result.Nodes {
		assert.Equal(t, graph.NodeSkipped, node.Status)
		assert.Equal(t, graph.SkipReasonCanceled, node.Error)
	}
	assert.Empty(t, result.ExecutionOrder)
	assert.Zero(t, work.calls.Load())

	stored, err := store.Get(context.Background(), "snap-cancel")
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCanceled, stored.Status)
	assert.Equal(t, "task-1", stored.TaskID)
}

func TestRunContextCancellationIsCooperative(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _ := newTestScheduler(t, graph.Registry{"work": echo()})

	result, err := s.Run(ctx, chain("a", "b"), graph.ExecutionContext{}, Options{})

	require.NoError(t, err)
	assert.Equal(t, graph.StatusCanceled, result.Status)
}

func TestRunTimeoutAtWaveBoundary(t *testing.T) {
	s, _ := newTestScheduler(t, graph.Registry{"work": sleeper(60 * time.Millisecond)})

	result, err := s.Run(context.Background(), chain("a", "b"), graph.ExecutionContext{}, Options{Timeout: 20 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, graph.StatusCanceled, result.Status)
	a, _ := result.Node("a")
	assert.Equal(t, graph.NodeSucceeded, a.Status, "running nodes finish")
	b, _ := result.Node("b")
	assert.Equal(t, graph.NodeSkipped, b.Status)
	assert.Equal(t, graph.SkipReasonTimeout, b.Error)
	assert.Equal(t, []string{"a"}, result.ExecutionOrder)
}

func TestRunTimeoutDuringLastNodeKeepsOutcome(t *testing.T) {
	s, _ := newTestScheduler(t, graph.Registry{"work": sleeper(60 * time.Millisecond)})
	store := snapshot.NewMemoryStore()

	result, err := s.Run(context.Background(), chain("a"), graph.ExecutionContext{}, Options{
		Timeout:       10 * time.Millisecond,
		SnapshotStore: store,
		SnapshotID:    "snap-late",
	})

	require.NoError(t, err)
	assert.Equal(t, graph.StatusSucceeded, result.Status)
	assert.Equal(t, []string{"a"}, result.ExecutionOrder)
	stored, err := store.Get(context.Background(), "snap-late")
	require.NoError(t, err)
	assert.Equal(t, graph.StatusSucceeded, stored.Status)
}

func TestRunCancelDuringLastNodeKeepsOutcome(t *testing.T) {
	tests := []struct {
		name string
		out  graph.ExecutionOutput
		want graph.Status
	}{
		{name: "succeeded", out: graph.Succeed("done"), want: graph.StatusSucceeded},
		{name: "failed", out: graph.Fail("boom", "last node failed"), want: graph.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var canceled atomic.Bool
			s, _ := newTestScheduler(t, graph.Registry{"work": graph.ExecutorFunc(func(_ context.Context, in graph.ExecutionInput) graph.ExecutionOutput {
				if in.Node.ID == "b" {
					canceled.Store(true)
					return tt.out
				}
				return graph.Succeed("ok")
			})})

			result, err := s.Run(context.Background(), chain("a", "b"), graph.ExecutionContext{}, Options{
				ShouldCancel: canceled.Load,
			})

			require.NoError(t, err)
			assert.True(t, canceled.Load())
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, []string{"a", "b"}, result.ExecutionOrder)
			for _, node := range result.Nodes {
				assert.NotEqual(t, graph.NodeSkipped, node.Status, node.NodeID)
			}
		})
	}
}

func TestRunMissingExecutor(t *testing.T) {
	s, _ := newTestScheduler(t, graph.Registry{})

	result, err := s.Run(context.Background(), chain("a"), graph.ExecutionContext{}, Options{
		DefaultRetry: graph.RetryConfig{MaxAttempts: 3},
	})

	require.NoError(t, err)
	node, _ := result.Node("a")
	assert.Equal(t, graph.NodeFailed, node.Status)
	assert.Equal(t, sharederrors.CodeExecutorNotFound, node.ErrorCode)
	assert.Equal(t, graph.FailureNonRetryable, node.FailureClass)
	assert.Zero(t, node.Attempts)
}

func TestRunRecoversExecutorPanic(t *testing.T) {
	s, _ := newTestScheduler(t, graph.Registry{"work": graph.ExecutorFunc(func(context.Context, graph.ExecutionInput) graph.ExecutionOutput {
		panic("executor exploded")
	})})

	result, err := s.Run(context.Background(), chain("a"), graph.ExecutionContext{}, Options{})

	require.NoError(t, err)
	node, _ := result.Node("a")
	assert.Equal(t, graph.NodeFailed, node.Status)
	assert.Equal(t, sharederrors.CodePanic, node.ErrorCode)
	assert.Contains(t, node.Error, "executor exploded")
}

func TestRunPassesContextAndDependencyOutputs(t *testing.T) {
	var seen graph.ExecutionInput
	var mu sync.Mutex
	s, _ := newTestScheduler(t, graph.Registry{
		"produce": graph.ExecutorFunc(func(context.Context, graph.ExecutionInput) graph.ExecutionOutput {
			return graph.Succeed(map[string]any{"rows": 3})
		}),
		"consume": graph.ExecutorFunc(func(_ context.Context, in graph.ExecutionInput) graph.ExecutionOutput {
			mu.Lock()
			seen = in
			mu.Unlock()
			return graph.Succeed(nil)
		}),
	})
	g := &graph.TaskGraph{ID: "io", Nodes: []graph.TaskGraphNode{
		{ID: "extract", Agent: "produce"},
		{ID: "load", Agent: "consume", DependsOn: []string{"extract"}, Input: "target"},
	}}
	execCtx := graph.ExecutionContext{TaskID: "task-9", SessionID: "s-9", Metadata: map[string]any{"user": "ops"}}

	_, err := s.Run(context.Background(), g, execCtx, Options{})

	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, execCtx, seen.Context)
	assert.Equal(t, "target", seen.Node.Input)
	assert.Equal(t, map[string]any{"extract": map[string]any{"rows": 3}}, seen.DependencyOutputs)
	assert.Equal(t, 1, seen.Attempt)
}

func TestRunRejectsInvalidGraphBeforeExecuting(t *testing.T) {
	work := &counter{exec: echo()}
	s, _ := newTestScheduler(t, graph.Registry{"work": work})
	g := &graph.TaskGraph{ID: "cyclic", Nodes: []graph.TaskGraphNode{
		{ID: "a", Agent: "work", DependsOn: []string{"b"}},
		{ID: "b", Agent: "work", DependsOn: []string{"a"}},
	}}

	_, err := s.Run(context.Background(), g, graph.ExecutionContext{}, Options{})

	assert.ErrorIs(t, err, graph.ErrCycleDetected)
	assert.Zero(t, work.calls.Load())
}

func TestRunPersistsSnapshotAfterEachSettlement(t *testing.T) {
	store := &countingStore{SnapshotStore: snapshot.NewMemoryStore()}
	s, _ := newTestScheduler(t, graph.Registry{"work": echo()})

	result, err := s.Run(context.Background(), chain("a", "b", "c"), graph.ExecutionContext{TaskID: "task-1"}, Options{SnapshotStore: store})

	require.NoError(t, err)
	require.NotEmpty(t, result.SnapshotID)
	assert.Equal(t, 4, store.saves(), "three settlements plus the final save")

	stored, err := store.Get(context.Background(), result.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusSucceeded, stored.Status)
	assert.Equal(t, []string{"a", "b", "c"}, stored.ExecutionOrder)
	assert.Equal(t, graph.Signature(chain("a", "b", "c")), stored.GraphSignature)
	b, ok := stored.Node("b")
	require.True(t, ok)
	assert.Equal(t, "work", b.Agent)
	assert.Equal(t, []string{"a"}, b.DependsOn)
}

func TestRunSnapshotSaveFailureDoesNotAbort(t *testing.T) {
	metrics := MustNewMetrics(prometheus.NewRegistry())
	s := New(Config{Resolver: graph.Registry{"work": echo()}, Metrics: metrics})

	result, err := s.Run(context.Background(), chain("a"), graph.ExecutionContext{}, Options{SnapshotStore: failingStore{}})

	require.NoError(t, err)
	assert.Equal(t, graph.StatusSucceeded, result.Status)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.snapshotSaveFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.graphsActive))
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	var events []Event
	s, _ := newTestScheduler(t, graph.Registry{"work": echo()})

	_, err := s.Run(context.Background(), chain("a", "b"), graph.ExecutionContext{}, Options{
		Listener: ListenerFunc(func(e Event) { events = append(events, e) }),
	})

	require.NoError(t, err)
	types := make([]EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
		assert.Equal(t, "chain", e.GraphID)
	}
	assert.Equal(t, []EventType{
		EventNodeStarted, EventNodeSucceeded,
		EventNodeStarted, EventNodeSucceeded,
		EventGraphCompleted,
	}, types)
	assert.Equal(t, graph.StatusSucceeded, events[len(events)-1].Status)
}

func TestLoopReportsDeadlock(t *testing.T) {
	s, _ := newTestScheduler(t, graph.Registry{"work": echo()})
	g := chain("a", "b")
	index, err := graph.BuildIndex(g)
	require.NoError(t, err)

	// "a" claims to be running but nothing is in flight, so "b" can never
	// become runnable or blocked.
	results := []graph.NodeResult{
		{NodeID: "a", Status: graph.NodeRunning},
		{NodeID: "b", Status: graph.NodePending},
	}
	r := s.newRun(g, index, graph.ExecutionContext{}, Options{}, results, nil)

	_, err = r.execute(context.Background())
	assert.ErrorIs(t, err, ErrSchedulerDeadlock)
}
