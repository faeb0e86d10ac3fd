package scheduler

import (
	"context"
	"math/rand/v2"
	"time"

	"agentgraph/internal/domain/graph"
	"agentgraph/internal/shared/logging"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options tune one Run or Resume call. Every field is optional.
type Options struct {
	// MaxParallel caps simultaneously running nodes; <= 0 is unbounded.
	MaxParallel int
	// Timeout bounds the run from its start, checked between waves.
	Timeout time.Duration
	// ShouldCancel is polled before every wave.
	ShouldCancel func() bool
	// DefaultRetry applies to nodes without their own retry config.
	DefaultRetry graph.RetryConfig
	// FailurePolicy classifies failed attempts; nil retries everything.
	FailurePolicy *graph.FailurePolicy
	// Sleep waits between retry attempts; defaults to ContextSleep.
	Sleep SleepFunc
	// SnapshotStore receives a snapshot after every settlement and at the end.
	SnapshotStore graph.SnapshotStore
	// SnapshotID names the snapshot; generated when empty.
	SnapshotID string
	// Listener observes node and graph lifecycle events.
	Listener Listener
}

func (o Options) failurePolicy() graph.FailurePolicy {
	if o.FailurePolicy != nil {
		return *o.FailurePolicy
	}
	return graph.DefaultFailurePolicy()
}

func (o Options) sleep() SleepFunc {
	if o.Sleep != nil {
		return o.Sleep
	}
	return ContextSleep
}

// ContextSleep blocks for d unless ctx finishes first.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config wires a Scheduler's collaborators.
type Config struct {
	// Resolver maps agent names to executors. Required.
	Resolver graph.Resolver
	Logger   logging.Logger
	// Metrics defaults to collectors on the global Prometheus registry.
	Metrics *Metrics
	Tracer  trace.Tracer
	// Jitter draws a retry jitter in [0, max]; defaults to uniform.
	Jitter func(max time.Duration) time.Duration
	Now    func() time.Time
}

// UniformJitter draws uniformly from [0, max].
func UniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

// Scheduler runs task graphs. It holds no per-run state and is safe for
// concurrent use.
type Scheduler struct {
	resolver graph.Resolver
	logger   logging.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	jitter   func(time.Duration) time.Duration
	now      func() time.Time
}

// New builds a Scheduler. A nil resolver resolves nothing, so every node
// fails with executor_not_found.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		resolver: cfg.Resolver,
		logger:   logging.OrNop(cfg.Logger),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		jitter:   cfg.Jitter,
		now:      cfg.Now,
	}
	if s.resolver == nil {
		s.resolver = graph.Registry{}
	}
	if s.metrics == nil {
		s.metrics = defaultMetrics()
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("agentgraph")
	}
	if s.jitter == nil {
		s.jitter = UniformJitter
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}
