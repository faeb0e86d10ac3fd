package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"agentgraph/internal/domain/graph"
	"agentgraph/internal/observability"
	"agentgraph/internal/shared/async"
	sharederrors "agentgraph/internal/shared/errors"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// delaySchedule yields base*factor^(n-1) for the n-th retry, plus jitter.
type delaySchedule struct {
	backoff   backoff.BackOff
	maxJitter time.Duration
	jitter    func(time.Duration) time.Duration
}

func newDelaySchedule(cfg *graph.Backoff, jitter func(time.Duration) time.Duration) *delaySchedule {
	if cfg == nil {
		return &delaySchedule{backoff: &backoff.ZeroBackOff{}}
	}
	schedule := &delaySchedule{maxJitter: cfg.MaxJitter(), jitter: jitter}
	if cfg.BaseDelay() <= 0 {
		schedule.backoff = &backoff.ZeroBackOff{}
		return schedule
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.BaseDelay()
	exp.Multiplier = cfg.Multiplier()
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Duration(math.MaxInt64)
	exp.MaxElapsedTime = 0
	exp.Reset()
	schedule.backoff = exp
	return schedule
}

func (d *delaySchedule) next() time.Duration {
	delay := d.backoff.NextBackOff()
	if delay == backoff.Stop || delay < 0 {
		delay = 0
	}
	if d.maxJitter > 0 && d.jitter != nil {
		delay += d.jitter(d.maxJitter)
	}
	return delay
}

// nodeRun is everything a node goroutine needs; it is built on the loop
// goroutine and never shared.
type nodeRun struct {
	node    graph.TaskGraphNode
	execCtx graph.ExecutionContext
	deps    map[string]any
	retry   graph.RetryConfig
	policy  graph.FailurePolicy
	sleep   SleepFunc
}

// executeNode drives the attempt loop and, on terminal failure, the node's
// compensation.
func (s *Scheduler) executeNode(ctx context.Context, nr nodeRun) graph.NodeResult {
	ctx, span := observability.StartSpan(ctx, s.tracer, observability.SpanNodeExecute,
		attribute.String(observability.AttrNodeID, nr.node.ID),
		attribute.String(observability.AttrAgent, nr.node.Agent),
	)
	defer span.End()

	result := s.attempt(ctx, nr)
	if result.Status == graph.NodeFailed && nr.node.CompensationAgent != "" {
		result.Compensation = s.compensate(ctx, nr, result)
	}

	span.SetAttributes(
		attribute.String(observability.AttrStatus, string(result.Status)),
		attribute.Int(observability.AttrAttempts, result.Attempts),
	)
	if result.Status == graph.NodeFailed {
		span.SetStatus(codes.Error, result.Error)
	}
	return result
}

func (s *Scheduler) attempt(ctx context.Context, nr nodeRun) graph.NodeResult {
	node := nr.node
	executor, ok := s.resolver.Resolve(node.Agent)
	if !ok {
		return graph.NodeResult{
			NodeID:       node.ID,
			Status:       graph.NodeFailed,
			Error:        fmt.Sprintf("no executor registered for agent %q", node.Agent),
			ErrorCode:    sharederrors.CodeExecutorNotFound,
			FailureClass: graph.FailureNonRetryable,
		}
	}

	maxAttempts := nr.retry.Attempts()
	delays := newDelaySchedule(nr.retry.Backoff, s.jitter)

	for attempt := 1; ; attempt++ {
		out := invoke(ctx, executor, graph.ExecutionInput{
			Node:              node,
			Context:           nr.execCtx,
			DependencyOutputs: nr.deps,
			Attempt:           attempt,
		})
		if out.Success {
			return graph.NodeResult{
				NodeID:   node.ID,
				Status:   graph.NodeSucceeded,
				Output:   out.Output,
				Attempts: attempt,
			}
		}

		failed := graph.NodeResult{
			NodeID:    node.ID,
			Status:    graph.NodeFailed,
			Output:    out.Output,
			Error:     out.Error,
			ErrorCode: out.ErrorCode,
			Attempts:  attempt,
		}
		if failed.Error == "" {
			failed.Error = "executor reported failure"
		}

		class := nr.policy.Classify(out.ErrorCode)
		if class == graph.FailureNonRetryable || attempt >= maxAttempts {
			failed.FailureClass = class
			return failed
		}

		delay := delays.next()
		s.metrics.incNodeRetry(node.Agent)
		s.logger.Debug("node %s attempt %d/%d failed (%s), retrying in %s", node.ID, attempt, maxAttempts, failed.Error, delay)
		if err := nr.sleep(ctx, delay); err != nil {
			failed.FailureClass = graph.FailureRetryable
			failed.Error = fmt.Sprintf("%s (retry wait interrupted: %v)", failed.Error, err)
			return failed
		}
	}
}

// invoke calls the executor, converting a panic into a failed attempt.
func invoke(ctx context.Context, executor graph.Executor, input graph.ExecutionInput) graph.ExecutionOutput {
	var out graph.ExecutionOutput
	err := async.Safe(func() error {
		out = executor.Execute(ctx, input)
		return nil
	})
	if err != nil {
		return graph.Fail(sharederrors.CodePanic, fmt.Sprintf("executor %s", err))
	}
	return out
}
