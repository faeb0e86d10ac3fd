package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentgraph/internal/domain/graph"
	"agentgraph/internal/observability"
	"agentgraph/internal/shared/async"
	sharederrors "agentgraph/internal/shared/errors"
	id "agentgraph/internal/shared/utils/id"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
)

// ErrSchedulerDeadlock reports pending nodes that can neither run nor be
// skipped. A validated acyclic graph never reaches it.
var ErrSchedulerDeadlock = errors.New("scheduler deadlock")

// Run validates g and executes it. Structural errors and deadlock are
// returned as errors; node failures, skips and cancellation are reported in
// the result.
func (s *Scheduler) Run(ctx context.Context, g *graph.TaskGraph, execCtx graph.ExecutionContext, opts Options) (*graph.GraphExecutionResult, error) {
	index, err := graph.BuildIndex(g)
	if err != nil {
		return nil, err
	}

	results := make([]graph.NodeResult, len(g.Nodes))
	for i, node := range g.Nodes {
		results[i] = graph.NodeResult{NodeID: node.ID, Status: graph.NodePending}
	}

	snapshotID := opts.SnapshotID
	if snapshotID == "" && opts.SnapshotStore != nil {
		snapshotID = id.NewSnapshotID()
	}
	r := s.newRun(g, index, execCtx, opts, results, nil)
	r.coordinator = s.newCoordinator(g, execCtx, opts.SnapshotStore, snapshotID, r.started)
	return r.execute(ctx)
}

// Resume continues a run from snapshot. g must have the structure the
// snapshot was taken from; otherwise ErrSnapshotStructureMismatch is returned
// and nothing executes. Succeeded nodes are not re-executed and the stored
// execution order is kept as prefix.
func (s *Scheduler) Resume(ctx context.Context, g *graph.TaskGraph, execCtx graph.ExecutionContext, snapshot graph.ExecutionSnapshot, opts Options) (*graph.GraphExecutionResult, error) {
	index, err := graph.BuildIndex(g)
	if err != nil {
		return nil, err
	}
	if sig := graph.Signature(g); sig != snapshot.GraphSignature {
		return nil, graph.MismatchError(snapshot.ID, snapshot.GraphSignature, sig)
	}

	if execCtx.TaskID == "" {
		execCtx.TaskID = snapshot.TaskID
	}
	if execCtx.SessionID == "" {
		execCtx.SessionID = snapshot.SessionID
	}

	snapshotID := opts.SnapshotID
	if snapshotID == "" {
		snapshotID = snapshot.ID
	}
	r := s.newRun(g, index, execCtx, opts, reconcile(g, snapshot), snapshot.ExecutionOrder)
	createdAt := snapshot.CreatedAt
	if createdAt.IsZero() || snapshotID != snapshot.ID {
		createdAt = r.started
	}
	r.coordinator = s.newCoordinator(g, execCtx, opts.SnapshotStore, snapshotID, createdAt)

	s.logger.Info("resuming graph %s from snapshot %s (%d nodes already succeeded)", g.ID, snapshot.ID, countStatus(r.results, graph.NodeSucceeded))
	return r.execute(ctx)
}

func (s *Scheduler) newRun(g *graph.TaskGraph, index *graph.Index, execCtx graph.ExecutionContext, opts Options, results []graph.NodeResult, prefix []string) *run {
	return &run{
		s:       s,
		graph:   g,
		index:   index,
		execCtx: execCtx,
		opts:    opts,
		policy:  opts.failurePolicy(),
		sleep:   opts.sleep(),
		results: results,
		order:   append([]string{}, prefix...),
		runID:   id.NewRunID(),
		started: s.now(),
	}
}

func (s *Scheduler) newCoordinator(g *graph.TaskGraph, execCtx graph.ExecutionContext, store graph.SnapshotStore, snapshotID string, createdAt time.Time) *snapshotCoordinator {
	if store == nil {
		return nil
	}
	return &snapshotCoordinator{
		store:     store,
		id:        snapshotID,
		graphID:   g.ID,
		signature: graph.Signature(g),
		taskID:    execCtx.TaskID,
		sessionID: execCtx.SessionID,
		createdAt: createdAt,
		now:       s.now,
		logger:    s.logger,
		metrics:   s.metrics,
	}
}

// run is the state of one Run/Resume call. Only the loop goroutine touches
// results and order.
type run struct {
	s           *Scheduler
	graph       *graph.TaskGraph
	index       *graph.Index
	execCtx     graph.ExecutionContext
	opts        Options
	policy      graph.FailurePolicy
	sleep       SleepFunc
	results     []graph.NodeResult
	order       []string
	coordinator *snapshotCoordinator
	runID       string
	started     time.Time
}

type settlement struct {
	pos      int
	result   graph.NodeResult
	duration time.Duration
}

func (r *run) execute(ctx context.Context) (*graph.GraphExecutionResult, error) {
	ctx = id.WithIDs(ctx, id.IDs{
		TaskID:    r.execCtx.TaskID,
		SessionID: r.execCtx.SessionID,
		RunID:     r.runID,
		GraphID:   r.graph.ID,
	})
	ctx, span := observability.StartSpan(ctx, r.s.tracer, observability.SpanGraphRun,
		attribute.String(observability.AttrGraphID, r.graph.ID),
		attribute.String(observability.AttrSnapshotID, r.coordinator.snapshotID()),
	)
	defer span.End()

	r.s.metrics.incActiveGraphs()
	defer r.s.metrics.decActiveGraphs()

	result, err := r.loop(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.s.logger.Error("graph %s aborted: %v", r.graph.ID, err)
		return nil, err
	}
	span.SetAttributes(attribute.String(observability.AttrStatus, string(result.Status)))
	r.s.logger.Info("graph %s finished with status %s (%d nodes settled)", r.graph.ID, result.Status, len(result.ExecutionOrder))
	return result, nil
}

func (r *run) loop(ctx context.Context) (*graph.GraphExecutionResult, error) {
	var gate *semaphore.Weighted
	if r.opts.MaxParallel > 0 {
		gate = semaphore.NewWeighted(int64(r.opts.MaxParallel))
	}
	var deadline time.Time
	if r.opts.Timeout > 0 {
		deadline = r.started.Add(r.opts.Timeout)
	}

	settled := make(chan settlement, len(r.graph.Nodes))
	inFlight := 0

	for {
		// With nothing left to launch an interrupt has no effect; in-flight
		// nodes drain and the run settles on its own outcome.
		if countStatus(r.results, graph.NodePending) == 0 {
			for ; inFlight > 0; inFlight-- {
				r.settle(ctx, <-settled)
			}
			return r.finish(ctx, r.outcome()), nil
		}
		if reason, stop := r.interrupted(ctx, deadline); stop {
			r.skipPending(reason)
			for ; inFlight > 0; inFlight-- {
				r.settle(ctx, <-settled)
			}
			return r.finish(ctx, graph.StatusCanceled), nil
		}

		blocked := r.skipBlocked(ctx)

		for _, pos := range r.runnable() {
			if gate != nil && !gate.TryAcquire(1) {
				break
			}
			r.launch(ctx, pos, gate, settled)
			inFlight++
		}

		if inFlight == 0 {
			pending := countStatus(r.results, graph.NodePending)
			if pending == 0 {
				return r.finish(ctx, r.outcome()), nil
			}
			if blocked == 0 {
				return nil, fmt.Errorf("%w: graph %s has %d pending nodes with no runnable or blocked node", ErrSchedulerDeadlock, r.graph.ID, pending)
			}
			continue
		}

		r.settle(ctx, <-settled)
		inFlight--
	}
}

// interrupted reports whether the run must stop launching work and why.
func (r *run) interrupted(ctx context.Context, deadline time.Time) (string, bool) {
	if ctx.Err() != nil || (r.opts.ShouldCancel != nil && r.opts.ShouldCancel()) {
		return graph.SkipReasonCanceled, true
	}
	if !deadline.IsZero() && !r.s.now().Before(deadline) {
		return graph.SkipReasonTimeout, true
	}
	return "", false
}

func (r *run) skipPending(reason string) {
	for pos := range r.results {
		if r.results[pos].Status == graph.NodePending {
			r.skip(pos, reason)
		}
	}
	r.s.logger.Warn("graph %s interrupted: %s", r.graph.ID, reason)
}

// skipBlocked skips pending nodes with a failed or skipped dependency and
// returns how many it skipped.
func (r *run) skipBlocked(ctx context.Context) int {
	blocked := 0
	for pos := range r.results {
		if r.results[pos].Status != graph.NodePending {
			continue
		}
		for _, dep := range r.index.Deps[pos] {
			status := r.results[dep].Status
			if status == graph.NodeFailed || status == graph.NodeSkipped {
				r.skip(pos, graph.SkipReasonDependencyFailed)
				blocked++
				break
			}
		}
	}
	if blocked > 0 {
		r.coordinator.persist(ctx, r.graph, r.results, r.order, graph.StatusRunning)
	}
	return blocked
}

func (r *run) skip(pos int, reason string) {
	r.results[pos] = graph.NodeResult{
		NodeID: r.graph.Nodes[pos].ID,
		Status: graph.NodeSkipped,
		Error:  reason,
	}
	r.s.metrics.incNodeSkip(reason)
	r.emit(Event{Type: EventNodeSkipped, NodeID: r.graph.Nodes[pos].ID, Result: &r.results[pos]})
}

// runnable lists pending nodes whose dependencies all succeeded, in graph order.
func (r *run) runnable() []int {
	var ready []int
	for pos := range r.results {
		if r.results[pos].Status != graph.NodePending {
			continue
		}
		ok := true
		for _, dep := range r.index.Deps[pos] {
			if r.results[dep].Status != graph.NodeSucceeded {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, pos)
		}
	}
	return ready
}

func (r *run) launch(ctx context.Context, pos int, gate *semaphore.Weighted, settled chan<- settlement) {
	node := r.graph.Nodes[pos]
	r.results[pos].Status = graph.NodeRunning
	r.emit(Event{Type: EventNodeStarted, NodeID: node.ID})

	nr := nodeRun{
		node:    node,
		execCtx: r.execCtx,
		deps:    r.dependencyOutputs(pos),
		retry:   node.EffectiveRetry(r.opts.DefaultRetry),
		policy:  r.policy,
		sleep:   r.sleep,
	}
	started := r.s.now()

	async.Go(r.s.logger, "graph-node:"+node.ID, func() {
		result := graph.NodeResult{
			NodeID:       node.ID,
			Status:       graph.NodeFailed,
			Error:        "node execution aborted",
			ErrorCode:    sharederrors.CodePanic,
			FailureClass: graph.FailureNonRetryable,
		}
		defer func() {
			if gate != nil {
				gate.Release(1)
			}
			settled <- settlement{pos: pos, result: result, duration: r.s.now().Sub(started)}
		}()
		result = r.s.executeNode(ctx, nr)
	})
}

func (r *run) dependencyOutputs(pos int) map[string]any {
	deps := r.index.Deps[pos]
	if len(deps) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(deps))
	for _, dep := range deps {
		out[r.results[dep].NodeID] = r.results[dep].Output
	}
	return out
}

func (r *run) settle(ctx context.Context, s settlement) {
	r.results[s.pos] = s.result
	r.order = append(r.order, s.result.NodeID)

	agent := r.graph.Nodes[s.pos].Agent
	r.s.metrics.observeNode(agent, string(s.result.Status), s.duration)
	if s.result.Status == graph.NodeFailed {
		r.s.metrics.incNodeFailure(agent, string(s.result.FailureClass))
		r.s.logger.Warn("node %s failed after %d attempt(s) [%s]: %s", s.result.NodeID, s.result.Attempts, s.result.FailureClass, s.result.Error)
	} else {
		r.s.logger.Debug("node %s settled %s in %s", s.result.NodeID, s.result.Status, s.duration)
	}

	r.emit(Event{Type: nodeEventType(s.result.Status), NodeID: s.result.NodeID, Result: &r.results[s.pos]})
	r.coordinator.persist(ctx, r.graph, r.results, r.order, graph.StatusRunning)
}

func (r *run) outcome() graph.Status {
	if countStatus(r.results, graph.NodeFailed) > 0 {
		return graph.StatusFailed
	}
	return graph.StatusSucceeded
}

func (r *run) finish(ctx context.Context, status graph.Status) *graph.GraphExecutionResult {
	r.coordinator.persist(ctx, r.graph, r.results, r.order, status)
	r.emit(Event{Type: EventGraphCompleted, Status: status})

	return &graph.GraphExecutionResult{
		GraphID:        r.graph.ID,
		Status:         status,
		ExecutionOrder: append([]string{}, r.order...),
		Nodes:          append([]graph.NodeResult(nil), r.results...),
		SnapshotID:     r.coordinator.snapshotID(),
	}
}

func (r *run) emit(event Event) {
	if r.opts.Listener == nil {
		return
	}
	event.GraphID = r.graph.ID
	if event.Timestamp.IsZero() {
		event.Timestamp = r.s.now()
	}
	if event.Result != nil {
		copied := *event.Result
		event.Result = &copied
	}
	r.opts.Listener.OnGraphEvent(event)
}

func countStatus(results []graph.NodeResult, status graph.NodeStatus) int {
	n := 0
	for _, result := range results {
		if result.Status == status {
			n++
		}
	}
	return n
}
