// Package resume implements the human-gated recovery of canceled or failed
// graph runs from their snapshots.
package resume

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentgraph/internal/app/scheduler"
	"agentgraph/internal/domain/graph"
	"agentgraph/internal/domain/task"
	"agentgraph/internal/observability"
	jsonx "agentgraph/internal/shared/json"
	"agentgraph/internal/shared/logging"
	id "agentgraph/internal/shared/utils/id"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config wires a Service.
type Config struct {
	// Store holds the snapshots to resume. Required.
	Store graph.SnapshotStore
	// Runner builds the scheduler for a resume. Required.
	Runner RunnerFactory
	// Delegate resolves real executors for delegate mode.
	Delegate graph.Resolver
	// Events receives the graph.resume.executed audit event.
	Events task.EventAppender
	// RunOptions is the template for every resumed run.
	RunOptions scheduler.Options
	Logger     logging.Logger
	Metrics    *observability.MetricsCollector
	Tracer     trace.Tracer
	Now        func() time.Time
}

// Service previews and executes snapshot resumes.
type Service struct {
	store    graph.SnapshotStore
	runner   RunnerFactory
	delegate graph.Resolver
	events   task.EventAppender
	opts     scheduler.Options
	logger   logging.Logger
	metrics  *observability.MetricsCollector
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService validates cfg and builds a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("resume service requires a snapshot store")
	}
	if cfg.Runner == nil {
		return nil, errors.New("resume service requires a runner factory")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    cfg.Store,
		runner:   cfg.Runner,
		delegate: cfg.Delegate,
		events:   cfg.Events,
		opts:     cfg.RunOptions,
		logger:   logging.OrNop(cfg.Logger),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		now:      now,
	}, nil
}

// plan is a preview plus what Execute needs to act on it.
type plan struct {
	preview  PreviewResult
	snapshot *graph.ExecutionSnapshot
	graph    *graph.TaskGraph
}

// Preview reports whether snapshotID can be resumed in mode, what would run
// and how risky it is. Refusals are reported in the result; only store
// failures are returned as errors.
func (s *Service) Preview(ctx context.Context, snapshotID string, mode Mode) (PreviewResult, error) {
	p, err := s.plan(ctx, snapshotID, mode)
	if err != nil {
		return PreviewResult{}, err
	}
	s.metrics.RecordResumePreview(ctx, string(mode), p.preview.CanResume, string(p.preview.RiskLevel))
	return p.preview, nil
}

func (s *Service) plan(ctx context.Context, snapshotID string, mode Mode) (plan, error) {
	preview := PreviewResult{
		SnapshotID:     snapshotID,
		Mode:           mode,
		PendingNodeIDs: []string{},
		FailedNodeIDs:  []string{},
		RerunNodeIDs:   []string{},
		RiskLevel:      RiskLow,
	}
	refuse := func(reason string) (plan, error) {
		preview.Reason = reason
		return plan{preview: preview}, nil
	}

	if mode != ModeSafe && mode != ModeDelegate {
		return refuse(ReasonUnsupportedMode)
	}

	snapshot, err := s.store.Get(ctx, snapshotID)
	if errors.Is(err, graph.ErrSnapshotNotFound) {
		return refuse(ReasonSnapshotNotFound)
	}
	if err != nil {
		return plan{}, fmt.Errorf("load snapshot %s: %w", snapshotID, err)
	}

	preview.GraphID = snapshot.GraphID
	preview.TaskID = snapshot.TaskID
	preview.Status = snapshot.Status
	for _, node := range snapshot.Nodes {
		if node.Status != graph.NodeSucceeded {
			preview.RerunNodeIDs = append(preview.RerunNodeIDs, node.NodeID)
		}
		switch {
		case node.Status == graph.NodeFailed:
			preview.FailedNodeIDs = append(preview.FailedNodeIDs, node.NodeID)
		case graph.IsRestartable(node.NodeResult):
			preview.PendingNodeIDs = append(preview.PendingNodeIDs, node.NodeID)
		}
	}
	// Dependency-skipped nodes run again too, so they weigh like pending ones.
	preview.RiskLevel = assessRisk(len(preview.RerunNodeIDs)-len(preview.FailedNodeIDs), len(preview.FailedNodeIDs), mode)
	preview.RequiresConfirmation = mode == ModeDelegate || preview.RiskLevel == RiskHigh || preview.RiskLevel == RiskCritical

	if snapshot.Status != graph.StatusCanceled && snapshot.Status != graph.StatusFailed {
		return refuse(ReasonStatusNotResumable)
	}
	g, ok := graph.ReconstructGraph(snapshot)
	if !ok {
		return refuse(ReasonGraphUnavailable)
	}
	if len(preview.PendingNodeIDs) == 0 {
		return refuse(ReasonNothingPending)
	}

	preview.CanResume = true
	return plan{preview: preview, snapshot: snapshot, graph: g}, nil
}

// assessRisk scores pending + 2*failed, plus 2 in delegate mode.
func assessRisk(pending, failed int, mode Mode) RiskLevel {
	score := pending + 2*failed
	if mode == ModeDelegate {
		score += 2
	}
	switch {
	case mode == ModeDelegate && score >= 12:
		return RiskCritical
	case score >= 8:
		return RiskHigh
	case score >= 4:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Execute resumes the snapshot when the preview allows it and any required
// confirmation was given. Refusals come back with Executed false.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	started := s.now()
	mode := req.Mode
	if mode == "" {
		mode = ModeSafe
	}

	ctx, span := observability.StartSpan(ctx, s.tracer, observability.SpanGraphResume,
		attribute.String(observability.AttrSnapshotID, req.SnapshotID),
		attribute.String("agentgraph.resume.mode", string(mode)),
	)
	defer span.End()

	p, err := s.plan(ctx, req.SnapshotID, mode)
	if err != nil {
		s.metrics.RecordResumeExecution(ctx, string(mode), "error", 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExecuteResult{}, err
	}

	refuse := func(reason string) (ExecuteResult, error) {
		s.metrics.RecordResumeExecution(ctx, string(mode), "refused", 0)
		span.SetAttributes(attribute.String("agentgraph.resume.refused", reason))
		s.logger.Info("resume of snapshot %s refused: %s", req.SnapshotID, reason)
		return ExecuteResult{Reason: reason, Preview: p.preview}, nil
	}

	if !p.preview.CanResume {
		return refuse(p.preview.Reason)
	}
	if p.preview.RequiresConfirmation && !req.Confirmed {
		return refuse(ReasonConfirmationRequired)
	}

	resolver, ok := s.resolverFor(mode)
	if !ok {
		return refuse(ReasonNoDelegate)
	}

	opts := s.opts
	opts.SnapshotStore = s.store
	opts.SnapshotID = ""
	if req.MaxParallel > 0 {
		opts.MaxParallel = req.MaxParallel
	}

	execCtx := graph.ExecutionContext{
		TaskID:    p.snapshot.TaskID,
		SessionID: p.snapshot.SessionID,
		Metadata:  map[string]any{"resumeMode": string(mode), "resumedFrom": p.snapshot.ID},
	}
	result, err := s.runner(resolver).Resume(ctx, p.graph, execCtx, *p.snapshot, opts)
	if err != nil {
		s.metrics.RecordResumeExecution(ctx, string(mode), "error", s.now().Sub(started))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExecuteResult{}, fmt.Errorf("resume snapshot %s: %w", req.SnapshotID, err)
	}

	s.metrics.RecordResumeExecution(ctx, string(mode), "executed", s.now().Sub(started))
	span.SetAttributes(attribute.String(observability.AttrStatus, string(result.Status)))
	s.logger.Info("resumed snapshot %s in %s mode: %s", req.SnapshotID, mode, result.Status)

	s.recordAudit(ctx, p, mode, result)
	return ExecuteResult{Executed: true, Preview: p.preview, Result: result}, nil
}

func (s *Service) resolverFor(mode Mode) (graph.Resolver, bool) {
	if mode == ModeSafe {
		return SafeResolver{}, true
	}
	if s.delegate == nil {
		return nil, false
	}
	return s.delegate, true
}

type auditPayload struct {
	SnapshotID     string       `json:"snapshotId"`
	GraphID        string       `json:"graphId"`
	Mode           Mode         `json:"mode"`
	RiskLevel      RiskLevel    `json:"riskLevel"`
	Status         graph.Status `json:"status"`
	ResumedNodeIDs []string     `json:"resumedNodeIds"`
	ExecutionOrder []string     `json:"executionOrder"`
}

// recordAudit appends graph.resume.executed. Failures are logged only.
func (s *Service) recordAudit(ctx context.Context, p plan, mode Mode, result *graph.GraphExecutionResult) {
	if s.events == nil {
		return
	}
	payload, err := jsonx.Marshal(auditPayload{
		SnapshotID:     p.snapshot.ID,
		GraphID:        p.snapshot.GraphID,
		Mode:           mode,
		RiskLevel:      p.preview.RiskLevel,
		Status:         result.Status,
		ResumedNodeIDs: p.preview.RerunNodeIDs,
		ExecutionOrder: result.ExecutionOrder,
	})
	if err != nil {
		s.logger.Warn("encode resume audit payload for %s: %v", p.snapshot.ID, err)
		return
	}

	event := task.Event{
		ID:          id.NewEventID(),
		TaskID:      p.snapshot.TaskID,
		EventType:   task.EventResumeExecuted,
		PayloadJSON: payload,
		OccurredAt:  s.now(),
	}
	if err := s.events.AppendEvent(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("record %s for snapshot %s: %v", task.EventResumeExecuted, p.snapshot.ID, err)
	}
}
