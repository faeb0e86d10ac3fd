package resume

import (
	"context"
	"fmt"

	"agentgraph/internal/app/scheduler"
	"agentgraph/internal/domain/graph"
)

// Mode picks which executors a resumed run uses.
type Mode string

const (
	// ModeSafe replaces every agent with a side-effect-free marker executor.
	ModeSafe Mode = "safe"
	// ModeDelegate runs the real specialist executors.
	ModeDelegate Mode = "delegate"
)

// ParseMode accepts "safe" and "delegate"; empty means safe.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case "", ModeSafe:
		return ModeSafe, nil
	case ModeDelegate:
		return ModeDelegate, nil
	default:
		return "", fmt.Errorf("unsupported resume mode %q", raw)
	}
}

// RiskLevel grades how much a resume could do.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Refusal reasons reported by Preview and Execute.
const (
	ReasonSnapshotNotFound     = "snapshot not found"
	ReasonStatusNotResumable   = "snapshot status is not resumable"
	ReasonGraphUnavailable     = "snapshot has no reconstructable graph"
	ReasonNothingPending       = "snapshot has no pending nodes"
	ReasonUnsupportedMode      = "unsupported resume mode"
	ReasonConfirmationRequired = "confirmation required"
	ReasonNoDelegate           = "no delegate resolver configured"
)

// PreviewResult describes what resuming a snapshot would do.
type PreviewResult struct {
	SnapshotID           string       `json:"snapshotId"`
	Mode                 Mode         `json:"mode"`
	CanResume            bool         `json:"canResume"`
	Reason               string       `json:"reason,omitempty"`
	GraphID              string       `json:"graphId,omitempty"`
	TaskID               string       `json:"taskId,omitempty"`
	Status               graph.Status `json:"status,omitempty"`
	PendingNodeIDs       []string     `json:"pendingNodeIds"`
	FailedNodeIDs        []string     `json:"failedNodeIds"`
	// RerunNodeIDs lists every node that has not succeeded; resume runs
	// all of them again.
	RerunNodeIDs         []string     `json:"rerunNodeIds"`
	RiskLevel            RiskLevel    `json:"riskLevel"`
	RequiresConfirmation bool         `json:"requiresConfirmation"`
}

// ExecuteRequest asks for a snapshot to be resumed.
type ExecuteRequest struct {
	SnapshotID string
	Confirmed  bool
	Mode       Mode
	// MaxParallel overrides the service default when > 0.
	MaxParallel int
}

// ExecuteResult reports a resume attempt. Executed is false when the
// request was refused; Reason then says why.
type ExecuteResult struct {
	Executed bool                        `json:"executed"`
	Reason   string                      `json:"reason,omitempty"`
	Preview  PreviewResult               `json:"preview"`
	Result   *graph.GraphExecutionResult `json:"result,omitempty"`
}

// GraphResumer continues a run from a snapshot. *scheduler.Scheduler
// implements it.
type GraphResumer interface {
	Resume(ctx context.Context, g *graph.TaskGraph, execCtx graph.ExecutionContext, snapshot graph.ExecutionSnapshot, opts scheduler.Options) (*graph.GraphExecutionResult, error)
}

// RunnerFactory builds a GraphResumer that resolves agents through resolver.
type RunnerFactory func(resolver graph.Resolver) GraphResumer

// SchedulerFactory returns a RunnerFactory building schedulers from base
// with the resolver swapped in.
func SchedulerFactory(base scheduler.Config) RunnerFactory {
	return func(resolver graph.Resolver) GraphResumer {
		cfg := base
		cfg.Resolver = resolver
		return scheduler.New(cfg)
	}
}
