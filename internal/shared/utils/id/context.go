package id

import "context"

type contextKey string

const (
	taskKey    contextKey = "agentgraph_task_id"
	sessionKey contextKey = "agentgraph_session_id"
	runKey     contextKey = "agentgraph_run_id"
	graphKey   contextKey = "agentgraph_graph_id"
)

// IDs captures the identifiers propagated from the scheduler into executors.
type IDs struct {
	TaskID    string
	SessionID string
	RunID     string
	GraphID   string
}

// WithTaskID stores the task identifier on the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	if taskID == "" {
		return ctx
	}
	return context.WithValue(ctx, taskKey, taskID)
}

// WithSessionID stores the session identifier on the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// WithRunID stores the current run identifier on the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runKey, runID)
}

// WithGraphID stores the graph identifier on the context.
func WithGraphID(ctx context.Context, graphID string) context.Context {
	if graphID == "" {
		return ctx
	}
	return context.WithValue(ctx, graphKey, graphID)
}

// WithIDs stores any provided identifiers on the context.
func WithIDs(ctx context.Context, ids IDs) context.Context {
	ctx = WithTaskID(ctx, ids.TaskID)
	ctx = WithSessionID(ctx, ids.SessionID)
	ctx = WithRunID(ctx, ids.RunID)
	return WithGraphID(ctx, ids.GraphID)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// TaskIDFromContext extracts the task identifier from context.
func TaskIDFromContext(ctx context.Context) string { return stringValue(ctx, taskKey) }

// SessionIDFromContext extracts the session identifier from context.
func SessionIDFromContext(ctx context.Context) string { return stringValue(ctx, sessionKey) }

// RunIDFromContext extracts the run identifier from context.
func RunIDFromContext(ctx context.Context) string { return stringValue(ctx, runKey) }

// IDsFromContext collects all known identifiers from the context.
func IDsFromContext(ctx context.Context) IDs {
	return IDs{
		TaskID:    TaskIDFromContext(ctx),
		SessionID: SessionIDFromContext(ctx),
		RunID:     RunIDFromContext(ctx),
		GraphID:   stringValue(ctx, graphKey),
	}
}
