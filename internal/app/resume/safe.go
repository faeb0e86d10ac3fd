package resume

import (
	"context"

	"agentgraph/internal/domain/graph"
)

// SafeExecutor returns a fixed "resumed" marker instead of doing work.
type SafeExecutor struct{}

func (SafeExecutor) Execute(_ context.Context, in graph.ExecutionInput) graph.ExecutionOutput {
	return graph.Succeed(map[string]any{
		"status": "resumed",
		"mode":   string(ModeSafe),
		"nodeId": in.Node.ID,
		"agent":  in.Node.Agent,
	})
}

// SafeResolver resolves every agent to SafeExecutor.
type SafeResolver struct{}

func (SafeResolver) Resolve(string) (graph.Executor, bool) {
	return SafeExecutor{}, true
}
