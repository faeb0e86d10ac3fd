package graph

import "context"

// ExecutionContext is handed unchanged to every executor of a run.
type ExecutionContext struct {
	TaskID    string         `json:"taskId"`
	SessionID string         `json:"sessionId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ExecutionInput is what an executor receives for one attempt.
type ExecutionInput struct {
	Node              TaskGraphNode
	Context           ExecutionContext
	DependencyOutputs map[string]any
	Attempt           int
	// Failure is set when the executor runs as a compensation for a failed node.
	Failure *NodeResult
}

// ExecutionOutput is an executor's verdict for one attempt.
type ExecutionOutput struct {
	Success   bool   `json:"success"`
	Output    any    `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// Executor performs the work behind an agent name.
type Executor interface {
	Execute(ctx context.Context, input ExecutionInput) ExecutionOutput
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, input ExecutionInput) ExecutionOutput

func (f ExecutorFunc) Execute(ctx context.Context, input ExecutionInput) ExecutionOutput {
	return f(ctx, input)
}

// Resolver maps agent names to executors.
type Resolver interface {
	Resolve(agent string) (Executor, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(agent string) (Executor, bool)

func (f ResolverFunc) Resolve(agent string) (Executor, bool) {
	return f(agent)
}

// Registry is a static agent name to executor map.
type Registry map[string]Executor

func (r Registry) Resolve(agent string) (Executor, bool) {
	exec, ok := r[agent]
	if !ok || exec == nil {
		return nil, false
	}
	return exec, true
}

// Succeed builds a successful ExecutionOutput.
func Succeed(output any) ExecutionOutput {
	return ExecutionOutput{Success: true, Output: output}
}

// Fail builds a failed ExecutionOutput.
func Fail(code, message string) ExecutionOutput {
	return ExecutionOutput{Success: false, Error: message, ErrorCode: code}
}
