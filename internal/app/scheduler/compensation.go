package scheduler

import (
	"context"
	"fmt"

	"agentgraph/internal/domain/graph"
)

// compensate runs the node's compensation agent once. The outcome is recorded
// on the failed node but never changes its status.
func (s *Scheduler) compensate(ctx context.Context, nr nodeRun, failed graph.NodeResult) *graph.CompensationResult {
	agent := nr.node.CompensationAgent
	executor, ok := s.resolver.Resolve(agent)
	if !ok {
		s.metrics.incCompensation(agent, string(graph.CompensationFailed))
		s.logger.Warn("node %s: no executor for compensation agent %q", nr.node.ID, agent)
		return &graph.CompensationResult{
			Status: graph.CompensationFailed,
			Error:  fmt.Sprintf("no executor registered for compensation agent %q", agent),
		}
	}

	failure := failed
	out := invoke(ctx, executor, graph.ExecutionInput{
		Node:              nr.node,
		Context:           nr.execCtx,
		DependencyOutputs: nr.deps,
		Attempt:           1,
		Failure:           &failure,
	})

	result := &graph.CompensationResult{Output: out.Output}
	if out.Success {
		result.Status = graph.CompensationSucceeded
	} else {
		result.Status = graph.CompensationFailed
		result.Error = out.Error
		if result.Error == "" {
			result.Error = "compensation reported failure"
		}
		s.logger.Warn("node %s: compensation %q failed: %s", nr.node.ID, agent, result.Error)
	}
	s.metrics.incCompensation(agent, string(result.Status))
	return result
}
