package graph

import "strings"

// SnapshotNodes pairs each node of g with its result so the snapshot carries
// enough structure to rebuild the graph. results must be indexed like g.Nodes.
func SnapshotNodes(g *TaskGraph, results []NodeResult) []SnapshotNode {
	if g == nil {
		return nil
	}
	out := make([]SnapshotNode, len(g.Nodes))
	for i, node := range g.Nodes {
		var result NodeResult
		if i < len(results) {
			result = results[i]
		}
		out[i] = SnapshotNode{
			NodeResult:        result,
			Agent:             node.Agent,
			DependsOn:         append([]string(nil), node.DependsOn...),
			Input:             node.Input,
			Retry:             node.Retry,
			CompensationAgent: node.CompensationAgent,
		}
	}
	return out
}

// ReconstructGraph rebuilds a runnable graph from a snapshot. It reports false
// when a node lacks its agent, the rebuilt graph is invalid, or its signature
// differs from the one the snapshot recorded.
func ReconstructGraph(s *ExecutionSnapshot) (*TaskGraph, bool) {
	if s == nil || len(s.Nodes) == 0 {
		return nil, false
	}

	g := &TaskGraph{ID: s.GraphID, Nodes: make([]TaskGraphNode, 0, len(s.Nodes))}
	for _, node := range s.Nodes {
		if strings.TrimSpace(node.Agent) == "" {
			return nil, false
		}
		g.Nodes = append(g.Nodes, TaskGraphNode{
			ID:                node.NodeID,
			Agent:             node.Agent,
			DependsOn:         append([]string(nil), node.DependsOn...),
			Input:             node.Input,
			Retry:             node.Retry,
			CompensationAgent: node.CompensationAgent,
		})
	}

	if err := Validate(g); err != nil {
		return nil, false
	}
	if s.GraphSignature != "" && Signature(g) != s.GraphSignature {
		return nil, false
	}
	return g, true
}

// IsRestartable reports whether a stored node may run again on resume
// without having failed: it never settled, or was skipped by cancellation
// or timeout.
func IsRestartable(r NodeResult) bool {
	switch r.Status {
	case NodePending, NodeRunning:
		return true
	case NodeSkipped:
		return r.Error == SkipReasonCanceled || r.Error == SkipReasonTimeout
	default:
		return false
	}
}
