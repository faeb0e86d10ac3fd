package graph

import "time"

// NodeStatus is the lifecycle state of one node within a run.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeSucceeded NodeStatus = "succeeded"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// IsTerminal reports whether the status can no longer change within a run.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeSucceeded, NodeFailed, NodeSkipped:
		return true
	default:
		return false
	}
}

// Status is the overall state of a run or snapshot.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// FailureClass records how a terminal failure was classified.
type FailureClass string

const (
	FailureRetryable    FailureClass = "retryable"
	FailureNonRetryable FailureClass = "non_retryable"
)

// Skip reasons recorded in NodeResult.Error.
const (
	SkipReasonCanceled         = "Graph canceled"
	SkipReasonTimeout          = "Graph timeout"
	SkipReasonDependencyFailed = "Dependency failed"
)

// TaskGraph is a set of nodes connected by dependsOn edges.
type TaskGraph struct {
	ID    string          `json:"id" yaml:"id"`
	Nodes []TaskGraphNode `json:"nodes" yaml:"nodes"`
}

// TaskGraphNode is one unit of work bound to an agent name. Nodes are never
// mutated during execution; results are tracked separately.
type TaskGraphNode struct {
	ID                string       `json:"id" yaml:"id"`
	Agent             string       `json:"agent" yaml:"agent"`
	DependsOn         []string     `json:"dependsOn,omitempty" yaml:"depends_on,omitempty"`
	Input             any          `json:"input,omitempty" yaml:"input,omitempty"`
	Retry             *RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
	CompensationAgent string       `json:"compensationAgent,omitempty" yaml:"compensation_agent,omitempty"`
}

// Node returns the node with id.
func (g *TaskGraph) Node(id string) (TaskGraphNode, bool) {
	if g == nil {
		return TaskGraphNode{}, false
	}
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return TaskGraphNode{}, false
}

// CompensationStatus is the outcome of a compensation run.
type CompensationStatus string

const (
	CompensationSucceeded CompensationStatus = "succeeded"
	CompensationFailed    CompensationStatus = "failed"
)

// CompensationResult is informational; it never changes the node's status.
type CompensationResult struct {
	Status CompensationStatus `json:"status"`
	Output any                `json:"output,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// NodeResult is the tracked outcome of a node within one run.
type NodeResult struct {
	NodeID       string              `json:"nodeId"`
	Status       NodeStatus          `json:"status"`
	Output       any                 `json:"output,omitempty"`
	Error        string              `json:"error,omitempty"`
	ErrorCode    string              `json:"errorCode,omitempty"`
	Attempts     int                 `json:"attempts"`
	FailureClass FailureClass        `json:"failureClass,omitempty"`
	Compensation *CompensationResult `json:"compensation,omitempty"`
}

// GraphExecutionResult is returned by Run and Resume. ExecutionOrder lists
// settled node ids; after a resume it starts with the stored order, so an id
// that ran again appears more than once.
type GraphExecutionResult struct {
	GraphID        string       `json:"graphId"`
	Status         Status       `json:"status"`
	ExecutionOrder []string     `json:"executionOrder"`
	Nodes          []NodeResult `json:"nodes"`
	SnapshotID     string       `json:"snapshotId,omitempty"`
}

// Node returns the result for id.
func (r *GraphExecutionResult) Node(id string) (NodeResult, bool) {
	if r == nil {
		return NodeResult{}, false
	}
	for _, node := range r.Nodes {
		if node.NodeID == id {
			return node, true
		}
	}
	return NodeResult{}, false
}

// SnapshotNode is a NodeResult plus the node structure needed to rebuild the
// graph from a snapshot alone.
type SnapshotNode struct {
	NodeResult
	Agent             string       `json:"agent,omitempty"`
	DependsOn         []string     `json:"dependsOn,omitempty"`
	Input             any          `json:"input,omitempty"`
	Retry             *RetryConfig `json:"retry,omitempty"`
	CompensationAgent string       `json:"compensationAgent,omitempty"`
}

// ExecutionSnapshot is the persisted progress of a run.
type ExecutionSnapshot struct {
	ID             string         `json:"id"`
	GraphID        string         `json:"graphId"`
	GraphSignature string         `json:"graphSignature"`
	TaskID         string         `json:"taskId"`
	SessionID      string         `json:"sessionId,omitempty"`
	Status         Status         `json:"status"`
	ExecutionOrder []string       `json:"executionOrder"`
	Nodes          []SnapshotNode `json:"nodes"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Node returns the stored node with id.
func (s *ExecutionSnapshot) Node(id string) (SnapshotNode, bool) {
	if s == nil {
		return SnapshotNode{}, false
	}
	for _, node := range s.Nodes {
		if node.NodeID == id {
			return node, true
		}
	}
	return SnapshotNode{}, false
}

// Results returns the NodeResult part of every stored node.
func (s *ExecutionSnapshot) Results() []NodeResult {
	if s == nil {
		return nil
	}
	out := make([]NodeResult, len(s.Nodes))
	for i, node := range s.Nodes {
		out[i] = node.NodeResult
	}
	return out
}
