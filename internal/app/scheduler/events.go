package scheduler

import (
	"time"

	"agentgraph/internal/domain/graph"
)

// EventType identifies the kind of lifecycle notification.
type EventType string

const (
	// EventNodeStarted indicates a node was launched.
	EventNodeStarted EventType = "node_started"
	// EventNodeSucceeded indicates a node settled successfully.
	EventNodeSucceeded EventType = "node_succeeded"
	// EventNodeFailed indicates a node settled failed.
	EventNodeFailed EventType = "node_failed"
	// EventNodeSkipped indicates a node was skipped without execution.
	EventNodeSkipped EventType = "node_skipped"
	// EventGraphCompleted is emitted once with the final status.
	EventGraphCompleted EventType = "graph_completed"
)

// Event represents a graph run lifecycle notification.
type Event struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	GraphID   string            `json:"graphId"`
	NodeID    string            `json:"nodeId,omitempty"`
	Result    *graph.NodeResult `json:"result,omitempty"`
	Status    graph.Status      `json:"status,omitempty"`
}

// Listener receives lifecycle events. Events are delivered from the
// scheduling loop goroutine, one at a time, in order.
type Listener interface {
	OnGraphEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnGraphEvent(e Event) { f(e) }

func nodeEventType(status graph.NodeStatus) EventType {
	switch status {
	case graph.NodeSucceeded:
		return EventNodeSucceeded
	case graph.NodeSkipped:
		return EventNodeSkipped
	default:
		return EventNodeFailed
	}
}
