package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Structural errors. They abort Run/Resume before any node executes.
var (
	ErrInvalidGraph              = errors.New("invalid task graph")
	ErrDuplicateNodeID           = errors.New("duplicate node id")
	ErrUnknownDependency         = errors.New("unknown dependency")
	ErrCycleDetected             = errors.New("dependency cycle detected")
	ErrSnapshotStructureMismatch = errors.New("snapshot graph structure mismatch")
)

// ErrSnapshotNotFound is returned by stores when no snapshot has the id.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// GraphError wraps deterministic graph validation failures.
type GraphError struct {
	Kind   error
	NodeID string
	Msg    string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func duplicateError(nodeID string) error {
	return &GraphError{Kind: ErrDuplicateNodeID, NodeID: nodeID, Msg: fmt.Sprintf("%q", nodeID)}
}

func unknownDependencyError(nodeID, dep string) error {
	return &GraphError{
		Kind:   ErrUnknownDependency,
		NodeID: nodeID,
		Msg:    fmt.Sprintf("node %q depends on %q", nodeID, dep),
	}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	nodeID := ""
	if len(path) > 0 {
		nodeID = path[0]
	}
	return &GraphError{Kind: ErrCycleDetected, NodeID: nodeID, Msg: msg}
}

// MismatchError reports a resume attempted against a graph whose structure
// differs from the one recorded in the snapshot.
func MismatchError(snapshotID, expected, actual string) error {
	return &GraphError{
		Kind: ErrSnapshotStructureMismatch,
		Msg:  fmt.Sprintf("snapshot %q recorded signature %s, graph has %s", snapshotID, expected, actual),
	}
}
