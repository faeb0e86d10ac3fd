// Package snapshot provides graph.SnapshotStore backends.
package snapshot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"agentgraph/internal/domain/graph"
	jsonx "agentgraph/internal/shared/json"
)

// ErrInvalidSnapshot is returned by Save for snapshots without an id.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// prepare validates s and fills missing timestamps.
func prepare(s graph.ExecutionSnapshot, now time.Time) (graph.ExecutionSnapshot, error) {
	if strings.TrimSpace(s.ID) == "" {
		return s, fmt.Errorf("%w: id is required", ErrInvalidSnapshot)
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}
	if s.ExecutionOrder == nil {
		s.ExecutionOrder = []string{}
	}
	return s, nil
}

// clone deep-copies a snapshot so callers never share node outputs with the
// store.
func clone(s graph.ExecutionSnapshot) (graph.ExecutionSnapshot, error) {
	out, err := jsonx.Clone(s)
	if err != nil {
		return graph.ExecutionSnapshot{}, fmt.Errorf("copy snapshot %s: %w", s.ID, err)
	}
	return out, nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", graph.ErrSnapshotNotFound, id)
}
