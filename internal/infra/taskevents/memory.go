// Package taskevents stores the task audit trail.
package taskevents

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"agentgraph/internal/domain/task"
)

// MemoryStore keeps events in process memory. Events with an id already
// stored are ignored.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]task.Event
	seen   map[string]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]task.Event),
		seen:   make(map[string]struct{}),
	}
}

func (m *MemoryStore) EnsureSchema(context.Context) error { return nil }

func (m *MemoryStore) AppendEvent(ctx context.Context, event task.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}
	event.PayloadJSON = bytes.Clone(event.PayloadJSON)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[event.ID]; dup {
		return nil
	}
	m.seen[event.ID] = struct{}{}
	m.events[event.TaskID] = append(m.events[event.TaskID], event)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, taskID string, limit int) ([]task.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	events := append([]task.Event(nil), m.events[taskID]...)
	m.mu.RUnlock()

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	for i := range events {
		events[i].PayloadJSON = bytes.Clone(events[i].PayloadJSON)
	}
	return events, nil
}
