package snapshot

import (
	"context"
	"sync"
	"time"

	"agentgraph/internal/domain/graph"
)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]graph.ExecutionSnapshot
	now       func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]graph.ExecutionSnapshot),
		now:       time.Now,
	}
}

func (m *MemoryStore) Save(ctx context.Context, s graph.ExecutionSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := prepare(s, m.now())
	if err != nil {
		return err
	}
	copied, err := clone(s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.snapshots[s.ID] = copied
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*graph.ExecutionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	s, ok := m.snapshots[id]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	copied, err := clone(s)
	if err != nil {
		return nil, err
	}
	return &copied, nil
}

func (m *MemoryStore) ListByTask(ctx context.Context, taskID string) ([]graph.ExecutionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []graph.ExecutionSnapshot
	for _, s := range m.snapshots {
		if s.TaskID == taskID {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	for i := range out {
		copied, err := clone(out[i])
		if err != nil {
			return nil, err
		}
		out[i] = copied
	}
	graph.SortByRecency(out)
	return out, nil
}

func (m *MemoryStore) Cleanup(ctx context.Context, policy graph.CleanupPolicy) (graph.CleanupResult, error) {
	if err := ctx.Err(); err != nil {
		return graph.CleanupResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]graph.ExecutionSnapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		all = append(all, s)
	}
	graph.SortByRecency(all)

	ids := graph.SelectForCleanup(all, policy)
	for _, id := range ids {
		delete(m.snapshots, id)
	}
	return graph.CleanupResult{DeletedCount: len(ids), DeletedIDs: nonNil(ids)}, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
