package snapshot

import (
	"context"
	"fmt"

	"agentgraph/internal/domain/graph"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 256

// CachedStore is a read-through LRU cache in front of another store. Writes
// go to the backing store first and refresh the cache on success.
type CachedStore struct {
	inner graph.SnapshotStore
	cache *lru.Cache[string, graph.ExecutionSnapshot]
}

// NewCachedStore wraps inner with a cache of size entries (256 when <= 0).
func NewCachedStore(inner graph.SnapshotStore, size int) (*CachedStore, error) {
	if inner == nil {
		return nil, fmt.Errorf("cached snapshot store requires a backing store")
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, graph.ExecutionSnapshot](size)
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	return &CachedStore{inner: inner, cache: cache}, nil
}

func (c *CachedStore) Save(ctx context.Context, s graph.ExecutionSnapshot) error {
	if err := c.inner.Save(ctx, s); err != nil {
		c.cache.Remove(s.ID)
		return err
	}
	copied, err := clone(s)
	if err != nil {
		c.cache.Remove(s.ID)
		return nil
	}
	// Backends fill missing timestamps; let the next Get read them back.
	if copied.CreatedAt.IsZero() || copied.UpdatedAt.IsZero() {
		c.cache.Remove(s.ID)
		return nil
	}
	c.cache.Add(s.ID, copied)
	return nil
}

func (c *CachedStore) Get(ctx context.Context, id string) (*graph.ExecutionSnapshot, error) {
	if cached, ok := c.cache.Get(id); ok {
		copied, err := clone(cached)
		if err != nil {
			return nil, err
		}
		return &copied, nil
	}

	s, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if copied, err := clone(*s); err == nil {
		c.cache.Add(id, copied)
	}
	return s, nil
}

func (c *CachedStore) ListByTask(ctx context.Context, taskID string) ([]graph.ExecutionSnapshot, error) {
	return c.inner.ListByTask(ctx, taskID)
}

func (c *CachedStore) Cleanup(ctx context.Context, policy graph.CleanupPolicy) (graph.CleanupResult, error) {
	result, err := c.inner.Cleanup(ctx, policy)
	for _, id := range result.DeletedIDs {
		c.cache.Remove(id)
	}
	return result, err
}

// Len reports the number of cached snapshots.
func (c *CachedStore) Len() int {
	return c.cache.Len()
}
