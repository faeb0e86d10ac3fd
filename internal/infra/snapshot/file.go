package snapshot

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"agentgraph/internal/domain/graph"
	"agentgraph/internal/infra/filestore"
)

// FileStore persists snapshots as one JSON document under a directory.
type FileStore struct {
	coll *filestore.Collection[string, graph.ExecutionSnapshot]
	now  func() time.Time
}

// NewFileStore opens (or creates) the snapshot document in dir.
func NewFileStore(dir string) (*FileStore, error) {
	dir = filestore.ResolvePath(dir, "")
	if dir == "" {
		return nil, fmt.Errorf("snapshot file store requires a directory")
	}
	if err := filestore.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	coll := filestore.NewCollection[string, graph.ExecutionSnapshot](filestore.CollectionConfig{
		FilePath: filepath.Join(dir, "snapshots.json"),
		Name:     "snapshots",
	})
	if err := coll.Load(); err != nil {
		return nil, err
	}
	return &FileStore{coll: coll, now: time.Now}, nil
}

func (f *FileStore) Save(ctx context.Context, s graph.ExecutionSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := prepare(s, f.now())
	if err != nil {
		return err
	}
	copied, err := clone(s)
	if err != nil {
		return err
	}
	return f.coll.Put(s.ID, copied)
}

func (f *FileStore) Get(ctx context.Context, id string) (*graph.ExecutionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, ok := f.coll.Get(id)
	if !ok {
		return nil, notFound(id)
	}
	copied, err := clone(s)
	if err != nil {
		return nil, err
	}
	return &copied, nil
}

func (f *FileStore) ListByTask(ctx context.Context, taskID string) ([]graph.ExecutionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []graph.ExecutionSnapshot
	for _, s := range f.coll.Items() {
		if s.TaskID != taskID {
			continue
		}
		copied, err := clone(s)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	graph.SortByRecency(out)
	return out, nil
}

func (f *FileStore) Cleanup(ctx context.Context, policy graph.CleanupPolicy) (graph.CleanupResult, error) {
	if err := ctx.Err(); err != nil {
		return graph.CleanupResult{}, err
	}
	var ids []string
	err := f.coll.Mutate(func(items map[string]graph.ExecutionSnapshot) error {
		all := make([]graph.ExecutionSnapshot, 0, len(items))
		for _, s := range items {
			all = append(all, s)
		}
		graph.SortByRecency(all)
		ids = graph.SelectForCleanup(all, policy)
		for _, id := range ids {
			delete(items, id)
		}
		return nil
	})
	if err != nil {
		return graph.CleanupResult{}, err
	}
	return graph.CleanupResult{DeletedCount: len(ids), DeletedIDs: nonNil(ids)}, nil
}
