package graph

import (
	"context"
	"sort"
	"time"
)

// SnapshotStore persists execution snapshots.
type SnapshotStore interface {
	// Save upserts s by id.
	Save(ctx context.Context, s ExecutionSnapshot) error
	// Get returns ErrSnapshotNotFound when id is unknown.
	Get(ctx context.Context, id string) (*ExecutionSnapshot, error)
	// ListByTask returns the task's snapshots, most recently updated first.
	ListByTask(ctx context.Context, taskID string) ([]ExecutionSnapshot, error)
	// Cleanup applies the retention policy and reports what was removed.
	Cleanup(ctx context.Context, policy CleanupPolicy) (CleanupResult, error)
}

// CleanupPolicy bounds snapshot retention. Zero values disable a bound.
type CleanupPolicy struct {
	MaxSnapshotsPerTask int
	StaleBefore         time.Time
}

// IsZero reports whether the policy would delete nothing.
func (p CleanupPolicy) IsZero() bool {
	return p.MaxSnapshotsPerTask <= 0 && p.StaleBefore.IsZero()
}

// CleanupResult lists the snapshot ids a cleanup removed.
type CleanupResult struct {
	DeletedCount int      `json:"deletedCount"`
	DeletedIDs   []string `json:"deletedIds"`
}

// SortByRecency orders snapshots most recently updated first. Ties fall back
// to createdAt, then id, both descending, so the order is total.
func SortByRecency(snapshots []ExecutionSnapshot) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		return newerThan(snapshots[i], snapshots[j])
	})
}

func newerThan(a, b ExecutionSnapshot) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// SelectForCleanup returns the ids policy removes from snapshots: per task,
// everything past the MaxSnapshotsPerTask most recent, plus any snapshot last
// updated before StaleBefore. Ids are returned in input order.
func SelectForCleanup(snapshots []ExecutionSnapshot, policy CleanupPolicy) []string {
	if policy.IsZero() || len(snapshots) == 0 {
		return nil
	}

	doomed := make(map[string]struct{})
	if !policy.StaleBefore.IsZero() {
		for _, s := range snapshots {
			if s.UpdatedAt.Before(policy.StaleBefore) {
				doomed[s.ID] = struct{}{}
			}
		}
	}

	if policy.MaxSnapshotsPerTask > 0 {
		byTask := make(map[string][]ExecutionSnapshot)
		for _, s := range snapshots {
			byTask[s.TaskID] = append(byTask[s.TaskID], s)
		}
		for _, group := range byTask {
			if len(group) <= policy.MaxSnapshotsPerTask {
				continue
			}
			SortByRecency(group)
			for _, s := range group[policy.MaxSnapshotsPerTask:] {
				doomed[s.ID] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(doomed))
	for _, s := range snapshots {
		if _, ok := doomed[s.ID]; ok {
			ids = append(ids, s.ID)
		}
	}
	return ids
}
