package scheduler

import (
	"context"
	"time"

	"agentgraph/internal/domain/graph"
	"agentgraph/internal/shared/logging"
)

// snapshotCoordinator writes the run's progress to the store. Only the
// scheduling loop calls persist, so saves are serialized per run.
type snapshotCoordinator struct {
	store     graph.SnapshotStore
	id        string
	graphID   string
	signature string
	taskID    string
	sessionID string
	createdAt time.Time
	now       func() time.Time
	logger    logging.Logger
	metrics   *Metrics
}

// persist saves the current state. Failures are logged and counted; they do
// not abort the run. The save outlives ctx cancellation so a canceled run
// still records where it stopped.
func (c *snapshotCoordinator) persist(ctx context.Context, g *graph.TaskGraph, results []graph.NodeResult, order []string, status graph.Status) {
	if c == nil || c.store == nil {
		return
	}
	snapshot := graph.ExecutionSnapshot{
		ID:             c.id,
		GraphID:        c.graphID,
		GraphSignature: c.signature,
		TaskID:         c.taskID,
		SessionID:      c.sessionID,
		Status:         status,
		ExecutionOrder: append([]string{}, order...),
		Nodes:          graph.SnapshotNodes(g, results),
		CreatedAt:      c.createdAt,
		UpdatedAt:      c.now(),
	}
	if err := c.store.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		c.metrics.incSnapshotSaveFailure()
		c.logger.Warn("save snapshot %s (status %s): %v", c.id, status, err)
	}
}

func (c *snapshotCoordinator) snapshotID() string {
	if c == nil {
		return ""
	}
	return c.id
}

// reconcile seeds fresh results from a stored snapshot. Succeeded nodes keep
// their stored result; every other node starts over as pending.
func reconcile(g *graph.TaskGraph, snapshot graph.ExecutionSnapshot) []graph.NodeResult {
	stored := make(map[string]graph.NodeResult, len(snapshot.Nodes))
	for _, node := range snapshot.Nodes {
		stored[node.NodeID] = node.NodeResult
	}

	results := make([]graph.NodeResult, len(g.Nodes))
	for i, node := range g.Nodes {
		if prev, ok := stored[node.ID]; ok && prev.Status == graph.NodeSucceeded {
			prev.NodeID = node.ID
			results[i] = prev
			continue
		}
		results[i] = graph.NodeResult{NodeID: node.ID, Status: graph.NodePending}
	}
	return results
}
