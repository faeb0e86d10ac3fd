package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentgraph/internal/domain/graph"
	jsonx "agentgraph/internal/shared/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const snapshotTable = "graph_execution_snapshots"

// pool is the subset of pgxpool.Pool the store uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps snapshots in the graph_execution_snapshots table.
// Execution order and nodes are stored as JSONB.
type PostgresStore struct {
	pool pool
	now  func() time.Time
}

// NewPostgresStore builds a store on pool. Call EnsureSchema before use.
func NewPostgresStore(pool pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres snapshot store requires pool")
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// EnsureSchema creates the snapshot table and its indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + snapshotTable + ` (
    id TEXT PRIMARY KEY,
    graph_id TEXT NOT NULL,
    graph_signature TEXT NOT NULL,
    task_id TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    execution_order JSONB NOT NULL DEFAULT '[]'::jsonb,
    nodes JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_graph_execution_snapshots_task ON ` + snapshotTable + ` (task_id, updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_graph_execution_snapshots_updated ON ` + snapshotTable + ` (updated_at);`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure snapshot schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, snap graph.ExecutionSnapshot) error {
	snap, err := prepare(snap, s.now())
	if err != nil {
		return err
	}
	order, err := jsonx.Marshal(snap.ExecutionOrder)
	if err != nil {
		return fmt.Errorf("snapshot %s execution order: %w", snap.ID, err)
	}
	nodes, err := jsonx.Marshal(nonNilNodes(snap.Nodes))
	if err != nil {
		return fmt.Errorf("snapshot %s nodes: %w", snap.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO `+snapshotTable+` (
    id, graph_id, graph_signature, task_id, session_id, status,
    execution_order, nodes, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
    graph_id = EXCLUDED.graph_id,
    graph_signature = EXCLUDED.graph_signature,
    task_id = EXCLUDED.task_id,
    session_id = EXCLUDED.session_id,
    status = EXCLUDED.status,
    execution_order = EXCLUDED.execution_order,
    nodes = EXCLUDED.nodes,
    updated_at = EXCLUDED.updated_at;`,
		snap.ID,
		snap.GraphID,
		snap.GraphSignature,
		snap.TaskID,
		snap.SessionID,
		string(snap.Status),
		order,
		nodes,
		snap.CreatedAt.UTC(),
		snap.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

const selectColumns = `id, graph_id, graph_signature, task_id, session_id, status, execution_order, nodes, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*graph.ExecutionSnapshot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM `+snapshotTable+` WHERE id = $1`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return &snap, nil
}

func (s *PostgresStore) ListByTask(ctx context.Context, taskID string) ([]graph.ExecutionSnapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM `+snapshotTable+`
WHERE task_id = $1
ORDER BY updated_at DESC, created_at DESC, id DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []graph.ExecutionSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("list snapshots for task %s: %w", taskID, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots for task %s: %w", taskID, err)
	}
	return out, nil
}

// Cleanup deletes in one statement: rows ranked past the per-task cap and
// rows last updated before the stale cutoff.
func (s *PostgresStore) Cleanup(ctx context.Context, policy graph.CleanupPolicy) (graph.CleanupResult, error) {
	result := graph.CleanupResult{DeletedIDs: []string{}}
	if policy.IsZero() {
		return result, nil
	}

	var staleBefore any
	if !policy.StaleBefore.IsZero() {
		staleBefore = policy.StaleBefore.UTC()
	}

	rows, err := s.pool.Query(ctx, `
WITH ranked AS (
    SELECT id, updated_at,
           ROW_NUMBER() OVER (
               PARTITION BY task_id
               ORDER BY updated_at DESC, created_at DESC, id DESC
           ) AS recency
    FROM `+snapshotTable+`
)
DELETE FROM `+snapshotTable+` AS s
USING ranked
WHERE s.id = ranked.id
  AND (($1::int > 0 AND ranked.recency > $1::int)
       OR ($2::timestamptz IS NOT NULL AND ranked.updated_at < $2::timestamptz))
RETURNING s.id`, policy.MaxSnapshotsPerTask, staleBefore)
	if err != nil {
		return graph.CleanupResult{}, fmt.Errorf("cleanup snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return graph.CleanupResult{}, fmt.Errorf("cleanup snapshots: %w", err)
		}
		result.DeletedIDs = append(result.DeletedIDs, id)
	}
	if err := rows.Err(); err != nil {
		return graph.CleanupResult{}, fmt.Errorf("cleanup snapshots: %w", err)
	}
	result.DeletedCount = len(result.DeletedIDs)
	return result, nil
}

func scanSnapshot(row pgx.Row) (graph.ExecutionSnapshot, error) {
	var (
		snap   graph.ExecutionSnapshot
		status string
		order  []byte
		nodes  []byte
	)
	if err := row.Scan(
		&snap.ID,
		&snap.GraphID,
		&snap.GraphSignature,
		&snap.TaskID,
		&snap.SessionID,
		&status,
		&order,
		&nodes,
		&snap.CreatedAt,
		&snap.UpdatedAt,
	); err != nil {
		return graph.ExecutionSnapshot{}, err
	}
	snap.Status = graph.Status(status)
	if err := jsonx.Unmarshal(order, &snap.ExecutionOrder); err != nil {
		return graph.ExecutionSnapshot{}, fmt.Errorf("decode execution order of %s: %w", snap.ID, err)
	}
	if err := jsonx.Unmarshal(nodes, &snap.Nodes); err != nil {
		return graph.ExecutionSnapshot{}, fmt.Errorf("decode nodes of %s: %w", snap.ID, err)
	}
	if snap.ExecutionOrder == nil {
		snap.ExecutionOrder = []string{}
	}
	snap.CreatedAt = snap.CreatedAt.UTC()
	snap.UpdatedAt = snap.UpdatedAt.UTC()
	return snap, nil
}

func nonNilNodes(nodes []graph.SnapshotNode) []graph.SnapshotNode {
	if nodes == nil {
		return []graph.SnapshotNode{}
	}
	return nodes
}
