package taskevents

import (
	"context"
	"errors"
	"fmt"

	"agentgraph/internal/domain/task"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const eventTable = "task_events"

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore appends events to the task_events table.
type PostgresStore struct {
	pool pool
}

// NewPostgresStore builds a store on pool.
func NewPostgresStore(pool pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres task event store requires pool")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + eventTable + ` (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload JSONB,
    occurred_at TIMESTAMPTZ NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_task_events_task ON ` + eventTable + ` (task_id, occurred_at);`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure task event schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event task.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	var payload any
	if len(event.PayloadJSON) > 0 {
		payload = []byte(event.PayloadJSON)
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO `+eventTable+` (id, task_id, event_type, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`,
		event.ID, event.TaskID, event.EventType, payload, event.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append task event %s: %w", event.ID, err)
	}
	return nil
}

// ListEvents returns the newest limit events (all when limit <= 0), oldest
// first.
func (s *PostgresStore) ListEvents(ctx context.Context, taskID string, limit int) ([]task.Event, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx, `
SELECT id, task_id, event_type, payload, occurred_at FROM (
    SELECT id, task_id, event_type, payload, occurred_at
    FROM `+eventTable+`
    WHERE task_id = $1
    ORDER BY occurred_at DESC, id DESC
    LIMIT $2
) recent
ORDER BY occurred_at ASC, id ASC`, taskID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
SELECT id, task_id, event_type, payload, occurred_at
FROM `+eventTable+`
WHERE task_id = $1
ORDER BY occurred_at ASC, id ASC`, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("list task events for %s: %w", taskID, err)
	}
	defer rows.Close()

	var events []task.Event
	for rows.Next() {
		var (
			event   task.Event
			payload []byte
		)
		if err := rows.Scan(&event.ID, &event.TaskID, &event.EventType, &payload, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		event.PayloadJSON = payload
		event.OccurredAt = event.OccurredAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list task events for %s: %w", taskID, err)
	}
	return events, nil
}
