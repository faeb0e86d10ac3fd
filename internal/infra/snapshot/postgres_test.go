package snapshot

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"agentgraph/internal/domain/graph"
	jsonx "agentgraph/internal/shared/json"

	"github.com/jackc/pgx/v5/pgxpool"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var snapshotColumns = []string{
	"id", "graph_id", "graph_signature", "task_id", "session_id", "status",
	"execution_order", "nodes", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewPostgresStore(mock)
	require.NoError(t, err)
	return store, mock
}

func snapshotRow(t *testing.T, rows *pgxmock.Rows, s graph.ExecutionSnapshot) *pgxmock.Rows {
	t.Helper()
	order, err := jsonx.Marshal(s.ExecutionOrder)
	require.NoError(t, err)
	nodes, err := jsonx.Marshal(s.Nodes)
	require.NoError(t, err)
	return rows.AddRow(s.ID, s.GraphID, s.GraphSignature, s.TaskID, s.SessionID, string(s.Status), order, nodes, s.CreatedAt, s.UpdatedAt)
}

func TestNewPostgresStoreRequiresPool(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}

func TestPostgresEnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS graph_execution_snapshots").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_graph_execution_snapshots_task").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_graph_execution_snapshots_updated").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveUpserts(t *testing.T) {
	store, mock := newMockStore(t)
	s := snapshotAt("snap-1", "task-1", base)

	mock.ExpectExec("INSERT INTO graph_execution_snapshots").WithArgs(
		s.ID, s.GraphID, s.GraphSignature, s.TaskID, s.SessionID, "running",
		pgxmock.AnyArg(), pgxmock.AnyArg(), base, base,
	).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), s))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveWrapsErrors(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO graph_execution_snapshots").WillReturnError(boom)

	err := store.Save(context.Background(), snapshotAt("snap-1", "task-1", base))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, store.Save(context.Background(), graph.ExecutionSnapshot{}), ErrInvalidSnapshot)
}

func TestPostgresGet(t *testing.T) {
	store, mock := newMockStore(t)
	want := snapshotAt("snap-1", "task-1", base)
	mock.ExpectQuery("SELECT id, graph_id").WithArgs("snap-1").
		WillReturnRows(snapshotRow(t, pgxmock.NewRows(snapshotColumns), want))

	got, err := store.Get(context.Background(), "snap-1")
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, graph_id").WithArgs("nope").
		WillReturnRows(pgxmock.NewRows(snapshotColumns))

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
}

func TestPostgresListByTask(t *testing.T) {
	store, mock := newMockStore(t)
	rows := pgxmock.NewRows(snapshotColumns)
	snapshotRow(t, rows, snapshotAt("newer", "task-1", base.Add(time.Hour)))
	snapshotRow(t, rows, snapshotAt("older", "task-1", base))
	mock.ExpectQuery("SELECT id, graph_id .* WHERE task_id = \\$1\\s+ORDER BY updated_at DESC").
		WithArgs("task-1").WillReturnRows(rows)

	list, err := store.ListByTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"newer", "older"}, ids(list))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCleanup(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := base.Add(-24 * time.Hour)
	mock.ExpectQuery("WITH ranked AS").WithArgs(2, cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("a-0").AddRow("b-stale"))

	result, err := store.Cleanup(context.Background(), graph.CleanupPolicy{MaxSnapshotsPerTask: 2, StaleBefore: cutoff})
	require.NoError(t, err)
	assert.Equal(t, graph.CleanupResult{DeletedCount: 2, DeletedIDs: []string{"a-0", "b-stale"}}, result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCleanupCapOnly(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("WITH ranked AS").WithArgs(3, nil).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	result, err := store.Cleanup(context.Background(), graph.CleanupPolicy{MaxSnapshotsPerTask: 3})
	require.NoError(t, err)
	assert.Zero(t, result.DeletedCount)
	assert.Equal(t, []string{}, result.DeletedIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCleanupZeroPolicySkipsQuery(t *testing.T) {
	store, mock := newMockStore(t)

	result, err := store.Cleanup(context.Background(), graph.CleanupPolicy{})
	require.NoError(t, err)
	assert.Zero(t, result.DeletedCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresStoreLive runs the shared contract against a real database when
// TEST_DATABASE_URL is set.
func TestPostgresStoreLive(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store, err := NewPostgresStore(pool)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))
	_, err = pool.Exec(ctx, `DELETE FROM graph_execution_snapshots WHERE task_id LIKE 'live-%'`)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, snapshotAt("live-old", "live-task", base)))
	require.NoError(t, store.Save(ctx, snapshotAt("live-new", "live-task", base.Add(time.Hour))))

	list, err := store.ListByTask(ctx, "live-task")
	require.NoError(t, err)
	assert.Equal(t, []string{"live-new", "live-old"}, ids(list))

	result, err := store.Cleanup(ctx, graph.CleanupPolicy{MaxSnapshotsPerTask: 1})
	require.NoError(t, err)
	assert.Contains(t, result.DeletedIDs, "live-old")
	_, err = store.Get(ctx, "live-old")
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
}
