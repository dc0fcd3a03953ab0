package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/ragflow/store"
	"github.com/smallnest/ragflow/store/storetest"
)

var columns = []string{"id", "thread_id", "step", "node_name", "state", "metadata", "created_at"}

func newMockStore(t *testing.T) (*PostgresCheckpointStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresCheckpointStoreWithPool(mock, "checkpoints"), mock
}

func addRow(rows *pgxmock.Rows, cp *store.Checkpoint) *pgxmock.Rows {
	stateJSON, _ := json.Marshal(cp.State)
	metadataJSON, _ := json.Marshal(cp.Metadata)
	return rows.AddRow(cp.ID, cp.ThreadID, cp.Step, cp.NodeName, stateJSON, metadataJSON, cp.Timestamp)
}

func TestPostgresCheckpointStore_InitSchema(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS checkpoints")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Save(t *testing.T) {
	s, mock := newMockStore(t)
	cp := storetest.Checkpoint("t1", 2, "llm_answer")

	stateJSON, _ := json.Marshal(cp.State)
	metadataJSON, _ := json.Marshal(cp.Metadata)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs(cp.ID, "t1", 2, "llm_answer", stateJSON, metadataJSON, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Save(context.Background(), cp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Save_StepConflict(t *testing.T) {
	s, mock := newMockStore(t)
	cp := storetest.Checkpoint("t1", 2, "llm_answer")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs(pgxmock.AnyArg(), "t1", 2, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(step), -1) FROM checkpoints WHERE thread_id = $1")).
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(5))

	err := s.Save(context.Background(), cp)
	require.ErrorIs(t, err, store.ErrStepConflict)
	assert.Contains(t, err.Error(), "not after step 5")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Save_Invalid(t *testing.T) {
	s, mock := newMockStore(t)

	assert.Error(t, s.Save(context.Background(), storetest.Checkpoint("", 0, "a")))

	cp := storetest.Checkpoint("t1", 0, "a")
	cp.State["bad"] = make(chan int)
	err := s.Save(context.Background(), cp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal state")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Save_DatabaseError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WillReturnError(errors.New("connection refused"))

	err := s.Save(context.Background(), storetest.Checkpoint("t1", 0, "a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save checkpoint")
	assert.NotErrorIs(t, err, store.ErrStepConflict)
}

func TestPostgresCheckpointStore_LoadLatest(t *testing.T) {
	s, mock := newMockStore(t)
	want := storetest.Checkpoint("t1", 4, "relevance_check")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE thread_id = $1 ORDER BY step DESC LIMIT 1")).
		WithArgs("t1").
		WillReturnRows(addRow(pgxmock.NewRows(columns), want))

	got, err := s.LoadLatest(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, 4, got.Step)
	assert.Equal(t, "relevance_check", got.NodeName)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, "loop", got.Metadata["source"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_LoadLatest_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY step DESC LIMIT 1")).
		WithArgs("nobody").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.LoadLatest(context.Background(), "nobody")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Load(t *testing.T) {
	s, mock := newMockStore(t)
	want := storetest.Checkpoint("t1", 1, "retrieve")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE thread_id = $1 AND step = $2")).
		WithArgs("t1", 1).
		WillReturnRows(addRow(pgxmock.NewRows(columns), want))

	got, err := s.Load(context.Background(), "t1", 1)
	require.NoError(t, err)
	assert.Equal(t, "retrieve", got.NodeName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Load_Errors(t *testing.T) {
	t.Run("database error", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE thread_id = $1 AND step = $2")).
			WithArgs("t1", 0).
			WillReturnError(errors.New("database connection failed"))

		_, err := s.Load(context.Background(), "t1", 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load checkpoint")
		assert.NotErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("invalid state json", func(t *testing.T) {
		s, mock := newMockStore(t)
		rows := pgxmock.NewRows(columns).
			AddRow("id", "t1", 0, "a", []byte("{not json"), []byte("{}"), time.Now())
		mock.ExpectQuery(regexp.QuoteMeta("WHERE thread_id = $1 AND step = $2")).
			WithArgs("t1", 0).
			WillReturnRows(rows)

		_, err := s.Load(context.Background(), "t1", 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal state")
	})
}

func TestPostgresCheckpointStore_List(t *testing.T) {
	s, mock := newMockStore(t)

	rows := pgxmock.NewRows(columns)
	for i, node := range []string{"retrieve", "llm_answer", "relevance_check"} {
		addRow(rows, storetest.Checkpoint("t1", i, node))
	}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE thread_id = $1 ORDER BY step ASC")).
		WithArgs("t1").
		WillReturnRows(rows)

	list, err := s.List(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, cp := range list {
		assert.Equal(t, i, cp.Step)
	}
	assert.Equal(t, "relevance_check", list[2].NodeName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_List_Empty(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY step ASC")).
		WithArgs("nobody").
		WillReturnRows(pgxmock.NewRows(columns))

	list, err := s.List(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPostgresCheckpointStore_Clear(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoints WHERE thread_id = $1")).
		WithArgs("t1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, s.Clear(context.Background(), "t1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_DefaultTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "")
	assert.Equal(t, "checkpoints", s.tableName)
}
