package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/ragflow/store"
	"github.com/smallnest/ragflow/store/storetest"
)

func newTestStore(t *testing.T, path string) *SqliteCheckpointStore {
	t.Helper()
	s, err := NewSqliteCheckpointStore(SqliteOptions{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSqliteCheckpointStore_Contract(t *testing.T) {
	storetest.RunCheckpointStoreContract(t, func(t *testing.T) store.CheckpointStore {
		return newTestStore(t, filepath.Join(t.TempDir(), "checkpoints.db"))
	})
}

func TestSqliteCheckpointStore_InMemory(t *testing.T) {
	s := newTestStore(t, ":memory:")
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, storetest.Checkpoint("t1", 0, "retrieve")))
	require.NoError(t, s.Save(ctx, storetest.Checkpoint("t1", 1, "llm_answer")))

	list, err := s.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSqliteCheckpointStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	ctx := context.Background()

	first, err := NewSqliteCheckpointStore(SqliteOptions{Path: path, TableName: "runs"})
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, storetest.Checkpoint("t1", 0, "retrieve")))
	require.NoError(t, first.Close())

	second := newTestStore(t, path)
	_, err = second.LoadLatest(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound, "different table")

	third, err := NewSqliteCheckpointStore(SqliteOptions{Path: path, TableName: "runs"})
	require.NoError(t, err)
	defer third.Close()

	latest, err := third.LoadLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "retrieve", latest.NodeName)

	err = third.Save(ctx, storetest.Checkpoint("t1", 0, "again"))
	require.ErrorIs(t, err, store.ErrStepConflict)
	assert.Contains(t, err.Error(), "not after step 0")
}

func TestSqliteCheckpointStore_NilMetadata(t *testing.T) {
	s := newTestStore(t, ":memory:")
	ctx := context.Background()

	cp := storetest.Checkpoint("t1", 0, "a")
	cp.Metadata = nil
	require.NoError(t, s.Save(ctx, cp))

	loaded, err := s.Load(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Nil(t, loaded.Metadata)
}
