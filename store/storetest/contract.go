// Package storetest holds the behavior every store.CheckpointStore must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/ragflow/store"
)

// Checkpoint builds a checkpoint with JSON-stable values so stores that
// serialize can be compared with stores that don't.
func Checkpoint(threadID string, step int, node string) *store.Checkpoint {
	return &store.Checkpoint{
		ID:       fmt.Sprintf("%s-%d", threadID, step),
		ThreadID: threadID,
		Step:     step,
		NodeName: node,
		State: map[string]any{
			"question": "what is ragflow?",
			"context":  []any{"doc1", "doc2"},
			"attempts": float64(step),
		},
		Metadata:  map[string]any{"source": "loop"},
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// RunCheckpointStoreContract runs the shared checkpoint store behavior against
// stores produced by newStore. Each subtest gets a fresh store.
func RunCheckpointStoreContract(t *testing.T, newStore func(t *testing.T) store.CheckpointStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("load latest returns the highest step", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, Checkpoint("t1", 0, "retrieve")))
		require.NoError(t, s.Save(ctx, Checkpoint("t1", 1, "llm_answer")))
		require.NoError(t, s.Save(ctx, Checkpoint("t1", 5, "relevance_check")))

		latest, err := s.LoadLatest(ctx, "t1")
		require.NoError(t, err)
		want := Checkpoint("t1", 5, "relevance_check")
		assert.Equal(t, want.ID, latest.ID)
		assert.Equal(t, "t1", latest.ThreadID)
		assert.Equal(t, 5, latest.Step)
		assert.Equal(t, "relevance_check", latest.NodeName)
		assert.Equal(t, want.State, latest.State)
		assert.Equal(t, "loop", latest.Metadata["source"])
		assert.WithinDuration(t, want.Timestamp, latest.Timestamp, time.Second)
	})

	t.Run("missing thread is not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LoadLatest(ctx, "nobody")
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

		_, err = s.Load(ctx, "nobody", 0)
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

		list, err := s.List(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("steps must increase", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, Checkpoint("t1", 3, "a")))

		err := s.Save(ctx, Checkpoint("t1", 3, "b"))
		assert.True(t, errors.Is(err, store.ErrStepConflict), "got %v", err)
		err = s.Save(ctx, Checkpoint("t1", 1, "b"))
		assert.True(t, errors.Is(err, store.ErrStepConflict), "got %v", err)

		latest, err := s.LoadLatest(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "a", latest.NodeName)
	})

	t.Run("invalid checkpoints are rejected", func(t *testing.T) {
		s := newStore(t)
		assert.Error(t, s.Save(ctx, Checkpoint("", 0, "a")))
		assert.Error(t, s.Save(ctx, Checkpoint("t1", -1, "a")))
	})

	t.Run("list is ordered by step", func(t *testing.T) {
		s := newStore(t)
		for i, node := range []string{"a", "b", "c"} {
			require.NoError(t, s.Save(ctx, Checkpoint("t1", i*2, node)))
		}
		list, err := s.List(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, cp := range list {
			assert.Equal(t, i*2, cp.Step)
		}

		cp, err := s.Load(ctx, "t1", 2)
		require.NoError(t, err)
		assert.Equal(t, "b", cp.NodeName)

		_, err = s.Load(ctx, "t1", 3)
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	})

	t.Run("threads are isolated", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, Checkpoint("t1", 0, "a")))
		require.NoError(t, s.Save(ctx, Checkpoint("t2", 0, "b")))
		require.NoError(t, s.Save(ctx, Checkpoint("t2", 1, "c")))

		l1, err := s.List(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, l1, 1)

		latest, err := s.LoadLatest(ctx, "t2")
		require.NoError(t, err)
		assert.Equal(t, "c", latest.NodeName)
	})

	t.Run("clear removes a thread", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, Checkpoint("t1", 0, "a")))
		require.NoError(t, s.Save(ctx, Checkpoint("t2", 0, "b")))

		require.NoError(t, s.Clear(ctx, "t1"))
		_, err := s.LoadLatest(ctx, "t1")
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

		// a cleared thread starts over
		require.NoError(t, s.Save(ctx, Checkpoint("t1", 0, "again")))

		_, err = s.LoadLatest(ctx, "t2")
		assert.NoError(t, err)

		assert.NoError(t, s.Clear(ctx, "never-existed"))
	})

	t.Run("returned checkpoints are copies", func(t *testing.T) {
		s := newStore(t)
		cp := Checkpoint("t1", 0, "a")
		require.NoError(t, s.Save(ctx, cp))
		cp.State["question"] = "mutated after save"

		loaded, err := s.LoadLatest(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "what is ragflow?", loaded.State["question"])
		loaded.State["question"] = "mutated after load"

		again, err := s.LoadLatest(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "what is ragflow?", again.State["question"])
	})
}
