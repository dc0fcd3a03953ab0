// Package memory provides an in-process checkpoint store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/smallnest/ragflow/store"
)

// MemoryCheckpointStore keeps checkpoints in memory, per thread, in step order.
type MemoryCheckpointStore struct {
	mu      sync.RWMutex
	threads map[string][]*store.Checkpoint
}

var _ store.CheckpointStore = (*MemoryCheckpointStore)(nil)

// NewMemoryCheckpointStore creates a new in-memory checkpoint store
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{threads: make(map[string][]*store.Checkpoint)}
}

// Save stores a copy of the checkpoint.
func (m *MemoryCheckpointStore) Save(_ context.Context, checkpoint *store.Checkpoint) error {
	if err := checkpoint.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.threads[checkpoint.ThreadID]
	if n := len(list); n > 0 && list[n-1].Step >= checkpoint.Step {
		return store.StepConflict(checkpoint.ThreadID, checkpoint.Step, list[n-1].Step)
	}
	m.threads[checkpoint.ThreadID] = append(list, checkpoint.Clone())
	return nil
}

// LoadLatest returns the highest-step checkpoint of a thread.
func (m *MemoryCheckpointStore) LoadLatest(_ context.Context, threadID string) (*store.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.threads[threadID]
	if len(list) == 0 {
		return nil, store.NotFound(threadID)
	}
	return list[len(list)-1].Clone(), nil
}

// Load returns the checkpoint of a thread at step.
func (m *MemoryCheckpointStore) Load(_ context.Context, threadID string, step int) (*store.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.threads[threadID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Step >= step })
	if i == len(list) || list[i].Step != step {
		return nil, store.NotFound(threadID)
	}
	return list[i].Clone(), nil
}

// List returns copies of every checkpoint of a thread.
func (m *MemoryCheckpointStore) List(_ context.Context, threadID string) ([]*store.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.threads[threadID]
	out := make([]*store.Checkpoint, 0, len(list))
	for _, cp := range list {
		out = append(out, cp.Clone())
	}
	return out, nil
}

// Clear removes all checkpoints of a thread.
func (m *MemoryCheckpointStore) Clear(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	return nil
}
