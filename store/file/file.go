// Package file stores checkpoints as JSON files, one directory per thread.
package file

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/smallnest/ragflow/store"
)

const ext = ".json"

// FileCheckpointStore keeps each checkpoint in <root>/<thread>/<step>.json.
// Thread ids are base64url-encoded so any id maps to a single safe directory.
type FileCheckpointStore struct {
	root string
	mu   sync.Mutex
}

var _ store.CheckpointStore = (*FileCheckpointStore)(nil)

// NewFileCheckpointStore creates the root directory if needed.
func NewFileCheckpointStore(root string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileCheckpointStore{root: root}, nil
}

func (s *FileCheckpointStore) threadDir(threadID string) string {
	return filepath.Join(s.root, base64.RawURLEncoding.EncodeToString([]byte(threadID)))
}

func stepFile(step int) string {
	return fmt.Sprintf("%020d%s", step, ext)
}

// steps returns the stored steps of a thread in ascending order.
func (s *FileCheckpointStore) steps(threadID string) ([]int, error) {
	entries, err := os.ReadDir(s.threadDir(threadID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read thread directory: %w", err)
	}
	var steps []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, "tmp-") {
			continue
		}
		step, err := strconv.Atoi(strings.TrimSuffix(name, ext))
		if err != nil {
			continue
		}
		steps = append(steps, step)
	}
	sort.Ints(steps)
	return steps, nil
}

// Save writes the checkpoint atomically (temp file, fsync, rename).
func (s *FileCheckpointStore) Save(_ context.Context, checkpoint *store.Checkpoint) error {
	if err := checkpoint.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	steps, err := s.steps(checkpoint.ThreadID)
	if err != nil {
		return err
	}
	if n := len(steps); n > 0 && steps[n-1] >= checkpoint.Step {
		return store.StepConflict(checkpoint.ThreadID, checkpoint.Step, steps[n-1])
	}

	dir := s.threadDir(checkpoint.ThreadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create thread directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "tmp-*"+ext)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, stepFile(checkpoint.Step))); err != nil {
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}
	return nil
}

func (s *FileCheckpointStore) read(threadID string, step int) (*store.Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(s.threadDir(threadID), stepFile(step)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.NotFound(threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var cp store.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// LoadLatest returns the highest-step checkpoint of a thread.
func (s *FileCheckpointStore) LoadLatest(_ context.Context, threadID string) (*store.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps, err := s.steps(threadID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, store.NotFound(threadID)
	}
	return s.read(threadID, steps[len(steps)-1])
}

// Load returns the checkpoint of a thread at step.
func (s *FileCheckpointStore) Load(_ context.Context, threadID string, step int) (*store.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if step < 0 {
		return nil, store.NotFound(threadID)
	}
	return s.read(threadID, step)
}

// List returns every checkpoint of a thread in step order.
func (s *FileCheckpointStore) List(_ context.Context, threadID string) ([]*store.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps, err := s.steps(threadID)
	if err != nil {
		return nil, err
	}
	out := make([]*store.Checkpoint, 0, len(steps))
	for _, step := range steps {
		cp, err := s.read(threadID, step)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Clear removes the thread directory.
func (s *FileCheckpointStore) Clear(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.threadDir(threadID)); err != nil {
		return fmt.Errorf("failed to clear thread: %w", err)
	}
	return nil
}
