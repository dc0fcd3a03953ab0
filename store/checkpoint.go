package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a thread has no checkpoint (or none at the requested step).
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStepConflict is returned when a save does not advance the thread's step.
	ErrStepConflict = errors.New("checkpoint step conflict")
)

// Checkpoint represents the state of a thread after one node execution.
// Checkpoints are immutable once saved.
type Checkpoint struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	Step      int            `json:"step"`
	NodeName  string         `json:"node_name"`
	State     map[string]any `json:"state"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Validate checks the fields every backend relies on.
func (c *Checkpoint) Validate() error {
	if c == nil {
		return errors.New("checkpoint is nil")
	}
	if c.ThreadID == "" {
		return errors.New("checkpoint thread id is empty")
	}
	if c.Step < 0 {
		return fmt.Errorf("checkpoint step %d is negative", c.Step)
	}
	return nil
}

// Clone returns a copy that shares no mutable state with c.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.State = CloneState(c.State)
	if c.Metadata != nil {
		out.Metadata = CloneState(c.Metadata)
	}
	return &out
}

// CheckpointStore persists checkpoints keyed by (thread id, step).
// Saves are append-only: each save for a thread must carry a step strictly
// greater than every step already stored for that thread.
type CheckpointStore interface {
	// Save stores a checkpoint, or fails with ErrStepConflict.
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// LoadLatest returns the highest-step checkpoint of a thread, or ErrNotFound.
	LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error)

	// Load returns the checkpoint of a thread at a given step, or ErrNotFound.
	Load(ctx context.Context, threadID string, step int) (*Checkpoint, error)

	// List returns all checkpoints of a thread ordered by ascending step.
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Clear removes all checkpoints of a thread.
	Clear(ctx context.Context, threadID string) error
}

// StepConflict builds the error returned when step does not advance past latest.
func StepConflict(threadID string, step, latest int) error {
	return fmt.Errorf("%w: thread %s step %d is not after step %d", ErrStepConflict, threadID, step, latest)
}

// NotFound builds the error returned for a missing thread or step.
func NotFound(threadID string) error {
	return fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
}
