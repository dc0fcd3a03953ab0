package graph

import (
	"context"
	"time"

	"github.com/smallnest/ragflow/store"
)

// EventType identifies what happened during a run.
type EventType string

const (
	// EventRunStart is emitted once before the first node runs.
	EventRunStart EventType = "run_start"

	// EventNodeStart indicates a node has started execution
	EventNodeStart EventType = "node_start"

	// EventNodeEnd indicates a node has completed and its update was merged
	EventNodeEnd EventType = "node_end"

	// EventNodeError indicates a node step failed
	EventNodeError EventType = "node_error"

	// EventCheckpoint indicates a checkpoint was saved
	EventCheckpoint EventType = "checkpoint"

	// EventRunEnd is emitted once when the run terminates, whatever the reason.
	EventRunEnd EventType = "run_end"
)

// Event describes one step of a run.
type Event struct {
	Type      EventType
	ThreadID  string
	Node      string
	Step      int
	State     State
	Err       error
	Reason    TerminationReason
	Duration  time.Duration
	Timestamp time.Time

	// Checkpoint is set on EventCheckpoint.
	Checkpoint *store.Checkpoint
}

// NodeListener defines the interface for run event listeners.
// Listeners are called synchronously on the run's goroutine.
type NodeListener interface {
	// OnNodeEvent is called when an event occurs
	OnNodeEvent(ctx context.Context, event Event)
}

// NodeListenerFunc is a function adapter for NodeListener
type NodeListenerFunc func(ctx context.Context, event Event)

// OnNodeEvent implements the NodeListener interface
func (f NodeListenerFunc) OnNodeEvent(ctx context.Context, event Event) {
	f(ctx, event)
}
