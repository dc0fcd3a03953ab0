package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/ragflow/store"
)

// StateSnapshot is the durable state of a thread as seen by the graph.
type StateSnapshot struct {
	ThreadID     string
	CheckpointID string
	Step         int
	// Node is the node whose execution produced the snapshot.
	Node   string
	Values State
	// Next is the node that follows Node, or END when the thread finished a pass.
	Next      string
	Metadata  map[string]any
	CreatedAt time.Time
}

func (g *CompiledGraph) snapshot(ctx context.Context, cp *store.Checkpoint) *StateSnapshot {
	s := &StateSnapshot{
		ThreadID:     cp.ThreadID,
		CheckpointID: cp.ID,
		Step:         cp.Step,
		Node:         cp.NodeName,
		Values:       State(cp.State),
		Metadata:     cp.Metadata,
		CreatedAt:    cp.Timestamp,
	}
	if idx, ok := g.index[cp.NodeName]; ok {
		if next, err := g.resolve(ctx, idx, s.Values); err == nil {
			s.Next = g.nameOf(next)
		}
	}
	return s
}

// GetState returns the latest checkpointed state of a thread.
func (g *CompiledGraph) GetState(ctx context.Context, threadID string) (*StateSnapshot, error) {
	if g.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	cp, err := g.checkpointer.LoadLatest(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return g.snapshot(ctx, cp), nil
}

// History returns every checkpoint of a thread, oldest first.
func (g *CompiledGraph) History(ctx context.Context, threadID string) ([]*StateSnapshot, error) {
	if g.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	cps, err := g.checkpointer.List(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	out := make([]*StateSnapshot, 0, len(cps))
	for _, cp := range cps {
		out = append(out, g.snapshot(ctx, cp))
	}
	return out, nil
}

// UpdateState merges values into the latest state of a thread and saves the
// result as if asNode had just run. The next run on the thread continues
// after asNode.
func (g *CompiledGraph) UpdateState(ctx context.Context, threadID, asNode string, values State) (*StateSnapshot, error) {
	if g.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	if _, ok := g.index[asNode]; !ok {
		return nil, graphErrorf(ErrUnknownNode, "%s", asNode)
	}

	var (
		current State
		seq     int
		err     error
	)
	latest, err := g.checkpointer.LoadLatest(ctx, threadID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if current, err = g.schema.Init(nil); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load latest checkpoint: %w", err)
	default:
		current, seq = State(latest.State), latest.Step+1
	}

	merged, err := g.schema.Merge(current, values)
	if err != nil {
		return nil, fmt.Errorf("failed to update state with schema: %w", err)
	}
	cp := &store.Checkpoint{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Step:      seq,
		NodeName:  asNode,
		State:     merged.Clone(),
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"source":     "update_state",
			"updated_by": asNode,
		},
	}
	if err := g.checkpointer.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return g.snapshot(ctx, cp), nil
}

func (g *CompiledGraph) saveCheckpoint(ctx context.Context, cfg *Config, seq, step int, node string, state State) (*store.Checkpoint, error) {
	metadata := make(map[string]any, len(cfg.Metadata)+3)
	maps.Copy(metadata, cfg.Metadata)
	metadata["source"] = "loop"
	metadata["run_step"] = step
	if len(cfg.Tags) > 0 {
		metadata["tags"] = cfg.Tags
	}
	cp := &store.Checkpoint{
		ID:        uuid.NewString(),
		ThreadID:  cfg.ThreadID,
		Step:      seq,
		NodeName:  node,
		State:     state.Clone(),
		Metadata:  metadata,
		Timestamp: time.Now(),
	}
	if err := g.checkpointer.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint at step %d: %w", seq, err)
	}
	return cp, nil
}
