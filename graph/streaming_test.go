package graph_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/ragflow/graph"
	"github.com/smallnest/ragflow/store/memory"
)

func collect(ch <-chan graph.Event) []graph.Event {
	var out []graph.Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestStream_EmitsStepsAndClosesAfterRunEnd(t *testing.T) {
	t.Parallel()
	cg := linear(t, memory.NewMemoryCheckpointStore(), nil)

	events := collect(cg.Stream(context.Background(), nil, graph.WithThreadID("s")))
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, graph.EventRunEnd, last.Type)
	assert.Equal(t, graph.ReachedEnd, last.Reason)
	assert.NoError(t, last.Err)
	assert.Equal(t, "c-done", last.State["c"])

	var ends []string
	checkpoints := 0
	for _, e := range events {
		assert.Equal(t, "s", e.ThreadID)
		switch e.Type {
		case graph.EventNodeEnd:
			ends = append(ends, e.Node)
		case graph.EventCheckpoint:
			require.NotNil(t, e.Checkpoint)
			checkpoints++
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, ends)
	assert.Equal(t, 3, checkpoints)
}

func TestStream_ValuesMode(t *testing.T) {
	t.Parallel()
	cg := linear(t, memory.NewMemoryCheckpointStore(), nil)

	events := collect(cg.StreamWithConfig(context.Background(), nil, nil, graph.StreamConfig{Mode: graph.StreamModeValues}))
	require.Len(t, events, 4)
	for _, e := range events[:3] {
		assert.Equal(t, graph.EventNodeEnd, e.Type)
	}
	assert.Equal(t, graph.EventRunEnd, events[3].Type)
}

func TestStream_ReportsFailure(t *testing.T) {
	t.Parallel()
	failC := true
	cg := linear(t, memory.NewMemoryCheckpointStore(), &failC)

	events := collect(cg.Stream(context.Background(), nil, nil))
	last := events[len(events)-1]
	assert.Equal(t, graph.EventRunEnd, last.Type)
	assert.Equal(t, graph.NodeFailed, last.Reason)
	assert.ErrorIs(t, last.Err, graph.ErrNodeFailed)

	var nodeErrors int
	for _, e := range events {
		if e.Type == graph.EventNodeError {
			nodeErrors++
			var ne *graph.NodeError
			assert.True(t, errors.As(e.Err, &ne))
			assert.Equal(t, "c", e.Node)
		}
	}
	assert.Equal(t, 1, nodeErrors)
}

func TestStream_BadInputStillEnds(t *testing.T) {
	t.Parallel()
	cg := linear(t, memory.NewMemoryCheckpointStore(), nil)

	events := collect(cg.Stream(context.Background(), graph.State{"bogus": true}, nil))
	require.Len(t, events, 1)
	assert.Equal(t, graph.EventRunEnd, events[0].Type)
	assert.ErrorIs(t, events[0].Err, graph.ErrSchemaViolation)
}
