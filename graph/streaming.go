package graph

import "context"

// StreamMode defines the mode of streaming
type StreamMode string

const (
	// StreamModeValues emits the merged state after each node and the terminal event
	StreamModeValues StreamMode = "values"
	// StreamModeDebug emits all events (default)
	StreamModeDebug StreamMode = "debug"
)

// StreamConfig configures streaming behavior
type StreamConfig struct {
	// BufferSize is the size of the event channel buffer
	BufferSize int

	// Mode specifies what kind of events to stream
	Mode StreamMode
}

// DefaultStreamConfig returns the default streaming configuration
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BufferSize: 64,
		Mode:       StreamModeDebug,
	}
}

func (c StreamConfig) wants(t EventType) bool {
	if c.Mode != StreamModeValues {
		return true
	}
	return t == EventNodeEnd || t == EventRunEnd
}

// Stream runs the graph in a goroutine and returns its events. The channel is
// closed after the EventRunEnd event. Callers must drain the channel or cancel ctx.
func (g *CompiledGraph) Stream(ctx context.Context, input State, config *Config) <-chan Event {
	return g.StreamWithConfig(ctx, input, config, DefaultStreamConfig())
}

// StreamWithConfig is Stream with explicit buffering and filtering.
func (g *CompiledGraph) StreamWithConfig(ctx context.Context, input State, config *Config, sc StreamConfig) <-chan Event {
	if sc.BufferSize < 0 {
		sc.BufferSize = 0
	}
	events := make(chan Event, sc.BufferSize)
	go func() {
		defer close(events)
		_, _ = g.run(ctx, input, config, func(e Event) {
			if !sc.wants(e.Type) {
				return
			}
			select {
			case events <- e:
			case <-ctx.Done():
			}
		})
	}()
	return events
}
