package graph

import (
	"context"
	"maps"
	"slices"
)

// DefaultRecursionLimit is the number of node executions a run may perform
// when neither the Config nor the compile options say otherwise.
const DefaultRecursionLimit = 25

// Config is the per-run execution context.
type Config struct {
	// ThreadID partitions checkpoints. Runs with a checkpointer and no thread
	// id get a generated one.
	ThreadID string `json:"thread_id,omitempty"`

	// RecursionLimit caps node executions in one run. Zero means the default.
	RecursionLimit int `json:"recursion_limit,omitempty"`

	// Tags are copied into checkpoint metadata.
	Tags []string `json:"tags,omitempty"`

	// Metadata is copied into checkpoint metadata.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Configurable holds values nodes can read through GetConfig.
	Configurable map[string]any `json:"configurable,omitempty"`
}

// WithThreadID returns a Config bound to a thread.
func WithThreadID(threadID string) *Config {
	return &Config{ThreadID: threadID}
}

func (c *Config) clone() *Config {
	if c == nil {
		return &Config{}
	}
	out := *c
	out.Tags = slices.Clone(c.Tags)
	out.Metadata = maps.Clone(c.Metadata)
	out.Configurable = maps.Clone(c.Configurable)
	return &out
}

type configKey struct{}

// WithConfig adds the config to the context.
func WithConfig(ctx context.Context, config *Config) context.Context {
	return context.WithValue(ctx, configKey{}, config)
}

// GetConfig retrieves the config of the current run from the context.
func GetConfig(ctx context.Context) *Config {
	if config, ok := ctx.Value(configKey{}).(*Config); ok {
		return config
	}
	return nil
}

// Configurable returns a value from the Configurable map of the current run.
func Configurable(ctx context.Context, key string) (any, bool) {
	config := GetConfig(ctx)
	if config == nil {
		return nil, false
	}
	v, ok := config.Configurable[key]
	return v, ok
}
