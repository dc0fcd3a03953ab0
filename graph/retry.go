package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// RetryConfig configures retry behavior for nodes
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	Jitter          float64
	RetryableErrors func(error) bool // Determines if an error should trigger retry
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: func(_ error) bool {
			return true
		},
	}
}

func (c *RetryConfig) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	if c.BackoffFactor > 0 {
		b.Multiplier = c.BackoffFactor
	}
	b.RandomizationFactor = c.Jitter
	// attempts bound the loop, not elapsed time
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// WithRetry wraps fn so failed attempts are retried with exponential backoff.
// The executor itself never retries; this is opt-in per node.
func WithRetry(name string, fn NodeFunc, config *RetryConfig) NodeFunc {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return func(ctx context.Context, state State) (State, error) {
		b := config.backOff()
		var lastErr error
		for attempt := 1; ; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("retry cancelled: %w", err)
			}

			result, err := fn(ctx, state)
			if err == nil {
				return result, nil
			}
			lastErr = err

			if config.RetryableErrors != nil && !config.RetryableErrors(err) {
				return nil, fmt.Errorf("non-retryable error in %s: %w", name, err)
			}
			if attempt >= config.MaxAttempts {
				break
			}

			delay := b.NextBackOff()
			if delay == backoff.Stop {
				break
			}
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
			}
		}
		return nil, fmt.Errorf("max retries (%d) exceeded for %s: %w", config.MaxAttempts, name, lastErr)
	}
}

// WithTimeout wraps fn so each call is bounded by timeout.
func WithTimeout(name string, fn NodeFunc, timeout time.Duration) NodeFunc {
	return func(ctx context.Context, state State) (State, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type result struct {
			state State
			err   error
		}
		done := make(chan result, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- result{err: fmt.Errorf("panic: %v", r)}
				}
			}()
			s, err := fn(ctx, state)
			done <- result{s, err}
		}()

		select {
		case r := <-done:
			return r.state, r.err
		case <-ctx.Done():
			return nil, fmt.Errorf("node %s timed out after %v: %w", name, timeout, ctx.Err())
		}
	}
}

// AddNodeWithRetry adds a node with retry logic
func (g *StateGraph) AddNodeWithRetry(name, description string, fn NodeFunc, config *RetryConfig) error {
	return g.AddNode(name, description, WithRetry(name, fn, config))
}

// AddNodeWithTimeout adds a node with timeout logic
func (g *StateGraph) AddNodeWithTimeout(name, description string, fn NodeFunc, timeout time.Duration) error {
	return g.AddNode(name, description, WithTimeout(name, fn, timeout))
}
