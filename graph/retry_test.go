package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestWithRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		fn := WithRetry("flaky", func(context.Context, State) (State, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("transient")
			}
			return State{"ok": true}, nil
		}, fastRetry(5))

		out, err := fn(ctx, State{})
		require.NoError(t, err)
		assert.Equal(t, State{"ok": true}, out)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		cause := errors.New("down")
		fn := WithRetry("dead", func(context.Context, State) (State, error) {
			calls++
			return nil, cause
		}, fastRetry(3))

		_, err := fn(ctx, State{})
		assert.ErrorIs(t, err, cause)
		assert.ErrorContains(t, err, "max retries (3) exceeded for dead")
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non-retryable errors", func(t *testing.T) {
		calls := 0
		cfg := fastRetry(5)
		cfg.RetryableErrors = func(error) bool { return false }
		fn := WithRetry("strict", func(context.Context, State) (State, error) {
			calls++
			return nil, errors.New("bad input")
		}, cfg)

		_, err := fn(ctx, State{})
		assert.ErrorContains(t, err, "non-retryable error in strict")
		assert.Equal(t, 1, calls)
	})

	t.Run("honors cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		fn := WithRetry("x", func(context.Context, State) (State, error) {
			return nil, errors.New("never")
		}, nil)
		_, err := fn(cctx, State{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	slow := WithTimeout("slow", func(ctx context.Context, _ State) (State, error) {
		select {
		case <-time.After(time.Second):
			return State{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, 10*time.Millisecond)
	_, err := slow(ctx, State{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	fast := WithTimeout("fast", func(context.Context, State) (State, error) {
		return State{"done": true}, nil
	}, time.Second)
	out, err := fast(ctx, State{})
	require.NoError(t, err)
	assert.Equal(t, true, out["done"])

	panicky := WithTimeout("panicky", func(context.Context, State) (State, error) {
		panic("oops")
	}, time.Second)
	_, err = panicky(ctx, State{})
	assert.ErrorContains(t, err, "panic: oops")
}

func TestAddNodeWithRetry(t *testing.T) {
	t.Parallel()

	calls := 0
	g := NewStateGraph(MustStateSchema(ReplaceField("n")))
	require.NoError(t, g.AddNodeWithRetry("flaky", "", func(context.Context, State) (State, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("first call fails")
		}
		return State{"n": calls}, nil
	}, fastRetry(2)))
	require.NoError(t, g.AddNodeWithTimeout("bounded", "", func(context.Context, State) (State, error) {
		return nil, nil
	}, time.Second))
	require.NoError(t, g.AddEdge("flaky", "bounded"))
	require.NoError(t, g.AddEdge("bounded", END))
	g.SetEntryPoint("flaky")

	cg, err := g.Compile()
	require.NoError(t, err)
	out, err := cg.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out["n"])
}
