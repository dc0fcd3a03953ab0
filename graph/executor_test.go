package graph_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/ragflow/graph"
	"github.com/smallnest/ragflow/log"
	"github.com/smallnest/ragflow/store"
	"github.com/smallnest/ragflow/store/memory"
)

var quiet = graph.WithLogger(&log.NoOpLogger{})

func TestRun_RetrieveThenAnswer(t *testing.T) {
	t.Parallel()

	schema := graph.MustStateSchema(graph.AppendField("context"), graph.ReplaceField("answer"))
	g := graph.NewStateGraph(schema)
	require.NoError(t, g.AddNode("retrieve", "retrieve documents", func(_ context.Context, _ graph.State) (graph.State, error) {
		return graph.State{"context": "doc1"}, nil
	}))
	require.NoError(t, g.AddNode("answer", "answer from context", func(_ context.Context, s graph.State) (graph.State, error) {
		docs := s["context"].([]string)
		return graph.State{"answer": docs[0] + "-derived-answer"}, nil
	}))
	require.NoError(t, g.AddEdge("retrieve", "answer"))
	require.NoError(t, g.AddEdge("answer", graph.END))
	g.SetEntryPoint("retrieve")

	cg, err := g.Compile(quiet)
	require.NoError(t, err)

	res, err := cg.Run(context.Background(), graph.State{"context": []string{}, "answer": ""}, nil)
	require.NoError(t, err)
	assert.Equal(t, graph.ReachedEnd, res.Reason)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, "answer", res.LastNode)
	assert.Equal(t, graph.State{"context": []string{"doc1"}, "answer": "doc1-derived-answer"}, res.State)
}

func TestRun_TwoCycleStopsAtRecursionLimit(t *testing.T) {
	t.Parallel()

	for _, limit := range []int{1, 2, 5, 8} {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			t.Parallel()
			executions := 0
			count := func(_ context.Context, _ graph.State) (graph.State, error) {
				executions++
				return graph.State{"hops": executions}, nil
			}
			g := graph.NewStateGraph(graph.MustStateSchema(graph.ReplaceField("hops")))
			require.NoError(t, g.AddNode("ping", "", count))
			require.NoError(t, g.AddNode("pong", "", count))
			require.NoError(t, g.AddEdge("ping", "pong"))
			require.NoError(t, g.AddEdge("pong", "ping"))
			g.SetEntryPoint("ping")
			cg, err := g.Compile(quiet)
			require.NoError(t, err)

			res, err := cg.Run(context.Background(), nil, &graph.Config{RecursionLimit: limit})
			require.Error(t, err)
			assert.ErrorIs(t, err, graph.ErrRecursionLimitExceeded)
			assert.NotErrorIs(t, err, graph.ErrNodeFailed)

			var rl *graph.RecursionLimitError
			require.True(t, errors.As(err, &rl))
			assert.Equal(t, limit, rl.Limit)

			assert.Equal(t, limit, executions)
			assert.Equal(t, graph.RecursionLimitExceeded, res.Reason)
			assert.Equal(t, limit, res.Steps)
			assert.Equal(t, limit, res.State["hops"])
		})
	}
}

func TestRun_CheckLoopRunsExactlyLimitTimes(t *testing.T) {
	t.Parallel()

	checks := 0
	g := graph.NewStateGraph(graph.MustStateSchema(graph.ReplaceField("verdict")))
	require.NoError(t, g.AddNode("check", "", func(_ context.Context, _ graph.State) (graph.State, error) {
		checks++
		return graph.State{"verdict": "no"}, nil
	}))
	require.NoError(t, g.AddConditionalEdges("check",
		graph.Enum(func(_ context.Context, _ graph.State) (string, error) { return "no", nil }, "yes", "no"),
		map[string]string{"yes": graph.END, "no": "check"},
	))
	g.SetEntryPoint("check")
	cg, err := g.Compile(quiet)
	require.NoError(t, err)

	res, err := cg.Run(context.Background(), nil, &graph.Config{RecursionLimit: 5})
	require.ErrorIs(t, err, graph.ErrRecursionLimitExceeded)
	assert.Equal(t, graph.RecursionLimitExceeded, res.Reason)
	assert.Equal(t, 5, res.Steps)
	assert.Equal(t, 5, checks)
}

func TestRun_DefaultRecursionLimit(t *testing.T) {
	t.Parallel()

	build := func(opts ...graph.CompileOption) *graph.CompiledGraph {
		g := graph.NewStateGraph(graph.MustStateSchema())
		require.NoError(t, g.AddNode("loop", "", func(context.Context, graph.State) (graph.State, error) { return nil, nil }))
		require.NoError(t, g.AddEdge("loop", "loop"))
		g.SetEntryPoint("loop")
		cg, err := g.Compile(append(opts, quiet)...)
		require.NoError(t, err)
		return cg
	}

	res, err := build().Run(context.Background(), nil, nil)
	require.ErrorIs(t, err, graph.ErrRecursionLimitExceeded)
	assert.Equal(t, graph.DefaultRecursionLimit, res.Steps)

	res, err = build(graph.WithDefaultRecursionLimit(3)).Run(context.Background(), nil, nil)
	require.ErrorIs(t, err, graph.ErrRecursionLimitExceeded)
	assert.Equal(t, 3, res.Steps)

	_, err = build().Run(context.Background(), nil, &graph.Config{RecursionLimit: -1})
	assert.ErrorIs(t, err, graph.ErrInvalidConfig)
}

// linear builds a -> b -> c -> END where each node records its own field.
func linear(t *testing.T, cs store.CheckpointStore, failC *bool) *graph.CompiledGraph {
	t.Helper()
	schema := graph.MustStateSchema(
		graph.ReplaceField("a"),
		graph.ReplaceField("b"),
		graph.ReplaceField("c"),
		graph.AppendField("trail"),
	)
	g := graph.NewStateGraph(schema)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, g.AddNode(name, "", func(_ context.Context, _ graph.State) (graph.State, error) {
			if name == "c" && failC != nil && *failC {
				return nil, errors.New("c is down")
			}
			return graph.State{name: name + "-done", "trail": name}, nil
		}))
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("c", graph.END))
	g.SetEntryPoint("a")
	cg, err := g.Compile(graph.WithCheckpointer(cs), quiet)
	require.NoError(t, err)
	return cg
}

func TestRun_CheckpointsEveryStep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs := memory.NewMemoryCheckpointStore()
	cg := linear(t, cs, nil)

	res, err := cg.Run(ctx, nil, graph.WithThreadID("t1"))
	require.NoError(t, err)
	assert.Equal(t, "t1", res.ThreadID)

	cps, err := cs.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, cps, 3)
	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, i, cps[i].Step)
		assert.Equal(t, name, cps[i].NodeName)
		assert.Equal(t, "loop", cps[i].Metadata["source"])
	}

	afterB, err := cs.Load(ctx, "t1", 1)
	require.NoError(t, err)
	assert.Equal(t, "b-done", afterB.State["b"])
	assert.NotContains(t, afterB.State, "c")
	assert.Equal(t, []string{"a", "b"}, afterB.State["trail"])
}

func TestRun_LoadLatestAfterFailureIsStateThroughB(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs := memory.NewMemoryCheckpointStore()
	failC := true
	cg := linear(t, cs, &failC)

	res, err := cg.Run(ctx, nil, graph.WithThreadID("t1"))
	require.ErrorIs(t, err, graph.ErrNodeFailed)
	assert.Equal(t, graph.NodeFailed, res.Reason)
	assert.Equal(t, "b", res.LastNode)

	var ne *graph.NodeError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "c", ne.Node)
	assert.Equal(t, 2, ne.Step)
	assert.EqualError(t, ne.Err, "c is down")

	latest, err := cs.LoadLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Step)
	assert.Equal(t, "b", latest.NodeName)
	assert.Equal(t, "a-done", latest.State["a"])
	assert.Equal(t, "b-done", latest.State["b"])
	assert.NotContains(t, latest.State, "c")

	// the next run continues with c instead of starting over
	failC = false
	res, err = cg.Run(ctx, nil, graph.WithThreadID("t1"))
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, "c-done", res.State["c"])
	assert.Equal(t, []string{"a", "b", "c"}, res.State["trail"])

	latest, err = cs.LoadLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Step)
}

func TestRun_UnroutableKeyKeepsLastCheckpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs := memory.NewMemoryCheckpointStore()

	g := graph.NewStateGraph(graph.MustStateSchema(graph.ReplaceField("n")))
	require.NoError(t, g.AddNode("count", "", func(context.Context, graph.State) (graph.State, error) {
		return graph.State{"n": 1}, nil
	}))
	require.NoError(t, g.AddConditionalEdges("count",
		graph.RouterFunc(func(context.Context, graph.State) (string, error) { return "sideways", nil }),
		map[string]string{"up": graph.END},
	))
	g.SetEntryPoint("count")
	cg, err := g.Compile(graph.WithCheckpointer(cs), quiet)
	require.NoError(t, err)

	res, err := cg.Run(ctx, nil, graph.WithThreadID("t"))
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrNodeFailed)
	assert.ErrorIs(t, err, graph.ErrUnroutableKey)
	assert.Equal(t, graph.NodeFailed, res.Reason)

	var uk *graph.UnroutableKeyError
	require.True(t, errors.As(err, &uk))
	assert.Equal(t, "count", uk.Node)
	assert.Equal(t, "sideways", uk.Key)

	cps, err := cs.List(ctx, "t")
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, map[string]any{"n": 1}, cps[0].State)
}

func TestRun_NodeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		fn    graph.NodeFunc
		cause error
	}{
		{
			name:  "error",
			fn:    func(context.Context, graph.State) (graph.State, error) { return nil, errors.New("boom") },
			cause: nil,
		},
		{
			name:  "panic",
			fn:    func(context.Context, graph.State) (graph.State, error) { panic("kaboom") },
			cause: nil,
		},
		{
			name:  "undeclared field",
			fn:    func(context.Context, graph.State) (graph.State, error) { return graph.State{"nope": 1}, nil },
			cause: graph.ErrSchemaViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graph.NewStateGraph(graph.MustStateSchema(graph.ReplaceField("ok")))
			require.NoError(t, g.AddNode("first", "", func(context.Context, graph.State) (graph.State, error) {
				return graph.State{"ok": true}, nil
			}))
			require.NoError(t, g.AddNode("broken", "", tt.fn))
			require.NoError(t, g.AddEdge("first", "broken"))
			require.NoError(t, g.AddEdge("broken", graph.END))
			g.SetEntryPoint("first")
			cg, err := g.Compile(quiet)
			require.NoError(t, err)

			state, err := cg.Invoke(context.Background(), nil)
			require.ErrorIs(t, err, graph.ErrNodeFailed)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
			var ne *graph.NodeError
			require.True(t, errors.As(err, &ne))
			assert.Equal(t, "broken", ne.Node)
			assert.Equal(t, 1, ne.Step)
			assert.Equal(t, true, state["ok"])
		})
	}
}

func TestRun_InputMustMatchSchema(t *testing.T) {
	t.Parallel()

	g := graph.NewStateGraph(graph.MustStateSchema(graph.ReplaceField("q")))
	require.NoError(t, g.AddNode("a", "", func(context.Context, graph.State) (graph.State, error) { return nil, nil }))
	require.NoError(t, g.AddEdge("a", graph.END))
	g.SetEntryPoint("a")
	cg, err := g.Compile(quiet)
	require.NoError(t, err)

	res, err := cg.Run(context.Background(), graph.State{"bogus": 1}, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, graph.ErrSchemaViolation)
}

func TestRun_NodesWorkOnCopies(t *testing.T) {
	t.Parallel()

	g := graph.NewStateGraph(graph.MustStateSchema(graph.AppendField("items"), graph.ReplaceField("meta")))
	require.NoError(t, g.AddNode("vandal", "", func(_ context.Context, s graph.State) (graph.State, error) {
		items := s["items"].([]string)
		items[0] = "overwritten"
		s["meta"].(map[string]any)["k"] = "changed"
		s["items"] = nil
		return graph.State{}, nil
	}))
	require.NoError(t, g.AddEdge("vandal", graph.END))
	g.SetEntryPoint("vandal")
	cg, err := g.Compile(quiet)
	require.NoError(t, err)

	input := graph.State{"items": []string{"original"}, "meta": map[string]any{"k": "v"}}
	out, err := cg.Invoke(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, []string{"original"}, out["items"])
	assert.Equal(t, map[string]any{"k": "v"}, out["meta"])
	assert.Equal(t, []string{"original"}, input["items"])
}

func TestRun_JoinOrderFollowsRoute(t *testing.T) {
	t.Parallel()

	schema := graph.MustStateSchema(graph.ReplaceField("question"), graph.AppendField("answers"), graph.ReplaceField("summary"))
	g := graph.NewStateGraph(schema)
	for _, model := range []string{"gpt", "claude"} {
		require.NoError(t, g.AddNode(model, "", func(context.Context, graph.State) (graph.State, error) {
			return graph.State{"answers": model + " says hi"}, nil
		}))
	}
	require.NoError(t, g.AddNode("sum_up", "", func(_ context.Context, s graph.State) (graph.State, error) {
		return graph.State{"summary": fmt.Sprint(s["answers"])}, nil
	}))
	require.NoError(t, g.AddEdge("gpt", "claude"))
	require.NoError(t, g.AddEdge("claude", "sum_up"))
	require.NoError(t, g.AddEdge("sum_up", graph.END))
	g.SetEntryPoint("gpt")
	cg, err := g.Compile(quiet)
	require.NoError(t, err)

	out, err := cg.Invoke(context.Background(), graph.State{"question": "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt says hi", "claude says hi"}, out["answers"])
	assert.Equal(t, "[gpt says hi claude says hi]", out["summary"])
}

func TestRun_MultiTurnThreadAccumulates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs := memory.NewMemoryCheckpointStore()

	g := graph.NewStateGraph(graph.MustStateSchema(graph.ReplaceField("question"), graph.AppendField("messages")))
	require.NoError(t, g.AddNode("chat", "", func(_ context.Context, s graph.State) (graph.State, error) {
		return graph.State{"messages": []string{"user: " + s.String("question"), "bot: ok"}}, nil
	}))
	require.NoError(t, g.AddEdge("chat", graph.END))
	g.SetEntryPoint("chat")
	cg, err := g.Compile(graph.WithCheckpointer(cs), quiet)
	require.NoError(t, err)

	_, err = cg.Run(ctx, graph.State{"question": "first"}, graph.WithThreadID("conv"))
	require.NoError(t, err)
	res, err := cg.Run(ctx, graph.State{"question": "second"}, graph.WithThreadID("conv"))
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, []string{"user: first", "bot: ok", "user: second", "bot: ok"}, res.State["messages"])

	cps, err := cs.List(ctx, "conv")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, 1, cps[1].Step)

	// other threads are untouched
	res, err = cg.Run(ctx, graph.State{"question": "solo"}, graph.WithThreadID("other"))
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Len(t, res.State["messages"], 2)
}

func TestRun_NewPassResetsPerPassFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs := memory.NewMemoryCheckpointStore()

	g := graph.NewStateGraph(graph.MustStateSchema(
		graph.ReplaceField("question"),
		graph.ReplaceField("tries").WithDefault(0).PerPass(),
		graph.AppendField("log"),
	))
	failCheck := true
	require.NoError(t, g.AddNode("bump", "", func(_ context.Context, s graph.State) (graph.State, error) {
		return graph.State{"tries": s.Int("tries") + 1, "log": s.String("question")}, nil
	}))
	require.NoError(t, g.AddNode("check", "", func(_ context.Context, s graph.State) (graph.State, error) {
		if failCheck {
			return nil, errors.New("check is down")
		}
		return graph.State{"log": "checked"}, nil
	}))
	require.NoError(t, g.AddEdge("bump", "check"))
	require.NoError(t, g.AddEdge("check", graph.END))
	g.SetEntryPoint("bump")
	cg, err := g.Compile(graph.WithCheckpointer(cs), quiet)
	require.NoError(t, err)

	_, err = cg.Run(ctx, graph.State{"question": "first"}, graph.WithThreadID("t1"))
	require.ErrorIs(t, err, graph.ErrNodeFailed)

	// resuming mid-pass keeps the counter
	failCheck = false
	res, err := cg.Run(ctx, nil, graph.WithThreadID("t1"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, 1, res.State.Int("tries"))

	// a new pass starts the counter over and keeps the log
	res, err = cg.Run(ctx, graph.State{"question": "second"}, graph.WithThreadID("t1"))
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, 1, res.State.Int("tries"))
	assert.Equal(t, []string{"first", "checked", "second", "checked"}, res.State["log"])
}

func TestRun_GeneratesThreadID(t *testing.T) {
	t.Parallel()
	cs := memory.NewMemoryCheckpointStore()
	cg := linear(t, cs, nil)

	res, err := cg.Run(context.Background(), nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.ThreadID)

	cps, err := cs.List(context.Background(), res.ThreadID)
	require.NoError(t, err)
	assert.Len(t, cps, 3)
}

func TestRun_ConfigIsVisibleToNodes(t *testing.T) {
	t.Parallel()

	var seen *graph.Config
	var model any
	g := graph.NewStateGraph(graph.MustStateSchema())
	require.NoError(t, g.AddNode("peek", "", func(ctx context.Context, _ graph.State) (graph.State, error) {
		seen = graph.GetConfig(ctx)
		model, _ = graph.Configurable(ctx, "model")
		return nil, nil
	}))
	require.NoError(t, g.AddEdge("peek", graph.END))
	g.SetEntryPoint("peek")
	cg, err := g.Compile(quiet)
	require.NoError(t, err)

	_, err = cg.Run(context.Background(), nil, &graph.Config{
		ThreadID:     "t9",
		Configurable: map[string]any{"model": "gpt-4o"},
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "t9", seen.ThreadID)
	assert.Equal(t, graph.DefaultRecursionLimit, seen.RecursionLimit)
	assert.Equal(t, "gpt-4o", model)

	assert.Nil(t, graph.GetConfig(context.Background()))
}

func TestRun_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	g := graph.NewStateGraph(graph.MustStateSchema())
	require.NoError(t, g.AddNode("first", "", func(context.Context, graph.State) (graph.State, error) {
		cancel()
		return nil, nil
	}))
	require.NoError(t, g.AddNode("second", "", func(context.Context, graph.State) (graph.State, error) {
		t.Error("second must not run")
		return nil, nil
	}))
	require.NoError(t, g.AddEdge("first", "second"))
	require.NoError(t, g.AddEdge("second", graph.END))
	g.SetEntryPoint("first")
	cg, err := g.Compile(quiet)
	require.NoError(t, err)

	res, err := cg.Run(ctx, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, graph.ErrNodeFailed)
	assert.Equal(t, 1, res.Steps)
}

func TestRun_ListenersSeeEveryEvent(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		events []string
	)
	listener := graph.NodeListenerFunc(func(_ context.Context, e graph.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, string(e.Type)+":"+e.Node)
	})

	cs := memory.NewMemoryCheckpointStore()
	schema := graph.MustStateSchema(graph.ReplaceField("x"))
	g := graph.NewStateGraph(schema)
	require.NoError(t, g.AddNode("one", "", func(context.Context, graph.State) (graph.State, error) {
		return graph.State{"x": 1}, nil
	}))
	require.NoError(t, g.AddEdge("one", graph.END))
	g.SetEntryPoint("one")
	cg, err := g.Compile(graph.WithCheckpointer(cs), graph.WithListeners(listener), quiet)
	require.NoError(t, err)

	_, err = cg.Run(context.Background(), nil, graph.WithThreadID("l"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"run_start:one",
		"node_start:one",
		"checkpoint:one",
		"node_end:one",
		"run_end:one",
	}, events)
}

func TestRun_TerminationReasonString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "reached_end", graph.ReachedEnd.String())
	assert.Equal(t, "recursion_limit_exceeded", graph.RecursionLimitExceeded.String())
	assert.Equal(t, "node_failed", graph.NodeFailed.String())
	assert.Equal(t, "none", graph.TerminationReason(0).String())
}
