package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/ragflow/store"
)

// TerminationReason tells why a run stopped.
type TerminationReason int

const (
	// ReachedEnd means routing reached END.
	ReachedEnd TerminationReason = iota + 1
	// RecursionLimitExceeded means the step budget ran out first.
	RecursionLimitExceeded
	// NodeFailed means a node, its merge or its routing failed.
	NodeFailed
)

func (r TerminationReason) String() string {
	switch r {
	case ReachedEnd:
		return "reached_end"
	case RecursionLimitExceeded:
		return "recursion_limit_exceeded"
	case NodeFailed:
		return "node_failed"
	default:
		return "none"
	}
}

// Result is the outcome of a run.
type Result struct {
	// State is the last merged state. On failure it is the state before the failing step.
	State State
	// Steps counts the node executions completed by this run.
	Steps int
	// Reason is why the run terminated.
	Reason TerminationReason
	// LastNode is the last node whose update was merged.
	LastNode string
	// ThreadID is the thread the run checkpointed to, possibly generated.
	ThreadID string
	// Resumed is true when the run continued from an existing checkpoint.
	Resumed bool
}

// Invoke runs the graph with the default config and returns the final state.
func (g *CompiledGraph) Invoke(ctx context.Context, input State) (State, error) {
	return g.InvokeWithConfig(ctx, input, nil)
}

// InvokeWithConfig runs the graph and returns the final state.
// When the run stops early the state reached so far is returned with the error.
func (g *CompiledGraph) InvokeWithConfig(ctx context.Context, input State, config *Config) (State, error) {
	res, err := g.Run(ctx, input, config)
	if res == nil {
		return nil, err
	}
	return res.State, err
}

// Run executes the graph until END, the recursion limit or a failure.
// The returned Result is non-nil whenever at least the start of the run succeeded.
func (g *CompiledGraph) Run(ctx context.Context, input State, config *Config) (*Result, error) {
	return g.run(ctx, input, config, nil)
}

type runStart struct {
	state   State
	current int
	seq     int
	resumed bool
}

func (g *CompiledGraph) run(ctx context.Context, input State, config *Config, sink func(Event)) (*Result, error) {
	cfg := config.clone()
	if cfg.RecursionLimit == 0 {
		cfg.RecursionLimit = g.recursionLimit
	}
	if g.checkpointer != nil && cfg.ThreadID == "" {
		cfg.ThreadID = uuid.NewString()
	}
	ctx = WithConfig(ctx, cfg)

	emit := func(e Event) {
		e.ThreadID = cfg.ThreadID
		e.Timestamp = time.Now()
		for _, l := range g.listeners {
			l.OnNodeEvent(ctx, e)
		}
		if sink != nil {
			sink(e)
		}
	}

	if cfg.RecursionLimit < 0 {
		err := graphErrorf(ErrInvalidConfig, "recursion limit must be positive, got %d", cfg.RecursionLimit)
		emit(Event{Type: EventRunEnd, Err: err})
		return nil, err
	}

	start, err := g.start(ctx, input, cfg.ThreadID)
	if err != nil {
		g.logger.Error("run on thread %s could not start: %v", cfg.ThreadID, err)
		emit(Event{Type: EventRunEnd, Err: err})
		return nil, err
	}

	state, current, seq := start.state, start.current, start.seq
	res := &Result{State: state, ThreadID: cfg.ThreadID, Resumed: start.resumed}

	g.logger.Info("run started: thread=%s node=%s resumed=%t limit=%d",
		cfg.ThreadID, g.nameOf(current), start.resumed, cfg.RecursionLimit)
	emit(Event{Type: EventRunStart, Node: g.nameOf(current), State: state})

	finish := func(reason TerminationReason, err error) (*Result, error) {
		res.State = state
		res.Reason = reason
		emit(Event{Type: EventRunEnd, Node: res.LastNode, Step: res.Steps, State: state, Reason: reason, Err: err})
		if err != nil {
			g.logger.Warn("run on thread %s stopped after %d steps (%s): %v", cfg.ThreadID, res.Steps, reason, err)
		} else {
			g.logger.Info("run on thread %s finished after %d steps", cfg.ThreadID, res.Steps)
		}
		return res, err
	}

	fail := func(node string, step int, cause error, started time.Time) (*Result, error) {
		err := &NodeError{Node: node, Step: step, Err: cause}
		emit(Event{Type: EventNodeError, Node: node, Step: step, State: state, Err: err, Duration: time.Since(started)})
		return finish(NodeFailed, err)
	}

	for step := 0; ; step++ {
		node := &g.nodes[current]
		if step >= cfg.RecursionLimit {
			return finish(RecursionLimitExceeded, &RecursionLimitError{Limit: cfg.RecursionLimit, Node: node.name})
		}
		started := time.Now()
		if err := ctx.Err(); err != nil {
			return fail(node.name, step, err, started)
		}

		g.logger.Debug("step %d: running %s", step, node.name)
		emit(Event{Type: EventNodeStart, Node: node.name, Step: step, State: state})

		partial, err := g.execute(ctx, node, state)
		if err != nil {
			return fail(node.name, step, err, started)
		}
		merged, err := g.schema.Merge(state, partial)
		if err != nil {
			return fail(node.name, step, err, started)
		}
		state = merged
		res.Steps = step + 1
		res.LastNode = node.name

		if g.checkpointer != nil {
			cp, err := g.saveCheckpoint(ctx, cfg, seq, step, node.name, state)
			if err != nil {
				return fail(node.name, step, err, started)
			}
			seq++
			emit(Event{Type: EventCheckpoint, Node: node.name, Step: step, State: state, Checkpoint: cp})
		}
		emit(Event{Type: EventNodeEnd, Node: node.name, Step: step, State: state, Duration: time.Since(started)})

		next, err := g.resolve(ctx, current, state)
		if err != nil {
			return fail(node.name, step, err, started)
		}
		if next == endIndex {
			return finish(ReachedEnd, nil)
		}
		current = next
	}
}

// start decides where a run begins. Without a checkpoint the input is laid
// over the schema defaults and the entry node runs first. With one, the input
// is merged into the saved state and the run continues after the saved node,
// or from the entry node when that node had routed to END. A new pass from
// the entry node first resets the per-pass fields.
func (g *CompiledGraph) start(ctx context.Context, input State, threadID string) (runStart, error) {
	fresh := func(seq int) (runStart, error) {
		state, err := g.schema.Init(input)
		if err != nil {
			return runStart{}, err
		}
		return runStart{state: state, current: g.entry, seq: seq}, nil
	}
	if g.checkpointer == nil {
		return fresh(0)
	}

	latest, err := g.checkpointer.LoadLatest(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return fresh(0)
	}
	if err != nil {
		return runStart{}, fmt.Errorf("failed to load checkpoint of thread %s: %w", threadID, err)
	}

	idx, ok := g.index[latest.NodeName]
	if !ok {
		return runStart{}, graphErrorf(ErrUnknownNode, "thread %s was checkpointed by %s", threadID, latest.NodeName)
	}
	saved := State(latest.State)
	next, err := g.resolve(ctx, idx, saved)
	if err != nil {
		return runStart{}, fmt.Errorf("failed to resume thread %s after %s: %w", threadID, latest.NodeName, err)
	}
	if next == endIndex {
		next = g.entry
		saved = g.schema.ResetPass(saved)
	}
	state, err := g.schema.Merge(saved, input)
	if err != nil {
		return runStart{}, err
	}
	return runStart{state: state, current: next, seq: latest.Step + 1, resumed: true}, nil
}

// execute runs one node on a private copy of the state. Panics are turned into errors.
func (g *CompiledGraph) execute(ctx context.Context, node *compiledNode, state State) (partial State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return node.fn(ctx, state.Clone())
}
