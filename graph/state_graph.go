package graph

import (
	"context"
	"errors"
	"slices"

	"github.com/smallnest/ragflow/log"
	"github.com/smallnest/ragflow/store"
)

// StateGraph collects nodes and edges before Compile turns them into an
// immutable CompiledGraph. Add* methods return their error and also keep it,
// so a chain of calls can be checked once at Compile.
type StateGraph struct {
	schema     *StateSchema
	registry   *NodeRegistry
	edges      *EdgeTable
	entryPoint string
	errs       []error
}

// NewStateGraph creates a new builder over schema.
func NewStateGraph(schema *StateSchema) *StateGraph {
	return &StateGraph{
		schema:   schema,
		registry: NewNodeRegistry(),
		edges:    NewEdgeTable(),
	}
}

// AddNode adds a new node to the graph.
func (g *StateGraph) AddNode(name, description string, fn NodeFunc) error {
	return g.record(g.registry.Register(name, description, fn))
}

// AddEdge adds a direct edge between two nodes. to may be END.
func (g *StateGraph) AddEdge(from, to string) error {
	return g.record(g.edges.AddDirect(from, to))
}

// AddConditionalEdges routes from through router; mapping translates route keys
// into destination node ids (or END).
func (g *StateGraph) AddConditionalEdges(from string, router Router, mapping map[string]string) error {
	return g.record(g.edges.AddConditional(from, router, mapping))
}

// SetEntryPoint sets the entry point node name for the graph.
func (g *StateGraph) SetEntryPoint(name string) {
	g.entryPoint = name
}

func (g *StateGraph) record(err error) error {
	if err != nil {
		g.errs = append(g.errs, err)
	}
	return err
}

// CompileOption configures a CompiledGraph.
type CompileOption func(*compileOptions)

type compileOptions struct {
	checkpointer   store.CheckpointStore
	logger         log.Logger
	listeners      []NodeListener
	recursionLimit int
}

// WithCheckpointer persists a checkpoint after every node execution.
func WithCheckpointer(cs store.CheckpointStore) CompileOption {
	return func(o *compileOptions) {
		o.checkpointer = cs
	}
}

// WithLogger sets the logger used by runs. The package default is used otherwise.
func WithLogger(l log.Logger) CompileOption {
	return func(o *compileOptions) {
		o.logger = l
	}
}

// WithListeners registers listeners notified of every run event.
func WithListeners(listeners ...NodeListener) CompileOption {
	return func(o *compileOptions) {
		o.listeners = append(o.listeners, listeners...)
	}
}

// WithDefaultRecursionLimit sets the limit used when a run's Config leaves it at zero.
func WithDefaultRecursionLimit(limit int) CompileOption {
	return func(o *compileOptions) {
		o.recursionLimit = limit
	}
}

const endIndex = -1

type compiledEdge struct {
	direct int
	router Router
	routes map[string]int
}

type compiledNode struct {
	name        string
	description string
	fn          NodeFunc
	next        compiledEdge
}

// CompiledGraph is a validated graph ready to run. Node ids are interned into
// dense indices and the value is never modified after Compile, so it can serve
// concurrent runs on different threads.
type CompiledGraph struct {
	schema         *StateSchema
	nodes          []compiledNode
	index          map[string]int
	entry          int
	checkpointer   store.CheckpointStore
	logger         log.Logger
	listeners      []NodeListener
	recursionLimit int
}

// Compile validates the graph and returns an immutable CompiledGraph.
// All structural problems are reported together before anything runs.
func (g *StateGraph) Compile(opts ...CompileOption) (*CompiledGraph, error) {
	options := compileOptions{recursionLimit: DefaultRecursionLimit}
	for _, opt := range opts {
		opt(&options)
	}

	errs := slices.Clone(g.errs)
	if g.schema == nil {
		errs = append(errs, graphErrorf(ErrSchemaViolation, "state schema is required"))
	}
	if options.recursionLimit <= 0 {
		errs = append(errs, graphErrorf(ErrInvalidConfig, "recursion limit must be positive, got %d", options.recursionLimit))
	}
	switch {
	case g.entryPoint == "":
		errs = append(errs, ErrEntryPointNotSet)
	case !g.registry.Has(g.entryPoint):
		errs = append(errs, graphErrorf(ErrUnknownNode, "entry point %s", g.entryPoint))
	}

	known := func(id string) bool { return id == END || g.registry.Has(id) }

	for _, from := range g.edges.Sources() {
		if !g.registry.Has(from) {
			errs = append(errs, graphErrorf(ErrUnknownNode, "edge source %s", from))
		}
		for _, to := range g.edges.Destinations(from) {
			if !known(to) {
				errs = append(errs, graphErrorf(ErrUnknownNode, "edge %s -> %s", from, to))
			}
		}
		if ce, ok := g.edges.Conditional(from); ok {
			if kr, ok := ce.Router.(KeyedRouter); ok {
				for _, key := range kr.Keys() {
					if _, ok := ce.Mapping[key]; !ok {
						errs = append(errs, &UnroutableKeyError{Node: from, Key: key})
					}
				}
			}
		}
	}
	for _, id := range g.registry.IDs() {
		if !g.edges.HasOutgoing(id) {
			errs = append(errs, graphErrorf(ErrNoOutgoingEdge, "%s", id))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	cg := &CompiledGraph{
		schema:         g.schema,
		index:          make(map[string]int, g.registry.Len()),
		checkpointer:   options.checkpointer,
		logger:         options.logger,
		listeners:      slices.Clone(options.listeners),
		recursionLimit: options.recursionLimit,
	}
	if cg.logger == nil {
		cg.logger = log.GetDefaultLogger()
	}
	ids := g.registry.IDs()
	for i, id := range ids {
		cg.index[id] = i
	}
	intern := func(id string) int {
		if id == END {
			return endIndex
		}
		return cg.index[id]
	}
	for _, id := range ids {
		n, _ := g.registry.Get(id)
		cn := compiledNode{name: n.Name, description: n.Description, fn: n.Function}
		if to, ok := g.edges.Direct(id); ok {
			cn.next = compiledEdge{direct: intern(to)}
		} else {
			ce, _ := g.edges.Conditional(id)
			routes := make(map[string]int, len(ce.Mapping))
			for key, to := range ce.Mapping {
				routes[key] = intern(to)
			}
			cn.next = compiledEdge{router: ce.Router, routes: routes}
		}
		cg.nodes = append(cg.nodes, cn)
	}
	cg.entry = cg.index[g.entryPoint]
	return cg, nil
}

// EntryPoint returns the id of the first node of a fresh run.
func (g *CompiledGraph) EntryPoint() string {
	return g.nodes[g.entry].name
}

// NodeNames returns node ids in registration order.
func (g *CompiledGraph) NodeNames() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.name
	}
	return out
}

// Schema returns the state schema the graph merges with.
func (g *CompiledGraph) Schema() *StateSchema {
	return g.schema
}

// Checkpointer returns the attached store, or nil.
func (g *CompiledGraph) Checkpointer() store.CheckpointStore {
	return g.checkpointer
}

// resolve returns the index of the node following idx, or endIndex.
func (g *CompiledGraph) resolve(ctx context.Context, idx int, state State) (int, error) {
	n := &g.nodes[idx]
	if n.next.router == nil {
		return n.next.direct, nil
	}
	key, err := route(ctx, n.name, n.next.router, state)
	if err != nil {
		return 0, err
	}
	next, ok := n.next.routes[key]
	if !ok {
		return 0, &UnroutableKeyError{Node: n.name, Key: key}
	}
	return next, nil
}

func (g *CompiledGraph) nameOf(idx int) string {
	if idx == endIndex {
		return END
	}
	return g.nodes[idx].name
}
