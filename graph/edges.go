package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Router picks the route key of a conditional edge from the merged state.
type Router interface {
	Route(ctx context.Context, state State) (string, error)
}

// RouterFunc is a function adapter for Router.
type RouterFunc func(ctx context.Context, state State) (string, error)

// Route implements the Router interface.
func (f RouterFunc) Route(ctx context.Context, state State) (string, error) {
	return f(ctx, state)
}

// KeyedRouter is a Router whose possible keys are known before the graph runs.
// Compile checks each key against the edge mapping.
type KeyedRouter interface {
	Router
	Keys() []string
}

type enumRouter struct {
	fn      RouterFunc
	keys    []string
	allowed map[string]struct{}
}

// Enum wraps fn in a router restricted to keys. A key outside the set is
// reported as an UnroutableKeyError when the router runs.
func Enum(fn RouterFunc, keys ...string) KeyedRouter {
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}
	return &enumRouter{fn: fn, keys: slices.Clone(keys), allowed: allowed}
}

func (r *enumRouter) Route(ctx context.Context, state State) (string, error) {
	key, err := r.fn(ctx, state)
	if err != nil {
		return "", err
	}
	if _, ok := r.allowed[key]; !ok {
		return "", &UnroutableKeyError{Key: key}
	}
	return key, nil
}

func (r *enumRouter) Keys() []string {
	return slices.Clone(r.keys)
}

// ConditionalEdge routes from a node through a router and a key mapping.
type ConditionalEdge struct {
	From    string
	Router  Router
	Mapping map[string]string
}

// EdgeTable holds at most one outgoing edge per node, either direct or conditional.
type EdgeTable struct {
	direct      map[string]string
	conditional map[string]ConditionalEdge
	order       []string
}

// NewEdgeTable creates an empty edge table.
func NewEdgeTable() *EdgeTable {
	return &EdgeTable{
		direct:      make(map[string]string),
		conditional: make(map[string]ConditionalEdge),
	}
}

// AddDirect adds an unconditional edge.
func (t *EdgeTable) AddDirect(from, to string) error {
	if err := t.checkSource(from); err != nil {
		return err
	}
	if to == "" {
		return graphErrorf(ErrInvalidEdge, "edge from %s has no destination", from)
	}
	t.direct[from] = to
	t.order = append(t.order, from)
	return nil
}

// AddConditional adds a routed edge. The mapping is copied.
func (t *EdgeTable) AddConditional(from string, router Router, mapping map[string]string) error {
	if err := t.checkSource(from); err != nil {
		return err
	}
	if router == nil {
		return graphErrorf(ErrInvalidEdge, "conditional edge from %s has no router", from)
	}
	if len(mapping) == 0 {
		return graphErrorf(ErrInvalidEdge, "conditional edge from %s has an empty mapping", from)
	}
	for key, to := range mapping {
		if to == "" {
			return graphErrorf(ErrInvalidEdge, "route %q from %s has no destination", key, from)
		}
	}
	t.conditional[from] = ConditionalEdge{From: from, Router: router, Mapping: maps.Clone(mapping)}
	t.order = append(t.order, from)
	return nil
}

func (t *EdgeTable) checkSource(from string) error {
	if from == "" || from == END {
		return graphErrorf(ErrInvalidEdge, "edge source %q", from)
	}
	if _, ok := t.direct[from]; ok {
		return graphErrorf(ErrConflictingEdge, "%s already has a direct edge", from)
	}
	if _, ok := t.conditional[from]; ok {
		return graphErrorf(ErrConflictingEdge, "%s already has a conditional edge", from)
	}
	return nil
}

// Resolve returns the node that follows from, given the merged state.
func (t *EdgeTable) Resolve(ctx context.Context, from string, state State) (string, error) {
	if to, ok := t.direct[from]; ok {
		return to, nil
	}
	ce, ok := t.conditional[from]
	if !ok {
		return "", graphErrorf(ErrNoOutgoingEdge, "%s", from)
	}
	key, err := route(ctx, from, ce.Router, state)
	if err != nil {
		return "", err
	}
	to, ok := ce.Mapping[key]
	if !ok {
		return "", &UnroutableKeyError{Node: from, Key: key}
	}
	return to, nil
}

func route(ctx context.Context, from string, r Router, state State) (string, error) {
	key, err := r.Route(ctx, state)
	if err != nil {
		var uk *UnroutableKeyError
		if errors.As(err, &uk) && uk.Node == "" {
			return "", &UnroutableKeyError{Node: from, Key: uk.Key}
		}
		return "", fmt.Errorf("router of %s: %w", from, err)
	}
	return key, nil
}

// HasOutgoing reports whether from has an edge.
func (t *EdgeTable) HasOutgoing(from string) bool {
	_, d := t.direct[from]
	_, c := t.conditional[from]
	return d || c
}

// Sources returns edge sources in insertion order.
func (t *EdgeTable) Sources() []string {
	return slices.Clone(t.order)
}

// Direct returns the destination of a direct edge.
func (t *EdgeTable) Direct(from string) (string, bool) {
	to, ok := t.direct[from]
	return to, ok
}

// Conditional returns the conditional edge leaving from.
func (t *EdgeTable) Conditional(from string) (ConditionalEdge, bool) {
	ce, ok := t.conditional[from]
	return ce, ok
}

// Destinations returns every destination reachable in one hop from from,
// sorted for conditional edges.
func (t *EdgeTable) Destinations(from string) []string {
	if to, ok := t.direct[from]; ok {
		return []string{to}
	}
	ce, ok := t.conditional[from]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{}, len(ce.Mapping))
	var out []string
	for _, to := range ce.Mapping {
		if _, ok := seen[to]; !ok {
			seen[to] = struct{}{}
			out = append(out, to)
		}
	}
	slices.Sort(out)
	return out
}
