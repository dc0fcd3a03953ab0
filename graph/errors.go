package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrEntryPointNotSet is returned when the entry point of the graph is not set.
	ErrEntryPointNotSet = errors.New("entry point not set")

	// ErrUnknownNode is returned when a node id is referenced but never registered.
	ErrUnknownNode = errors.New("unknown node")

	// ErrDuplicateNode is returned when a node id is registered twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrInvalidNodeName is returned for empty or reserved node ids, or nodes without a function.
	ErrInvalidNodeName = errors.New("invalid node name")

	// ErrInvalidEdge is returned for edges that can never be followed.
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrConflictingEdge is returned when a node gets more than one outgoing edge.
	ErrConflictingEdge = errors.New("conflicting edge")

	// ErrNoOutgoingEdge is returned when no outgoing edge is found for a node.
	ErrNoOutgoingEdge = errors.New("no outgoing edge found for node")

	// ErrUnroutableKey is returned when a router produces a key its mapping does not know.
	ErrUnroutableKey = errors.New("unroutable key")

	// ErrSchemaViolation is returned when a state update touches an undeclared field.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrNodeFailed matches every error produced by a failing node.
	ErrNodeFailed = errors.New("node failed")

	// ErrRecursionLimitExceeded is returned when a run exhausts its step budget.
	ErrRecursionLimitExceeded = errors.New("recursion limit exceeded")

	// ErrNoCheckpointer is returned by state inspection on graphs compiled without a store.
	ErrNoCheckpointer = errors.New("no checkpointer attached")

	// ErrInvalidConfig is returned for run configurations that cannot be honored.
	ErrInvalidConfig = errors.New("invalid config")
)

// GraphError describes a structural problem found while building a graph.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
}

func (e *GraphError) Unwrap() error {
	return e.Kind
}

func graphErrorf(kind error, format string, args ...any) error {
	return &GraphError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// SchemaViolationError reports a state key that the schema does not declare.
type SchemaViolationError struct {
	Key string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("%v: field %q is not declared", ErrSchemaViolation, e.Key)
}

func (e *SchemaViolationError) Unwrap() error {
	return ErrSchemaViolation
}

// UnroutableKeyError reports a route key missing from a conditional edge mapping.
type UnroutableKeyError struct {
	Node string
	Key  string
}

func (e *UnroutableKeyError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("%v: %q", ErrUnroutableKey, e.Key)
	}
	return fmt.Sprintf("%v: node %s routed to %q", ErrUnroutableKey, e.Node, e.Key)
}

func (e *UnroutableKeyError) Unwrap() error {
	return ErrUnroutableKey
}

// NodeError is returned when a run stops because a node could not complete a step.
// The cause is kept in Err; errors.Is(err, ErrNodeFailed) is always true.
type NodeError struct {
	Node string
	Step int
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s failed at step %d: %v", e.Node, e.Step, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Is reports ErrNodeFailed in addition to whatever the cause matches.
func (e *NodeError) Is(target error) bool {
	return target == ErrNodeFailed
}

// RecursionLimitError is returned when a run reaches its step budget before END.
type RecursionLimitError struct {
	Limit int
	// Node is the node that would have run next.
	Node string
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("%v: limit of %d steps reached before END (next node %s)",
		ErrRecursionLimitExceeded, e.Limit, e.Node)
}

func (e *RecursionLimitError) Unwrap() error {
	return ErrRecursionLimitExceeded
}
