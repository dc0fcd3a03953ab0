package graph

import "context"

// END is a special constant used to represent the end node in the graph.
// Routing to END terminates a run successfully.
const END = "END"

// NodeFunc is the unit of work behind a node.
// It receives a private copy of the current state and returns only the
// fields it wants to change.
type NodeFunc func(ctx context.Context, state State) (State, error)

// Node represents a node in the graph.
type Node struct {
	// Name is the unique identifier for the node.
	Name string

	// Description describes the functionality of the node.
	Description string

	// Function is the function associated with the node.
	Function NodeFunc
}
