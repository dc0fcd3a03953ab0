package graph

// NodeRegistry maps node ids to their units of work and remembers
// registration order.
type NodeRegistry struct {
	nodes map[string]Node
	order []string
}

// NewNodeRegistry creates an empty registry.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{nodes: make(map[string]Node)}
}

// Register adds a node. Ids must be unique, non-empty and different from END.
func (r *NodeRegistry) Register(name, description string, fn NodeFunc) error {
	switch {
	case name == "":
		return graphErrorf(ErrInvalidNodeName, "node name is empty")
	case name == END:
		return graphErrorf(ErrInvalidNodeName, "%s is reserved", END)
	case fn == nil:
		return graphErrorf(ErrInvalidNodeName, "node %s has no function", name)
	}
	if _, ok := r.nodes[name]; ok {
		return graphErrorf(ErrDuplicateNode, "%s", name)
	}
	r.nodes[name] = Node{Name: name, Description: description, Function: fn}
	r.order = append(r.order, name)
	return nil
}

// Get returns the node registered under name.
func (r *NodeRegistry) Get(name string) (Node, error) {
	n, ok := r.nodes[name]
	if !ok {
		return Node{}, graphErrorf(ErrUnknownNode, "%s", name)
	}
	return n, nil
}

// Has reports whether name is registered.
func (r *NodeRegistry) Has(name string) bool {
	_, ok := r.nodes[name]
	return ok
}

// IDs returns node ids in registration order.
func (r *NodeRegistry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered nodes.
func (r *NodeRegistry) Len() int {
	return len(r.order)
}
