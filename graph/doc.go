// Package graph provides the workflow engine behind ragflow pipelines.
//
// A graph is a set of named nodes connected by edges. Each node is a function
// from the current state to a partial update; the StateSchema decides how the
// update is merged (replace, append or a custom reducer). After every node the
// merged state is checkpointed, the outgoing edge is resolved and the run
// moves on, until a route reaches END or the recursion limit is hit.
//
// # Building
//
// StateGraph is a builder. Compile validates it in one pass and returns an
// immutable CompiledGraph with node ids interned to indices:
//
//	schema := graph.MustStateSchema(
//		graph.AppendField("context"),
//		graph.ReplaceField("answer"),
//	)
//
//	g := graph.NewStateGraph(schema)
//	g.AddNode("retrieve", "fetch documents", retrieve)
//	g.AddNode("answer", "answer from context", answer)
//	g.AddEdge("retrieve", "answer")
//	g.AddEdge("answer", graph.END)
//	g.SetEntryPoint("retrieve")
//
//	compiled, err := g.Compile(graph.WithCheckpointer(memory.NewMemoryCheckpointStore()))
//
// Unknown destinations, conflicting edges, nodes without an outgoing edge and
// router keys missing from a mapping are all reported by Compile.
//
// # Conditional edges
//
// A conditional edge pairs a Router with a mapping from route key to node.
// Enum declares the keys a router may produce so Compile can check the mapping:
//
//	g.AddConditionalEdges("check", graph.Enum(isRelevant, "yes", "no"), map[string]string{
//		"yes": graph.END,
//		"no":  "rewrite_query",
//	})
//
// # Running
//
// Run, Invoke and Stream execute one run. A Config carries the thread id and
// recursion limit. With a checkpointer attached, a run on a thread that
// already has checkpoints continues from the latest one:
//
//	res, err := compiled.Run(ctx, graph.State{"question": q}, graph.WithThreadID("t-1"))
//	switch {
//	case errors.Is(err, graph.ErrRecursionLimitExceeded):
//		// ran out of budget
//	case errors.Is(err, graph.ErrNodeFailed):
//		// a node, its merge or its routing failed
//	}
package graph
