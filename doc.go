// Package ragflow runs retrieval-augmented generation workflows as
// checkpointed state graphs.
//
// The module is organised in layers:
//
//   - graph: the engine. Nodes update a shared state through a schema of
//     replace, append and reducer fields. Edges may be conditional, runs are
//     bounded by a recursion limit and every step is checkpointed.
//   - store: checkpoint persistence, with memory, file, sqlite, postgres and
//     redis backends.
//   - prebuilt: the conversational, relevance, multi-model and SQL workflows.
//   - tool: web search and SQL database collaborators.
//   - config, log, metrics: ambient wiring shared by the command and server.
//   - server: an HTTP API for running workflows and inspecting threads.
//
// # Quick Start
//
//	g, err := prebuilt.NewRelevanceRAG(prebuilt.RAGConfig{
//		Retriever: prebuilt.NewKeywordRetriever(docs, 3),
//		LLM:       llm,
//	}, graph.WithCheckpointer(memory.NewMemoryCheckpointStore()))
//	if err != nil {
//		return err
//	}
//
//	res, err := g.Run(ctx, graph.State{prebuilt.KeyQuestion: q}, graph.WithThreadID("t-1"))
//	if err != nil {
//		return err
//	}
//	fmt.Println(res.State.String(prebuilt.KeyAnswer))
//
// The ragflow command in cmd/ragflow wraps the same workflows:
//
//	ragflow run "how are runs resumed?" --thread t-1 --checkpointer sqlite
//	ragflow history t-1 --checkpointer sqlite
//	ragflow serve --addr :8080
package ragflow
