// Package prebuilt provides ready-to-run retrieval-augmented generation
// workflows built on the graph package.
//
// Every workflow shares one state schema (RAGSchema) and one configuration
// type (RAGConfig). Constructors check that the collaborators they call are
// set and return ErrMissingCollaborator otherwise. All of them accept the
// usual graph.CompileOption values, so checkpointing, logging and listeners
// are wired the same way as for a hand-built graph.
//
// # Conversational RAG
//
// retrieve -> llm_answer. Each run appends the question and answer to the
// messages field; running the same thread again continues the conversation.
//
//	g, err := prebuilt.NewConversationalRAG(prebuilt.RAGConfig{
//		Retriever: retriever,
//		LLM:       llm,
//	}, graph.WithCheckpointer(memory.NewMemoryCheckpointStore()))
//
//	res, err := g.Run(ctx, graph.State{prebuilt.KeyQuestion: "What is a checkpoint?"},
//		graph.WithThreadID("user-42"))
//
// # Relevance RAG
//
// retrieve -> relevance_check -> llm_answer. Irrelevant context makes the
// workflow rewrite the question and retrieve again, then fall back to a web
// search when WebSearch is set, then give up without answering.
//
// Rewrite and web search budgets, SQL attempts and the other per-turn fields
// start over on every run of a thread, while context, answers and messages
// keep growing. Prompts are built from the documents of the latest retrieval
// only (Documents); Context returns everything retrieved on the thread.
//
// # Multi-model RAG
//
// Every model in Models answers the same question in turn and a grader checks
// each answer. sum_up merges the relevant ones, or sends the question back for
// another round when none is relevant.
//
// # SQL pipeline
//
// get_table_info -> generate_sql_query -> validate_sql_query ->
// execute_sql_query -> llm_answer, with rejected queries fed back to the model.
// The tool package provides a SQLite-backed SQLDatabase.
//
// # Retrieval
//
// KeywordRetriever ranks an in-memory corpus by term overlap. Any
// langchaingo schema.Retriever, such as a vector store retriever, can be
// used instead.
package prebuilt
