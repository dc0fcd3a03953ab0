package prebuilt

import (
	"github.com/smallnest/ragflow/graph"
)

// NewConversationalRAG builds retrieve -> llm_answer -> END.
//
// Each run appends the (user, assistant) turn to messages, so running the
// same thread again with a new question answers it with the earlier turns as
// chat history. Requires Retriever and LLM.
func NewConversationalRAG(cfg RAGConfig, opts ...graph.CompileOption) (*graph.CompiledGraph, error) {
	if cfg.Retriever == nil {
		return nil, missing("retriever")
	}
	if cfg.LLM == nil {
		return nil, missing("llm")
	}
	n := &ragNodes{cfg: cfg.withDefaults()}

	g := graph.NewStateGraph(RAGSchema())
	n.add(g, "retrieve", "Retrieve documents for the question", n.retrieve, true)
	n.add(g, "llm_answer", "Answer from the retrieved context", n.llmAnswer, true)

	_ = g.AddEdge("retrieve", "llm_answer")
	_ = g.AddEdge("llm_answer", graph.END)
	g.SetEntryPoint("retrieve")

	return g.Compile(opts...)
}
