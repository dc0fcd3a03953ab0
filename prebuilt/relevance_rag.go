package prebuilt

import (
	"context"

	"github.com/smallnest/ragflow/graph"
)

// Route keys of the relevance_check edge.
const (
	RouteRelevant = "yes"
	RouteRewrite  = "rewrite"
	RouteWeb      = "web"
	RouteGiveUp   = "give_up"
)

// NewRelevanceRAG builds a workflow that grades its retrieved context before
// answering and retries retrieval when the context is not relevant:
//
//	retrieve -> relevance_check
//	relevance_check --yes--> llm_answer -> END
//	relevance_check --rewrite--> rewrite_query -> retrieve
//	relevance_check --web--> search_on_web -> llm_answer
//	relevance_check --give_up--> END
//
// Rewrites are tried first, up to MaxRewrites. Web search runs once, after
// rewrites are spent, and only when WebSearch is set. A pass that gives up
// leaves answer empty. Requires Retriever and LLM.
func NewRelevanceRAG(cfg RAGConfig, opts ...graph.CompileOption) (*graph.CompiledGraph, error) {
	if cfg.Retriever == nil {
		return nil, missing("retriever")
	}
	if cfg.LLM == nil {
		return nil, missing("llm")
	}
	n := &ragNodes{cfg: cfg.withDefaults()}

	g := graph.NewStateGraph(RAGSchema())
	n.add(g, "retrieve", "Retrieve documents for the question", n.retrieve, true)
	n.add(g, "relevance_check", "Grade the retrieved context against the question", n.relevanceCheck, true)
	n.add(g, "llm_answer", "Answer from the retrieved context", n.llmAnswer, true)
	n.add(g, "rewrite_query", "Rewrite the question for retrieval", n.rewriteQuery, true)

	mapping := map[string]string{
		RouteRelevant: "llm_answer",
		RouteRewrite:  "rewrite_query",
		RouteGiveUp:   graph.END,
	}
	keys := []string{RouteRelevant, RouteRewrite, RouteGiveUp}
	if n.cfg.WebSearch != nil {
		n.add(g, "search_on_web", "Search the web for more context", n.searchOnWeb, true)
		_ = g.AddEdge("search_on_web", "llm_answer")
		mapping[RouteWeb] = "search_on_web"
		keys = append(keys, RouteWeb)
	}

	_ = g.AddEdge("retrieve", "relevance_check")
	_ = g.AddConditionalEdges("relevance_check", graph.Enum(n.routeRelevance, keys...), mapping)
	_ = g.AddEdge("rewrite_query", "retrieve")
	_ = g.AddEdge("llm_answer", graph.END)
	g.SetEntryPoint("retrieve")

	return g.Compile(opts...)
}

func (n *ragNodes) routeRelevance(_ context.Context, s graph.State) (string, error) {
	switch {
	case s.String(KeyRelevance) == RelevanceYes:
		return RouteRelevant, nil
	case s.Int(KeyRewrites) < n.cfg.MaxRewrites:
		return RouteRewrite, nil
	case n.cfg.WebSearch != nil && !s.Bool(KeyWebSearched):
		return RouteWeb, nil
	default:
		return RouteGiveUp, nil
	}
}
