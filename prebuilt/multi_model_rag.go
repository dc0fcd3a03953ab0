package prebuilt

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallnest/ragflow/graph"
)

// Route keys of the sum_up edge.
const (
	RouteResearch = "research"
	RouteDone     = "done"
)

// NewMultiModelRAG asks every model in Models the same question, grades each
// answer, and sums up the relevant ones:
//
//	retrieve -> <m1>_answer -> <m1>_relevance_check -> <m2>_answer -> ... -> sum_up
//	sum_up --done--> END
//	sum_up --research--> rewrite_query -> retrieve
//
// Models run in the order given, which is also the order of their entries
// in answers. A round with no relevant answer rewrites the question and
// retrieves again, up to MaxRewrites. Requires Retriever, LLM (used for
// rewriting and summing up) and at least one model.
func NewMultiModelRAG(cfg RAGConfig, opts ...graph.CompileOption) (*graph.CompiledGraph, error) {
	if cfg.Retriever == nil {
		return nil, missing("retriever")
	}
	if cfg.LLM == nil {
		return nil, missing("llm")
	}
	if len(cfg.Models) == 0 {
		return nil, missing("models")
	}
	seen := make(map[string]bool, len(cfg.Models))
	for _, m := range cfg.Models {
		if m.Name == "" || m.Model == nil {
			return nil, fmt.Errorf("%w: model %q has no name or client", ErrMissingCollaborator, m.Name)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("%w: %s", graph.ErrDuplicateNode, m.Name)
		}
		seen[m.Name] = true
	}
	n := &ragNodes{cfg: cfg.withDefaults()}

	g := graph.NewStateGraph(RAGSchema())
	n.add(g, "retrieve", "Retrieve documents for the question", n.retrieve, true)

	prev := "retrieve"
	for _, m := range n.cfg.Models {
		answer, check := m.Name+"_answer", m.Name+"_relevance_check"
		n.add(g, answer, "Answer with "+m.Name, n.modelAnswer(m), true)
		n.add(g, check, "Grade the answer of "+m.Name, n.modelRelevanceCheck(m), true)
		_ = g.AddEdge(prev, answer)
		_ = g.AddEdge(answer, check)
		prev = check
	}

	n.add(g, "sum_up", "Combine the relevant answers", n.sumUp, true)
	n.add(g, "rewrite_query", "Rewrite the question for retrieval", n.rewriteQuery, true)
	_ = g.AddEdge(prev, "sum_up")
	_ = g.AddConditionalEdges("sum_up", graph.Enum(n.routeSumUp, RouteResearch, RouteDone), map[string]string{
		RouteResearch: "rewrite_query",
		RouteDone:     graph.END,
	})
	_ = g.AddEdge("rewrite_query", "retrieve")
	g.SetEntryPoint("retrieve")

	return g.Compile(opts...)
}

// modelAnswer writes the model's answer to the answer field for the
// relevance check that follows it.
func (n *ragNodes) modelAnswer(m NamedModel) graph.NodeFunc {
	return func(ctx context.Context, s graph.State) (graph.State, error) {
		docs, err := Documents(s)
		if err != nil {
			return nil, err
		}
		answer, err := generate(ctx, m.Model, n.cfg.SystemPrompt, fmt.Sprintf(answerPrompt, FormatDocs(docs), s.String(KeyQuestion)), nil)
		if err != nil {
			return nil, fmt.Errorf("%s generation failed: %w", m.Name, err)
		}
		return graph.State{KeyAnswer: answer}, nil
	}
}

const answerRelevancePrompt = `You are a grader assessing whether an answer addresses the question and is supported by the context.
Answer only "yes" or "no".

#Context:
%s

#Question:
%s

#Answer:
%s`

func (n *ragNodes) modelRelevanceCheck(m NamedModel) graph.NodeFunc {
	return func(ctx context.Context, s graph.State) (graph.State, error) {
		docs, err := Documents(s)
		if err != nil {
			return nil, err
		}
		answer := s.String(KeyAnswer)
		reply, err := generate(ctx, n.cfg.Grader, "", fmt.Sprintf(answerRelevancePrompt, FormatDocs(docs), s.String(KeyQuestion), answer), nil)
		if err != nil {
			return nil, fmt.Errorf("relevance check of %s failed: %w", m.Name, err)
		}
		return graph.State{KeyAnswers: Candidate{Model: m.Name, Answer: answer, Relevance: grade(reply)}}, nil
	}
}

const sumUpPrompt = `Combine the following answers to the question into one answer.
Keep every fact they agree on and drop anything they contradict.

#Question:
%s

#Answers:
%s`

// sumUp looks at the candidates of the current round only.
func (n *ragNodes) sumUp(ctx context.Context, s graph.State) (graph.State, error) {
	all, err := Candidates(s)
	if err != nil {
		return nil, err
	}
	round := all[max(len(all)-len(n.cfg.Models), 0):]

	var relevant []Candidate
	for _, c := range round {
		if c.Relevance == RelevanceYes {
			relevant = append(relevant, c)
		}
	}

	switch len(relevant) {
	case 0:
		answer := ""
		if len(round) > 0 {
			answer = round[0].Answer
		}
		return graph.State{KeyAnswer: answer, KeyRelevance: RelevanceNo}, nil
	case 1:
		return graph.State{KeyAnswer: relevant[0].Answer, KeyRelevance: RelevanceYes}, nil
	}

	var sb strings.Builder
	for _, c := range relevant {
		fmt.Fprintf(&sb, "- (%s) %s\n", c.Model, c.Answer)
	}
	answer, err := generate(ctx, n.cfg.LLM, "", fmt.Sprintf(sumUpPrompt, s.String(KeyQuestion), sb.String()), nil)
	if err != nil {
		return nil, fmt.Errorf("sum up failed: %w", err)
	}
	return graph.State{KeyAnswer: answer, KeyRelevance: RelevanceYes}, nil
}

func (n *ragNodes) routeSumUp(_ context.Context, s graph.State) (string, error) {
	if s.String(KeyRelevance) != RelevanceYes && s.Int(KeyRewrites) < n.cfg.MaxRewrites {
		return RouteResearch, nil
	}
	return RouteDone, nil
}
