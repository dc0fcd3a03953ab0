package prebuilt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/smallnest/ragflow/graph"
)

// State keys shared by the RAG workflows.
const (
	KeyQuestion    = "question"
	KeyContext     = "context"
	KeyDocuments   = "documents"
	KeyAnswer      = "answer"
	KeyAnswers     = "answers"
	KeyMessages    = "messages"
	KeyRelevance   = "relevance"
	KeyRewrites    = "rewrites"
	KeyWebSearched = "web_searched"
	KeySQLQuery    = "sql_query"
	KeySQLResult   = "sql_result"
	KeySQLError    = "sql_error"
	KeyTableInfo   = "table_info"
	KeySQLAttempts = "sql_attempts"
)

// Relevance grades.
const (
	RelevanceYes = "yes"
	RelevanceNo  = "no"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrMissingCollaborator is returned when a workflow is built without a
// collaborator it calls.
var ErrMissingCollaborator = errors.New("missing collaborator")

// Message is one turn of the conversation kept in the messages field.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Candidate is one model's graded answer in a multi-model run.
type Candidate struct {
	Model     string `json:"model"`
	Answer    string `json:"answer"`
	Relevance string `json:"relevance"`
}

// WebSearcher finds documents on the web.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]schema.Document, error)
}

// SQLDatabase is the database a text-to-SQL pipeline talks to.
type SQLDatabase interface {
	TableInfo(ctx context.Context) (string, error)
	Validate(ctx context.Context, query string) error
	Execute(ctx context.Context, query string) (string, error)
}

// NamedModel is a model taking part in a multi-model workflow. Name prefixes
// its nodes, e.g. "gpt" gives "gpt_answer" and "gpt_relevance_check".
type NamedModel struct {
	Name  string
	Model llms.Model
}

// RAGConfig configures the prebuilt workflows. Each constructor documents
// which collaborators it needs.
type RAGConfig struct {
	Retriever schema.Retriever
	LLM       llms.Model
	// Grader answers relevance checks; LLM is used when nil.
	Grader    llms.Model
	Models    []NamedModel
	WebSearch WebSearcher
	SQL       SQLDatabase

	SystemPrompt   string
	MaxRewrites    int
	MaxSQLAttempts int

	// Retry wraps every node that calls a model or an external service.
	Retry *graph.RetryConfig
}

// DefaultRAGConfig returns a default RAG configuration
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		SystemPrompt: "You are an assistant for question-answering tasks. " +
			"Use the retrieved context to answer the question. " +
			"If you don't know the answer, just say that you don't know.",
		MaxRewrites:    2,
		MaxSQLAttempts: 3,
	}
}

func (c RAGConfig) withDefaults() RAGConfig {
	d := DefaultRAGConfig()
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.MaxRewrites <= 0 {
		c.MaxRewrites = d.MaxRewrites
	}
	if c.MaxSQLAttempts <= 0 {
		c.MaxSQLAttempts = d.MaxSQLAttempts
	}
	if c.Grader == nil {
		c.Grader = c.LLM
	}
	return c
}

func missing(what string) error {
	return fmt.Errorf("%w: %s", ErrMissingCollaborator, what)
}

// RAGSchema declares every field the prebuilt workflows read or write.
// context, answers and messages build up over the turns of a thread. The
// other fields describe one turn and start over on every pass.
func RAGSchema() *graph.StateSchema {
	return graph.MustStateSchema(
		graph.ReplaceField(KeyQuestion).WithDefault(""),
		graph.AppendField(KeyContext).WithDefault([]schema.Document{}),
		graph.ReplaceField(KeyDocuments).WithDefault([]schema.Document{}).PerPass(),
		graph.ReplaceField(KeyAnswer).WithDefault("").PerPass(),
		graph.AppendField(KeyAnswers).WithDefault([]Candidate{}),
		graph.AppendField(KeyMessages).WithDefault([]Message{}),
		graph.ReplaceField(KeyRelevance).WithDefault("").PerPass(),
		graph.ReplaceField(KeyRewrites).WithDefault(0).PerPass(),
		graph.ReplaceField(KeyWebSearched).WithDefault(false).PerPass(),
		graph.ReplaceField(KeySQLQuery).WithDefault("").PerPass(),
		graph.ReplaceField(KeySQLResult).WithDefault("").PerPass(),
		graph.ReplaceField(KeySQLError).WithDefault("").PerPass(),
		graph.ReplaceField(KeyTableInfo).WithDefault("").PerPass(),
		graph.ReplaceField(KeySQLAttempts).WithDefault(0).PerPass(),
	)
}

// Documents returns the latest batch of retrieved documents, the one the
// prompts are built from.
func Documents(s graph.State) ([]schema.Document, error) {
	return graph.Get[[]schema.Document](s, KeyDocuments)
}

// Context returns every document retrieved on the thread so far.
func Context(s graph.State) ([]schema.Document, error) {
	return graph.Get[[]schema.Document](s, KeyContext)
}

// Messages returns the conversation recorded in a state.
func Messages(s graph.State) ([]Message, error) {
	return graph.Get[[]Message](s, KeyMessages)
}

// Candidates returns the graded answers of a multi-model state.
func Candidates(s graph.State) ([]Candidate, error) {
	return graph.Get[[]Candidate](s, KeyAnswers)
}

// FormatDocs renders documents as numbered context blocks for a prompt.
func FormatDocs(docs []schema.Document) string {
	parts := make([]string, 0, len(docs))
	for i, doc := range docs {
		source := "Unknown"
		if s, ok := doc.Metadata["source"]; ok {
			source = fmt.Sprintf("%v", s)
		}
		parts = append(parts, fmt.Sprintf("[%d] Source: %s\nContent: %s", i+1, source, doc.PageContent))
	}
	return strings.Join(parts, "\n\n")
}

// generate sends the system prompt, prior turns and prompt to model and
// returns the first choice.
func generate(ctx context.Context, model llms.Model, system, prompt string, history []Message) (string, error) {
	messages := make([]llms.MessageContent, 0, len(history)+2)
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, m := range history {
		role := llms.ChatMessageTypeHuman
		if m.Role == RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, m.Content))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	resp, err := model.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// grade reduces a grader reply to RelevanceYes or RelevanceNo.
func grade(reply string) string {
	r := strings.ToLower(strings.TrimSpace(reply))
	r = strings.TrimLeft(r, "\"'`*")
	if strings.HasPrefix(r, "yes") {
		return RelevanceYes
	}
	return RelevanceNo
}

// ragNodes holds the node functions shared by the workflows.
type ragNodes struct {
	cfg RAGConfig
}

// add registers fn, wrapped with the configured retry when it calls out.
func (n *ragNodes) add(g *graph.StateGraph, name, description string, fn graph.NodeFunc, callsOut bool) {
	if callsOut && n.cfg.Retry != nil {
		_ = g.AddNodeWithRetry(name, description, fn, n.cfg.Retry)
		return
	}
	_ = g.AddNode(name, description, fn)
}

func (n *ragNodes) retrieve(ctx context.Context, s graph.State) (graph.State, error) {
	question := s.String(KeyQuestion)
	if question == "" {
		return nil, errors.New("question is empty")
	}
	docs, err := n.cfg.Retriever.GetRelevantDocuments(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	return graph.State{KeyContext: docs, KeyDocuments: docs}, nil
}

const answerPrompt = `#Context:
%s

#Question:
%s

#Answer:`

func (n *ragNodes) llmAnswer(ctx context.Context, s graph.State) (graph.State, error) {
	question := s.String(KeyQuestion)
	docs, err := Documents(s)
	if err != nil {
		return nil, err
	}
	history, err := Messages(s)
	if err != nil {
		return nil, err
	}

	answer, err := generate(ctx, n.cfg.LLM, n.cfg.SystemPrompt, fmt.Sprintf(answerPrompt, FormatDocs(docs), question), history)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	return graph.State{
		KeyAnswer: answer,
		KeyMessages: []Message{
			{Role: RoleUser, Content: question},
			{Role: RoleAssistant, Content: answer},
		},
	}, nil
}

const relevancePrompt = `You are a grader assessing whether the retrieved context is relevant to the question.
Answer only "yes" or "no".

#Context:
%s

#Question:
%s`

func (n *ragNodes) checkRelevance(ctx context.Context, s graph.State) (string, error) {
	docs, err := Documents(s)
	if err != nil {
		return "", err
	}
	reply, err := generate(ctx, n.cfg.Grader, "", fmt.Sprintf(relevancePrompt, FormatDocs(docs), s.String(KeyQuestion)), nil)
	if err != nil {
		return "", fmt.Errorf("relevance check failed: %w", err)
	}
	return grade(reply), nil
}

func (n *ragNodes) relevanceCheck(ctx context.Context, s graph.State) (graph.State, error) {
	relevance, err := n.checkRelevance(ctx, s)
	if err != nil {
		return nil, err
	}
	return graph.State{KeyRelevance: relevance}, nil
}

const rewritePrompt = `Rewrite the question so a document search finds better matches.
Return only the rewritten question.

#Question:
%s`

func (n *ragNodes) rewriteQuery(ctx context.Context, s graph.State) (graph.State, error) {
	rewritten, err := generate(ctx, n.cfg.LLM, "", fmt.Sprintf(rewritePrompt, s.String(KeyQuestion)), nil)
	if err != nil {
		return nil, fmt.Errorf("query rewrite failed: %w", err)
	}
	if rewritten == "" {
		rewritten = s.String(KeyQuestion)
	}
	return graph.State{KeyQuestion: rewritten, KeyRewrites: s.Int(KeyRewrites) + 1}, nil
}

func (n *ragNodes) searchOnWeb(ctx context.Context, s graph.State) (graph.State, error) {
	docs, err := n.cfg.WebSearch.Search(ctx, s.String(KeyQuestion))
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	return graph.State{KeyContext: docs, KeyDocuments: docs, KeyWebSearched: true}, nil
}
