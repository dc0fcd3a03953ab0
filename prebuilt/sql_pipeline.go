package prebuilt

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/smallnest/ragflow/graph"
)

// Route keys of the validate_sql_query edge.
const (
	RouteValid   = "valid"
	RouteInvalid = "invalid"
)

// NewSQLPipeline builds a text-to-SQL workflow:
//
//	get_table_info -> generate_sql_query -> validate_sql_query
//	validate_sql_query --valid--> execute_sql_query -> llm_answer -> END
//	validate_sql_query --invalid--> handle_error -> generate_sql_query
//	validate_sql_query --give_up--> END
//
// A query is regenerated with the validation error as feedback until
// MaxSQLAttempts queries have been generated. Requires SQL and LLM.
func NewSQLPipeline(cfg RAGConfig, opts ...graph.CompileOption) (*graph.CompiledGraph, error) {
	if cfg.SQL == nil {
		return nil, missing("sql database")
	}
	if cfg.LLM == nil {
		return nil, missing("llm")
	}
	n := &ragNodes{cfg: cfg.withDefaults()}

	g := graph.NewStateGraph(RAGSchema())
	n.add(g, "get_table_info", "Read the table definitions", n.getTableInfo, true)
	n.add(g, "generate_sql_query", "Write a SQL query for the question", n.generateSQLQuery, true)
	n.add(g, "validate_sql_query", "Check the query without running it", n.validateSQLQuery, false)
	n.add(g, "handle_error", "Turn the validation error into feedback", n.handleError, false)
	n.add(g, "execute_sql_query", "Run the query", n.executeSQLQuery, true)
	n.add(g, "llm_answer", "Answer from the query result", n.sqlAnswer, true)

	_ = g.AddEdge("get_table_info", "generate_sql_query")
	_ = g.AddEdge("generate_sql_query", "validate_sql_query")
	_ = g.AddConditionalEdges("validate_sql_query",
		graph.Enum(n.routeSQL, RouteValid, RouteInvalid, RouteGiveUp),
		map[string]string{
			RouteValid:   "execute_sql_query",
			RouteInvalid: "handle_error",
			RouteGiveUp:  graph.END,
		})
	_ = g.AddEdge("handle_error", "generate_sql_query")
	_ = g.AddEdge("execute_sql_query", "llm_answer")
	_ = g.AddEdge("llm_answer", graph.END)
	g.SetEntryPoint("get_table_info")

	return g.Compile(opts...)
}

func (n *ragNodes) getTableInfo(ctx context.Context, _ graph.State) (graph.State, error) {
	info, err := n.cfg.SQL.TableInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read table info: %w", err)
	}
	return graph.State{KeyTableInfo: info}, nil
}

const sqlPrompt = `Write one SQLite SELECT query that answers the question.
Return only the query.

#Tables:
%s

#Question:
%s`

var sqlFence = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")

// extractSQL strips markdown fences and anything after the first statement.
func extractSQL(reply string) string {
	if m := sqlFence.FindStringSubmatch(reply); m != nil {
		reply = m[1]
	}
	reply = strings.TrimSpace(reply)
	if i := strings.Index(reply, ";"); i >= 0 {
		reply = reply[:i]
	}
	return strings.TrimSpace(reply)
}

func (n *ragNodes) generateSQLQuery(ctx context.Context, s graph.State) (graph.State, error) {
	prompt := fmt.Sprintf(sqlPrompt, s.String(KeyTableInfo), s.String(KeyQuestion))
	if feedback := s.String(KeySQLError); feedback != "" {
		prompt += "\n\n#Previous attempt failed:\n" + feedback
	}
	reply, err := generate(ctx, n.cfg.LLM, "", prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("sql generation failed: %w", err)
	}
	return graph.State{
		KeySQLQuery:    extractSQL(reply),
		KeySQLAttempts: s.Int(KeySQLAttempts) + 1,
		KeySQLError:    "",
	}, nil
}

func (n *ragNodes) validateSQLQuery(ctx context.Context, s graph.State) (graph.State, error) {
	if err := n.cfg.SQL.Validate(ctx, s.String(KeySQLQuery)); err != nil {
		return graph.State{KeySQLError: err.Error()}, nil
	}
	return graph.State{KeySQLError: ""}, nil
}

func (n *ragNodes) routeSQL(_ context.Context, s graph.State) (string, error) {
	switch {
	case s.String(KeySQLError) == "":
		return RouteValid, nil
	case s.Int(KeySQLAttempts) < n.cfg.MaxSQLAttempts:
		return RouteInvalid, nil
	default:
		return RouteGiveUp, nil
	}
}

func (n *ragNodes) handleError(_ context.Context, s graph.State) (graph.State, error) {
	return graph.State{
		KeySQLError: fmt.Sprintf("query %q was rejected: %s", s.String(KeySQLQuery), s.String(KeySQLError)),
	}, nil
}

func (n *ragNodes) executeSQLQuery(ctx context.Context, s graph.State) (graph.State, error) {
	result, err := n.cfg.SQL.Execute(ctx, s.String(KeySQLQuery))
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return graph.State{KeySQLResult: result}, nil
}

const sqlAnswerPrompt = `Answer the question using the result of the SQL query.

#Question:
%s

#Query:
%s

#Result:
%s`

func (n *ragNodes) sqlAnswer(ctx context.Context, s graph.State) (graph.State, error) {
	question := s.String(KeyQuestion)
	answer, err := generate(ctx, n.cfg.LLM, n.cfg.SystemPrompt,
		fmt.Sprintf(sqlAnswerPrompt, question, s.String(KeySQLQuery), s.String(KeySQLResult)), nil)
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
