package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/smallnest/ragflow/config"
	"github.com/smallnest/ragflow/graph"
	"github.com/smallnest/ragflow/log"
	"github.com/smallnest/ragflow/prebuilt"
	"github.com/smallnest/ragflow/tool"
)

// Workflow names accepted by --workflow.
const (
	workflowConversational = "conversational"
	workflowRelevance      = "relevance"
	workflowMultiModel     = "multi-model"
	workflowSQL            = "sql"
)

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	logLevel   string
	backend    string
	path       string
	workflow   string
	models     []string
	db         string

	// logOutput defaults to stderr.
	logOutput io.Writer
}

var defaultDocuments = []string{
	"A checkpoint is the durable state of a thread after one node ran. Runs on the same thread resume from the latest checkpoint.",
	"Append fields accumulate values across nodes and runs, while replace fields keep only the last value written.",
	"The recursion limit caps how many nodes one run may execute, which stops loops that never reach END.",
	"Conditional edges call a router with the merged state and follow the edge mapped to the key it returns.",
}

type app struct {
	cfg     *config.Config
	logger  log.Logger
	graph   *graph.CompiledGraph
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// loadConfig reads the configuration and lays the flags over it.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.backend != "" {
		cfg.Checkpointer.Backend = o.backend
	}
	if o.path != "" {
		cfg.Checkpointer.Path = o.path
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires configuration, logger, checkpoint store and workflow.
func newApp(ctx context.Context, o *options, listeners ...graph.NodeListener) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	out := o.logOutput
	if out == nil {
		out = os.Stderr
	}
	logger := log.NewGologLoggerTo(out, cfg.Level())
	log.SetDefaultLogger(logger)

	a := &app{cfg: cfg, logger: logger}

	cps, closeStore, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	ragCfg, err := o.ragConfig(cfg, a)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	opts := append(cfg.CompileOptions(cps), graph.WithLogger(logger))
	if len(listeners) > 0 {
		opts = append(opts, graph.WithListeners(listeners...))
	}
	a.graph, err = buildWorkflow(o.workflow, ragCfg, opts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	logger.Debug("workflow %s ready with %s checkpointer", o.workflow, cfg.Checkpointer.Backend)
	return a, nil
}

func (o *options) ragConfig(cfg *config.Config, a *app) (prebuilt.RAGConfig, error) {
	rc := prebuilt.DefaultRAGConfig()

	docs := cfg.Documents
	if len(docs) == 0 {
		docs = defaultDocuments
	}
	rc.Retriever = prebuilt.NewKeywordRetrieverFromTexts(docs, 3)

	llm, err := newModel("")
	if err != nil {
		return rc, err
	}
	rc.LLM = llm

	if o.workflow == workflowMultiModel {
		for _, name := range o.models {
			m, err := newModel(name)
			if err != nil {
				return rc, err
			}
			rc.Models = append(rc.Models, prebuilt.NamedModel{Name: name, Model: m})
		}
	}

	if os.Getenv("BRAVE_API_KEY") != "" {
		web, err := tool.NewBraveSearch("")
		if err != nil {
			return rc, err
		}
		rc.WebSearch = web
	}

	if o.db != "" {
		db, err := sql.Open("sqlite3", o.db)
		if err != nil {
			return rc, fmt.Errorf("failed to open %s: %w", o.db, err)
		}
		a.closers = append(a.closers, db.Close)
		rc.SQL = tool.NewSQLDB(db, 0)
	}
	return rc, nil
}

// newModel returns an OpenAI model when OPENAI_API_KEY is set and the offline
// model otherwise. An empty name uses OPENAI_MODEL or the provider default.
func newModel(name string) (llms.Model, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return &offlineModel{}, nil
	}
	opts := []openai.Option{}
	if base := os.Getenv("OPENAI_API_BASE"); base != "" {
		opts = append(opts, openai.WithBaseURL(base))
	}
	if name == "" {
		name = os.Getenv("OPENAI_MODEL")
	}
	if name != "" {
		opts = append(opts, openai.WithModel(name))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create model %q: %w", name, err)
	}
	return llm, nil
}

func buildWorkflow(name string, cfg prebuilt.RAGConfig, opts ...graph.CompileOption) (*graph.CompiledGraph, error) {
	switch name {
	case workflowConversational:
		return prebuilt.NewConversationalRAG(cfg, opts...)
	case workflowRelevance:
		return prebuilt.NewRelevanceRAG(cfg, opts...)
	case workflowMultiModel:
		return prebuilt.NewMultiModelRAG(cfg, opts...)
	case workflowSQL:
		if cfg.SQL == nil {
			return nil, errors.New("the sql workflow needs --db")
		}
		return prebuilt.NewSQLPipeline(cfg, opts...)
	default:
		return nil, fmt.Errorf("unknown workflow %q", name)
	}
}
