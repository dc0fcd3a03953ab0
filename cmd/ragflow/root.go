package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "ragflow",
		Short: "ragflow runs checkpointed RAG workflows",
		Long: `ragflow runs retrieval-augmented generation workflows as checkpointed graphs.

Without OPENAI_API_KEY an offline model answers from the retrieved context, which
is enough to try the workflows and inspect their checkpoints. Set BRAVE_API_KEY to
let the relevance workflow fall back to web search.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error, none)")
	flags.StringVar(&o.backend, "checkpointer", "", "checkpoint backend (none, memory, file, sqlite, postgres, redis)")
	flags.StringVar(&o.path, "checkpoint-path", "", "directory or database file of the file and sqlite backends")
	flags.StringVarP(&o.workflow, "workflow", "w", workflowRelevance, "workflow to run (conversational, relevance, multi-model, sql)")
	flags.StringSliceVar(&o.models, "models", []string{"gpt-4o-mini", "gpt-4.1-mini"}, "models of the multi-model workflow")
	flags.StringVar(&o.db, "db", "", "SQLite database queried by the sql workflow")

	root.AddCommand(newRunCmd(o), newStateCmd(o), newHistoryCmd(o), newServeCmd(o))
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
