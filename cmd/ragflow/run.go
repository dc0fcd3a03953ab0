package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smallnest/ragflow/graph"
	"github.com/smallnest/ragflow/prebuilt"
)

func newRunCmd(o *options) *cobra.Command {
	var (
		thread string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "run QUESTION...",
		Short: "Ask the workflow a question",
		Long: `Runs the selected workflow on a thread. Running the same thread again continues
from its latest checkpoint, so the conversational workflow keeps its history.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			input := graph.State{prebuilt.KeyQuestion: strings.Join(args, " ")}
			cfg := &graph.Config{ThreadID: thread, RecursionLimit: limit}

			var end graph.Event
			for e := range a.graph.Stream(cmd.Context(), input, cfg) {
				switch e.Type {
				case graph.EventNodeEnd:
					fmt.Fprintf(out, "%s %-24s %s\n", okStyle.Render("✓"), e.Node, dimStyle.Render(e.Duration.Round(time.Microsecond).String()))
				case graph.EventNodeError:
					fmt.Fprintf(out, "%s %-24s %v\n", errorStyle.Render("✗"), e.Node, e.Err)
				case graph.EventRunEnd:
					end = e
				}
			}
			if end.Err != nil {
				return end.Err
			}

			fmt.Fprintln(out, answerStyle.Render(answerOf(end.State)))
			fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("thread %s, %d steps, %s", end.ThreadID, end.Step, end.Reason)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&thread, "thread", "t", "", "thread to run on; generated when empty")
	cmd.Flags().IntVar(&limit, "recursion-limit", 0, "override the configured recursion limit")
	return cmd
}

func answerOf(s graph.State) string {
	if answer := s.String(prebuilt.KeyAnswer); answer != "" {
		return answer
	}
	if e := s.String(prebuilt.KeySQLError); e != "" {
		return "No answer: " + e
	}
	return "No answer."
}
