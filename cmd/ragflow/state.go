package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state THREAD",
		Short: "Show the latest checkpoint of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.graph.GetState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			values, err := json.MarshalIndent(snap.Values, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode state: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s @ step %d", snap.ThreadID, snap.Step)))
			fmt.Fprintf(out, "node:    %s\nnext:    %s\nsaved:   %s\n", snap.Node, snap.Next, snap.CreatedAt.Format(time.RFC3339))
			fmt.Fprintln(out, string(values))
			return nil
		},
	}
}

func newHistoryCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history THREAD",
		Short: "List the checkpoints of a thread, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer a.Close()

			snaps, err := a.graph.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(snaps) == 0 {
				fmt.Fprintf(out, "no checkpoints for thread %s\n", args[0])
				return nil
			}
			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%-6s %-24s %-24s %s", "STEP", "NODE", "NEXT", "SAVED")))
			for _, s := range snaps {
				fmt.Fprintf(out, "%-6d %-24s %-24s %s\n", s.Step, s.Node, s.Next, s.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}
