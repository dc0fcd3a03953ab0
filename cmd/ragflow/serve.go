package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/smallnest/ragflow/metrics"
	"github.com/smallnest/ragflow/server"
)

func newServeCmd(o *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow over HTTP",
		Long:  `Serves the selected workflow over HTTP with Prometheus metrics at /metrics.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), o, collector)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(a.graph, server.WithLogger(a.logger))
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address; defaults to server.addr of the configuration")
	return cmd
}
