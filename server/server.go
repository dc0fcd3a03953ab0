// Package server exposes a compiled graph over HTTP.
//
//	POST   /threads/{thread}/runs     run the graph on a thread
//	GET    /threads/{thread}/state    latest checkpoint of a thread
//	GET    /threads/{thread}/history  every checkpoint of a thread, oldest first
//	DELETE /threads/{thread}          drop a thread's checkpoints
//	GET    /healthz                   liveness
//	GET    /metrics                   Prometheus metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smallnest/ragflow/graph"
	"github.com/smallnest/ragflow/log"
	"github.com/smallnest/ragflow/store"
)

// RunRequest is the body of POST /threads/{thread}/runs.
type RunRequest struct {
	Input          graph.State    `json:"input"`
	RecursionLimit int            `json:"recursion_limit,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// RunResponse reports how a run ended. Error is set when it did not reach END.
type RunResponse struct {
	ThreadID string      `json:"thread_id"`
	Reason   string      `json:"reason"`
	Steps    int         `json:"steps"`
	LastNode string      `json:"last_node,omitempty"`
	Resumed  bool        `json:"resumed"`
	State    graph.State `json:"state"`
	Error    string      `json:"error,omitempty"`
}

// Snapshot is the JSON form of a graph.StateSnapshot.
type Snapshot struct {
	ThreadID     string         `json:"thread_id"`
	CheckpointID string         `json:"checkpoint_id"`
	Step         int            `json:"step"`
	Node         string         `json:"node"`
	Next         string         `json:"next,omitempty"`
	Values       graph.State    `json:"values"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func toSnapshot(s *graph.StateSnapshot) Snapshot {
	return Snapshot{
		ThreadID:     s.ThreadID,
		CheckpointID: s.CheckpointID,
		Step:         s.Step,
		Node:         s.Node,
		Next:         s.Next,
		Values:       s.Values,
		Metadata:     s.Metadata,
		CreatedAt:    s.CreatedAt,
	}
}

// Server serves one compiled graph.
type Server struct {
	graph    *graph.CompiledGraph
	gatherer prometheus.Gatherer
	logger   log.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer sets where /metrics reads from. Defaults to prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the request logger.
func WithLogger(l log.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a server for g.
func New(g *graph.CompiledGraph, opts ...Option) *Server {
	s := &Server{
		graph:    g,
		gatherer: prometheus.DefaultGatherer,
		logger:   log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/threads/{thread}", func(r chi.Router) {
		r.Post("/runs", s.run)
		r.Get("/state", s.state)
		r.Get("/history", s.history)
		r.Delete("/", s.clear)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("%s %s -> %d in %s [%s]",
			r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	cfg := &graph.Config{
		ThreadID:       chi.URLParam(r, "thread"),
		RecursionLimit: req.RecursionLimit,
		Tags:           req.Tags,
		Metadata:       req.Metadata,
	}
	res, err := s.graph.Run(r.Context(), req.Input, cfg)
	if res == nil {
		s.logger.Warn("run on thread %s rejected: %v", cfg.ThreadID, err)
		writeError(w, startStatus(err), err)
		return
	}

	resp := RunResponse{
		ThreadID: res.ThreadID,
		Reason:   res.Reason.String(),
		Steps:    res.Steps,
		LastNode: res.LastNode,
		Resumed:  res.Resumed,
		State:    res.State,
	}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// startStatus maps an error from a run that never started to a status code.
func startStatus(err error) int {
	switch {
	case errors.Is(err, graph.ErrSchemaViolation), errors.Is(err, graph.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrStepConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	snap, err := s.graph.GetState(r.Context(), chi.URLParam(r, "thread"))
	if err != nil {
		writeError(w, lookupStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshot(snap))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.graph.History(r.Context(), chi.URLParam(r, "thread"))
	if err != nil {
		writeError(w, lookupStatus(err), err)
		return
	}
	out := make([]Snapshot, len(snaps))
	for i, snap := range snaps {
		out[i] = toSnapshot(snap)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	cps := s.graph.Checkpointer()
	if cps == nil {
		writeError(w, http.StatusNotImplemented, graph.ErrNoCheckpointer)
		return
	}
	if err := cps.Clear(r.Context(), chi.URLParam(r, "thread")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func lookupStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrNoCheckpointer):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
