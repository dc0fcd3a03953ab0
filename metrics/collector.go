// Package metrics exports graph run events as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smallnest/ragflow/graph"
)

const namespace = "ragflow"

// Node execution statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Collector is a graph.NodeListener that records run events.
type Collector struct {
	nodeExecutions *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	runs           *prometheus.CounterVec
	activeRuns     prometheus.Gauge
	checkpoints    *prometheus.CounterVec
}

var _ graph.NodeListener = (*Collector)(nil)

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		nodeExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_executions_total",
				Help:      "Node executions by node and status.",
			},
			[]string{"node", "status"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Time from node start to merged update.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished runs by termination reason.",
			},
			[]string{"reason"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_active",
				Help:      "Runs currently executing.",
			},
		),
		checkpoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_total",
				Help:      "Checkpoints written by node.",
			},
			[]string{"node"},
		),
	}

	for _, col := range []prometheus.Collector{c.nodeExecutions, c.nodeDuration, c.runs, c.activeRuns, c.checkpoints} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNewCollector is like NewCollector but panics on registration errors.
func MustNewCollector(reg prometheus.Registerer) *Collector {
	c, err := NewCollector(reg)
	if err != nil {
		panic(err)
	}
	return c
}

// OnNodeEvent implements graph.NodeListener.
func (c *Collector) OnNodeEvent(_ context.Context, event graph.Event) {
	switch event.Type {
	case graph.EventRunStart:
		c.activeRuns.Inc()
	case graph.EventNodeEnd:
		c.nodeExecutions.WithLabelValues(event.Node, StatusOK).Inc()
		c.nodeDuration.WithLabelValues(event.Node).Observe(event.Duration.Seconds())
	case graph.EventNodeError:
		c.nodeExecutions.WithLabelValues(event.Node, StatusError).Inc()
	case graph.EventCheckpoint:
		c.checkpoints.WithLabelValues(event.Node).Inc()
	case graph.EventRunEnd:
		// runs that never started carry no reason
		if event.Reason != 0 {
			c.activeRuns.Dec()
		}
		c.runs.WithLabelValues(event.Reason.String()).Inc()
	}
}
