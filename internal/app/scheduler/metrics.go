package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report scheduler activity.
type Metrics struct {
	nodeDuration         *prometheus.HistogramVec
	nodeFailures         *prometheus.CounterVec
	nodeRetries          *prometheus.CounterVec
	nodeSkips            *prometheus.CounterVec
	compensations        *prometheus.CounterVec
	snapshotSaveFailures prometheus.Counter
	graphsActive         prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics registered with the global
// Prometheus registry, created once so repeated scheduler construction does
// not panic on duplicate registration.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs Metrics on reg. Collectors already registered
// under the same name are reused; any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		nodeDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentgraph",
				Subsystem: "scheduler",
				Name:      "node_duration_seconds",
				Help:      "Wall-clock time from node launch to settlement, retries included.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"agent", "status"},
		)),
		nodeFailures: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentgraph",
				Subsystem: "scheduler",
				Name:      "node_failures_total",
				Help:      "Nodes that settled failed, by failure class.",
			},
			[]string{"agent", "failure_class"},
		)),
		nodeRetries: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentgraph",
				Subsystem: "scheduler",
				Name:      "node_retries_total",
				Help:      "Retry attempts scheduled after a retryable failure.",
			},
			[]string{"agent"},
		)),
		nodeSkips: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentgraph",
				Subsystem: "scheduler",
				Name:      "node_skips_total",
				Help:      "Nodes skipped without execution, by reason.",
			},
			[]string{"reason"},
		)),
		compensations: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentgraph",
				Subsystem: "scheduler",
				Name:      "compensations_total",
				Help:      "Compensation runs by compensation agent and outcome.",
			},
			[]string{"agent", "status"},
		)),
		snapshotSaveFailures: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentgraph",
				Subsystem: "scheduler",
				Name:      "snapshot_save_failures_total",
				Help:      "Snapshot saves that returned an error.",
			},
		)),
		graphsActive: register(reg, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentgraph",
				Subsystem: "scheduler",
				Name:      "graphs_active",
				Help:      "Graph runs currently executing.",
			},
		)),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) C {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

func (m *Metrics) observeNode(agent, status string, duration time.Duration) {
	if m == nil || m.nodeDuration == nil {
		return
	}
	m.nodeDuration.WithLabelValues(agent, status).Observe(duration.Seconds())
}

func (m *Metrics) incNodeFailure(agent, class string) {
	if m == nil || m.nodeFailures == nil {
		return
	}
	m.nodeFailures.WithLabelValues(agent, class).Inc()
}

func (m *Metrics) incNodeRetry(agent string) {
	if m == nil || m.nodeRetries == nil {
		return
	}
	m.nodeRetries.WithLabelValues(agent).Inc()
}

func (m *Metrics) incNodeSkip(reason string) {
	if m == nil || m.nodeSkips == nil {
		return
	}
	m.nodeSkips.WithLabelValues(reason).Inc()
}

func (m *Metrics) incCompensation(agent, status string) {
	if m == nil || m.compensations == nil {
		return
	}
	m.compensations.WithLabelValues(agent, status).Inc()
}

func (m *Metrics) incSnapshotSaveFailure() {
	if m == nil || m.snapshotSaveFailures == nil {
		return
	}
	m.snapshotSaveFailures.Inc()
}

func (m *Metrics) incActiveGraphs() {
	if m == nil || m.graphsActive == nil {
		return
	}
	m.graphsActive.Inc()
}

func (m *Metrics) decActiveGraphs() {
	if m == nil || m.graphsActive == nil {
		return
	}
	m.graphsActive.Dec()
}
