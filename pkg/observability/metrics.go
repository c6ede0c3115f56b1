// Package observability exposes the per-stage metrics facet of a shared
// pool as Prometheus collectors, plus a scrape endpoint to serve them.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stagepool/stagepool/pkg/core/concurrency"
)

const (
	// metricGroup is the common type label of every stage metric.
	metricGroup = "ThreadPools"

	labelType  = "type"
	labelPath  = "path"
	labelPool  = "pool"
	labelScope = "scope"
)

var (
	// DefaultRegistry is the registry stage metrics land on unless a
	// Registry is built with an explicit registerer.
	DefaultRegistry = prometheus.NewRegistry()
)

// Registry creates StageMetrics instances on a Prometheus registerer.
// Wire it into a pool with concurrency.WithStageMetrics:
//
//	reg := observability.NewRegistry(nil, "request")
//	pool := concurrency.NewSharedPool("server",
//	    concurrency.WithStageMetrics(reg.ForStage))
type Registry struct {
	reg  prometheus.Registerer
	path string
}

// NewRegistry creates a metrics registry for stages under the given path
// (the second element of the metric tuple, e.g. "request" or "internal").
// A nil registerer uses DefaultRegistry.
func NewRegistry(reg prometheus.Registerer, path string) *Registry {
	if reg == nil {
		reg = DefaultRegistry
	}
	return &Registry{reg: reg, path: path}
}

// ForStage registers the metrics facet of one stage. The gauges read the
// executor's counters directly at collect time; the blocked counters are
// driven by the executor through the StageMetrics interface.
func (r *Registry) ForStage(s *concurrency.StageExecutor) concurrency.StageMetrics {
	labels := prometheus.Labels{
		labelType:  metricGroup,
		labelPath:  r.path,
		labelPool:  s.Pool().Name(),
		labelScope: s.Name(),
	}
	m := &stageMetrics{reg: r.reg}
	m.collectors = []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "stagepool_active_tasks",
			Help:        "Number of tasks the stage is currently executing",
			ConstLabels: labels,
		}, func() float64 { return float64(s.ActiveCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "stagepool_pending_tasks",
			Help:        "Number of tasks queued on the stage, waiting to be executed",
			ConstLabels: labels,
		}, func() float64 { return float64(s.PendingTasks()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "stagepool_completed_tasks",
			Help:        "Number of tasks the stage has completed",
			ConstLabels: labels,
		}, func() float64 { return float64(s.CompletedCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "stagepool_max_pool_size",
			Help:        "Maximum number of concurrent executions the stage allows",
			ConstLabels: labels,
		}, func() float64 { return float64(s.MaxPoolSize()) }),
	}
	m.totalBlocked = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "stagepool_total_blocked_tasks",
		Help:        "Cumulative number of submissions that blocked before being accepted",
		ConstLabels: labels,
	})
	m.currentBlocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "stagepool_currently_blocked_tasks",
		Help:        "Number of submitters blocked right now, waiting for queue room",
		ConstLabels: labels,
	})
	m.collectors = append(m.collectors, m.totalBlocked, m.currentBlocked)
	for _, c := range m.collectors {
		r.reg.MustRegister(c)
	}
	return m
}

// stageMetrics implements concurrency.StageMetrics.
type stageMetrics struct {
	reg            prometheus.Registerer
	collectors     []prometheus.Collector
	totalBlocked   prometheus.Counter
	currentBlocked prometheus.Gauge
}

func (m *stageMetrics) IncBlocked() {
	m.totalBlocked.Inc()
	m.currentBlocked.Inc()
}

func (m *stageMetrics) DecBlocked() {
	m.currentBlocked.Dec()
}

// Release deregisters every collector of the stage. Called by the
// executor once the stage has terminated.
func (m *stageMetrics) Release() {
	for _, c := range m.collectors {
		m.reg.Unregister(c)
	}
}
