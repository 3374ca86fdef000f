// Package metrics exposes Prometheus metrics for the context pool and the
// run orchestrator. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector of the runtime.
type Metrics struct {
	ContextsLive     prometheus.Gauge
	ContextsCreated  prometheus.Counter
	ContextsDisposed *prometheus.CounterVec
	Runs             *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	CPUUsed          prometheus.Histogram
	Violations       prometheus.Counter
	CompileErrors    prometheus.Counter
	WatchdogFired    prometheus.Counter
}

// New creates and registers the runtime metrics.
// Returns nil if reg is nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ContextsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tickrun",
			Subsystem: "pool",
			Name:      "contexts_live",
			Help:      "Tenant contexts currently held by the pool.",
		}),
		ContextsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tickrun",
			Subsystem: "pool",
			Name:      "contexts_created_total",
			Help:      "Tenant contexts built.",
		}),
		ContextsDisposed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickrun",
			Subsystem: "pool",
			Name:      "contexts_disposed_total",
			Help:      "Tenant contexts disposed, by reason.",
		}, []string{"reason"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickrun",
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Completed runs, by outcome kind.",
		}, []string{"kind"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tickrun",
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a run, load to commit.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		CPUUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tickrun",
			Subsystem: "orchestrator",
			Name:      "cpu_used_ms",
			Help:      "CPU charged to tenants per run.",
			Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500},
		}),
		Violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tickrun",
			Subsystem: "security",
			Name:      "violations_total",
			Help:      "Runs that ended in a security policy violation.",
		}),
		CompileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tickrun",
			Subsystem: "compiler",
			Name:      "errors_total",
			Help:      "Tenant modules that failed to compile.",
		}),
		WatchdogFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tickrun",
			Subsystem: "orchestrator",
			Name:      "watchdog_fired_total",
			Help:      "Runs cut off by the wall-clock watchdog.",
		}),
	}

	reg.MustRegister(
		m.ContextsLive,
		m.ContextsCreated,
		m.ContextsDisposed,
		m.Runs,
		m.RunDuration,
		m.CPUUsed,
		m.Violations,
		m.CompileErrors,
		m.WatchdogFired,
	)

	return m
}

// ContextCreated records a built context.
func (m *Metrics) ContextCreated() {
	if m == nil {
		return
	}
	m.ContextsCreated.Inc()
	m.ContextsLive.Inc()
}

// ContextDisposed records a disposed context.
func (m *Metrics) ContextDisposed(reason string) {
	if m == nil {
		return
	}
	m.ContextsDisposed.WithLabelValues(reason).Inc()
	m.ContextsLive.Dec()
}

// RunFinished records the outcome of one run.
func (m *Metrics) RunFinished(kind string, elapsed time.Duration, cpuMs int) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "ok"
	}
	m.Runs.WithLabelValues(kind).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
	m.CPUUsed.Observe(float64(cpuMs))
	if kind == "security" {
		m.Violations.Inc()
	}
}

// CompileFailed records n modules that failed to compile.
func (m *Metrics) CompileFailed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.CompileErrors.Add(float64(n))
}

// Watchdog records a watchdog firing.
func (m *Metrics) Watchdog() {
	if m == nil {
		return
	}
	m.WatchdogFired.Inc()
}
