// Package metrics exposes benchmark progress as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"elbench/internal/core"
)

// Metrics records trial outcomes. A nil *Metrics is a valid no-op.
type Metrics struct {
	trialSeconds *prometheus.HistogramVec
	failures     *prometheus.CounterVec
	evaluations  *prometheus.CounterVec
	workers      prometheus.Gauge
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		trialSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "elbench",
			Name:      "trial_seconds",
			Help:      "Average time of one trial (iteration batch) per engine and mode.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18), // 0.1ms to ~13s
		}, []string{"engine", "mode"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "elbench",
			Name:      "execution_failures_total",
			Help:      "Engine/mode/case combinations that could not execute.",
		}, []string{"engine", "mode"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "elbench",
			Name:      "measured_evaluations_total",
			Help:      "Expression evaluations inside measured trials.",
		}, []string{"engine", "mode"}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "elbench",
			Name:      "stress_workers",
			Help:      "Worker count of the current stress sweep step.",
		}),
	}
	reg.MustRegister(m.trialSeconds, m.failures, m.evaluations, m.workers)
	return m
}

// Report implements core.Reporter.
func (m *Metrics) Report(e core.Event) {
	if m == nil {
		return
	}
	mode := e.Mode.String()
	if e.Failed() {
		m.failures.WithLabelValues(e.Engine, mode).Inc()
		return
	}
	if n := len(e.Samples); n > 0 {
		m.trialSeconds.WithLabelValues(e.Engine, mode).Observe(e.Total().Seconds() / float64(n))
		m.evaluations.WithLabelValues(e.Engine, mode).Add(float64(e.Iterations * n))
	}
}

// SetWorkers records the worker count of the running sweep step.
func (m *Metrics) SetWorkers(n int) {
	if m == nil {
		return
	}
	m.workers.Set(float64(n))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
