// Package metrics exposes Prometheus instrumentation for the scheduler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one scheduler instance.
// All observation methods are safe to call on a nil receiver, so callers
// that run without instrumentation can pass nil through.
type Metrics struct {
	registry *prometheus.Registry

	schedulePasses *prometheus.CounterVec
	collectorRuns  *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	registered     prometheus.Gauge
}

// New creates a Metrics set backed by a fresh registry (no Go runtime
// collectors, matching an agent-style minimal exposition).
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		schedulePasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_schedule_passes_total",
			Help: "Completed schedule passes, by outcome.",
		}, []string{"outcome"}),
		collectorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_collector_runs_total",
			Help: "Collector runs, by collector name and outcome.",
		}, []string{"collector", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_collector_run_duration_seconds",
			Help:    "Wall-clock duration of collector runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"collector"}),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_collectors_registered",
			Help: "Currently registered collectors.",
		}),
	}
	m.registry.MustRegister(m.schedulePasses, m.collectorRuns, m.runDuration, m.registered)
	return m
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records one collector run.
func (m *Metrics) ObserveRun(collector string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.collectorRuns.WithLabelValues(collector, outcome).Inc()
	m.runDuration.WithLabelValues(collector).Observe(d.Seconds())
}

// ObservePass records one schedule pass.
func (m *Metrics) ObservePass(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.schedulePasses.WithLabelValues(outcome).Inc()
}

// SetRegistered records the current collector count.
func (m *Metrics) SetRegistered(n int) {
	if m == nil {
		return
	}
	m.registered.Set(float64(n))
}
