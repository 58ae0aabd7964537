// Package telemetry exposes Prometheus metrics for compiles, bypass
// outcomes, catalog fetches and submissions.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/cozygen/internal/choices"
	"github.com/roach88/cozygen/internal/compiler"
)

const namespace = "cozygen"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	compiles      *prometheus.CounterVec
	bypass        *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	fetchSeconds  *prometheus.HistogramVec
	submissions   *prometheus.CounterVec
}

var _ choices.Observer = (*Metrics)(nil)

// New registers every collector on a fresh registry, plus the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		// Labels: result (ok, missing_image, error)
		compiles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compiles_total",
			Help:      "Total template compilations by result",
		}, []string{"result"}),
		// Labels: outcome (applied, no_target, no_passthrough, not_present, not_bypassable)
		bypass: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bypass_total",
			Help:      "Bypass requests by outcome",
		}, []string{"outcome"}),
		fetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_fetch_failures_total",
			Help:      "Catalog fetches that failed and degraded to an empty option list",
		}, []string{"category"}),
		fetchSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_fetch_seconds",
			Help:      "Catalog fetch latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"category"}),
		// Labels: status (queued, finished, interrupted, failed, rejected)
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submitted runs by status",
		}, []string{"status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFetch implements choices.Observer.
func (m *Metrics) ObserveFetch(category string, elapsed time.Duration, err error) {
	m.fetchSeconds.WithLabelValues(category).Observe(elapsed.Seconds())
	if err != nil {
		m.fetchFailures.WithLabelValues(category).Inc()
	}
}

// ObserveCompile counts one compile and its bypass outcomes.
func (m *Metrics) ObserveCompile(out *compiler.Compiled, err error) {
	switch {
	case err == nil:
		m.compiles.WithLabelValues("ok").Inc()
	case compiler.IsMissingImage(err):
		m.compiles.WithLabelValues("missing_image").Inc()
	default:
		m.compiles.WithLabelValues("error").Inc()
	}
	if out == nil {
		return
	}
	for _, r := range out.Bypass {
		m.bypass.WithLabelValues(string(r.Outcome)).Inc()
	}
}

// ObserveSubmit counts a submission status change.
func (m *Metrics) ObserveSubmit(status string) {
	m.submissions.WithLabelValues(status).Inc()
}
