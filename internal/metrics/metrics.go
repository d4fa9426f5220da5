// Package metrics exposes Prometheus counters for the key lifecycle, the
// session gate, and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keygate"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing,
// so components can take one unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	keyOperations *prometheus.CounterVec
	verifications *prometheus.CounterVec
	gateDecisions *prometheus.CounterVec
	keysPurged    prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry along with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		keyOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_key_operations_total",
				Help:      "API key registry operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_key_verifications_total",
				Help:      "Presented API keys by verification result",
			},
			[]string{"result"},
		),

		gateDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_decisions_total",
				Help:      "Session gate decisions on protected routes",
			},
			[]string{"decision"},
		),

		keysPurged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revoked_keys_purged_total",
				Help:      "Revoked API keys deleted by the retention job",
			},
		),

		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route pattern and status",
			},
			[]string{"method", "route", "status"},
		),

		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route pattern",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"route"},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format for the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// KeyOperation counts a Create, List or Revoke outcome.
func (m *Metrics) KeyOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.keyOperations.WithLabelValues(operation, outcome).Inc()
}

// KeyVerification counts an API key check.
func (m *Metrics) KeyVerification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

// GateDecision counts a pass or a redirect reason.
func (m *Metrics) GateDecision(decision string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(decision).Inc()
}

// KeysPurged adds n to the purge counter.
func (m *Metrics) KeysPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.keysPurged.Add(float64(n))
}

// ObserveRequest records a completed HTTP request. route should be the
// router pattern, not the raw path, to keep cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RegisterActiveKeys exposes a gauge whose value is read from fn at scrape
// time.
func (m *Metrics) RegisterActiveKeys(fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_api_keys",
			Help:      "API keys that have not been revoked",
		},
		fn,
	)
}
