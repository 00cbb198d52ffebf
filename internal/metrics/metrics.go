// Package metrics exposes the sidecar's Prometheus instruments on a
// dedicated registry so tests can construct isolated instances.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	NonceRejections    prometheus.Counter
	BreakerTransitions *prometheus.CounterVec
	ProviderRetries    *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cheval_requests_total",
			Help: "Requests by route and status code",
		}, []string{"route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cheval_request_duration_seconds",
			Help:    "Request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		NonceRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cheval_nonce_rejections_total",
			Help: "Requests rejected as nonce replays",
		}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cheval_breaker_transitions_total",
			Help: "Circuit breaker state transitions by provider",
		}, []string{"provider", "from", "to"}),
		ProviderRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cheval_provider_retries_total",
			Help: "Retried provider attempts by provider",
		}, []string{"provider"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.NonceRejections,
		m.BreakerTransitions,
		m.ProviderRetries,
	)
	return m
}

// Handler serves the registry in the standard exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(route, status string, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
