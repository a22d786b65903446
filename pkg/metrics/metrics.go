// Package metrics exposes the adapter's and server's operation counters
// through a prometheus.Registry, modeled on the pack's internal/metrics
// Collector pattern.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks per-command counters/histograms shared by the server's
// dispatch loop and the adapter's filesystem callbacks.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsTotal     *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	OpenHandles     prometheus.Gauge
	ActiveSessions  prometheus.Gauge
}

// NewCollector builds and registers every metric against a fresh registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total",
			Help: "Total number of protocol requests processed, by command.",
		}, []string{"command"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "request_duration_seconds",
			Help:    "Request handling latency, by command.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Total number of requests that ended in a non-OK status, by command and code.",
		}, []string{"command", "code"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total",
			Help: "Adapter cache hits, by cache name.",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total",
			Help: "Adapter cache misses, by cache name.",
		}, []string{"cache"}),
		OpenHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_handles",
			Help: "Number of currently open server-side handles.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions",
			Help: "Number of currently connected channels.",
		}),
	}
	registry.MustRegister(
		c.RequestsTotal, c.RequestDuration, c.ErrorsTotal,
		c.CacheHits, c.CacheMisses, c.OpenHandles, c.ActiveSessions,
	)
	return c
}

// Handler returns the HTTP handler that serves the registry in the
// Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
