// Package metrics exposes Prometheus instrumentation for the search engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors. Construct once per process with New.
type Metrics struct {
	Searches        *prometheus.CounterVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheEntries    prometheus.Gauge
	BackendFailures *prometheus.CounterVec
	TokenRefreshes  *prometheus.CounterVec
}

// New registers all collectors on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all collectors on r. Tests pass a fresh registry so
// repeated construction does not collide.
func NewWith(r prometheus.Registerer) *Metrics {
	factory := promauto.With(r)
	return &Metrics{
		Searches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "people_lookup_searches_total",
			Help: "Total searches by outcome (ok, degraded, failed, invalid)",
		}, []string{"outcome"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "people_lookup_cache_hits_total",
			Help: "Total search cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "people_lookup_cache_misses_total",
			Help: "Total search cache misses",
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "people_lookup_cache_entries",
			Help: "Current number of live search cache entries",
		}),
		BackendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "people_lookup_backend_failures_total",
			Help: "Per-backend search failures by kind",
		}, []string{"backend", "kind"}),
		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "people_lookup_token_refreshes_total",
			Help: "Token refresh exchanges by service and outcome",
		}, []string{"service", "outcome"}),
	}
}
