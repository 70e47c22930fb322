// Package metrics exposes Prometheus instrumentation for the sync
// engine and the hot-reload controller.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all daemon metrics.
type Registry struct {
	// Apply pipeline
	AppliesTotal    *prometheus.CounterVec // result: success|validation_error|compile_error|native_rejected|unavailable|persistence_error
	FiltersCreated  prometheus.Counter
	FiltersRemoved  prometheus.Counter
	InstalledGauge  prometheus.Gauge
	ApplyRetries    prometheus.Counter
	RollbacksTotal  prometheus.Counter
	LKGRevertsTotal prometheus.Counter

	// Hot reload
	ReloadEvents  prometheus.Counter
	ReloadApplies prometheus.Counter
	ReloadErrors  prometheus.Counter

	// Control plane
	RateLimited       prometheus.Counter
	OversizedRequests prometheus.Counter
}

// Get returns the process-wide metrics registry, creating it on first
// use.
func Get() *Registry {
	once.Do(func() {
		registry = &Registry{
			AppliesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rampart",
				Name:      "applies_total",
				Help:      "Policy apply attempts by result.",
			}, []string{"result"}),
			FiltersCreated: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "rampart",
				Name:      "filters_created_total",
				Help:      "Native filters created by applies.",
			}),
			FiltersRemoved: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "rampart",
				Name:      "filters_removed_total",
				Help:      "Native filters removed by applies.",
			}),
			InstalledGauge: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "rampart",
				Name:      "filters_installed",
				Help:      "Native filters currently installed.",
			}),
			ApplyRetries: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "rampart",
				Name:      "apply_retries_total",
				Help:      "Retries after a transaction-unavailable failure.",
			}),
			RollbacksTotal: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "rampart",
				Name:      "rollbacks_total",
				Help:      "Panic rollbacks executed.",
			}),
			LKGRevertsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "rampart",
				Name:      "lkg_reverts_total",
				Help:      "Reverts to the last-known-good baseline.",
			}),
			ReloadEvents: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "rampart",
				Name:      "reload_events_total",
				Help:      "Raw file change notifications observed.",
			}),
			ReloadApplies: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "rampart",
				Name:      "reload_applies_total",
				Help:      "Applies triggered after debounce coalescing.",
			}),
			ReloadErrors: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "rampart",
				Name:      "reload_errors_total",
				Help:      "Hot-reload attempts that failed validation or apply.",
			}),
			RateLimited: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "rampart",
				Name:      "ratelimited_requests_total",
				Help:      "Control plane requests rejected by rate limiting.",
			}),
			OversizedRequests: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "rampart",
				Name:      "oversized_requests_total",
				Help:      "Control plane requests rejected for exceeding the size ceiling.",
			}),
		}
	})
	return registry
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	Get()
	return promhttp.Handler()
}
