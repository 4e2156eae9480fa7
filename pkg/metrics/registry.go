// Package metrics provides the Prometheus registry and the interface
// indirection used to keep pkg/blockstore, pkg/hashchain, and
// pkg/checkpoint free of a direct prometheus/client_golang dependency.
//
// Concrete collectors live in pkg/metrics/prometheus and register
// themselves into this package's constructor variables on init, the
// same indirection the teacher repo uses to avoid an import cycle
// between a storage package and its metrics package.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry
	enabled  atomic.Bool
)

// InitRegistry creates the process-wide Prometheus registry and enables
// metrics collection. Call once at startup before constructing any
// archive components that accept metrics.
func InitRegistry() *prometheus.Registry {
	registry = prometheus.NewRegistry()
	enabled.Store(true)
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return enabled.Load()
}

// GetRegistry returns the process-wide registry, or nil if InitRegistry
// has not been called.
func GetRegistry() *prometheus.Registry {
	return registry
}

// Handler returns an http.Handler serving the registry in the
// Prometheus exposition format, or nil when metrics are disabled.
func Handler() http.Handler {
	if !IsEnabled() {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// resetForTesting clears the registry state. Test-only.
func resetForTesting() {
	registry = nil
	enabled.Store(false)
}
