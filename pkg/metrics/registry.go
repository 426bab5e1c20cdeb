// Package metrics holds the Prometheus registry of a dittostash process and
// the interfaces the resource manager reports through.
//
// The registry is created once by `dittostash serve` when metrics.enabled is
// set. The manager's queue, operation, eviction and reconcile series
// (prometheus.NewManagerMetrics) register on it, and the metrics Server
// exposes it on /metrics next to a JSON /status summary. Offline commands
// never call InitRegistry, so every constructor there returns a no-op and the
// manager runs the same code path without collection.
//
// Usage:
//
//	metrics.InitRegistry()
//	mgr, _ := manager.New(manager.Options{Metrics: prometheus.NewManagerMetrics(), ...})
//	srv := metrics.NewServer(metrics.ServerConfig{Port: 9090, Status: status})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is written once by InitRegistry and read afterwards
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process registry with the Go runtime and process
// collectors already registered, so heap and file descriptor usage of the
// server are scraped alongside the storage series.
//
// It must run before prometheus.NewManagerMetrics. Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the process registry, or nil before InitRegistry.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
