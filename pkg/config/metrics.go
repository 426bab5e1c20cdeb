package config

import (
	"context"

	"github.com/marmos91/dittostash/pkg/manager"
	"github.com/marmos91/dittostash/pkg/metrics"
	promMetrics "github.com/marmos91/dittostash/pkg/metrics/prometheus"
)

// MetricsResult contains the metrics components that must exist before the
// runtime is built.
type MetricsResult struct {
	// ManagerMetrics records resource manager activity (nil if disabled, so
	// the manager skips work only needed for metrics)
	ManagerMetrics metrics.ManagerMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates Prometheus-backed manager metrics
//
// If metrics are disabled, ManagerMetrics is nil.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		ManagerMetrics: promMetrics.NewManagerMetrics(),
	}
}

// StatusReport is the body of GET /status on the metrics server.
type StatusReport struct {
	Status string         `json:"status"`
	Usage  *manager.Usage `json:"usage"`
}

// NewMetricsServer creates the metrics HTTP server for a running runtime, or
// nil when metrics are disabled. Its /status route reports the metadata
// store health and the manager's usage summary.
func NewMetricsServer(cfg *Config, rt *Runtime) *metrics.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.NewServer(metrics.ServerConfig{
		Port:   cfg.Metrics.Port,
		Status: RuntimeStatus(rt),
	})
}

// RuntimeStatus returns the status source of the metrics server.
func RuntimeStatus(rt *Runtime) metrics.StatusFunc {
	return func(ctx context.Context) (any, error) {
		if err := rt.Store.Healthcheck(ctx); err != nil {
			return nil, err
		}
		usage, err := rt.Manager.Usage(ctx)
		if err != nil {
			return nil, err
		}
		return &StatusReport{Status: "ok", Usage: usage}, nil
	}
}
