package prometheus

import (
	"time"

	"github.com/marmos91/dittostash/pkg/metrics"
	"github.com/marmos91/dittostash/pkg/store/metadata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// managerMetrics is the Prometheus implementation of metrics.ManagerMetrics.
type managerMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	queueWait         prometheus.Histogram
	queueDepth        prometheus.Gauge
	evictionsTotal    *prometheus.CounterVec
	evictedBytesTotal *prometheus.CounterVec
	domainSize        *prometheus.GaugeVec
	quota             prometheus.Gauge
	reconcileFindings *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
}

// NewManagerMetrics creates a new Prometheus-backed ManagerMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewManagerMetrics() metrics.ManagerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopManagerMetrics()
	}
	return newManagerMetrics(metrics.GetRegistry())
}

func newManagerMetrics(reg prometheus.Registerer) *managerMetrics {
	return &managerMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostash_operations_total",
				Help: "Total number of manager operations by type, domain, and status",
			},
			[]string{"operation", "domain", "status", "error_code"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittostash_operation_duration_milliseconds",
				Help: "Execution time of manager operations in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
			[]string{"operation", "domain"},
		),
		queueWait: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittostash_queue_wait_milliseconds",
				Help:    "Time operations spend queued before running",
				Buckets: []float64{1, 10, 100, 1000, 10000},
			},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittostash_queue_depth",
				Help: "Number of operations waiting in the serialized queue",
			},
		),
		evictionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostash_evictions_total",
				Help: "Total number of evicted resources by domain",
			},
			[]string{"domain"},
		),
		evictedBytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostash_evicted_bytes_total",
				Help: "Total bytes freed by eviction by domain",
			},
			[]string{"domain"},
		),
		domainSize: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittostash_domain_size_bytes",
				Help: "Bytes currently consumed by resources of a domain",
			},
			[]string{"domain"},
		),
		quota: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittostash_quota_bytes",
				Help: "Effective global quota in bytes (0 means unlimited)",
			},
		),
		reconcileFindings: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostash_reconcile_findings_total",
				Help: "Inconsistencies found by reconciliation, by kind",
			},
			[]string{"kind"},
		),
		reconcileDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittostash_reconcile_duration_seconds",
				Help:    "Duration of reconciliation passes",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func (m *managerMetrics) RecordOperation(operation string, domain string, duration time.Duration, err error) {
	status := "success"
	errorCode := ""
	if err != nil {
		status = "error"
		errorCode = "internal"
		if code, ok := metadata.CodeOf(err); ok {
			errorCode = code.String()
		}
	}

	m.operationsTotal.WithLabelValues(operation, domain, status, errorCode).Inc()
	m.operationDuration.WithLabelValues(operation, domain).Observe(duration.Seconds() * 1000)
}

func (m *managerMetrics) RecordQueueWait(duration time.Duration) {
	m.queueWait.Observe(duration.Seconds() * 1000)
}

func (m *managerMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *managerMetrics) RecordEviction(domain string, bytes int64) {
	m.evictionsTotal.WithLabelValues(domain).Inc()
	m.evictedBytesTotal.WithLabelValues(domain).Add(float64(bytes))
}

func (m *managerMetrics) SetDomainSize(domain string, bytes int64) {
	m.domainSize.WithLabelValues(domain).Set(float64(bytes))
}

func (m *managerMetrics) SetQuota(bytes int64) {
	m.quota.Set(float64(bytes))
}

func (m *managerMetrics) RecordReconcile(orphans, missing, drifted int, duration time.Duration) {
	m.reconcileFindings.WithLabelValues("orphan_file").Add(float64(orphans))
	m.reconcileFindings.WithLabelValues("missing_file").Add(float64(missing))
	m.reconcileFindings.WithLabelValues("size_drift").Add(float64(drifted))
	m.reconcileDuration.Observe(duration.Seconds())
}
