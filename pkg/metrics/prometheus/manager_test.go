package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/marmos91/dittostash/pkg/store/metadata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestManagerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newManagerMetrics(reg)

	m.RecordOperation("register", "cache", 5*time.Millisecond, nil)
	m.RecordOperation("register", "cache", time.Millisecond, metadata.NewNotFoundError("domain", "cache"))
	m.RecordOperation("lookup", "cache", time.Millisecond, errors.New("boom"))
	m.RecordEviction("cache", 100)
	m.RecordEviction("cache", 50)
	m.SetDomainSize("cache", 250)
	m.SetQueueDepth(3)
	m.SetQuota(1000)
	m.RecordReconcile(1, 2, 0, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("register", "cache", "success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("register", "cache", "error", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("lookup", "cache", "error", "internal")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.evictionsTotal.WithLabelValues("cache")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.evictedBytesTotal.WithLabelValues("cache")))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.domainSize.WithLabelValues("cache")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.quota))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconcileFindings.WithLabelValues("missing_file")))
}

func TestNewManagerMetrics_DisabledIsNoop(t *testing.T) {
	// InitRegistry is never called in this package's tests.
	m := NewManagerMetrics()
	_, isProm := m.(*managerMetrics)
	assert.False(t, isProm)
	m.RecordOperation("lookup", "x", time.Millisecond, nil)
}
