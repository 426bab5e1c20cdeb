package metrics

import (
	"time"
)

// ManagerMetrics provides observability for resource manager operations.
//
// Implementations must be safe for concurrent use: operations are recorded
// from the manager's worker goroutine while gauges may be refreshed from
// request handlers.
type ManagerMetrics interface {
	// RecordOperation records a completed queued operation.
	//
	// Parameters:
	//   - operation: "lookup", "register" or "purge"
	//   - domain: Domain identifier the operation targeted
	//   - duration: Time spent executing (queue wait excluded)
	//   - err: Error if the operation failed, nil if successful
	RecordOperation(operation string, domain string, duration time.Duration, err error)

	// RecordQueueWait records how long an operation waited before it ran.
	RecordQueueWait(duration time.Duration)

	// SetQueueDepth updates the number of operations waiting to run.
	SetQueueDepth(depth int)

	// RecordEviction records one evicted Resource.
	RecordEviction(domain string, bytes int64)

	// SetDomainSize updates the current byte total of a Domain.
	SetDomainSize(domain string, bytes int64)

	// SetQuota updates the effective global quota in bytes (0 = unlimited).
	SetQuota(bytes int64)

	// RecordReconcile records one reconciliation pass.
	RecordReconcile(orphans, missing, drifted int, duration time.Duration)
}

// NewNoopManagerMetrics returns a ManagerMetrics that discards everything.
func NewNoopManagerMetrics() ManagerMetrics {
	return noopManagerMetrics{}
}

// OrNoop returns m, or a no-op implementation when m is nil.
func OrNoop(m ManagerMetrics) ManagerMetrics {
	if m == nil {
		return noopManagerMetrics{}
	}
	return m
}

// noopManagerMetrics is a no-op implementation of ManagerMetrics with zero overhead.
type noopManagerMetrics struct{}

func (noopManagerMetrics) RecordOperation(string, string, time.Duration, error) {}
func (noopManagerMetrics) RecordQueueWait(time.Duration)                        {}
func (noopManagerMetrics) SetQueueDepth(int)                                    {}
func (noopManagerMetrics) RecordEviction(string, int64)                         {}
func (noopManagerMetrics) SetDomainSize(string, int64)                          {}
func (noopManagerMetrics) SetQuota(int64)                                       {}
func (noopManagerMetrics) RecordReconcile(int, int, int, time.Duration)         {}
