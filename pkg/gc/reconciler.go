// Package gc reconciles the metadata store with the storage tree.
//
// The two can disagree when the process stops between the steps of an
// operation:
//   - A crash after an evicted Resource's record was committed as removed but
//     before its file was deleted leaves an orphaned file
//   - A failed commit after a staged file was moved into place leaves an
//     orphaned file (new Resource) or a size mismatch (updated Resource)
//   - An interrupted cross-device move leaves a temporary file behind
//   - A file deleted by hand leaves a record pointing at nothing
//
// The Reconciler detects all of these and repairs them. It is meant to run at
// startup, before the manager accepts work, and optionally on an interval
// through the manager's exclusive queue slot.
package gc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/marmos91/dittostash/internal/logger"
	"github.com/marmos91/dittostash/pkg/metrics"
	"github.com/marmos91/dittostash/pkg/store/content"
	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// Executor runs a reconciliation pass. The pass must not overlap with
// operations that mutate the store or the storage tree; Manager.Exclusive
// satisfies this, and so does Direct when nothing else is running.
type Executor func(ctx context.Context, fn func(ctx context.Context) error) error

// Direct runs fn on the calling goroutine.
func Direct(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// valueLogCollector is implemented by stores with a reclaimable value log.
type valueLogCollector interface {
	RunValueLogGC(discardRatio float64) error
}

// Config contains configuration for the reconciler.
type Config struct {
	// Enabled controls whether periodic reconciliation runs (default: false).
	// RunNow works regardless.
	Enabled bool

	// Interval is how often to reconcile when Enabled (default: 24h)
	Interval time.Duration

	// DryRun reports what would be repaired without changing anything
	DryRun bool
}

// Reconciler repairs disagreements between metadata and stored files.
//
// Thread Safety: Safe for concurrent use. Passes are serialized by the
// Executor.
type Reconciler struct {
	store    metadata.MetadataStore
	content  content.ContentStore
	metrics  metrics.ManagerMetrics
	exec     Executor
	config   Config
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewReconciler creates a reconciler. It is not started.
//
// Parameters:
//   - store: Metadata store holding Domains and Resources
//   - contentStore: Storage tree the Resources live in
//   - exec: Runs each pass; nil means Direct
//   - m: Metrics sink; nil means no-op
//   - config: Reconciliation configuration
func NewReconciler(
	store metadata.MetadataStore,
	contentStore content.ContentStore,
	exec Executor,
	m metrics.ManagerMetrics,
	config Config,
) *Reconciler {
	if config.Interval == 0 {
		config.Interval = 24 * time.Hour
	}
	if exec == nil {
		exec = Direct
	}

	return &Reconciler{
		store:   store,
		content: contentStore,
		metrics: metrics.OrNoop(m),
		exec:    exec,
		config:  config,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins periodic reconciliation. It is a no-op when disabled.
// Must not be called more than once.
func (r *Reconciler) Start() {
	if !r.config.Enabled {
		logger.Debug("Periodic reconciliation disabled")
		return
	}

	logger.Info("Starting reconciler: interval=%s dry_run=%v", r.config.Interval, r.config.DryRun)
	r.started = true
	go r.worker()
}

// Stop stops periodic reconciliation and waits for an in-progress pass.
// Safe to call multiple times.
//
// Returns:
//   - error: ctx.Err() if ctx expires before the worker exits
func (r *Reconciler) Stop(ctx context.Context) error {
	if !r.started {
		return nil
	}
	r.stopOnce.Do(func() { close(r.stopCh) })

	select {
	case <-r.doneCh:
		logger.Debug("Reconciler stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Reconciler shutdown timeout")
		return ctx.Err()
	}
}

// RunNow runs one reconciliation pass and waits for it.
func (r *Reconciler) RunNow(ctx context.Context) (*Report, error) {
	var report *Report
	err := r.exec(ctx, func(ctx context.Context) error {
		var err error
		report, err = r.reconcile(ctx)
		return err
	})
	if err != nil {
		return report, err
	}

	r.metrics.RecordReconcile(len(report.Orphans), len(report.Missing), len(report.Drifted), report.Duration())
	logger.Info("Reconciliation completed: %s", report.Summary())
	return report, nil
}

func (r *Reconciler) worker() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			if _, err := r.RunNow(ctx); err != nil {
				logger.Error("Reconciliation failed: %v", err)
			}
			cancel()

			if gc, ok := r.store.(valueLogCollector); ok && !r.config.DryRun {
				if err := gc.RunValueLogGC(0.5); err != nil {
					logger.Debug("Value log GC: %v", err)
				}
			}

		case <-r.stopCh:
			return
		}
	}
}

// ============================================================================
// Reconciliation pass
// ============================================================================

// reconcile performs a single pass.
//
// Algorithm:
//  1. Read every Resource and Domain from a read view
//  2. Walk the storage tree: temporary files and files no live Resource
//     points at are orphans; files whose size differs from the record drift
//  3. Resources whose file was not seen are missing
//  4. In one transaction: remove missing records, correct drifted sizes and
//     recompute every Domain size from its live Resources
//  5. Delete orphaned files
//
// With DryRun, steps 4 and 5 only report.
func (r *Reconciler) reconcile(ctx context.Context) (*Report, error) {
	report := &Report{StartTime: time.Now(), DryRun: r.config.DryRun}

	// ========================================================================
	// Step 1: Live records
	// ========================================================================

	byPath := make(map[string]*metadata.Resource)
	var domains []*metadata.Domain
	err := r.store.View(ctx, func(txn metadata.Txn) error {
		all, err := txn.ListResources("")
		if err != nil {
			return err
		}
		for _, res := range all {
			byPath[filepath.Clean(res.Path)] = res
		}
		domains, err = txn.ListDomains()
		return err
	})
	if err != nil {
		return report, fmt.Errorf("failed to read metadata: %w", err)
	}
	report.Resources = len(byPath)

	// ========================================================================
	// Step 2: Storage tree
	// ========================================================================

	seen := make(map[uuid.UUID]bool, len(byPath))
	sizes := make(map[uuid.UUID]int64)
	err = r.content.Walk(ctx, func(path string, size int64) error {
		report.Files++
		res, ok := byPath[filepath.Clean(path)]
		if !ok || strings.HasPrefix(filepath.Base(path), content.TempPrefix) {
			report.Orphans = append(report.Orphans, path)
			report.OrphanBytes += size
			return nil
		}
		seen[res.UUID] = true
		if size != res.Size {
			report.Drifted = append(report.Drifted, res.UUID)
			sizes[res.UUID] = size
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("failed to walk storage: %w", err)
	}

	// ========================================================================
	// Step 3: Missing files
	// ========================================================================

	for _, res := range byPath {
		if !seen[res.UUID] {
			report.Missing = append(report.Missing, res.UUID)
		}
	}
	sort.Slice(report.Missing, func(i, j int) bool { return report.Missing[i].String() < report.Missing[j].String() })

	// ========================================================================
	// Step 4: Repair metadata
	// ========================================================================

	if r.config.DryRun {
		report.DomainsCorrected = r.driftedDomains(domains, byPath, seen, sizes)
		return r.finish(report), nil
	}

	err = r.store.Update(ctx, func(txn metadata.Txn) error {
		for _, id := range report.Missing {
			if err := txn.DeleteResource(id); err != nil && !metadata.IsNotFound(err) {
				return err
			}
		}
		for id, size := range sizes {
			res, err := txn.GetResource(id)
			if err != nil {
				return err
			}
			res.Size = size
			if err := txn.PutResource(res); err != nil {
				return err
			}
		}

		report.DomainsCorrected = nil
		for _, d := range domains {
			live, err := txn.ListResources(d.ID)
			if err != nil {
				return err
			}
			var sum int64
			for _, res := range live {
				sum += res.Size
			}
			if sum == d.CurrentSize {
				continue
			}
			logger.Warn("Domain %s size corrected: recorded=%d actual=%d", d.ID, d.CurrentSize, sum)
			d.CurrentSize = sum
			if err := txn.PutDomain(d); err != nil {
				return err
			}
			report.DomainsCorrected = append(report.DomainsCorrected, d.ID)
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("failed to repair metadata: %w", err)
	}

	// ========================================================================
	// Step 5: Orphaned files
	// ========================================================================

	for _, path := range report.Orphans {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		err := r.content.Remove(ctx, path)
		if err != nil && !errors.Is(err, content.ErrContentNotFound) {
			logger.Warn("Failed to delete orphaned file %s: %v", path, err)
			report.Failed++
			continue
		}
		report.Deleted++
		logger.Debug("Deleted orphaned file %s", path)
	}

	return r.finish(report), nil
}

// driftedDomains computes which Domains a repair would correct, without
// writing anything.
func (r *Reconciler) driftedDomains(domains []*metadata.Domain, byPath map[string]*metadata.Resource, seen map[uuid.UUID]bool, sizes map[uuid.UUID]int64) []string {
	sums := make(map[string]int64, len(domains))
	for _, res := range byPath {
		if !seen[res.UUID] {
			continue
		}
		size := res.Size
		if s, ok := sizes[res.UUID]; ok {
			size = s
		}
		sums[res.DomainID] += size
	}

	var ids []string
	for _, d := range domains {
		if sums[d.ID] != d.CurrentSize {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

func (r *Reconciler) finish(report *Report) *Report {
	report.EndTime = time.Now()
	if report.DryRun && !report.Clean() {
		logger.Info("Reconciliation DRY RUN: would delete %d orphaned files (%s), remove %d records, fix %d sizes",
			len(report.Orphans), humanize.IBytes(uint64(report.OrphanBytes)), len(report.Missing), len(report.Drifted))
		for i, path := range report.Orphans {
			if i == 10 {
				logger.Info("  ... and %d more", len(report.Orphans)-10)
				break
			}
			logger.Info("  - %s", path)
		}
	}
	return report
}

// ============================================================================
// Report
// ============================================================================

// Report describes one reconciliation pass.
type Report struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	DryRun    bool      `json:"dry_run"`

	// Resources is the number of records examined
	Resources int `json:"resources"`

	// Files is the number of files found under the storage root
	Files int `json:"files"`

	// Orphans are files no live Resource points at
	Orphans     []string `json:"orphans,omitempty"`
	OrphanBytes int64    `json:"orphan_bytes"`

	// Missing are Resources whose file does not exist
	Missing []uuid.UUID `json:"missing,omitempty"`

	// Drifted are Resources whose recorded size differs from their file
	Drifted []uuid.UUID `json:"drifted,omitempty"`

	// DomainsCorrected are Domains whose current size was recomputed
	DomainsCorrected []string `json:"domains_corrected,omitempty"`

	// Deleted and Failed count orphaned file deletions
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// Clean reports whether the pass found nothing to repair.
func (s *Report) Clean() bool {
	return len(s.Orphans) == 0 && len(s.Missing) == 0 && len(s.Drifted) == 0 && len(s.DomainsCorrected) == 0
}

// Duration returns the total pass duration.
func (s *Report) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the pass.
func (s *Report) Summary() string {
	return fmt.Sprintf("resources=%d files=%d orphans=%d (%s) missing=%d drifted=%d domains_corrected=%d deleted=%d failed=%d dry_run=%v duration=%s",
		s.Resources, s.Files, len(s.Orphans), humanize.IBytes(uint64(s.OrphanBytes)), len(s.Missing), len(s.Drifted),
		len(s.DomainsCorrected), s.Deleted, s.Failed, s.DryRun, s.Duration())
}
