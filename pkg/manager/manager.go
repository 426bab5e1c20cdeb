// Package manager implements the resource manager: the single entry point
// through which callers look up, register and purge managed files.
//
// Every operation is submitted to one FIFO queue and executed by a single
// worker goroutine, so at most one transaction mutates the metadata store and
// the storage tree at any time. Eviction bookkeeping relies on this: Domain
// sizes are read, adjusted and written back without any other locking.
//
// Results are delivered asynchronously through callbacks, in completion order,
// from a separate delivery goroutine. Each result is a snapshot re-read from a
// read-only view after the write transaction committed; it never changes
// underneath the caller.
package manager

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittostash/internal/logger"
	"github.com/marmos91/dittostash/pkg/domain"
	"github.com/marmos91/dittostash/pkg/eviction"
	"github.com/marmos91/dittostash/pkg/metrics"
	"github.com/marmos91/dittostash/pkg/store/content"
	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// ============================================================================
// Requests and callbacks
// ============================================================================

// ResourceCallback receives the result of an operation. Exactly one of res
// and err is non-nil, except for a Lookup without match, which delivers
// (nil, nil).
type ResourceCallback func(res *metadata.Resource, err error)

// Key identifies Resources inside one Domain. Nil fields are wildcards;
// supplied fields are ANDed.
type Key struct {
	UUID            *uuid.UUID
	SourceReference *string
	Version         *string
}

// IsEmpty reports whether no field of the key is supplied.
func (k Key) IsEmpty() bool {
	return k.filter().IsEmpty()
}

func (k Key) filter() metadata.Filter {
	return metadata.Filter{UUID: k.UUID, SourceReference: k.SourceReference, Version: k.Version}
}

// LookupRequest asks for the Resource matching Key in a Domain.
type LookupRequest struct {
	DomainID string
	Key
}

// RegisterRequest adopts a staged file as the Resource identified by Key.
//
// The Key is resolved like a lookup: no match creates a new Resource, one
// match is updated in place and more than one is ErrConflict. An empty Key
// therefore matches every Resource of the Domain.
type RegisterRequest struct {
	// StagedPath is the file to move into managed storage. It must lie
	// outside the storage root.
	StagedPath string

	// DomainID is the owning Domain
	DomainID string

	Key

	// PurgePriority ranks disposability: 0 pins the Resource, higher values
	// are evicted first. Negative values are rejected.
	PurgePriority int

	// Filename overrides the name the stored file is derived from. By default
	// it is the last element of SourceReference, else the staged file name.
	Filename string
}

// ============================================================================
// Manager
// ============================================================================

// Options configures a Manager.
type Options struct {
	// Store is the metadata index (required)
	Store metadata.MetadataStore

	// Content moves and removes resource files (required)
	Content content.ContentStore

	// Domains is the loaded Domain index (required)
	Domains *domain.Index

	// Policy orders eviction candidates (default: eviction.PriorityPolicy)
	Policy eviction.Policy

	// Quota is the global byte limit (default: Unlimited)
	Quota Quota

	// Metrics records operation outcomes (default: no-op)
	Metrics metrics.ManagerMetrics

	// QueueSize bounds the number of pending operations; submissions beyond
	// it fail with ErrBusy. Zero means unbounded.
	QueueSize int

	// Now returns the current time (default: time.Now in UTC)
	Now func() time.Time
}

// Manager serializes all resource operations. See the package documentation.
//
// Thread Safety:
// All methods are safe for concurrent use. Callbacks run on the delivery
// goroutine, one at a time; they may submit new operations but must not call
// Close.
type Manager struct {
	store    metadata.MetadataStore
	content  content.ContentStore
	domains  *domain.Index
	policy   eviction.Policy
	quota    Quota
	metrics  metrics.ManagerMetrics
	observed bool
	now      func() time.Time

	tasks      *fifo
	deliveries *fifo
	closeOnce  sync.Once
	done       chan struct{}
}

// New creates a Manager and starts its worker and delivery goroutines.
//
// Returns:
//   - *Manager: A running manager; call Close to stop it
//   - error: If a required option is missing
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("manager: metadata store is required")
	}
	if opts.Content == nil {
		return nil, fmt.Errorf("manager: content store is required")
	}
	if opts.Domains == nil {
		return nil, fmt.Errorf("manager: domain index is required")
	}
	if opts.Policy == nil {
		opts.Policy = eviction.PriorityPolicy{}
	}
	if opts.Quota == nil {
		opts.Quota = Unlimited{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	m := &Manager{
		store:      opts.Store,
		content:    opts.Content,
		domains:    opts.Domains,
		policy:     opts.Policy,
		quota:      opts.Quota,
		metrics:    metrics.OrNoop(opts.Metrics),
		observed:   opts.Metrics != nil,
		now:        opts.Now,
		tasks:      newFIFO(opts.QueueSize),
		deliveries: newFIFO(0),
		done:       make(chan struct{}),
	}

	go m.work()
	go m.deliver()

	logger.Debug("Resource manager started: domains=%d policy=%s queue_size=%d",
		opts.Domains.Len(), opts.Policy.Name(), opts.QueueSize)

	return m, nil
}

// Domains returns the Domain index the manager resolves against.
func (m *Manager) Domains() *domain.Index {
	return m.domains
}

// Close stops accepting operations, waits until every queued operation has
// run and its callback has returned, then stops the goroutines. The metadata
// and content stores are not closed. Safe to call multiple times.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.tasks.close()
	})
	<-m.done
	return nil
}

// ============================================================================
// Submission
// ============================================================================

// Lookup finds the Resource matching req and touches its access date.
//
// The callback receives:
//   - (nil, nil) when nothing matches
//   - (resource, nil) for exactly one match
//   - (nil, ErrConflict) carrying every match when more than one matches
//   - (nil, ErrNotFound) for an unknown Domain
func (m *Manager) Lookup(req LookupRequest, cb ResourceCallback) {
	m.submit("lookup", req.DomainID, func(ctx context.Context) (*metadata.Resource, error) {
		return m.lookup(ctx, req)
	}, cb)
}

// Register adopts req.StagedPath as the Resource identified by req, evicting
// other Resources if the quota requires it. See register for the algorithm.
func (m *Manager) Register(req RegisterRequest, cb ResourceCallback) {
	m.submit("register", req.DomainID, func(ctx context.Context) (*metadata.Resource, error) {
		return m.register(ctx, req)
	}, cb)
}

// Purge removes one Resource and its file. The callback receives the removed
// Resource with PurgeDate set.
func (m *Manager) Purge(domainID string, id uuid.UUID, cb ResourceCallback) {
	m.submit("purge", domainID, func(ctx context.Context) (*metadata.Resource, error) {
		return m.purge(ctx, domainID, id)
	}, cb)
}

// Exclusive runs fn on the operation queue, so that no operation mutates the
// store or the storage tree while fn runs, and waits for it.
//
// Returns fn's error, or ctx.Err() if ctx ends first; fn still runs to
// completion in that case.
func (m *Manager) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	err := m.tasks.push(func() {
		_, err := safeRun("exclusive", func() (*metadata.Resource, error) {
			return nil, fn(ctx)
		})
		result <- err
	})
	if err != nil {
		return queueFailure(err)
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) submit(op, domainID string, run func(ctx context.Context) (*metadata.Resource, error), cb ResourceCallback) {
	if cb == nil {
		cb = func(*metadata.Resource, error) {}
	}
	enqueued := time.Now()

	err := m.tasks.push(func() {
		m.metrics.RecordQueueWait(time.Since(enqueued))
		m.metrics.SetQueueDepth(m.tasks.len())

		start := time.Now()
		res, err := safeRun(op, func() (*metadata.Resource, error) {
			return run(context.Background())
		})
		m.metrics.RecordOperation(op, domainID, time.Since(start), err)

		if err != nil {
			logger.With(logger.Fields{"op": op, "domain": domainID}).Warnf("Operation failed: %v", err)
		}

		// The delivery queue is only closed after this goroutine exits.
		_ = m.deliveries.push(func() { cb(res, err) })
	})
	if err != nil {
		failure := queueFailure(err)
		// Rejections are delivered like results; only after Close has shut
		// the delivery queue do they need their own goroutine.
		if pushErr := m.deliveries.push(func() { cb(nil, failure) }); pushErr != nil {
			go cb(nil, failure)
		}
		return
	}
	m.metrics.SetQueueDepth(m.tasks.len())
}

// safeRun converts a panic in fn into an InvariantViolation.
func safeRun(op string, fn func() (*metadata.Resource, error)) (res *metadata.Resource, err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Panic in %s: %v\n%s", op, p, debug.Stack())
			res = nil
			err = metadata.NewInvariantError(fmt.Sprintf("panic in %s: %v", op, p), "")
		}
	}()
	return fn()
}

func queueFailure(err error) error {
	if err == errQueueFull {
		return &metadata.StoreError{Code: metadata.ErrBusy, Message: "operation queue is full"}
	}
	return metadata.NewClosedError("manager")
}

// work executes queued operations one at a time until the queue is closed
// and drained.
func (m *Manager) work() {
	for {
		fn, ok := m.tasks.pop()
		if !ok {
			break
		}
		fn()
	}
	m.deliveries.close()
}

// deliver runs completion callbacks in order.
func (m *Manager) deliver() {
	defer close(m.done)
	for {
		fn, ok := m.deliveries.pop()
		if !ok {
			return
		}
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("Panic in completion callback: %v\n%s", p, debug.Stack())
				}
			}()
			fn()
		}()
	}
}

// ============================================================================
// Read view translation
// ============================================================================

// snapshot re-reads a committed Resource through a read-only view.
func (m *Manager) snapshot(ctx context.Context, id uuid.UUID) (*metadata.Resource, error) {
	var res *metadata.Resource
	err := m.store.View(ctx, func(txn metadata.Txn) error {
		r, err := txn.GetResource(id)
		if metadata.IsNotFound(err) {
			return metadata.NewInvariantError("resource missing after commit", id.String())
		}
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// snapshots re-reads several Resources; records that vanished are skipped.
func (m *Manager) snapshots(ctx context.Context, resources []*metadata.Resource) ([]*metadata.Resource, error) {
	result := make([]*metadata.Resource, 0, len(resources))
	err := m.store.View(ctx, func(txn metadata.Txn) error {
		for _, r := range resources {
			fresh, err := txn.GetResource(r.UUID)
			if metadata.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			result = append(result, fresh)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// publishSizes refreshes the Domain size gauges.
func (m *Manager) publishSizes(ctx context.Context, domainIDs map[string]bool) {
	if !m.observed || len(domainIDs) == 0 {
		return
	}
	_ = m.store.View(ctx, func(txn metadata.Txn) error {
		for id := range domainIDs {
			if d, err := txn.GetDomain(id); err == nil {
				m.metrics.SetDomainSize(d.ID, d.CurrentSize)
			}
		}
		return nil
	})
}
