package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// MemoryMetadataStore implements metadata.MetadataStore using in-memory maps.
//
// It is suitable for:
//   - Testing and development environments
//   - Ephemeral installations where the index may be rebuilt on restart
//
// Thread Safety:
// Update transactions hold the write lock for their whole duration, so writes
// are serialized. View transactions hold the read lock and may run
// concurrently with each other.
//
// Transaction Model:
// An Update transaction records its writes in an overlay (puts and deletes).
// Reads inside the transaction consult the overlay first, then the committed
// maps. On success the overlay is applied in one step; on error it is dropped,
// so a failed transaction leaves the committed state untouched.
type MemoryMetadataStore struct {
	mu        sync.RWMutex
	domains   map[string]*metadata.Domain
	resources map[uuid.UUID]*metadata.Resource
	closed    bool
}

// NewMemoryMetadataStore creates an empty in-memory store.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{
		domains:   make(map[string]*metadata.Domain),
		resources: make(map[uuid.UUID]*metadata.Resource),
	}
}

// View implements metadata.MetadataStore.
func (s *MemoryMetadataStore) View(ctx context.Context, fn func(txn metadata.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return metadata.NewClosedError("store")
	}

	return fn(s.newTxn(true))
}

// Update implements metadata.MetadataStore.
func (s *MemoryMetadataStore) Update(ctx context.Context, fn func(txn metadata.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return metadata.NewClosedError("store")
	}

	txn := s.newTxn(false)
	if err := fn(txn); err != nil {
		return err
	}

	// Late cancellation still discards, mirroring a failed commit.
	if err := ctx.Err(); err != nil {
		return err
	}

	txn.commit()
	return nil
}

// Healthcheck implements metadata.MetadataStore.
func (s *MemoryMetadataStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return metadata.NewClosedError("store")
	}
	return nil
}

// Close implements metadata.MetadataStore. The maps are kept so a closed
// store can still be inspected in tests.
func (s *MemoryMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryMetadataStore) newTxn(readOnly bool) *memoryTxn {
	return &memoryTxn{
		store:           s,
		readOnly:        readOnly,
		domainPuts:      make(map[string]*metadata.Domain),
		resourcePuts:    make(map[uuid.UUID]*metadata.Resource),
		resourceDeletes: make(map[uuid.UUID]struct{}),
	}
}
