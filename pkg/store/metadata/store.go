package metadata

import (
	"context"

	"github.com/google/uuid"
)

// ============================================================================
// MetadataStore Interface
// ============================================================================

// MetadataStore is the durable index of Domain and Resource records.
//
// All access goes through transactions. Update runs fn against a private,
// write-capable view and commits every record written by fn atomically when fn
// returns nil; any error discards the whole transaction. View runs fn against
// an independent read-only view.
//
// Records returned by a Txn are copies owned by the caller. Mutating them has
// no effect until they are written back with Put*. Two views never share live
// record references: a record obtained in an Update must be re-resolved by its
// identity (Domain.ID, Resource.UUID) inside a View before it is handed to
// another goroutine.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Concurrent Update calls are
// serialized by the implementation; callers needing a wider critical section
// (read, decide, write) must serialize externally, as the resource manager does.
type MetadataStore interface {
	// View runs fn inside a read-only transaction.
	//
	// Returns:
	//   - error: fn's error, context cancellation, or storage errors
	View(ctx context.Context, fn func(txn Txn) error) error

	// Update runs fn inside a read-write transaction and commits on success.
	//
	// Returns:
	//   - error: fn's error (transaction discarded), context cancellation,
	//     or a commit failure (transaction discarded)
	Update(ctx context.Context, fn func(txn Txn) error) error

	// Healthcheck verifies the store is operational.
	Healthcheck(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// Txn is a transactional view over Domain and Resource records.
//
// Write methods return ErrReadOnly inside a View transaction.
type Txn interface {
	// ========================================================================
	// Domains
	// ========================================================================

	// GetDomain returns the Domain with the given identifier, or ErrNotFound.
	GetDomain(id string) (*Domain, error)

	// ListDomains returns every Domain. Order is unspecified.
	ListDomains() ([]*Domain, error)

	// PutDomain creates or replaces a Domain record.
	PutDomain(d *Domain) error

	// ========================================================================
	// Resources
	// ========================================================================

	// GetResource returns the Resource with the given UUID, or ErrNotFound.
	GetResource(id uuid.UUID) (*Resource, error)

	// FindResources returns every Resource in domainID matching filter.
	// Order is unspecified.
	FindResources(domainID string, filter Filter) ([]*Resource, error)

	// ListResources returns every Resource in domainID, or every Resource
	// in the store when domainID is empty. Order is unspecified.
	ListResources(domainID string) ([]*Resource, error)

	// PutResource creates or replaces a Resource record. The DomainID of an
	// existing record must not change.
	PutResource(r *Resource) error

	// DeleteResource removes a Resource record, or returns ErrNotFound.
	DeleteResource(id uuid.UUID) error
}

// TotalSize sums CurrentSize over every Domain visible to txn.
func TotalSize(txn Txn) (int64, error) {
	domains, err := txn.ListDomains()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, d := range domains {
		total += d.CurrentSize
	}
	return total, nil
}

// ErrReadOnlyTxn is returned by write methods of a View transaction.
var ErrReadOnlyTxn = &StoreError{Code: ErrReadOnly, Message: "write in read-only transaction"}

// ErrDomainChanged is returned by PutResource when a record tries to move to
// another Domain.
func ErrDomainChanged(id uuid.UUID) *StoreError {
	return NewInvalidArgumentError("resource domain is immutable: " + id.String())
}
