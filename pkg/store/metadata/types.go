package metadata

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Domain
// ============================================================================

// Domain is a named node in the storage category tree.
//
// Domains group Resources and determine the directory under which their files
// are placed. The tree is a plain parent reference: ParentID names the owning
// Domain, or is empty for a root. A Domain never references its Resources; the
// only aggregate it carries is CurrentSize.
//
// Invariant:
// CurrentSize equals the sum of Size over all live Resources whose DomainID is
// this Domain's ID. It is only mutated by the resource manager inside a
// committed transaction.
type Domain struct {
	// ID is the globally unique, stable identifier used for lookups
	ID string `json:"id"`

	// Name is the path segment used when building filesystem paths
	Name string `json:"name"`

	// ParentID is the identifier of the owning Domain ("" for a root)
	ParentID string `json:"parent_id,omitempty"`

	// CurrentSize is the running total of bytes consumed by Resources
	// referencing this Domain
	CurrentSize int64 `json:"current_size"`

	// MaxBytes is an optional per-domain quota (0 means no domain quota)
	MaxBytes int64 `json:"max_bytes,omitempty"`
}

// Clone returns a deep copy of the Domain.
func (d *Domain) Clone() *Domain {
	if d == nil {
		return nil
	}
	cp := *d
	return &cp
}

// ============================================================================
// Resource
// ============================================================================

// Resource is a single managed file plus its indexed metadata.
//
// Optional string attributes (SourceReference, Version) use the empty string to
// mean "absent". Path is generated once at creation and never changes: updates
// overwrite the file in place.
type Resource struct {
	// UUID is the stable unique identity of the Resource
	UUID uuid.UUID `json:"uuid"`

	// DomainID is the owning Domain (immutable after creation)
	DomainID string `json:"domain_id"`

	// SourceReference is the original URL/origin, used as a secondary key
	SourceReference string `json:"source_reference,omitempty"`

	// Version distinguishes multiple cached revisions of the same source
	Version string `json:"version,omitempty"`

	// Path is the absolute filesystem location of the managed file
	Path string `json:"path"`

	// Size is the byte length of the file at Path
	Size int64 `json:"size"`

	CreateDate time.Time `json:"create_date"`
	UpdateDate time.Time `json:"update_date"`
	AccessDate time.Time `json:"access_date"`

	// PurgePriority ranks eviction disposability: 0 is pinned, higher values
	// are evicted first
	PurgePriority int `json:"purge_priority"`

	// PurgeDate is set when the Resource was selected for eviction and cleared
	// whenever the Resource is freshly written
	PurgeDate *time.Time `json:"purge_date,omitempty"`
}

// Clone returns a deep copy of the Resource.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	cp := *r
	if r.PurgeDate != nil {
		t := *r.PurgeDate
		cp.PurgeDate = &t
	}
	return &cp
}

// Evictable reports whether the Resource participates in automatic eviction.
func (r *Resource) Evictable() bool {
	return r.PurgePriority > 0 && r.PurgeDate == nil
}

// ============================================================================
// Filter
// ============================================================================

// Filter selects Resources inside one Domain.
//
// Each non-nil field must match exactly; nil fields are wildcards. Filters are
// ANDed. A pointer to the empty string matches Resources that have no value for
// that attribute.
type Filter struct {
	UUID            *uuid.UUID
	SourceReference *string
	Version         *string
}

// Matches reports whether r satisfies every supplied field of the filter.
func (f Filter) Matches(r *Resource) bool {
	if f.UUID != nil && *f.UUID != r.UUID {
		return false
	}
	if f.SourceReference != nil && *f.SourceReference != r.SourceReference {
		return false
	}
	if f.Version != nil && *f.Version != r.Version {
		return false
	}
	return true
}

// IsEmpty reports whether the filter matches every Resource.
func (f Filter) IsEmpty() bool {
	return f.UUID == nil && f.SourceReference == nil && f.Version == nil
}
