package memory

import (
	"github.com/google/uuid"
	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// memoryTxn is the overlay transaction used by MemoryMetadataStore.
//
// The caller of View/Update holds the store lock for the lifetime of the txn.
type memoryTxn struct {
	store    *MemoryMetadataStore
	readOnly bool

	domainPuts      map[string]*metadata.Domain
	resourcePuts    map[uuid.UUID]*metadata.Resource
	resourceDeletes map[uuid.UUID]struct{}
}

func (t *memoryTxn) GetDomain(id string) (*metadata.Domain, error) {
	if d, ok := t.domainPuts[id]; ok {
		return d.Clone(), nil
	}
	if d, ok := t.store.domains[id]; ok {
		return d.Clone(), nil
	}
	return nil, metadata.NewNotFoundError("domain", id)
}

func (t *memoryTxn) ListDomains() ([]*metadata.Domain, error) {
	result := make([]*metadata.Domain, 0, len(t.store.domains)+len(t.domainPuts))
	for id, d := range t.store.domains {
		if _, overridden := t.domainPuts[id]; overridden {
			continue
		}
		result = append(result, d.Clone())
	}
	for _, d := range t.domainPuts {
		result = append(result, d.Clone())
	}
	return result, nil
}

func (t *memoryTxn) PutDomain(d *metadata.Domain) error {
	if t.readOnly {
		return metadata.ErrReadOnlyTxn
	}
	if d == nil || d.ID == "" {
		return metadata.NewInvalidArgumentError("domain id is required")
	}
	t.domainPuts[d.ID] = d.Clone()
	return nil
}

func (t *memoryTxn) GetResource(id uuid.UUID) (*metadata.Resource, error) {
	if _, deleted := t.resourceDeletes[id]; deleted {
		return nil, metadata.NewNotFoundError("resource", id.String())
	}
	if r, ok := t.resourcePuts[id]; ok {
		return r.Clone(), nil
	}
	if r, ok := t.store.resources[id]; ok {
		return r.Clone(), nil
	}
	return nil, metadata.NewNotFoundError("resource", id.String())
}

func (t *memoryTxn) FindResources(domainID string, filter metadata.Filter) ([]*metadata.Resource, error) {
	// Point lookup when the uuid is known.
	if filter.UUID != nil {
		r, err := t.GetResource(*filter.UUID)
		if metadata.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if r.DomainID != domainID || !filter.Matches(r) {
			return nil, nil
		}
		return []*metadata.Resource{r}, nil
	}

	var result []*metadata.Resource
	t.each(func(r *metadata.Resource) {
		if r.DomainID == domainID && filter.Matches(r) {
			result = append(result, r.Clone())
		}
	})
	return result, nil
}

func (t *memoryTxn) ListResources(domainID string) ([]*metadata.Resource, error) {
	var result []*metadata.Resource
	t.each(func(r *metadata.Resource) {
		if domainID == "" || r.DomainID == domainID {
			result = append(result, r.Clone())
		}
	})
	return result, nil
}

func (t *memoryTxn) PutResource(r *metadata.Resource) error {
	if t.readOnly {
		return metadata.ErrReadOnlyTxn
	}
	if r == nil || r.UUID == uuid.Nil {
		return metadata.NewInvalidArgumentError("resource uuid is required")
	}
	if r.DomainID == "" {
		return metadata.NewInvalidArgumentError("resource domain is required")
	}
	if existing, err := t.GetResource(r.UUID); err == nil && existing.DomainID != r.DomainID {
		return metadata.ErrDomainChanged(r.UUID)
	}

	delete(t.resourceDeletes, r.UUID)
	t.resourcePuts[r.UUID] = r.Clone()
	return nil
}

func (t *memoryTxn) DeleteResource(id uuid.UUID) error {
	if t.readOnly {
		return metadata.ErrReadOnlyTxn
	}
	if _, err := t.GetResource(id); err != nil {
		return err
	}
	delete(t.resourcePuts, id)
	t.resourceDeletes[id] = struct{}{}
	return nil
}

// each visits every live resource as seen by this transaction.
func (t *memoryTxn) each(fn func(r *metadata.Resource)) {
	for id, r := range t.store.resources {
		if _, deleted := t.resourceDeletes[id]; deleted {
			continue
		}
		if _, overridden := t.resourcePuts[id]; overridden {
			continue
		}
		fn(r)
	}
	for _, r := range t.resourcePuts {
		fn(r)
	}
}

// commit applies the overlay to the committed maps. Caller holds the write lock.
func (t *memoryTxn) commit() {
	for id, d := range t.domainPuts {
		t.store.domains[id] = d
	}
	for id := range t.resourceDeletes {
		delete(t.store.resources, id)
	}
	for id, r := range t.resourcePuts {
		t.store.resources[id] = r
	}
}
