package badger

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// badgerTxn adapts a *badger.Txn to metadata.Txn.
type badgerTxn struct {
	txn      *badger.Txn
	readOnly bool
}

// ============================================================================
// Domains
// ============================================================================

func (t *badgerTxn) GetDomain(id string) (*metadata.Domain, error) {
	item, err := t.txn.Get(keyDomain(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, metadata.NewNotFoundError("domain", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get domain %s: %w", id, err)
	}

	var d *metadata.Domain
	err = item.Value(func(val []byte) error {
		decoded, err := decodeDomain(val)
		if err != nil {
			return err
		}
		d = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (t *badgerTxn) ListDomains() ([]*metadata.Domain, error) {
	prefix := []byte(prefixDomain)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := t.txn.NewIterator(opts)
	defer it.Close()

	var result []*metadata.Domain
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			d, err := decodeDomain(val)
			if err != nil {
				return err
			}
			result = append(result, d)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (t *badgerTxn) PutDomain(d *metadata.Domain) error {
	if t.readOnly {
		return metadata.ErrReadOnlyTxn
	}
	if d == nil || d.ID == "" {
		return metadata.NewInvalidArgumentError("domain id is required")
	}
	bytes, err := encodeDomain(d)
	if err != nil {
		return err
	}
	if err := t.txn.Set(keyDomain(d.ID), bytes); err != nil {
		return fmt.Errorf("failed to store domain %s: %w", d.ID, err)
	}
	return nil
}

// ============================================================================
// Resources
// ============================================================================

func (t *badgerTxn) GetResource(id uuid.UUID) (*metadata.Resource, error) {
	item, err := t.txn.Get(keyResource(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, metadata.NewNotFoundError("resource", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource %s: %w", id, err)
	}

	var r *metadata.Resource
	err = item.Value(func(val []byte) error {
		decoded, err := decodeResource(val)
		if err != nil {
			return err
		}
		r = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (t *badgerTxn) FindResources(domainID string, filter metadata.Filter) ([]*metadata.Resource, error) {
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

	all, err := t.ListResources(domainID)
	if err != nil {
		return nil, err
	}
	var result []*metadata.Resource
	for _, r := range all {
		if filter.Matches(r) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (t *badgerTxn) ListResources(domainID string) ([]*metadata.Resource, error) {
	if domainID == "" {
		return t.scanAllResources()
	}

	prefix := keyMembershipPrefix(domainID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := t.txn.NewIterator(opts)
	var ids []uuid.UUID
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		id, err := uuidFromMembershipKey(it.Item().Key(), len(prefix))
		if err != nil {
			it.Close()
			return nil, fmt.Errorf("corrupt membership key %q: %w", it.Item().Key(), err)
		}
		ids = append(ids, id)
	}
	it.Close()

	result := make([]*metadata.Resource, 0, len(ids))
	for _, id := range ids {
		r, err := t.GetResource(id)
		if err != nil {
			if metadata.IsNotFound(err) {
				return nil, metadata.NewInvariantError("membership index references missing resource", id.String())
			}
			return nil, err
		}
		result = append(result, r)
	}
	return result, nil
}

func (t *badgerTxn) scanAllResources() ([]*metadata.Resource, error) {
	prefix := []byte(prefixResource)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := t.txn.NewIterator(opts)
	defer it.Close()

	var result []*metadata.Resource
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			r, err := decodeResource(val)
			if err != nil {
				return err
			}
			result = append(result, r)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (t *badgerTxn) PutResource(r *metadata.Resource) error {
	if t.readOnly {
		return metadata.ErrReadOnlyTxn
	}
	if r == nil || r.UUID == uuid.Nil {
		return metadata.NewInvalidArgumentError("resource uuid is required")
	}
	if r.DomainID == "" {
		return metadata.NewInvalidArgumentError("resource domain is required")
	}

	existing, err := t.GetResource(r.UUID)
	switch {
	case err == nil:
		if existing.DomainID != r.DomainID {
			return metadata.ErrDomainChanged(r.UUID)
		}
	case metadata.IsNotFound(err):
		if err := t.txn.Set(keyMembership(r.DomainID, r.UUID), []byte{}); err != nil {
			return fmt.Errorf("failed to index resource %s: %w", r.UUID, err)
		}
	default:
		return err
	}

	bytes, err := encodeResource(r)
	if err != nil {
		return err
	}
	if err := t.txn.Set(keyResource(r.UUID), bytes); err != nil {
		return fmt.Errorf("failed to store resource %s: %w", r.UUID, err)
	}
	return nil
}

func (t *badgerTxn) DeleteResource(id uuid.UUID) error {
	if t.readOnly {
		return metadata.ErrReadOnlyTxn
	}
	r, err := t.GetResource(id)
	if err != nil {
		return err
	}
	if err := t.txn.Delete(keyMembership(r.DomainID, id)); err != nil {
		return fmt.Errorf("failed to unindex resource %s: %w", id, err)
	}
	if err := t.txn.Delete(keyResource(id)); err != nil {
		return fmt.Errorf("failed to delete resource %s: %w", id, err)
	}
	return nil
}
