// Package testing provides a conformance suite for metadata.MetadataStore
// implementations. It tests the interface contract, not implementation
// details, so every backend runs the same scenarios.
package testing

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittostash/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite runs the MetadataStore contract against a backend.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) metadata.MetadataStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test. The suite closes it.
	NewStore func(t *testing.T) metadata.MetadataStore
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Domains", suite.testDomains)
	t.Run("ResourceCRUD", suite.testResourceCRUD)
	t.Run("FindResources", suite.testFindResources)
	t.Run("ListResources", suite.testListResources)
	t.Run("RollbackOnError", suite.testRollbackOnError)
	t.Run("ReadOnlyView", suite.testReadOnlyView)
	t.Run("ViewIsolation", suite.testViewIsolation)
	t.Run("DomainImmutable", suite.testDomainImmutable)
	t.Run("Healthcheck", suite.testHealthcheck)
}

func (suite *StoreTestSuite) newStore(t *testing.T) metadata.MetadataStore {
	t.Helper()
	store := suite.NewStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

// NewResource builds a Resource with sensible defaults for tests.
func NewResource(domainID, source, version string, size int64) *metadata.Resource {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &metadata.Resource{
		UUID:            uuid.New(),
		DomainID:        domainID,
		SourceReference: source,
		Version:         version,
		Path:            "/tmp/" + domainID + "/" + source,
		Size:            size,
		CreateDate:      now,
		UpdateDate:      now,
		AccessDate:      now,
		PurgePriority:   1,
	}
}

func put(t *testing.T, store metadata.MetadataStore, domains []*metadata.Domain, resources ...*metadata.Resource) {
	t.Helper()
	err := store.Update(context.Background(), func(txn metadata.Txn) error {
		for _, d := range domains {
			if err := txn.PutDomain(d); err != nil {
				return err
			}
		}
		for _, r := range resources {
			if err := txn.PutResource(r); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (suite *StoreTestSuite) testDomains(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	put(t, store, []*metadata.Domain{
		{ID: "root", Name: "Root"},
		{ID: "thumbs", Name: "Thumbnails", ParentID: "root", MaxBytes: 1024},
	})

	err := store.View(ctx, func(txn metadata.Txn) error {
		d, err := txn.GetDomain("thumbs")
		require.NoError(t, err)
		assert.Equal(t, "Thumbnails", d.Name)
		assert.Equal(t, "root", d.ParentID)
		assert.Equal(t, int64(1024), d.MaxBytes)

		_, err = txn.GetDomain("missing")
		assert.True(t, metadata.IsNotFound(err), "expected not found, got %v", err)

		all, err := txn.ListDomains()
		require.NoError(t, err)
		assert.Len(t, all, 2)
		return nil
	})
	require.NoError(t, err)

	// Updating size replaces the record.
	err = store.Update(ctx, func(txn metadata.Txn) error {
		d, err := txn.GetDomain("thumbs")
		if err != nil {
			return err
		}
		d.CurrentSize = 42
		return txn.PutDomain(d)
	})
	require.NoError(t, err)

	err = store.View(ctx, func(txn metadata.Txn) error {
		d, err := txn.GetDomain("thumbs")
		require.NoError(t, err)
		assert.Equal(t, int64(42), d.CurrentSize)
		return nil
	})
	require.NoError(t, err)
}

func (suite *StoreTestSuite) testResourceCRUD(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	r := NewResource("images", "http://x/y.png", "", 10)
	put(t, store, []*metadata.Domain{{ID: "images", Name: "images"}}, r)

	err := store.View(ctx, func(txn metadata.Txn) error {
		got, err := txn.GetResource(r.UUID)
		require.NoError(t, err)
		assert.Equal(t, r.SourceReference, got.SourceReference)
		assert.Equal(t, r.Size, got.Size)
		assert.True(t, r.AccessDate.Equal(got.AccessDate))
		assert.Nil(t, got.PurgeDate)
		return nil
	})
	require.NoError(t, err)

	// Update in place.
	err = store.Update(ctx, func(txn metadata.Txn) error {
		got, err := txn.GetResource(r.UUID)
		if err != nil {
			return err
		}
		got.Size = 99
		return txn.PutResource(got)
	})
	require.NoError(t, err)

	// Delete.
	err = store.Update(ctx, func(txn metadata.Txn) error {
		return txn.DeleteResource(r.UUID)
	})
	require.NoError(t, err)

	err = store.View(ctx, func(txn metadata.Txn) error {
		_, err := txn.GetResource(r.UUID)
		assert.True(t, metadata.IsNotFound(err))
		found, err := txn.FindResources("images", metadata.Filter{})
		require.NoError(t, err)
		assert.Empty(t, found)
		return nil
	})
	require.NoError(t, err)

	err = store.Update(ctx, func(txn metadata.Txn) error {
		return txn.DeleteResource(r.UUID)
	})
	assert.True(t, metadata.IsNotFound(err), "deleting twice should report not found, got %v", err)
}

func (suite *StoreTestSuite) testFindResources(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	a := NewResource("cache", "http://a", "v1", 1)
	b := NewResource("cache", "http://a", "v2", 2)
	c := NewResource("cache", "http://c", "", 3)
	other := NewResource("other", "http://a", "v1", 4)
	put(t, store, []*metadata.Domain{{ID: "cache", Name: "cache"}, {ID: "other", Name: "other"}}, a, b, c, other)

	tests := []struct {
		name   string
		domain string
		filter metadata.Filter
		want   []uuid.UUID
	}{
		{"wildcard", "cache", metadata.Filter{}, []uuid.UUID{a.UUID, b.UUID, c.UUID}},
		{"by source", "cache", metadata.Filter{SourceReference: strPtr("http://a")}, []uuid.UUID{a.UUID, b.UUID}},
		{"by source and version", "cache", metadata.Filter{SourceReference: strPtr("http://a"), Version: strPtr("v2")}, []uuid.UUID{b.UUID}},
		{"empty version matches absent", "cache", metadata.Filter{Version: strPtr("")}, []uuid.UUID{c.UUID}},
		{"by uuid", "cache", metadata.Filter{UUID: &a.UUID}, []uuid.UUID{a.UUID}},
		{"uuid in another domain", "cache", metadata.Filter{UUID: &other.UUID}, nil},
		{"uuid with mismatching source", "cache", metadata.Filter{UUID: &a.UUID, SourceReference: strPtr("http://c")}, nil},
		{"no match", "cache", metadata.Filter{SourceReference: strPtr("http://zzz")}, nil},
		{"unknown domain", "nope", metadata.Filter{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.View(ctx, func(txn metadata.Txn) error {
				found, err := txn.FindResources(tt.domain, tt.filter)
				require.NoError(t, err)
				assert.ElementsMatch(t, tt.want, ids(found))
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func (suite *StoreTestSuite) testListResources(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	a := NewResource("one", "a", "", 1)
	b := NewResource("two", "b", "", 2)
	put(t, store, []*metadata.Domain{{ID: "one", Name: "one"}, {ID: "two", Name: "two"}}, a, b)

	err := store.View(ctx, func(txn metadata.Txn) error {
		all, err := txn.ListResources("")
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{a.UUID, b.UUID}, ids(all))

		one, err := txn.ListResources("one")
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{a.UUID}, ids(one))

		total, err := metadata.TotalSize(txn)
		require.NoError(t, err)
		assert.Equal(t, int64(0), total, "domain sizes are maintained by callers")
		return nil
	})
	require.NoError(t, err)
}

func (suite *StoreTestSuite) testRollbackOnError(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	keep := NewResource("cache", "keep", "", 5)
	put(t, store, []*metadata.Domain{{ID: "cache", Name: "cache", CurrentSize: 5}}, keep)

	boom := errors.New("boom")
	added := NewResource("cache", "added", "", 7)
	err := store.Update(ctx, func(txn metadata.Txn) error {
		require.NoError(t, txn.DeleteResource(keep.UUID))
		require.NoError(t, txn.PutResource(added))
		d, err := txn.GetDomain("cache")
		require.NoError(t, err)
		d.CurrentSize = 7
		require.NoError(t, txn.PutDomain(d))

		// Writes are visible inside the transaction.
		_, err = txn.GetResource(keep.UUID)
		assert.True(t, metadata.IsNotFound(err))
		found, err := txn.FindResources("cache", metadata.Filter{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{added.UUID}, ids(found))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.View(ctx, func(txn metadata.Txn) error {
		_, err := txn.GetResource(keep.UUID)
		assert.NoError(t, err, "rolled back delete must not be visible")
		_, err = txn.GetResource(added.UUID)
		assert.True(t, metadata.IsNotFound(err), "rolled back put must not be visible")
		d, err := txn.GetDomain("cache")
		require.NoError(t, err)
		assert.Equal(t, int64(5), d.CurrentSize)
		return nil
	})
	require.NoError(t, err)
}

func (suite *StoreTestSuite) testReadOnlyView(t *testing.T) {
	store := suite.newStore(t)

	err := store.View(context.Background(), func(txn metadata.Txn) error {
		err := txn.PutDomain(&metadata.Domain{ID: "x", Name: "x"})
		assert.Equal(t, metadata.ErrReadOnly, mustCode(t, err))
		err = txn.PutResource(NewResource("x", "a", "", 1))
		assert.Equal(t, metadata.ErrReadOnly, mustCode(t, err))
		err = txn.DeleteResource(uuid.New())
		assert.Equal(t, metadata.ErrReadOnly, mustCode(t, err))
		return nil
	})
	require.NoError(t, err)
}

func (suite *StoreTestSuite) testViewIsolation(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	r := NewResource("cache", "a", "", 1)
	put(t, store, []*metadata.Domain{{ID: "cache", Name: "cache"}}, r)

	var snapshot *metadata.Resource
	require.NoError(t, store.View(ctx, func(txn metadata.Txn) error {
		var err error
		snapshot, err = txn.GetResource(r.UUID)
		return err
	}))

	require.NoError(t, store.Update(ctx, func(txn metadata.Txn) error {
		got, err := txn.GetResource(r.UUID)
		if err != nil {
			return err
		}
		got.Size = 1000
		return txn.PutResource(got)
	}))

	assert.Equal(t, int64(1), snapshot.Size, "returned records must not change underneath the caller")

	// Mutating a returned copy must not leak into the store.
	snapshot.Size = 5
	require.NoError(t, store.View(ctx, func(txn metadata.Txn) error {
		got, err := txn.GetResource(r.UUID)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), got.Size)
		return nil
	}))
}

func (suite *StoreTestSuite) testDomainImmutable(t *testing.T) {
	store := suite.newStore(t)
	r := NewResource("a", "x", "", 1)
	put(t, store, []*metadata.Domain{{ID: "a", Name: "a"}, {ID: "b", Name: "b"}}, r)

	err := store.Update(context.Background(), func(txn metadata.Txn) error {
		moved := r.Clone()
		moved.DomainID = "b"
		return txn.PutResource(moved)
	})
	assert.True(t, metadata.IsInvalidArgument(err), "expected invalid argument, got %v", err)
}

func (suite *StoreTestSuite) testHealthcheck(t *testing.T) {
	store := suite.newStore(t)
	require.NoError(t, store.Healthcheck(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, store.Healthcheck(ctx))
	assert.Error(t, store.View(ctx, func(metadata.Txn) error { return nil }))
}

func mustCode(t *testing.T, err error) metadata.ErrorCode {
	t.Helper()
	code, ok := metadata.CodeOf(err)
	require.True(t, ok, "expected StoreError, got %v", err)
	return code
}

func ids(resources []*metadata.Resource) []uuid.UUID {
	result := make([]uuid.UUID, 0, len(resources))
	for _, r := range resources {
		result = append(result, r.UUID)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].String() < result[j].String() })
	return result
}
