package memory_test

import (
	"context"
	"testing"

	"github.com/marmos91/dittostash/pkg/store/metadata"
	"github.com/marmos91/dittostash/pkg/store/metadata/memory"
	storetesting "github.com/marmos91/dittostash/pkg/store/metadata/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMetadataStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.MetadataStore {
			return memory.NewMemoryMetadataStore()
		},
	}
	suite.Run(t)
}

func TestMemoryMetadataStore_Closed(t *testing.T) {
	store := memory.NewMemoryMetadataStore()
	require.NoError(t, store.Close())

	ctx := context.Background()
	err := store.View(ctx, func(metadata.Txn) error { return nil })
	code, ok := metadata.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, metadata.ErrClosed, code)

	err = store.Update(ctx, func(metadata.Txn) error { return nil })
	code, ok = metadata.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, metadata.ErrClosed, code)

	assert.Error(t, store.Healthcheck(ctx))
}

func TestMemoryMetadataStore_CancelledUpdateDiscards(t *testing.T) {
	store := memory.NewMemoryMetadataStore()
	ctx, cancel := context.WithCancel(context.Background())

	err := store.Update(ctx, func(txn metadata.Txn) error {
		cancel()
		return txn.PutDomain(&metadata.Domain{ID: "late", Name: "late"})
	})
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, store.View(context.Background(), func(txn metadata.Txn) error {
		_, err := txn.GetDomain("late")
		assert.True(t, metadata.IsNotFound(err))
		return nil
	}))
}
