package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittostash/pkg/manager"
	"github.com/marmos91/dittostash/pkg/store/metadata/badger"
	"github.com/marmos91/dittostash/pkg/store/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMetadataStore(t *testing.T) {
	ctx := context.Background()

	t.Run("badger under storage root", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Storage.Root = t.TempDir()
		cfg.Metadata.Badger["sync_writes"] = "true"

		store, err := CreateMetadataStore(ctx, cfg)
		require.NoError(t, err)
		defer store.Close()

		assert.IsType(t, &badger.BadgerMetadataStore{}, store)
		assert.DirExists(t, filepath.Join(cfg.Storage.Root, "metadata.db"))
	})

	t.Run("memory", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Metadata.Type = "memory"

		store, err := CreateMetadataStore(ctx, cfg)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &memory.MemoryMetadataStore{}, store)
	})

	t.Run("unknown type", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Metadata.Type = "sqlite"

		_, err := CreateMetadataStore(ctx, cfg)
		assert.ErrorContains(t, err, "unknown metadata store type")
	})

	t.Run("bad badger options", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Storage.Root = t.TempDir()
		cfg.Metadata.Badger["block_cache_mb"] = "plenty"

		_, err := CreateMetadataStore(ctx, cfg)
		assert.Error(t, err)
	})
}

func TestCreateContentStore(t *testing.T) {
	cfg := StorageConfig{Root: t.TempDir()}

	store, err := CreateContentStore(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Root, "Storage"), store.Root())
	assert.DirExists(t, store.Root())
	assert.DirExists(t, filepath.Join(cfg.Root, "staging"))
}

func TestCreateContentStore_CustomStagingDir(t *testing.T) {
	staging := filepath.Join(t.TempDir(), "downloads")
	cfg := StorageConfig{Root: t.TempDir(), StagingDir: staging}

	_, err := CreateContentStore(context.Background(), &cfg)
	require.NoError(t, err)
	assert.DirExists(t, staging)
	assert.Equal(t, staging, cfg.StagingPath())
}

func TestCreateQuota(t *testing.T) {
	fixed := CreateQuota(&StorageConfig{Root: "/srv", MaxBytes: 1 << 20})
	assert.Equal(t, manager.Fixed(1<<20), fixed)

	disk := CreateQuota(&StorageConfig{Root: "/srv", ReserveBytes: 1 << 10})
	require.IsType(t, &manager.DiskQuota{}, disk)
	assert.Equal(t, "/srv", disk.(*manager.DiskQuota).Path)
	assert.Equal(t, int64(1<<10), disk.(*manager.DiskQuota).Reserve)
}

func TestCreatePolicy(t *testing.T) {
	p, err := CreatePolicy(&EvictionConfig{Policy: "smallest"})
	require.NoError(t, err)
	assert.Equal(t, "smallest", p.Name())

	_, err = CreatePolicy(&EvictionConfig{Policy: "coin-flip"})
	assert.Error(t, err)
}

func TestDomainSpecs(t *testing.T) {
	specs := DomainSpecs([]DomainConfig{
		{ID: "media", Name: "Media"},
		{ID: "images", Name: "Images", Parent: "media", MaxBytes: 42},
	})

	require.Len(t, specs, 2)
	assert.Equal(t, "media", specs[1].Parent)
	assert.Equal(t, int64(42), specs[1].MaxBytes)
}
