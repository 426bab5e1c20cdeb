package config

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/dittostash/internal/logger"
	"github.com/marmos91/dittostash/pkg/domain"
	"github.com/marmos91/dittostash/pkg/eviction"
	"github.com/marmos91/dittostash/pkg/manager"
	contentfs "github.com/marmos91/dittostash/pkg/store/content/fs"
	"github.com/marmos91/dittostash/pkg/store/metadata"
	"github.com/marmos91/dittostash/pkg/store/metadata/badger"
	"github.com/marmos91/dittostash/pkg/store/metadata/memory"
	"github.com/mitchellh/mapstructure"
)

// CreateMetadataStore creates a metadata store based on configuration.
//
// This factory function uses the Type field to determine which store implementation
// to create, then decodes the type-specific configuration from the corresponding
// map and passes it to the store's constructor.
//
// Supported types:
//   - "badger": Uses pkg/store/metadata/badger (persistent, at <root>/metadata.db)
//   - "memory": Uses pkg/store/metadata/memory (ephemeral)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Complete configuration (the badger store lives under the storage root)
//
// Returns:
//   - metadata.MetadataStore: Initialized metadata store
//   - error: Configuration or initialization error
func CreateMetadataStore(ctx context.Context, cfg *Config) (metadata.MetadataStore, error) {
	switch cfg.Metadata.Type {
	case "badger":
		return createBadgerMetadataStore(ctx, cfg.Metadata.Badger, cfg.Storage.MetadataPath())
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Warn("Using the memory metadata store: the index is lost on exit")
		return memory.NewMemoryMetadataStore(), nil
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q (supported: badger, memory)", cfg.Metadata.Type)
	}
}

// createBadgerMetadataStore creates a BadgerDB-based persistent metadata store.
func createBadgerMetadataStore(ctx context.Context, options map[string]any, dbPath string) (metadata.MetadataStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var storeCfg badger.BadgerMetadataStoreConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &storeCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("failed to decode badger metadata store options: %w", err)
	}

	// An explicit db_path overrides the location under the storage root.
	if storeCfg.DBPath == "" {
		storeCfg.DBPath = dbPath
	}

	store, err := badger.NewBadgerMetadataStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger metadata store: %w", err)
	}

	return store, nil
}

// CreateContentStore creates the filesystem content store at <root>/Storage,
// along with the staging directory.
func CreateContentStore(ctx context.Context, cfg *StorageConfig) (*contentfs.FSContentStore, error) {
	if err := os.MkdirAll(cfg.StagingPath(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	store, err := contentfs.NewFSContentStore(ctx, cfg.ContentRoot())
	if err != nil {
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}
	return store, nil
}

// CreateQuota returns the global quota: a fixed limit when max_bytes is set,
// otherwise one derived from the free space of the disk holding the root.
func CreateQuota(cfg *StorageConfig) manager.Quota {
	if cfg.MaxBytes > 0 {
		return manager.Fixed(cfg.MaxBytes.Int64())
	}
	return manager.NewDiskQuota(cfg.Root, cfg.ReserveBytes.Int64())
}

// CreatePolicy resolves the configured eviction policy.
func CreatePolicy(cfg *EvictionConfig) (eviction.Policy, error) {
	return eviction.ByName(cfg.Policy)
}

// DomainSpecs converts the Domain declarations for domain.Seed.
func DomainSpecs(domains []DomainConfig) []domain.Spec {
	specs := make([]domain.Spec, 0, len(domains))
	for _, d := range domains {
		specs = append(specs, domain.Spec{
			ID:       d.ID,
			Name:     d.Name,
			Parent:   d.Parent,
			MaxBytes: d.MaxBytes.Int64(),
		})
	}
	return specs
}
