package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittostash/internal/logger"
	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// BadgerMetadataStore implements metadata.MetadataStore using BadgerDB.
//
// BadgerDB is an embedded key-value store with serializable snapshot
// transactions, which maps directly onto the two views the resource manager
// needs:
//   - Update: a private read-write transaction; every Set/Delete issued by the
//     callback is committed atomically, or discarded on error
//   - View: an independent read-only snapshot; it never observes a partially
//     applied Update
//
// Key Features:
//   - Persistent storage with crash recovery (WAL-based)
//   - Multi-record atomic commit (Domain size, Resource record and every
//     eviction of a registration land together)
//   - Prefix scans for per-Domain Resource listings (see keys.go)
//
// Thread Safety:
// BadgerDB handles concurrency internally via MVCC; conflicting Update
// transactions fail with badger.ErrConflict, which the resource manager never
// triggers because it issues at most one Update at a time.
type BadgerMetadataStore struct {
	// db is the BadgerDB database handle (thread-safe, uses internal MVCC)
	db *badger.DB
}

// BadgerMetadataStoreConfig contains configuration for creating a BadgerDB metadata store.
type BadgerMetadataStoreConfig struct {
	// DBPath is the directory where BadgerDB stores its files
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the database entirely in memory (DBPath ignored)
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites fsyncs every commit before returning
	SyncWrites bool `mapstructure:"sync_writes"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_mb"`

	// BadgerOptions allows full customization of BadgerDB behavior.
	// If nil, the fields above are used to build options.
	BadgerOptions *badger.Options `mapstructure:"-"`
}

// NewBadgerMetadataStore opens (or creates) a BadgerDB metadata store.
//
// Parameters:
//   - ctx: Context for cancellation during initialization
//   - config: Database location and tuning
//
// Returns:
//   - *BadgerMetadataStore: A store ready for use
//   - error: Error if the database cannot be opened or ctx is cancelled
func NewBadgerMetadataStore(ctx context.Context, config BadgerMetadataStoreConfig) (*BadgerMetadataStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if config.BadgerOptions != nil {
		opts = *config.BadgerOptions
	} else {
		if config.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		} else {
			if config.DBPath == "" {
				return nil, fmt.Errorf("badger metadata store: db_path is required")
			}
			opts = badger.DefaultOptions(config.DBPath)
		}

		// Records are small JSON documents; compression is not worth it.
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None)
		opts = opts.WithSyncWrites(config.SyncWrites)

		blockCacheMB := config.BlockCacheSizeMB
		if blockCacheMB == 0 {
			blockCacheMB = 64
		}
		indexCacheMB := config.IndexCacheSizeMB
		if indexCacheMB == 0 {
			indexCacheMB = 32
		}
		opts = opts.WithBlockCacheSize(blockCacheMB << 20)
		opts = opts.WithIndexCacheSize(indexCacheMB << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	logger.Debug("Badger metadata store opened: path=%s in_memory=%v", config.DBPath, config.InMemory)

	return &BadgerMetadataStore{db: db}, nil
}

// View implements metadata.MetadataStore.
func (s *BadgerMetadataStore) View(ctx context.Context, fn func(txn metadata.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.translate(s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn, readOnly: true})
	}))
}

// Update implements metadata.MetadataStore.
//
// badger.DB.Update commits when the callback returns nil and discards the
// transaction otherwise, so a callback error never leaves partial writes.
func (s *BadgerMetadataStore) Update(ctx context.Context, fn func(txn metadata.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.translate(s.db.Update(func(txn *badger.Txn) error {
		if err := fn(&badgerTxn{txn: txn}); err != nil {
			return err
		}
		// Returning an error here discards instead of committing.
		return ctx.Err()
	}))
}

// Healthcheck verifies the database answers a read transaction.
func (s *BadgerMetadataStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return metadata.NewClosedError("store")
	}
	return s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(keyDomain(""))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

// Close closes the BadgerDB database, flushing pending writes to disk.
func (s *BadgerMetadataStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

// RunValueLogGC reclaims value log space. It is safe to call periodically;
// badger.ErrNoRewrite (nothing to collect) is not reported as an error.
func (s *BadgerMetadataStore) RunValueLogGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
		return fmt.Errorf("value log gc: %w", err)
	}
	return nil
}

// translate maps closed-database errors to StoreError; other errors pass through.
func (s *BadgerMetadataStore) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return &metadata.StoreError{Code: metadata.ErrClosed, Message: "store closed", Err: err}
	}
	return err
}
