package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittostash/internal/logger"
	"github.com/marmos91/dittostash/pkg/domain"
	"github.com/marmos91/dittostash/pkg/gc"
	"github.com/marmos91/dittostash/pkg/manager"
	"github.com/marmos91/dittostash/pkg/metrics"
	contentfs "github.com/marmos91/dittostash/pkg/store/content/fs"
	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// Runtime holds every component built from a configuration.
type Runtime struct {
	Store      metadata.MetadataStore
	Content    *contentfs.FSContentStore
	Domains    *domain.Index
	Manager    *manager.Manager
	Reconciler *gc.Reconciler

	// Startup is the report of the startup reconciliation (nil if skipped)
	Startup *gc.Report
}

// InitializeRuntime creates a running resource manager from the provided
// configuration.
//
// This function orchestrates the complete initialization process:
//  1. Opens the metadata store and the content store
//  2. Creates or updates the configured Domains and loads the Domain index
//  3. Reconciles metadata with the storage tree (reconcile.on_startup)
//  4. Starts the manager, and periodic reconciliation through its queue
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Complete configuration
//   - m: Manager metrics (nil = none)
//
// Returns:
//   - *Runtime: Fully initialized components; call Close when done
//   - error: If any step fails; everything opened so far is closed
func InitializeRuntime(ctx context.Context, cfg *Config, m metrics.ManagerMetrics) (rt *Runtime, err error) {
	logger.Debug("Initializing runtime from configuration")

	rt = &Runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
			rt = nil
		}
	}()

	// Step 1: Stores
	rt.Store, err = CreateMetadataStore(ctx, cfg)
	if err != nil {
		return rt, err
	}
	rt.Content, err = CreateContentStore(ctx, &cfg.Storage)
	if err != nil {
		return rt, err
	}

	// Step 2: Domains
	created, err := domain.Seed(ctx, rt.Store, DomainSpecs(cfg.Domains))
	if err != nil {
		return rt, fmt.Errorf("failed to create domains: %w", err)
	}
	rt.Domains, err = domain.Load(ctx, rt.Store)
	if err != nil {
		return rt, fmt.Errorf("failed to load domains: %w", err)
	}
	logger.Info("Domains ready: total=%d created=%d", rt.Domains.Len(), created)

	// Step 3: Startup reconciliation, before any operation can run
	if cfg.Reconcile.OnStartup {
		startup := gc.NewReconciler(rt.Store, rt.Content, gc.Direct, m, gc.Config{DryRun: cfg.Reconcile.DryRun})
		rt.Startup, err = startup.RunNow(ctx)
		if err != nil {
			return rt, fmt.Errorf("startup reconciliation failed: %w", err)
		}
	}

	// Step 4: Manager
	policy, err := CreatePolicy(&cfg.Eviction)
	if err != nil {
		return rt, err
	}
	rt.Manager, err = manager.New(manager.Options{
		Store:     rt.Store,
		Content:   rt.Content,
		Domains:   rt.Domains,
		Policy:    policy,
		Quota:     CreateQuota(&cfg.Storage),
		Metrics:   m,
		QueueSize: cfg.Manager.QueueSize,
	})
	if err != nil {
		return rt, err
	}

	rt.Reconciler = gc.NewReconciler(rt.Store, rt.Content, rt.Manager.Exclusive, m, gc.Config{
		Enabled:  cfg.Reconcile.Interval > 0,
		Interval: cfg.Reconcile.Interval,
		DryRun:   cfg.Reconcile.DryRun,
	})
	rt.Reconciler.Start()

	return rt, nil
}

// Close stops periodic reconciliation, drains the manager and closes the
// metadata store, in that order.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Reconciler != nil {
		if err := rt.Reconciler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reconciler: %w", err))
		}
	}
	if rt.Manager != nil {
		if err := rt.Manager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("manager: %w", err))
		}
	}
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("metadata store: %w", err))
		}
	}
	return errors.Join(errs...)
}
