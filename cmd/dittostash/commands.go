package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/marmos91/dittostash/pkg/config"
	"github.com/marmos91/dittostash/pkg/gc"
	"github.com/marmos91/dittostash/pkg/manager"
	"github.com/spf13/pflag"
)

// ============================================================================
// Offline runtime
// ============================================================================

// withRuntime opens the store with periodic reconciliation disabled, runs fn
// and closes everything again.
func withRuntime(cfg *config.Config, fn func(ctx context.Context, rt *config.Runtime) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Reconcile.OnStartup = false
	cfg.Reconcile.Interval = 0

	rt, err := config.InitializeRuntime(ctx, cfg, nil)
	if err != nil {
		return err
	}
	runErr := fn(ctx, rt)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, rt.Close(closeCtx))
}

// keyFlags are the --uuid/--source/--version flags shared by lookup and
// register. A flag that was not given is a wildcard; an explicit empty value
// matches resources without that attribute.
type keyFlags struct {
	uuid    string
	source  string
	version string
}

func (k *keyFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&k.uuid, "uuid", "", "resource uuid")
	fs.StringVar(&k.source, "source", "", "source reference (usually the download URL)")
	fs.StringVar(&k.version, "version", "", "resource version")
}

func (k *keyFlags) key(fs *pflag.FlagSet) (manager.Key, error) {
	var key manager.Key
	if fs.Changed("uuid") {
		id, err := uuid.Parse(k.uuid)
		if err != nil {
			return key, fmt.Errorf("invalid --uuid: %w", err)
		}
		key.UUID = &id
	}
	if fs.Changed("source") {
		key.SourceReference = &k.source
	}
	if fs.Changed("version") {
		key.Version = &k.version
	}
	return key, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ============================================================================
// Commands
// ============================================================================

func runLookup(args []string) error {
	var configPath, domainID string
	var kf keyFlags
	fs := newFlagSet("lookup", &configPath)
	fs.StringVarP(&domainID, "domain", "d", "", "domain identifier (required)")
	kf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if domainID == "" {
		return errors.New("--domain is required")
	}
	key, err := kf.key(fs)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath, true)
	if err != nil {
		return err
	}

	return withRuntime(cfg, func(ctx context.Context, rt *config.Runtime) error {
		res, err := rt.Manager.LookupWait(ctx, manager.LookupRequest{DomainID: domainID, Key: key})
		if err != nil {
			return err
		}
		if res == nil {
			return errors.New("no matching resource")
		}
		return printJSON(res)
	})
}

func runRegister(args []string) error {
	var configPath, domainID, file, name string
	var priority int
	var kf keyFlags
	fs := newFlagSet("register", &configPath)
	fs.StringVarP(&domainID, "domain", "d", "", "domain identifier (required)")
	fs.StringVar(&file, "file", "", "downloaded file to move into storage (required)")
	fs.IntVarP(&priority, "priority", "p", 0, "purge priority: 0 pins the resource, higher is evicted first")
	fs.StringVar(&name, "name", "", "file name to store under (default: derived from --source or --file)")
	kf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if domainID == "" || file == "" {
		return errors.New("--domain and --file are required")
	}
	key, err := kf.key(fs)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath, true)
	if err != nil {
		return err
	}

	return withRuntime(cfg, func(ctx context.Context, rt *config.Runtime) error {
		res, err := rt.Manager.RegisterWait(ctx, manager.RegisterRequest{
			StagedPath:    file,
			DomainID:      domainID,
			Key:           key,
			PurgePriority: priority,
			Filename:      name,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

func runPurge(args []string) error {
	var configPath, domainID, rawID string
	fs := newFlagSet("purge", &configPath)
	fs.StringVarP(&domainID, "domain", "d", "", "domain identifier (required)")
	fs.StringVar(&rawID, "uuid", "", "resource uuid (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if domainID == "" || rawID == "" {
		return errors.New("--domain and --uuid are required")
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid --uuid: %w", err)
	}

	cfg, err := loadConfig(configPath, true)
	if err != nil {
		return err
	}

	return withRuntime(cfg, func(ctx context.Context, rt *config.Runtime) error {
		res, err := rt.Manager.PurgeWait(ctx, domainID, id)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %s (%s) from %s\n", res.UUID, humanize.IBytes(uint64(res.Size)), res.DomainID)
		return nil
	})
}

func runDomains(args []string) error {
	var configPath string
	var asJSON bool
	fs := newFlagSet("domains", &configPath)
	fs.BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath, true)
	if err != nil {
		return err
	}

	return withRuntime(cfg, func(ctx context.Context, rt *config.Runtime) error {
		usage, err := rt.Manager.Usage(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(usage)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPATH\tRESOURCES\tSIZE\tLIMIT")
		for _, d := range usage.Domains {
			limit := "-"
			if d.MaxBytes > 0 {
				limit = humanize.IBytes(uint64(d.MaxBytes))
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				d.ID, strings.Join(d.Path, "/"), d.Resources, humanize.IBytes(uint64(d.CurrentSize)), limit)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		quota := "unlimited"
		switch {
		case usage.Quota > 0:
			quota = humanize.IBytes(uint64(usage.Quota))
		case usage.Quota < 0:
			quota = "no space left"
		}
		fmt.Printf("\nTotal: %s of %s\n", humanize.IBytes(uint64(usage.Total)), quota)
		return nil
	})
}

// runReconcile runs one pass directly against the stores, without starting
// the manager.
func runReconcile(args []string) error {
	var configPath string
	var dryRun, asJSON bool
	fs := newFlagSet("reconcile", &configPath)
	fs.BoolVarP(&dryRun, "dry-run", "n", false, "only report what would be repaired")
	fs.BoolVar(&asJSON, "json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := config.CreateMetadataStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	contentStore, err := config.CreateContentStore(ctx, &cfg.Storage)
	if err != nil {
		return err
	}

	report, err := gc.NewReconciler(store, contentStore, gc.Direct, nil, gc.Config{DryRun: dryRun}).RunNow(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(report)
	}
	for _, path := range report.Orphans {
		fmt.Printf("orphan   %s\n", path)
	}
	for _, id := range report.Missing {
		fmt.Printf("missing  %s\n", id)
	}
	for _, id := range report.Drifted {
		fmt.Printf("drifted  %s\n", id)
	}
	for _, id := range report.DomainsCorrected {
		fmt.Printf("domain   %s\n", id)
	}
	fmt.Println(report.Summary())
	return nil
}
