package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittostash/pkg/manager"
	"github.com/marmos91/dittostash/pkg/store/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeRuntime(t *testing.T) {
	ctx := context.Background()
	cfg := GetDefaultConfig()
	cfg.Storage.Root = t.TempDir()
	cfg.Storage.MaxBytes = 1 << 20
	cfg.Domains = []DomainConfig{
		{ID: "media", Name: "Media"},
		{ID: "images", Name: "Images", Parent: "media"},
	}

	// An orphan left by a previous run is removed at startup.
	orphan := filepath.Join(cfg.Storage.ContentRoot(), "Media", content.FileName(uuid.New(), "stale.png"))
	require.NoError(t, os.MkdirAll(filepath.Dir(orphan), 0755))
	require.NoError(t, os.WriteFile(orphan, []byte("stale"), 0644))

	rt, err := InitializeRuntime(ctx, cfg, nil)
	require.NoError(t, err)

	require.NotNil(t, rt.Startup)
	assert.Equal(t, []string{orphan}, rt.Startup.Orphans)
	assert.NoFileExists(t, orphan)
	assert.Equal(t, 2, rt.Domains.Len())

	staged := filepath.Join(t.TempDir(), "download")
	require.NoError(t, os.WriteFile(staged, []byte("payload"), 0644))
	src := "http://example.com/a.png"
	res, err := rt.Manager.RegisterWait(ctx, manager.RegisterRequest{
		StagedPath:    staged,
		DomainID:      "images",
		Key:           manager.Key{SourceReference: &src},
		PurgePriority: 1,
	})
	require.NoError(t, err)
	assert.FileExists(t, res.Path)

	report, err := rt.Reconciler.RunNow(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean(), report.Summary())

	require.NoError(t, rt.Close(ctx))

	// Reopening finds the Resource again.
	rt, err = InitializeRuntime(ctx, cfg, nil)
	require.NoError(t, err)
	defer rt.Close(ctx)

	got, err := rt.Manager.LookupWait(ctx, manager.LookupRequest{DomainID: "images", Key: manager.Key{SourceReference: &src}})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.UUID, got.UUID)
}

func TestInitializeRuntime_InvalidDomains(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Root = t.TempDir()
	cfg.Domains = []DomainConfig{{ID: "a", Name: ""}}

	_, err := InitializeRuntime(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestRuntimeStatus(t *testing.T) {
	ctx := context.Background()
	cfg := GetDefaultConfig()
	cfg.Storage.Root = t.TempDir()
	cfg.Storage.MaxBytes = 1 << 20
	cfg.Domains = []DomainConfig{{ID: "media", Name: "Media"}}

	assert.Nil(t, NewMetricsServer(&Config{}, nil), "metrics disabled")

	rt, err := InitializeRuntime(ctx, cfg, nil)
	require.NoError(t, err)

	status := RuntimeStatus(rt)
	body, err := status(ctx)
	require.NoError(t, err)
	report, ok := body.(*StatusReport)
	require.True(t, ok, "got %T", body)
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, int64(1<<20), report.Usage.Quota)
	require.Len(t, report.Usage.Domains, 1)

	require.NoError(t, rt.Close(ctx))
	_, err = status(ctx)
	assert.Error(t, err, "a closed store is reported")
}
