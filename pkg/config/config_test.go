package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "info"

storage:
  root: "/srv/dittostash"
  max_bytes: "10GiB"

domains:
  - id: media
    name: Media
  - id: images
    name: Images
    parent: media
    max_bytes: 500MB
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Storage.MaxBytes != 10<<30 {
		t.Errorf("Expected max_bytes 10GiB, got %d", cfg.Storage.MaxBytes)
	}
	if cfg.Storage.ContentRoot() != "/srv/dittostash/Storage" {
		t.Errorf("Unexpected content root %q", cfg.Storage.ContentRoot())
	}
	if cfg.Storage.StagingPath() != "/srv/dittostash/staging" {
		t.Errorf("Unexpected staging path %q", cfg.Storage.StagingPath())
	}
	if cfg.Storage.MetadataPath() != "/srv/dittostash/metadata.db" {
		t.Errorf("Unexpected metadata path %q", cfg.Storage.MetadataPath())
	}
	if len(cfg.Domains) != 2 {
		t.Fatalf("Expected 2 domains, got %d", len(cfg.Domains))
	}
	if cfg.Domains[1].MaxBytes != 500_000_000 {
		t.Errorf("Expected domain max_bytes 500MB, got %d", cfg.Domains[1].MaxBytes)
	}
	if cfg.Eviction.Policy != "priority" {
		t.Errorf("Expected default policy 'priority', got %q", cfg.Eviction.Policy)
	}
	if cfg.Metadata.Type != "badger" {
		t.Errorf("Expected default metadata type 'badger', got %q", cfg.Metadata.Type)
	}
	if !cfg.Reconcile.OnStartup {
		t.Error("Expected reconcile.on_startup to default to true")
	}
	if !cfg.API.Enabled {
		t.Error("Expected api.enabled to default to true")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// An explicit path keeps the user's own config out of the test.
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if len(cfg.Domains) != 1 || cfg.Domains[0].ID != "default" {
		t.Errorf("Expected the default domain, got %+v", cfg.Domains)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "logging:\n  level: [unclosed\n")

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidByteSize(t *testing.T) {
	configPath := writeConfig(t, "storage:\n  max_bytes: \"lots\"\n")

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid byte size")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	configPath := writeConfig(t, "logging:\n  level: INFO\n")

	t.Setenv("DITTOSTASH_LOGGING_LEVEL", "DEBUG")
	t.Setenv("DITTOSTASH_STORAGE_MAX_BYTES", "2GiB")
	t.Setenv("DITTOSTASH_RECONCILE_ON_STARTUP", "false")
	t.Setenv("DITTOSTASH_RECONCILE_INTERVAL", "1h")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected env level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Storage.MaxBytes != 2<<30 {
		t.Errorf("Expected env max_bytes 2GiB, got %d", cfg.Storage.MaxBytes)
	}
	if cfg.Reconcile.OnStartup {
		t.Error("Expected env to disable reconcile.on_startup")
	}
	if cfg.Reconcile.Interval != time.Hour {
		t.Errorf("Expected env interval 1h, got %v", cfg.Reconcile.Interval)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
domains:
  - id: a
    name: a
    parent: missing
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for undeclared parent")
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := GetConfigDir(); got != filepath.Join("/xdg", "dittostash") {
		t.Errorf("Expected XDG config dir, got %q", got)
	}
	if got := GetDefaultConfigPath(); got != filepath.Join("/xdg", "dittostash", "config.yaml") {
		t.Errorf("Unexpected default config path %q", got)
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "1024", want: 1024},
		{in: "500MB", want: 500_000_000},
		{in: "10GiB", want: 10 << 30},
		{in: "1.5 KiB", want: 1536},
		{in: "-1", wantErr: true},
		{in: "many", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
