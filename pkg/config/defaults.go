package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittostash/pkg/eviction"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans defaulting to true are set through viper in Load
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyMetadataDefaults(&cfg.Metadata)
	applyEvictionDefaults(&cfg.Eviction)

	// Add a default domain if none configured
	if len(cfg.Domains) == 0 {
		cfg.Domains = []DomainConfig{{ID: "default", Name: "default"}}
	}

	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(&cfg.API)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 3
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Root == "" {
		cfg.Root = getDataDir()
	}
	// StagingDir "" resolves to <root>/staging, see StagingPath.
	// MaxBytes 0 derives the quota from the disk.
	// ReserveBytes 0 lets Resources fill the disk.
}

func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Listed so that generated config files show the tunables
	if _, ok := cfg.Badger["block_cache_mb"]; !ok {
		cfg.Badger["block_cache_mb"] = 64
	}
	if _, ok := cfg.Badger["index_cache_mb"]; !ok {
		cfg.Badger["index_cache_mb"] = 32
	}
	if _, ok := cfg.Badger["sync_writes"]; !ok {
		cfg.Badger["sync_writes"] = false
	}
}

func applyEvictionDefaults(cfg *EvictionConfig) {
	if cfg.Policy == "" {
		cfg.Policy = eviction.PriorityPolicy{}.Name()
	}
	cfg.Policy = strings.ToLower(cfg.Policy)
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8080"
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RequestsPerSecond)
		if cfg.RateLimit.Burst < 1 {
			cfg.RateLimit.Burst = 1
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Reconcile: ReconcileConfig{
			OnStartup: true,
		},
		API: APIConfig{
			Enabled: true,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				Burst:             200,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
