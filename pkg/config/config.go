package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the complete DittoStash configuration.
//
// This structure captures all configurable aspects of the resource store:
//   - Logging configuration
//   - Storage root and global quota
//   - Metadata store selection and configuration (store-specific)
//   - Eviction policy
//   - Domain declarations
//   - Manager, reconciliation, metrics and HTTP API settings
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOSTASH_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Storage locates the managed tree and bounds its size
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Metadata specifies the metadata store type and type-specific configuration
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// Eviction selects the order in which Resources are evicted
	Eviction EvictionConfig `mapstructure:"eviction" yaml:"eviction"`

	// Domains declares the Domain tree, created or updated at startup
	Domains []DomainConfig `mapstructure:"domains" yaml:"domains" validate:"dive"`

	// Manager tunes the resource manager queue
	Manager ManagerConfig `mapstructure:"manager" yaml:"manager"`

	// Reconcile controls metadata/storage reconciliation
	Reconcile ReconcileConfig `mapstructure:"reconcile" yaml:"reconcile"`

	// Metrics controls Prometheus metrics exposition
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API configures the HTTP API served by `dittostash serve`
	API APIConfig `mapstructure:"api" yaml:"api"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`

	// MaxSizeMB rotates a log file once it reaches this size
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`

	// MaxBackups is the number of rotated files kept
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`

	// Compress gzips rotated files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// StorageConfig locates the storage root.
//
// Resource files live under <root>/Storage; the badger metadata store keeps
// its files in <root>/metadata.db. Downloads are staged in StagingDir
// before being registered over the HTTP API.
type StorageConfig struct {
	// Root is the directory holding the storage tree and the metadata store
	Root string `mapstructure:"root" yaml:"root" validate:"required"`

	// MaxBytes is the global quota. Zero derives it from the free disk space.
	MaxBytes ByteSize `mapstructure:"max_bytes" yaml:"max_bytes" validate:"gte=0"`

	// ReserveBytes is kept free for other users of the disk when MaxBytes is zero
	ReserveBytes ByteSize `mapstructure:"reserve_bytes" yaml:"reserve_bytes" validate:"gte=0"`

	// StagingDir holds files waiting to be registered. The API rejects
	// staged paths outside it. Empty means <root>/staging.
	StagingDir string `mapstructure:"staging_dir" yaml:"staging_dir"`
}

// ContentRoot returns the directory Resource files are stored under.
func (c StorageConfig) ContentRoot() string {
	return filepath.Join(c.Root, "Storage")
}

// StagingPath returns the directory downloads are staged in.
func (c StorageConfig) StagingPath() string {
	if c.StagingDir != "" {
		return c.StagingDir
	}
	return filepath.Join(c.Root, "staging")
}

// MetadataPath returns the directory of the badger metadata store.
func (c StorageConfig) MetadataPath() string {
	return filepath.Join(c.Root, "metadata.db")
}

// MetadataConfig specifies metadata store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type MetadataConfig struct {
	// Type specifies which metadata store implementation to use
	// Valid values: badger, memory
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=badger memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// EvictionConfig selects the eviction policy.
type EvictionConfig struct {
	// Policy names the candidate ordering
	// Valid values: priority, lru, smallest
	Policy string `mapstructure:"policy" yaml:"policy" validate:"required"`
}

// DomainConfig declares one Domain.
type DomainConfig struct {
	// ID is the stable identifier used by clients
	ID string `mapstructure:"id" yaml:"id" validate:"required"`

	// Name is the directory name of the Domain under its parent
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	// Parent is the ID of the parent Domain (empty for a root)
	Parent string `mapstructure:"parent" yaml:"parent,omitempty"`

	// MaxBytes is an optional Domain quota (0 = none)
	MaxBytes ByteSize `mapstructure:"max_bytes" yaml:"max_bytes,omitempty" validate:"gte=0"`
}

// ManagerConfig tunes the resource manager.
type ManagerConfig struct {
	// QueueSize bounds pending operations; beyond it submissions fail as busy.
	// 0 = unbounded.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" validate:"gte=0"`
}

// ReconcileConfig controls reconciliation between metadata and stored files.
type ReconcileConfig struct {
	// OnStartup runs one pass before the manager accepts work
	OnStartup bool `mapstructure:"on_startup" yaml:"on_startup"`

	// DryRun only reports what would be repaired
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`

	// Interval runs periodic passes while serving (0 = disabled)
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gte=0"`
}

// MetricsConfig controls Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled starts the metrics HTTP server
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the metrics HTTP port
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	// Enabled serves the API
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the address the API binds to
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required_if=Enabled true"`

	// RateLimit throttles API requests
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig is a token bucket. RequestsPerSecond 0 disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOSTASH_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// decodeHook converts the string forms used in config files and environment
// variables: durations ("30s"), byte sizes ("10GiB") and comma separated lists.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOSTASH_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOSTASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, reflect.TypeOf(Config{}), "")

	// Booleans whose default is true cannot be told apart from an explicit
	// false after decoding.
	v.SetDefault("reconcile.on_startup", true)
	v.SetDefault("api.enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittostash/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// bindEnv registers every scalar key of t, so that environment variables
// apply even when the key is absent from the config file.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnv(v, f.Type, key)
			continue
		}
		if f.Type.Kind() == reflect.Map || f.Type.Kind() == reflect.Slice {
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file - use defaults
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			// Explicit path that does not exist yet - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittostash")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittostash")
}

// getDataDir returns the default storage root.
//
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "dittostash")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "dittostash-data")
	}

	return filepath.Join(home, ".local", "share", "dittostash")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
