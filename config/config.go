package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/brettbedarf/libfs/internal/util"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. LIBFS_DATABASE_PATH
const EnvPrefix = "LIBFS"

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultLogLvl = util.InfoLevel

	// DefaultDatabasePath is relative to the working directory
	DefaultDatabasePath = "libfs.db"

	// DefaultPoolSize of 0 sizes the connection pool from the CPU count
	DefaultPoolSize = 0

	// DefaultBackendTimeout bounds each storage backend call, in seconds
	DefaultBackendTimeout = 30.0

	// DefaultMaxVariantDimension bounds both sides of an artifact variant
	DefaultMaxVariantDimension = 4096
)

// DefaultThumbnailFormats are the artifact output formats in preference
// order
var DefaultThumbnailFormats = []string{"JPEG", "PNG"}

// busyMargin is added to the backend timeout for the SQLite busy timeout:
// a write transaction may hold the lock across one backend call.
const busyMargin = 5 * time.Second

// Config contains runtime configuration values for a libfs store.
type Config struct {
	LogLvl              util.LogLevel // Internal log level (Default Info)
	DatabasePath        string        // SQLite database file (Default "libfs.db")
	PoolSize            int           // SQLite connections; 0 picks from CPU count (Default 0)
	BackendTimeout      float64       // Seconds each backend call may take; 0 disables (Default 30)
	ThumbnailFormats    []string      // Artifact output formats, first is the fallback (Default JPEG, PNG)
	MaxVariantDimension int           // Largest artifact width or height (Default 4096)
}

// BackendTimeoutDuration returns BackendTimeout as a time.Duration
func (c *Config) BackendTimeoutDuration() time.Duration {
	return time.Duration(c.BackendTimeout * float64(time.Second))
}

// BusyTimeout is how long a writer waits for the SQLite write lock
func (c *Config) BusyTimeout() time.Duration {
	return c.BackendTimeoutDuration() + busyMargin
}

// Validate reports values that cannot work
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabasePath) == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("pool_size must not be negative, got %d", c.PoolSize))
	}
	if c.BackendTimeout < 0 {
		errs = append(errs, fmt.Errorf("backend_timeout_seconds must not be negative, got %g", c.BackendTimeout))
	}
	if c.MaxVariantDimension < 1 {
		errs = append(errs, fmt.Errorf("max_variant_dimension must be positive, got %d", c.MaxVariantDimension))
	}
	if len(c.ThumbnailFormats) == 0 {
		errs = append(errs, errors.New("thumbnail_formats must not be empty"))
	}
	return errors.Join(errs...)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	// LogLvl is a verbosity from ErrorVerbose (1) to TraceVerbose (5)
	LogLvl              *int      `yaml:"log_level,omitempty" json:"log_level,omitempty" envconfig:"LOG_LEVEL"`
	DatabasePath        *string   `yaml:"database_path,omitempty" json:"database_path,omitempty" envconfig:"DATABASE_PATH"`
	PoolSize            *int      `yaml:"pool_size,omitempty" json:"pool_size,omitempty" envconfig:"POOL_SIZE"`
	BackendTimeout      *float64  `yaml:"backend_timeout_seconds,omitempty" json:"backend_timeout_seconds,omitempty" envconfig:"BACKEND_TIMEOUT_SECONDS"`
	ThumbnailFormats    *[]string `yaml:"thumbnail_formats,omitempty" json:"thumbnail_formats,omitempty" envconfig:"THUMBNAIL_FORMATS"`
	MaxVariantDimension *int      `yaml:"max_variant_dimension,omitempty" json:"max_variant_dimension,omitempty" envconfig:"MAX_VARIANT_DIMENSION"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		LogLvl:              DefaultLogLvl,
		DatabasePath:        DefaultDatabasePath,
		PoolSize:            DefaultPoolSize,
		BackendTimeout:      DefaultBackendTimeout,
		ThumbnailFormats:    slices.Clone(DefaultThumbnailFormats),
		MaxVariantDimension: DefaultMaxVariantDimension,
	}
}

// NewConfig creates a Config from defaults with override applied, if any.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.LogLvl != nil {
		c.LogLvl = verbosityToLevel(*override.LogLvl)
	}
	if override.DatabasePath != nil {
		c.DatabasePath = *override.DatabasePath
	}
	if override.PoolSize != nil {
		c.PoolSize = *override.PoolSize
	}
	if override.BackendTimeout != nil {
		c.BackendTimeout = *override.BackendTimeout
	}
	if override.ThumbnailFormats != nil {
		c.ThumbnailFormats = slices.Clone(*override.ThumbnailFormats)
	}
	if override.MaxVariantDimension != nil {
		c.MaxVariantDimension = *override.MaxVariantDimension
	}
}

// verbosityToLevel maps CLI style verbosity (1 quiet .. 5 chatty) onto
// util.LogLevel, clamping out of range values
func verbosityToLevel(v int) util.LogLevel {
	v = min(max(v, ErrorVerbose), TraceVerbose)
	return util.ErrorLevel - (v - ErrorVerbose)
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// LoadEnvOverride reads overrides from LIBFS_* environment variables.
// Unset variables leave their field nil.
func LoadEnvOverride() (*ConfigOverride, error) {
	var override ConfigOverride
	if err := envconfig.Process(EnvPrefix, &override); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}
	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(override)
	return cfg, nil
}

// Load builds the effective Config: defaults, then the file at path (if
// path is not empty), then the environment. The result is validated.
func Load(path string) (cfg *Config, err error) {
	cfg = NewDefaultConfig()
	if path != "" {
		if cfg, err = NewConfigFromFile(path); err != nil {
			return nil, err
		}
	}
	env, err := LoadEnvOverride()
	if err != nil {
		return nil, err
	}
	cfg.Merge(env)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
