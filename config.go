package hotpath

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a Runtime. The zero value is
// not usable; start from DefaultConfig or LoadFile.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig controls the logger the Runtime builds when none is
// supplied via WithLogger.
type LoggingConfig struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level string `yaml:"level"`

	// Development switches to a human-readable console encoding.
	Development bool `yaml:"development"`
}

// CacheConfig configures the key/value store.
type CacheConfig struct {
	// MaxEntries bounds the in-process store; 0 means unbounded.
	MaxEntries int `yaml:"max_entries"`

	// CleanupIntervalSec is how often the in-process store sweeps
	// expired entries, in seconds. 0 disables the sweep.
	CleanupIntervalSec int `yaml:"cleanup_interval_sec"`

	// LibraryPaths overrides the default native library probe order.
	LibraryPaths []string `yaml:"library_paths,omitempty"`

	// DisableNative skips native probing for the cache store.
	DisableNative bool `yaml:"disable_native"`
}

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	// LibraryPaths overrides the default native library probe order.
	LibraryPaths []string `yaml:"library_paths,omitempty"`

	// DisableNative skips native probing for the collector.
	DisableNative bool `yaml:"disable_native"`
}

// DefaultConfig returns the configuration used when no file or options
// override it.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Cache:   CacheConfig{CleanupIntervalSec: 60},
	}
}

// LoadFile reads, parses, and validates a YAML config file. File values
// are applied on top of DefaultConfig, so partial files are fine.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML config data over DefaultConfig.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c CacheConfig) cleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSec) * time.Second
}

// ValidationError holds all validation failures for a config.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Errors, "; "))
}

// validate checks the config for correctness.
func validate(cfg *Config) error {
	var errs []string

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging: unknown level %q (must be debug, info, warn or error)", cfg.Logging.Level))
	}
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, "cache: max_entries must not be negative")
	}
	if cfg.Cache.CleanupIntervalSec < 0 {
		errs = append(errs, "cache: cleanup_interval_sec must not be negative")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
