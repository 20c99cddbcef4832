package hotpath

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, 0, cfg.Cache.MaxEntries)
	assert.Equal(t, 60, cfg.Cache.CleanupIntervalSec)
	assert.Empty(t, cfg.Cache.LibraryPaths)
	assert.False(t, cfg.Cache.DisableNative)
	assert.False(t, cfg.Metrics.DisableNative)
}

func TestParseAppliesFileOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
logging:
  level: debug
  development: true
cache:
  max_entries: 500
  cleanup_interval_sec: 5
  disable_native: true
metrics:
  library_paths:
    - /opt/hotpath/libengine.so
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.Cache.MaxEntries)
	assert.Equal(t, 5, cfg.Cache.CleanupIntervalSec)
	assert.True(t, cfg.Cache.DisableNative)
	assert.Equal(t, []string{"/opt/hotpath/libengine.so"}, cfg.Metrics.LibraryPaths)
}

func TestParsePartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("cache:\n  max_entries: 10\n"))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Cache.MaxEntries)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 60, cfg.Cache.CleanupIntervalSec)
}

func TestParseExplicitZeroDisablesSweep(t *testing.T) {
	cfg, err := Parse([]byte("cache:\n  cleanup_interval_sec: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Cache.CleanupIntervalSec)
	assert.Equal(t, time.Duration(0), cfg.Cache.cleanupInterval())
}

func TestParseRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown log level", "logging:\n  level: verbose\n", "unknown level"},
		{"negative max entries", "cache:\n  max_entries: -1\n", "max_entries"},
		{"negative cleanup interval", "cache:\n  cleanup_interval_sec: -5\n", "cleanup_interval_sec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestParseCollectsAllFailures(t *testing.T) {
	_, err := Parse([]byte("logging:\n  level: loud\ncache:\n  max_entries: -1\n"))
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Errors, 2)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("cache: ["))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse yaml")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hotpath.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}
