package strata_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataio/strata"
)

func TestDuration_JSON(t *testing.T) {
	out, err := json.Marshal(strata.Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(out))

	var d strata.Duration
	require.NoError(t, json.Unmarshal([]byte(`"2h"`), &d))
	assert.Equal(t, 2*time.Hour, d.Std())

	// Integer nanoseconds are accepted for hand-written JSON.
	require.NoError(t, json.Unmarshal([]byte(`5000000000`), &d))
	assert.Equal(t, 5*time.Second, d.Std())

	require.Error(t, json.Unmarshal([]byte(`"not a duration"`), &d))
}

func TestDefaultConfig(t *testing.T) {
	cfg := strata.DefaultConfig("/data/db")

	assert.Equal(t, "/data/db", cfg.BasePath)
	assert.Equal(t, 16.0, cfg.MaxSegmentSizeMB)
	assert.Equal(t, int64(10000), cfg.MaxRecordsPerSegment)
	assert.True(t, cfg.IndexingEnabled)
	assert.False(t, cfg.EncryptionEnabled)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.Equal(t, "go-json", cfg.Codec)
	assert.Equal(t, 24*time.Hour, cfg.TempFileMaxAge.Std())
	assert.Equal(t, 7*24*time.Hour, cfg.SegmentRetention.Std())
	assert.Equal(t, 5*time.Second, cfg.CloseTimeout.Std())
	assert.Equal(t, 32, cfg.SegmentCacheMB)

	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*strata.Config)
		wantField string
	}{
		{
			name:      "empty base path",
			mutate:    func(c *strata.Config) { c.BasePath = "" },
			wantField: "base_path",
		},
		{
			name:      "negative segment size",
			mutate:    func(c *strata.Config) { c.MaxSegmentSizeMB = -1 },
			wantField: "max_segment_size_mb",
		},
		{
			name:      "negative record cap",
			mutate:    func(c *strata.Config) { c.MaxRecordsPerSegment = -10 },
			wantField: "max_records_per_segment",
		},
		{
			name:      "encryption without passphrase",
			mutate:    func(c *strata.Config) { c.EncryptionEnabled = true },
			wantField: "encryption_passphrase",
		},
		{
			name:      "unknown compression",
			mutate:    func(c *strata.Config) { c.Compression = "brotli" },
			wantField: "compression",
		},
		{
			name:      "unknown codec",
			mutate:    func(c *strata.Config) { c.Codec = "xml" },
			wantField: "codec",
		},
		{
			name:      "negative close timeout",
			mutate:    func(c *strata.Config) { c.CloseTimeout = strata.Duration(-time.Second) },
			wantField: "close_timeout",
		},
		{
			name:      "negative segment cache",
			mutate:    func(c *strata.Config) { c.SegmentCacheMB = -8 },
			wantField: "segment_cache_mb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := strata.DefaultConfig("/data/db")
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, strata.ErrInvalidConfig)

			var cfgErr *strata.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.yaml")
	content := `base_path: /var/lib/strata
max_records_per_segment: 500
compression: lz4
close_timeout: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := strata.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/strata", cfg.BasePath)
	assert.Equal(t, int64(500), cfg.MaxRecordsPerSegment)
	assert.Equal(t, "lz4", cfg.Compression)
	assert.Equal(t, 10*time.Second, cfg.CloseTimeout.Std())
	// Unset keys keep their defaults.
	assert.Equal(t, "go-json", cfg.Codec)
	assert.Equal(t, 16.0, cfg.MaxSegmentSizeMB)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.json")
	content := `{"base_path": "/srv/db", "temp_file_max_age": "48h", "indexing_enabled": true}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := strata.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/db", cfg.BasePath)
	assert.Equal(t, 48*time.Hour, cfg.TempFileMaxAge.Std())
	assert.True(t, cfg.IndexingEnabled)
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o600))

	_, err := strata.LoadConfig(path)
	require.ErrorIs(t, err, strata.ErrInvalidConfig)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := strata.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestConfig_SnapshotExcludesPassphrase(t *testing.T) {
	cfg := strata.DefaultConfig("/data/db")
	cfg.EncryptionEnabled = true
	cfg.EncryptionPassphrase = "hunter2"

	snap := cfg.Snapshot()
	assert.Equal(t, true, snap["encryption_enabled"])
	assert.Equal(t, "/data/db", snap["base_path"])
	for key := range snap {
		assert.NotContains(t, key, "passphrase")
	}

	// The passphrase is also excluded from JSON serialization.
	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
}
