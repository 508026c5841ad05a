package strata

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/strataio/strata/codec"
	"github.com/strataio/strata/fio"
)

// Duration is a time.Duration that marshals as a Go duration string
// ("24h", "90s") in both YAML and JSON config files.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Duration(d))), nil
}

// UnmarshalJSON accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		parsed, err := time.ParseDuration(string(data[1 : len(data)-1]))
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if _, err := fmt.Sscan(string(data), &ns); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(ns)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds everything the engine needs to open a database directory.
type Config struct {
	// BasePath is the database root. The engine creates datamodels/,
	// temps/, backups/ and logs/ underneath it.
	BasePath string `yaml:"base_path" json:"base_path"`

	// MaxSegmentSizeMB seals the active segment once its file reaches this
	// size. Zero selects the default (16 MB).
	MaxSegmentSizeMB float64 `yaml:"max_segment_size_mb" json:"max_segment_size_mb"`

	// MaxRecordsPerSegment seals the active segment once it holds this many
	// records. Zero selects the default (10000).
	MaxRecordsPerSegment int64 `yaml:"max_records_per_segment" json:"max_records_per_segment"`

	// IndexingEnabled turns secondary indexes on. Index-only operations
	// return ErrIndexingDisabled when off.
	IndexingEnabled bool `yaml:"indexing_enabled" json:"indexing_enabled"`

	// EncryptionEnabled stores every file as an encrypted container (.sde)
	// instead of plain JSON. The choice is permanent for a database
	// directory.
	EncryptionEnabled bool `yaml:"encryption_enabled" json:"encryption_enabled"`

	// EncryptionPassphrase derives the encryption key. Required when
	// encryption is enabled. Never serialized.
	EncryptionPassphrase string `yaml:"encryption_passphrase" json:"-"`

	// Compression selects the algorithm used inside encrypted containers:
	// "zstd" (default), "lz4" or "none". Ignored when encryption is off.
	Compression string `yaml:"compression" json:"compression"`

	// Codec names the record encoding: "go-json" (default) or "json".
	// A database directory must be reopened with the codec it was written
	// with.
	Codec string `yaml:"codec" json:"codec"`

	// TempFileMaxAge is how long files in temps/ survive before maintenance
	// removes them.
	TempFileMaxAge Duration `yaml:"temp_file_max_age" json:"temp_file_max_age"`

	// SegmentRetention is how long inactive segment tombstones survive
	// before maintenance prunes them.
	SegmentRetention Duration `yaml:"segment_retention" json:"segment_retention"`

	// CloseTimeout bounds how long Close waits for pending metadata
	// flushes before giving up on them.
	CloseTimeout Duration `yaml:"close_timeout" json:"close_timeout"`

	// FlushQueueDepth is the number of metadata save jobs that may sit in
	// the flush queue before mutations start blocking on it.
	FlushQueueDepth int `yaml:"flush_queue_depth" json:"flush_queue_depth"`

	// SegmentCacheMB bounds the in-memory cache of segment file contents
	// shared by all entities. Zero selects the default (32 MB).
	SegmentCacheMB int `yaml:"segment_cache_mb" json:"segment_cache_mb"`
}

// DefaultConfig returns the engine defaults for the given base path.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:             basePath,
		MaxSegmentSizeMB:     16,
		MaxRecordsPerSegment: 10000,
		IndexingEnabled:      true,
		Compression:          "zstd",
		Codec:                "go-json",
		TempFileMaxAge:       Duration(24 * time.Hour),
		SegmentRetention:     Duration(7 * 24 * time.Hour),
		CloseTimeout:         Duration(5 * time.Second),
		FlushQueueDepth:      64,
		SegmentCacheMB:       32,
	}
}

// normalized fills zero values with defaults. Validation runs on the
// normalized form, so an explicit bad value still fails.
func (c Config) normalized() Config {
	def := DefaultConfig(c.BasePath)
	if c.MaxSegmentSizeMB == 0 {
		c.MaxSegmentSizeMB = def.MaxSegmentSizeMB
	}
	if c.MaxRecordsPerSegment == 0 {
		c.MaxRecordsPerSegment = def.MaxRecordsPerSegment
	}
	if c.Compression == "" {
		c.Compression = def.Compression
	}
	if c.Codec == "" {
		c.Codec = def.Codec
	}
	if c.TempFileMaxAge == 0 {
		c.TempFileMaxAge = def.TempFileMaxAge
	}
	if c.SegmentRetention == 0 {
		c.SegmentRetention = def.SegmentRetention
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = def.CloseTimeout
	}
	if c.FlushQueueDepth == 0 {
		c.FlushQueueDepth = def.FlushQueueDepth
	}
	if c.SegmentCacheMB == 0 {
		c.SegmentCacheMB = def.SegmentCacheMB
	}
	return c
}

// Validate checks the configuration before any I/O happens.
func (c Config) Validate() error {
	if c.BasePath == "" {
		return &ConfigError{Field: "base_path", Reason: "must not be empty"}
	}
	if c.MaxSegmentSizeMB < 0 {
		return &ConfigError{Field: "max_segment_size_mb", Reason: "must not be negative"}
	}
	if c.MaxRecordsPerSegment < 0 {
		return &ConfigError{Field: "max_records_per_segment", Reason: "must not be negative"}
	}
	if c.EncryptionEnabled && c.EncryptionPassphrase == "" {
		return &ConfigError{Field: "encryption_passphrase", Reason: "required when encryption is enabled"}
	}
	if _, err := fio.ParseCompression(c.Compression); err != nil {
		return &ConfigError{Field: "compression", Reason: err.Error()}
	}
	if c.Codec != "" {
		if _, ok := codec.ByName(c.Codec); !ok {
			return &ConfigError{Field: "codec", Reason: fmt.Sprintf("unknown codec %q", c.Codec)}
		}
	}
	if c.TempFileMaxAge < 0 {
		return &ConfigError{Field: "temp_file_max_age", Reason: "must not be negative"}
	}
	if c.SegmentRetention < 0 {
		return &ConfigError{Field: "segment_retention", Reason: "must not be negative"}
	}
	if c.CloseTimeout < 0 {
		return &ConfigError{Field: "close_timeout", Reason: "must not be negative"}
	}
	if c.FlushQueueDepth < 0 {
		return &ConfigError{Field: "flush_queue_depth", Reason: "must not be negative"}
	}
	if c.SegmentCacheMB < 0 {
		return &ConfigError{Field: "segment_cache_mb", Reason: "must not be negative"}
	}
	return nil
}

// LoadConfig reads a YAML (.yaml/.yml) or JSON (.json) config file on top of
// the defaults. The base path may come from the file itself.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultConfig("")
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case ".json":
		if err := (codec.JSON{}).Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	default:
		return Config{}, &ConfigError{Field: "path", Reason: fmt.Sprintf("unsupported config extension %q", ext)}
	}
	return cfg, nil
}

// Snapshot condenses the effective configuration for the global metadata
// document. The passphrase never leaves the process.
func (c Config) Snapshot() map[string]any {
	return map[string]any{
		"base_path":               c.BasePath,
		"max_segment_size_mb":     c.MaxSegmentSizeMB,
		"max_records_per_segment": c.MaxRecordsPerSegment,
		"indexing_enabled":        c.IndexingEnabled,
		"encryption_enabled":      c.EncryptionEnabled,
		"compression":             c.Compression,
		"codec":                   c.Codec,
		"temp_file_max_age":       c.TempFileMaxAge.String(),
		"segment_retention":       c.SegmentRetention.String(),
	}
}

// newHandler selects the file handler variant the configuration asks for.
func (c Config) newHandler() (fio.Handler, error) {
	if !c.EncryptionEnabled {
		return fio.NewLocal(), nil
	}
	algo, err := fio.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	return fio.NewEncrypted(c.EncryptionPassphrase, algo)
}
