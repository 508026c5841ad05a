package strata

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every operation on a closed database.
	ErrClosed = errors.New("database is closed")

	// ErrNotFound is returned when a record with the requested id does not
	// exist.
	ErrNotFound = errors.New("record not found")

	// ErrIndexingDisabled is returned by index-only operations when the
	// database was opened with indexing turned off.
	ErrIndexingDisabled = errors.New("indexing is disabled")

	// ErrInvalidConfig is wrapped by every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// ConfigError reports which configuration field failed validation and why.
//
// It unwraps to ErrInvalidConfig so callers can match the whole class.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// EntityTypeError indicates that an entity was registered twice with
// different record types.
type EntityTypeError struct {
	Entity string
}

func (e *EntityTypeError) Error() string {
	return fmt.Sprintf("entity %s is already registered with a different record type", e.Entity)
}
