package index

import (
	"time"

	"github.com/google/uuid"
)

// Typed field constructors. Each pairs a property name with a plain Go
// extractor and fills in the matching kind, so schemas read as declarations
// instead of Value plumbing.

// Int64Field declares an integer property.
func Int64Field[T any](name string, get func(T) int64) Field[T] {
	return Field[T]{Name: name, Kind: KindInt, Extract: func(v T) Value { return Int(get(v)) }}
}

// Float64Field declares a float property.
func Float64Field[T any](name string, get func(T) float64) Field[T] {
	return Field[T]{Name: name, Kind: KindFloat, Extract: func(v T) Value { return Float(get(v)) }}
}

// StringField declares a string property.
func StringField[T any](name string, get func(T) string) Field[T] {
	return Field[T]{Name: name, Kind: KindString, Extract: func(v T) Value { return String(get(v)) }}
}

// BoolField declares a boolean property.
func BoolField[T any](name string, get func(T) bool) Field[T] {
	return Field[T]{Name: name, Kind: KindBool, Extract: func(v T) Value { return Bool(get(v)) }}
}

// TimeField declares a timestamp property, indexed at nanosecond precision
// in UTC.
func TimeField[T any](name string, get func(T) time.Time) Field[T] {
	return Field[T]{Name: name, Kind: KindTime, Extract: func(v T) Value { return Time(get(v)) }}
}

// UUIDField declares a UUID property.
func UUIDField[T any](name string, get func(T) uuid.UUID) Field[T] {
	return Field[T]{Name: name, Kind: KindUUID, Extract: func(v T) Value { return UUID(get(v)) }}
}
