package index

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSchema is wrapped by every schema validation failure.
var ErrInvalidSchema = errors.New("invalid schema")

// Field declares one indexed property of a record type: its name, the value
// kind it produces and the extractor that pulls it out of a record. The
// extractor replaces runtime reflection; it is the single place a property's
// representation is defined.
type Field[T any] struct {
	Name    string
	Kind    Kind
	Extract func(T) Value
}

// Schema is the explicit property descriptor of an entity. Field order is
// significant: it breaks ties when resolving the identity field.
type Schema[T any] struct {
	fields []Field[T]
	idName string
}

// NewSchema validates and builds a schema from the declared fields.
func NewSchema[T any](fields ...Field[T]) (*Schema[T], error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields declared", ErrInvalidSchema)
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: field with empty name", ErrInvalidSchema)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
		}
		seen[f.Name] = true
		if f.Extract == nil {
			return nil, fmt.Errorf("%w: field %q has no extractor", ErrInvalidSchema, f.Name)
		}
		if f.Kind == KindInvalid {
			return nil, fmt.Errorf("%w: field %q has invalid kind", ErrInvalidSchema, f.Name)
		}
	}
	return &Schema[T]{fields: fields}, nil
}

// MustSchema is NewSchema that panics on error, for package-level schema
// variables.
func MustSchema[T any](fields ...Field[T]) *Schema[T] {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// WithIDField designates the identity field explicitly, overriding the
// name-based resolution. The designation is validated when the schema is
// bound to an entity.
func (s *Schema[T]) WithIDField(name string) *Schema[T] {
	out := *s
	out.idName = name
	return &out
}

// Fields returns the declared fields in order.
func (s *Schema[T]) Fields() []Field[T] { return s.fields }

// Field returns the declared field with the given name.
func (s *Schema[T]) Field(name string) (Field[T], bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field[T]{}, false
}

// IDField resolves which field provides record identity for the given
// entity name. Resolution order: the explicitly designated field, then a
// field named "id", "ID" or "<entity>Id" (case-insensitive) of integer kind,
// then the first declared field. The resolved field must be of integer kind.
func (s *Schema[T]) IDField(entity string) (Field[T], error) {
	if s.idName != "" {
		f, ok := s.Field(s.idName)
		if !ok {
			return Field[T]{}, fmt.Errorf("%w: designated id field %q is not declared", ErrInvalidSchema, s.idName)
		}
		if f.Kind != KindInt {
			return Field[T]{}, fmt.Errorf("%w: id field %q must be of integer kind, got %s", ErrInvalidSchema, f.Name, f.Kind)
		}
		return f, nil
	}

	candidates := []string{"id", entity + "id"}
	for _, f := range s.fields {
		if f.Kind != KindInt {
			continue
		}
		lower := strings.ToLower(f.Name)
		for _, c := range candidates {
			if lower == strings.ToLower(c) {
				return f, nil
			}
		}
	}

	first := s.fields[0]
	if first.Kind != KindInt {
		return Field[T]{}, fmt.Errorf("%w: no integer id field; first field %q is %s", ErrInvalidSchema, first.Name, first.Kind)
	}
	return first, nil
}

// RecordID extracts the identity of a record using the resolved id field.
func RecordID[T any](f Field[T], record T) (int64, error) {
	v := f.Extract(record)
	id, ok := v.AsInt64()
	if !ok {
		return 0, fmt.Errorf("id field %q produced %s, want an integer", f.Name, v.Kind)
	}
	return id, nil
}
