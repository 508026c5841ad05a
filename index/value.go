// Package index maintains the secondary property indexes of an entity:
// typed scalar values extracted from records, mapped back to the segment
// positions the records live at.
package index

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unique"

	"github.com/google/uuid"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindNull represents a null value.
	KindNull
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a float value.
	KindFloat
	// KindString represents a string value.
	KindString
	// KindBool represents a boolean value.
	KindBool
	// KindTime represents a timestamp value.
	KindTime
	// KindUUID represents a UUID value.
	KindUUID
)

// String returns the stable name of the kind, as stored in schema snapshots.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindUUID:
		return "uuid"
	default:
		return "invalid"
	}
}

// ParseKind maps a stable kind name back to its Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "null":
		return KindNull, nil
	case "int":
		return KindInt, nil
	case "float":
		return KindFloat, nil
	case "string":
		return KindString, nil
	case "bool":
		return KindBool, nil
	case "time":
		return KindTime, nil
	case "uuid":
		return KindUUID, nil
	default:
		return KindInvalid, fmt.Errorf("unknown kind %q", s)
	}
}

// Value is a small typed scalar extracted from a record property.
//
// The representation avoids reflection and fmt-based stringification so that
// lookups stay cheap. Timestamps are held as UTC nanoseconds, UUIDs as their
// interned canonical form.
//
// NOTE: This is also used for persistence; keep it stable.
type Value struct {
	Kind Kind                  `json:"k"`
	I64  int64                 `json:"i,omitempty"`
	F64  float64               `json:"f,omitempty"`
	s    unique.Handle[string] `json:"-"` // Private interned string
	B    bool                  `json:"b,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	type Alias Value
	aux := &struct {
		S string `json:"s,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(&v),
	}
	if v.Kind == KindString || v.Kind == KindUUID {
		aux.S = v.s.Value()
	}
	return json.Marshal(aux)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	type Alias Value
	aux := &struct {
		S string `json:"s,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(v),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if v.Kind == KindString || v.Kind == KindUUID {
		v.s = unique.Make(aux.S)
	}
	return nil
}

// Key returns a stable string representation for use in maps.
//
// It must remain stable across versions: persisted index documents and
// count/distinct results are keyed by it.
func (v Value) Key() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return "i:" + strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return "f:" + strconv.FormatUint(math.Float64bits(v.F64), 16)
	case KindString:
		return "s:" + v.s.Value()
	case KindBool:
		if v.B {
			return "b:1"
		}
		return "b:0"
	case KindTime:
		return "t:" + strconv.FormatInt(v.I64, 10)
	case KindUUID:
		return "u:" + v.s.Value()
	default:
		return "invalid"
	}
}

// String renders the value for logs and error messages.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case KindString:
		return v.s.Value()
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindTime:
		return time.Unix(0, v.I64).UTC().Format(time.RFC3339Nano)
	case KindUUID:
		return v.s.Value()
	default:
		return "invalid"
	}
}

// Compare orders v against other. It reports 0 when equal, a negative number
// when v sorts first, and ok=false when the kinds are not comparable.
// Int and Float compare against each other numerically.
func (v Value) Compare(other Value) (int, bool) {
	if (v.Kind == KindInt || v.Kind == KindFloat) && (other.Kind == KindInt || other.Kind == KindFloat) {
		if v.Kind == KindInt && other.Kind == KindInt {
			return cmpOrdered(v.I64, other.I64), true
		}
		return cmpOrdered(v.asFloat(), other.asFloat()), true
	}
	if v.Kind != other.Kind {
		return 0, false
	}
	switch v.Kind {
	case KindNull:
		return 0, true
	case KindString, KindUUID:
		return strings.Compare(v.s.Value(), other.s.Value()), true
	case KindBool:
		switch {
		case v.B == other.B:
			return 0, true
		case !v.B:
			return -1, true
		default:
			return 1, true
		}
	case KindTime:
		return cmpOrdered(v.I64, other.I64), true
	default:
		return 0, false
	}
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (v Value) asFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.I64)
	}
	return v.F64
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(other Value) bool {
	return v.Kind == other.Kind && v.Key() == other.Key()
}

// AsInt64 returns the int64 value if Kind is KindInt.
func (v Value) AsInt64() (int64, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.I64, true
}

// AsFloat64 returns the float64 value if Kind is KindFloat.
func (v Value) AsFloat64() (float64, bool) {
	if v.Kind != KindFloat {
		return 0, false
	}
	return v.F64, true
}

// AsString returns the string value if Kind is KindString.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.s.Value(), true
}

// AsBool returns the boolean value if Kind is KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.B, true
}

// AsTime returns the timestamp value if Kind is KindTime.
func (v Value) AsTime() (time.Time, bool) {
	if v.Kind != KindTime {
		return time.Time{}, false
	}
	return time.Unix(0, v.I64).UTC(), true
}

// AsUUID returns the UUID value if Kind is KindUUID.
func (v Value) AsUUID() (uuid.UUID, bool) {
	if v.Kind != KindUUID {
		return uuid.UUID{}, false
	}
	u, err := uuid.Parse(v.s.Value())
	if err != nil {
		return uuid.UUID{}, false
	}
	return u, true
}

// Null returns a null Value.
func Null() Value { return Value{Kind: KindNull} }

// Int returns an int64 Value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a float64 Value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, s: unique.Make(v)} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// Time returns a timestamp Value, normalized to UTC nanoseconds.
func Time(t time.Time) Value { return Value{Kind: KindTime, I64: t.UTC().UnixNano()} }

// UUID returns a UUID Value holding the canonical string form.
func UUID(u uuid.UUID) Value { return Value{Kind: KindUUID, s: unique.Make(u.String())} }
