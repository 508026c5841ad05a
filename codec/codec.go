// Package codec centralizes how records and metadata are encoded on disk.
//
// Codec selection is a compatibility boundary: segment and metadata files do
// not embed the codec name, so a database directory must be opened with the
// same codec family it was written with.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// MarshalIndent encodes v with the given codec and re-indents the output so
// plain-mode metadata files stay human readable. Output from codecs that do
// not produce JSON is returned unchanged.
func MarshalIndent(c Codec, v any) ([]byte, error) {
	b, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return b, nil
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// MustMarshal is a helper for internal tests/benchmarks.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
