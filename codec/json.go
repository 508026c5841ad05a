package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Notes:
//   - Metadata documents and segment payloads are plain JSON objects, so both
//     built-in codecs produce interchangeable bytes.
//   - For arbitrary user records, JSON works for typical structs/maps/slices.
//     Funcs, channels and complex numbers are not supported.
//
// If you need custom encoding (e.g. msgpack), implement Codec and pass it via
// WithCodec when opening the database.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used when none is configured.
var Default Codec = GoJSON{}
