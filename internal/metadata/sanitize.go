package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SourceKey is inserted when a document arrives without any usable metadata.
const SourceKey = "source"

// Flat holds only string, int64, float64 and bool values.
type Flat map[string]any

// Sanitize flattens m so that every value is a scalar. Lists and maps are
// serialized to compact JSON; if that fails the value is rendered with
// fmt.Sprint instead. An empty result carries {"source": sourceID}.
func Sanitize(m Map, sourceID string) Flat {
	out := make(Flat, len(m)+1)
	for k, v := range m {
		switch t := v.(type) {
		case String:
			out[k] = string(t)
		case Number:
			out[k] = numberValue(t)
		case Bool:
			out[k] = bool(t)
		case List, Map:
			out[k] = Serialize(t)
		}
	}
	if len(out) == 0 {
		out[SourceKey] = sourceID
	}
	return out
}

// Serialize renders a composite value as compact JSON. Map keys are emitted in
// sorted order, HTML characters and non-ASCII text are left unescaped.
func Serialize(v Value) string {
	p := plain(v)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return fmt.Sprint(p)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
