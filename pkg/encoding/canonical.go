// Package encoding implements the canonical byte representation used
// everywhere a hash or a signature needs to commit to a Go value:
// headers, transactions, votes, and state commitments.
package encoding

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalBytes renders v as deterministic, sorted-key JSON with no
// insignificant whitespace. encoding/json already sorts map[string]any
// keys when marshaling, and struct fields marshal in declaration order,
// so a plain Marshal is canonical as long as every value on the path is
// either a map[string]interface{}, a slice, or a Go primitive/struct with
// stable field order -- never a map with non-string keys.
func CanonicalBytes(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	// Marshal never emits insignificant whitespace on its own, but
	// Compact guards against that changing under us.
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("canonical compact: %w", err)
	}
	return buf.Bytes(), nil
}

// ToMap round-trips v through JSON to obtain a map[string]interface{}
// with canonical key ordering, used when a caller needs to embed a
// struct's fields inside a larger envelope map before re-encoding.
func ToMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("to map encode: %w", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("to map decode: %w", err)
	}
	return out, nil
}
