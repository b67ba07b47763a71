package fingerprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize renders v as canonical JSON: object keys sorted
// lexicographically at every depth, no insignificant whitespace, and
// numbers in the shortest round-trip form. It does not rely on
// encoding/json's own (already key-sorted, for maps) output being
// declared stable across versions; it re-serializes explicitly so the
// fingerprint preimage is pinned to a format this package owns.
func Canonicalize(v interface{}) ([]byte, error) {
	// Round-trip through json.Marshal/Unmarshal first so that Go structs,
	// typed values, and nested interface{} trees are all reduced to the
	// same plain-value vocabulary (map[string]interface{}, []interface{},
	// string, float64/json.Number, bool, nil) before canonical encoding.
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshaling input: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: decoding intermediate form: %w", err)
	}

	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		return encodeString(buf, t)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unsupported value type %T", v)
	}
	return nil
}

// encodeString writes a JSON-quoted string using encoding/json's own
// escaping rules (UTF-8 safe, no HTML escaping needed since this output
// is never embedded in a <script> tag) so the fingerprint preimage does
// not depend on a hand-rolled escaper.
func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// json.Encoder.Encode appends a trailing newline; buf is shared with
	// the rest of the canonical output so trim it back off.
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("canonicalize: encoding string: %w", err)
	}
	buf.Truncate(buf.Len() - 1)
	return nil
}
