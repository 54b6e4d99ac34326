package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// ID is the primary identity of a record within a table
type ID uint64

// String renders the id the way it appears as a snapshot key
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID converts a snapshot key back into an ID.
// Only the canonical decimal form is accepted ("7", not "07" or "+7"),
// so two distinct keys can never collapse onto the same id.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("record id %q is not a non-negative integer", s)
	}
	if strconv.FormatUint(n, 10) != s {
		return 0, fmt.Errorf("record id %q is not in canonical form", s)
	}
	return ID(n), nil
}

// Record is an opaque JSON object stored under an ID
// Key = field name, Value = any JSON-compatible value
type Record map[string]any

// Clone returns a deep copy so callers never share nested maps or slices with the table
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return map[string]any(Record(val).Clone())
	case Record:
		return val.Clone()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// Merge overwrites existing fields and adds new ones from partial.
// Fields not mentioned in partial are left untouched.
func (r Record) Merge(partial Record) {
	for k, v := range partial {
		r[k] = cloneValue(v)
	}
}

// Parse decodes a JSON object into a Record, keeping numbers as json.Number
func Parse(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("record must be a JSON object: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("record must be a JSON object, got null")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after record")
	}
	return rec, nil
}

// MustParse is Parse for literals in tests and examples
func MustParse(s string) Record {
	rec, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return rec
}
