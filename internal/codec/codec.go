package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/leengari/burpdb/internal/domain/record"
)

// Codec serializes a table's record mapping to snapshot bytes and back.
// On disk keys are decimal strings; in memory they are record.IDs.
type Codec struct {
	encoding string
	charset  charset
	indent   int
}

// New creates a codec for the given text encoding ("" means utf-8).
// indent > 0 pretty-prints with that many spaces per level.
func New(encoding string, indent int) (*Codec, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if !ValidEncoding(encoding) {
		return nil, fmt.Errorf("unsupported encoding %q (supported: %s)",
			encoding, strings.Join(supportedEncodings, ", "))
	}
	cs, err := lookupCharset(encoding)
	if err != nil {
		return nil, err
	}
	if indent < 0 {
		indent = 0
	}
	return &Codec{encoding: encoding, charset: cs, indent: indent}, nil
}

// Encoding returns the text encoding this codec writes
func (c *Codec) Encoding() string {
	return c.encoding
}

// Encode renders the mapping as a JSON object with keys in ascending numeric order,
// then transcodes it into the codec's text encoding.
func (c *Codec) Encode(records map[record.ID]record.Record) ([]byte, error) {
	text, err := MarshalRecords(records)
	if err != nil {
		return nil, err
	}

	if c.indent > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, text, "", strings.Repeat(" ", c.indent)); err != nil {
			return nil, fmt.Errorf("failed to indent snapshot: %w", err)
		}
		text = pretty.Bytes()
	}

	out, err := c.charset.encode(text)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot as %s: %w", c.encoding, err)
	}
	return out, nil
}

// Decode parses snapshot bytes back into a mapping.
// Empty, truncated or non-JSON input is an error, never an empty table.
func (c *Codec) Decode(data []byte) (map[record.ID]record.Record, error) {
	text, err := c.charset.decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot as %s: %w", c.encoding, err)
	}
	return UnmarshalRecords(text)
}

// MarshalRecords renders a mapping as compact UTF-8 JSON with keys in ascending numeric order.
// encoding/json would sort the keys as strings ("10" before "2").
func MarshalRecords(records map[record.ID]record.Record) ([]byte, error) {
	ids := make([]record.ID, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteByte('{')
	for i, id := range ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(id.String())
		buf.WriteString(`":`)

		rec := records[id]
		if rec == nil {
			rec = record.Record{}
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("failed to marshal record %s: %w", id, err)
		}
		// Encode terminates every value with a newline
		buf.Truncate(buf.Len() - 1)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalRecords parses UTF-8 JSON into a mapping, normalizing string keys to record.IDs
func UnmarshalRecords(text []byte) (map[record.ID]record.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()

	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("snapshot is empty")
		}
		return nil, fmt.Errorf("snapshot is not valid JSON: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("snapshot must be a JSON object, got null")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after snapshot object")
	}

	records := make(map[record.ID]record.Record, len(raw))
	for key, value := range raw {
		id, err := record.ParseID(key)
		if err != nil {
			return nil, err
		}
		rec, err := record.Parse(value)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", key, err)
		}
		records[id] = rec
	}
	return records, nil
}

// MaxID returns the largest id in the mapping and false when it is empty
func MaxID(records map[record.ID]record.Record) (record.ID, bool) {
	var (
		highest record.ID
		found   bool
	)
	for id := range records {
		if !found || id > highest {
			highest = id
			found = true
		}
	}
	return highest, found
}
