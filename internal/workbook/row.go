package workbook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Row is one spreadsheet record: an ordered set of header -> cell pairs.
//
// Values are untyped because they come straight from cells (strings from
// xlsx/csv, numbers and booleans from JSON). A key that is not present is a
// missing cell; a present key holding nil is an explicitly empty cell.
type Row struct {
	// Line is the 1-based spreadsheet row number, or 0 when unknown.
	Line int

	keys   []string
	values map[string]any
}

// NewRow builds a row from alternating key/value pairs.
// Non-string keys and a trailing key without a value are ignored.
func NewRow(pairs ...any) Row {
	var r Row
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		r.Set(key, pairs[i+1])
	}
	return r
}

// Set stores value under key, keeping the key's original position if it
// already exists.
func (r *Row) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, exists := r.values[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under exactly key.
func (r Row) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Lookup returns the value for key, falling back to a case-insensitive
// match on the header when there is no exact one.
func (r Row) Lookup(key string) (any, bool) {
	if v, ok := r.values[key]; ok {
		return v, true
	}
	for _, k := range r.keys {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return r.values[k], true
		}
	}
	return nil, false
}

// Keys returns the row's headers in insertion order.
func (r Row) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of cells in the row.
func (r Row) Len() int {
	return len(r.keys)
}

// MarshalJSON encodes the row as a JSON object preserving key order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the row, preserving key order.
// Numbers are kept as json.Number so no precision is lost before the
// field transformers see them.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("row must be a JSON object")
	}

	*r = Row{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in row", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode %q: %w", key, err)
		}
		r.Set(key, value)
	}

	_, err = dec.Token()
	return err
}
