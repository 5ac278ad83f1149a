package settings

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// Composite is a named group of related settings stored under one key.
//
// Entries keep insertion order and hold serialized text only; a composite is a
// two-level flattening of the settings tree, never a recursive structure. On
// the wire it is a JSON object whose values are JSON strings, so an entry
// holding the serialized string "dark" travels as "\"dark\"".
type Composite struct {
	entries *linkedhashmap.Map
}

// NewComposite returns an empty composite.
func NewComposite() *Composite {
	return &Composite{entries: linkedhashmap.New()}
}

// Set inserts or overwrites a sub-key. Overwriting keeps the original position.
func (c *Composite) Set(key, text string) {
	c.entries.Put(key, text)
}

// Get returns the serialized text stored under key.
func (c *Composite) Get(key string) (string, bool) {
	v, ok := c.entries.Get(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Has reports whether key is present.
func (c *Composite) Has(key string) bool {
	_, ok := c.entries.Get(key)
	return ok
}

// Remove deletes a sub-key.
func (c *Composite) Remove(key string) {
	c.entries.Remove(key)
}

// Len returns the number of sub-keys.
func (c *Composite) Len() int {
	return c.entries.Size()
}

// Keys returns the sub-keys in insertion order.
func (c *Composite) Keys() []string {
	keys := make([]string, 0, c.entries.Size())
	for _, k := range c.entries.Keys() {
		keys = append(keys, k.(string))
	}
	return keys
}

// Entries returns a copy of the composite as a plain map.
func (c *Composite) Entries() map[string]string {
	out := make(map[string]string, c.entries.Size())
	it := c.entries.Iterator()
	for it.Next() {
		out[it.Key().(string)] = it.Value().(string)
	}
	return out
}

// Clone returns a deep copy.
func (c *Composite) Clone() *Composite {
	out := NewComposite()
	it := c.entries.Iterator()
	for it.Next() {
		out.entries.Put(it.Key(), it.Value())
	}
	return out
}

// MarshalJSON writes the entries as an object, in insertion order.
func (c *Composite) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	first := true
	it := c.entries.Iterator()
	for it.Next() {
		if !first {
			buf.WriteByte(',')
		}
		first = false

		k, err := json.Marshal(it.Key())
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(it.Value())
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of strings, keeping document order.
func (c *Composite) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read composite: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("composite must be a json object")
	}

	entries := linkedhashmap.New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read composite key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("composite key must be a string")
		}

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("failed to read composite entry %q: %w", key, err)
		}
		text, err := entryText(raw)
		if err != nil {
			return fmt.Errorf("composite entry %q: %w", key, err)
		}
		entries.Put(key, text)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to close composite: %w", err)
	}

	c.entries = entries
	return nil
}

// entryText turns a decoded wire entry back into serialized text. Entries
// written by this package are always strings; anything else came from a
// hand-edited document and is re-encoded as JSON.
func entryText(raw any) (string, error) {
	if s, ok := raw.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
