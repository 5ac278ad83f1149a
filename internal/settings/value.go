package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/steveyegge/roam/internal/serializer"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	// KindPrimitive is a raw bool, number or string that bypassed serialization.
	KindPrimitive Kind = iota
	// KindSerialized is serializer-encoded text.
	KindSerialized
	// KindComposite is a group of serialized sub-settings.
	KindComposite
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindSerialized:
		return "serialized"
	case KindComposite:
		return "composite"
	default:
		return "unknown"
	}
}

// Value is one top-level setting: a primitive, serialized text, or a composite.
type Value struct {
	kind      Kind
	raw       any
	text      string
	composite *Composite
}

// Primitive wraps a raw primitive. Non-primitive input is a programming error
// and panics; use NewValue when the type is not known statically.
func Primitive(v any) Value {
	if !serializer.IsPrimitive(v) {
		panic(fmt.Sprintf("settings: %T is not a primitive", v))
	}
	return Value{kind: KindPrimitive, raw: v}
}

// Serialized wraps serializer-encoded text.
func Serialized(text string) Value {
	return Value{kind: KindSerialized, text: text}
}

// CompositeValue wraps a composite.
func CompositeValue(c *Composite) Value {
	if c == nil {
		c = NewComposite()
	}
	return Value{kind: KindComposite, composite: c}
}

// NewValue stores v raw when it is primitive and serializes it otherwise.
func NewValue(s serializer.Serializer, v any) (Value, error) {
	if serializer.IsPrimitive(v) {
		return Primitive(v), nil
	}
	text, err := serializer.Encode(s, v)
	if err != nil {
		return Value{}, err
	}
	return Serialized(text), nil
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Raw returns the primitive payload (nil for other kinds).
func (v Value) Raw() any { return v.raw }

// Text returns the serialized payload ("" for other kinds).
func (v Value) Text() string { return v.text }

// Composite returns the composite payload (nil for other kinds).
func (v Value) Composite() *Composite { return v.composite }

// Wire returns the value as it appears in the remote document.
func (v Value) Wire() any {
	switch v.kind {
	case KindPrimitive:
		return v.raw
	case KindSerialized:
		return v.text
	case KindComposite:
		return v.composite
	default:
		return nil
	}
}

// MarshalJSON encodes the wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Wire())
}

// clone copies composite payloads so snapshots do not alias the cache.
func (v Value) clone() Value {
	if v.kind == KindComposite && v.composite != nil {
		return CompositeValue(v.composite.Clone())
	}
	return v
}

// FromWire converts a value decoded from the remote document.
//
// Strings become Serialized: they may be serializer output or raw strings, and
// reads sort that out with the coercion fallback. Objects become composites.
// Numbers, booleans and anything else are kept as primitives.
func FromWire(raw any) (Value, error) {
	switch w := raw.(type) {
	case nil:
		return Value{}, fmt.Errorf("null is not a setting value")
	case string:
		return Serialized(w), nil
	case json.Number:
		if i, err := w.Int64(); err == nil {
			return Primitive(i), nil
		}
		// Above MaxInt64 but still exact as an unsigned integer
		if u, err := strconv.ParseUint(w.String(), 10, 64); err == nil {
			return Primitive(u), nil
		}
		f, err := w.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", w, err)
		}
		return Primitive(f), nil
	case map[string]any:
		// Go maps are unordered, so entries come out sorted by key.
		// DecodeDocument keeps document order by not going through a map.
		data, err := json.Marshal(w)
		if err != nil {
			return Value{}, err
		}
		c := NewComposite()
		if err := c.UnmarshalJSON(data); err != nil {
			return Value{}, err
		}
		return CompositeValue(c), nil
	case *Composite:
		return CompositeValue(w.Clone()), nil
	default:
		if serializer.IsPrimitive(w) {
			return Primitive(w), nil
		}
		// Arrays and other shapes are kept as their JSON text
		data, err := json.Marshal(w)
		if err != nil {
			return Value{}, fmt.Errorf("unsupported wire value %T: %w", w, err)
		}
		return Serialized(string(data)), nil
	}
}

// ParseJSON converts one JSON value into a setting value, as typed by a
// user. Strings and other scalars become primitives; objects and arrays are
// kept as compact serialized text.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("invalid JSON: unexpected data after value")
	}

	switch v := raw.(type) {
	case nil:
		return Value{}, fmt.Errorf("null is not a setting value")
	case string:
		return Primitive(v), nil
	case map[string]any, []any:
		var compact bytes.Buffer
		if err := json.Compact(&compact, data); err != nil {
			return Value{}, err
		}
		return Serialized(compact.String()), nil
	default:
		return FromWire(v)
	}
}

// DecodeDocument parses a whole remote document into values.
// Composite entry order follows the document.
func DecodeDocument(data []byte) (map[string]Value, error) {
	return decodeDocument(data, decodeWire)
}

// ParseDocument parses a document written by hand, such as an import file.
// Objects become composites; every other member is read like ParseJSON, so
// strings are stored as primitives the same way a single typed value is.
func ParseDocument(data []byte) (map[string]Value, error) {
	return decodeDocument(data, ParseJSON)
}

func decodeDocument(data []byte, decode func([]byte) (Value, error)) (map[string]Value, error) {
	out := make(map[string]Value)
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode settings document: %w", err)
	}

	for key, msg := range raw {
		trimmed := bytes.TrimSpace(msg)
		if bytes.Equal(trimmed, []byte("null")) {
			continue
		}

		if len(trimmed) > 0 && trimmed[0] == '{' {
			c := NewComposite()
			if err := c.UnmarshalJSON(trimmed); err != nil {
				return nil, fmt.Errorf("failed to decode composite %q: %w", key, err)
			}
			out[key] = CompositeValue(c)
			continue
		}

		val, err := decode(trimmed)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %q: %w", key, err)
		}
		out[key] = val
	}

	return out, nil
}

func decodeWire(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Value{}, err
	}
	return FromWire(v)
}

// EncodeDocument renders values as the remote document. Keys are sorted.
func EncodeDocument(values map[string]Value) ([]byte, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings document: %w", err)
	}
	return data, nil
}

// Equal compares two values by their canonical wire form, so an int saved
// locally equals the same number read back from the remote as json.Number,
// and composites compare by content.
func Equal(a, b Value) bool {
	ca, err := canonical(a)
	if err != nil {
		return false
	}
	cb, err := canonical(b)
	if err != nil {
		return false
	}
	return ca == cb
}

func canonical(v Value) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", err
	}

	// encoding/json sorts map keys, which makes composites order-insensitive
	out, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
