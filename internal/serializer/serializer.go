// Package serializer converts setting values to and from their stored text form.
//
// A Serializer is a stateless capability shared by every store that uses it.
// The default is JSON; YAML is available for stores whose remote documents are
// edited by hand.
//
// Values whose type is primitive (booleans, integers, floats, strings and named
// types built on them) bypass serialization entirely when they are saved. Reads
// therefore have to cope with a mix of serializer-encoded text and raw
// primitives, which is what Coerce is for.
package serializer

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Serializer converts values to and from a transportable string.
type Serializer interface {
	// Serialize encodes v as text.
	Serialize(v any) (string, error)

	// Deserialize decodes text into out, which must be a non-nil pointer.
	Deserialize(text string, out any) error
}

// JSON is the default Serializer. The zero value is ready to use.
type JSON struct{}

// Serialize implements Serializer.
func (JSON) Serialize(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize %T as json: %w", v, err)
	}
	return string(data), nil
}

// Deserialize implements Serializer.
func (JSON) Deserialize(text string, out any) error {
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to deserialize json into %T: %w", out, err)
	}
	return nil
}

// YAML serializes values as YAML documents.
type YAML struct{}

// Serialize implements Serializer.
func (YAML) Serialize(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize %T as yaml: %w", v, err)
	}
	// yaml.v3 always terminates documents with a newline
	return strings.TrimSuffix(string(data), "\n"), nil
}

// Deserialize implements Serializer.
func (YAML) Deserialize(text string, out any) error {
	if err := yaml.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to deserialize yaml into %T: %w", out, err)
	}
	return nil
}

// Default returns the serializer used when a store is not given one.
func Default() Serializer {
	return JSON{}
}

// ByName resolves a serializer from its configuration name.
// An empty name selects the default.
func ByName(name string) (Serializer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON{}, nil
	case "yaml", "yml":
		return YAML{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}

// Encode serializes v with s.
func Encode[T any](s Serializer, v T) (string, error) {
	return s.Serialize(v)
}

// Decode deserializes text into a new T with s.
func Decode[T any](s Serializer, text string) (T, error) {
	var out T
	if err := s.Deserialize(text, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
