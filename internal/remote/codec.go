package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/steveyegge/roam/internal/serializer"
)

// Retrieve fetches a file and decodes it into T.
//
// Primitive targets skip decoding: the raw text is read and coerced, so a file
// holding `hello` can be read as a string and one holding `42` as an int.
//
// Example:
//
//	doc, err := remote.Retrieve[map[string]any](ctx, drive, remote.NewRef(user, "roamingSettings.json"))
func Retrieve[T any](ctx context.Context, t Transport, ref Ref) (T, error) {
	var zero T

	content, err := t.Retrieve(ctx, ref)
	if err != nil {
		return zero, err
	}

	out, err := DecodeContent[T](content)
	if err != nil {
		return zero, fmt.Errorf("failed to read %s: %w", ref, err)
	}
	return out, nil
}

// RetrieveText fetches a file as text without decoding.
func RetrieveText(ctx context.Context, t Transport, ref Ref) (string, error) {
	content, err := t.Retrieve(ctx, ref)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// Update writes value to the file. Strings and byte slices are written as-is;
// everything else is JSON encoded.
func Update[T any](ctx context.Context, t Transport, ref Ref, value T) (*Item, error) {
	content, err := EncodeContent(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content for %s: %w", ref, err)
	}
	return t.Update(ctx, ref, content)
}

// DecodeContent turns file content into T, bypassing JSON for primitive
// and untyped targets.
func DecodeContent[T any](content []byte) (T, error) {
	if isRawTarget[T]() {
		return serializer.Coerce[T](string(content))
	}

	var out T
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to decode content: %w", err)
	}
	return out, nil
}

// EncodeContent turns value into file content.
func EncodeContent[T any](value T) ([]byte, error) {
	switch v := any(value).(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		// Named primitives are written as plain text so DecodeContent reads them back
		if serializer.IsPrimitive(v) {
			text, err := serializer.Coerce[string](v)
			if err != nil {
				return nil, err
			}
			return []byte(text), nil
		}
		return json.Marshal(value)
	}
}

// isRawTarget reports whether T is read as plain text rather than decoded.
// `any` is included so untyped reads return the file text unchanged.
func isRawTarget[T any]() bool {
	target := reflect.TypeOf((*T)(nil)).Elem()
	if target.Kind() == reflect.Interface && target.NumMethod() == 0 {
		return true
	}
	return serializer.IsPrimitiveType(target)
}
