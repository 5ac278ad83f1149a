package settings

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/steveyegge/roam/internal/serializer"
)

// Read returns the value at key as T, or def when the key (or the whole cache)
// is missing or the stored value cannot be turned into a T.
//
// Serialized text is deserialized first and coerced if that fails, because the
// same key may hold serializer output or a raw primitive depending on how it
// was written. The mismatch is never reported.
//
// Example:
//
//	width := settings.Read(cache, "width", 800)
//	layout := settings.Read(cache, "layout", Layout{})
func Read[T any](r Reader, key string, def T) T {
	v, ok := r.Lookup(key)
	if !ok {
		return def
	}
	return Decode(r.Serializer(), v, def)
}

// ReadSub returns a composite entry as T. Any missing link yields def.
func ReadSub[T any](r Reader, compositeKey, key string, def T) T {
	text, ok := r.LookupSub(compositeKey, key)
	if !ok {
		return def
	}
	return decodeText(r.Serializer(), text, def)
}

// Save stores value at key: raw if T is primitive, serialized otherwise.
// It only fails if serialization fails.
func Save[T any](w Writer, key string, value T) error {
	v, err := NewValue(w.Serializer(), value)
	if err != nil {
		return fmt.Errorf("failed to save %q: %w", key, err)
	}
	w.Put(key, v)
	return nil
}

// SaveComposite serializes each value and upserts it into the composite at
// compositeKey. Sub-keys not named in values are left untouched.
func SaveComposite[T any](w Writer, compositeKey string, values map[string]T) error {
	s := w.Serializer()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make(map[string]string, len(values))
	for _, k := range keys {
		text, err := serializer.Encode(s, values[k])
		if err != nil {
			return fmt.Errorf("failed to save %q/%q: %w", compositeKey, k, err)
		}
		entries[k] = text
	}

	w.PutComposite(compositeKey, entries)
	return nil
}

// Decode turns a stored value into T, falling back to def.
//
// Composites can be read whole as *Composite or map[string]string.
func Decode[T any](s serializer.Serializer, v Value, def T) T {
	switch v.Kind() {
	case KindPrimitive:
		out, err := serializer.Coerce[T](v.Raw())
		if err != nil {
			return def
		}
		return out
	case KindSerialized:
		return decodeText(s, v.Text(), def)
	case KindComposite:
		if v.Composite() == nil {
			return def
		}
		if out, ok := any(v.Composite().Clone()).(T); ok {
			return out
		}
		if out, ok := any(v.Composite().Entries()).(T); ok {
			return out
		}
		return def
	default:
		return def
	}
}

func decodeText[T any](s serializer.Serializer, text string, def T) T {
	// A literal null decodes into the zero value of a non-nillable T, which
	// would hide the raw text "null" from the coercion below.
	if strings.TrimSpace(text) != "null" || nillable[T]() {
		if out, err := serializer.Decode[T](s, text); err == nil {
			return out
		}
	}
	// Raw primitive stored where serialized text was expected
	if out, err := serializer.Coerce[T](text); err == nil {
		return out
	}
	return def
}

// nillable reports whether T can hold nil.
func nillable[T any]() bool {
	switch reflect.TypeOf((*T)(nil)).Elem().Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return true
	default:
		return false
	}
}
