package serializer

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/spf13/cast"
)

// ErrMismatch reports that a stored value could not be turned into the
// requested type, neither by deserialization nor by direct coercion.
// Store reads recover from it by returning the caller's default.
var ErrMismatch = errors.New("deserialization mismatch")

// IsPrimitive reports whether v is stored raw rather than serialized.
func IsPrimitive(v any) bool {
	if v == nil {
		return false
	}
	return IsPrimitiveType(reflect.TypeOf(v))
}

// IsPrimitiveType reports whether values of t are stored raw.
// Named types count when their underlying kind is primitive, so enum-like
// scalars such as `type Theme string` bypass serialization too.
func IsPrimitiveType(t reflect.Type) bool {
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

// Coerce converts v directly into T without going through a serializer.
//
// It is the fallback for reads of values that were stored as raw primitives
// (or arrived from the remote as plain JSON scalars). Only primitive targets
// can be coerced; anything else returns ErrMismatch.
//
// Example:
//
//	n, err := serializer.Coerce[int](float64(42)) // 42
//	s, err := serializer.Coerce[string](true)     // "true"
func Coerce[T any](v any) (T, error) {
	var zero T

	if direct, ok := v.(T); ok {
		return direct, nil
	}

	target := reflect.TypeOf((*T)(nil)).Elem()
	if !IsPrimitiveType(target) {
		return zero, fmt.Errorf("%w: cannot coerce %T to %s", ErrMismatch, v, target)
	}

	converted, err := coerceKind(underlying(v), target.Kind())
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrMismatch, err)
	}

	rv := reflect.ValueOf(converted)
	if overflows(rv, target) {
		return zero, fmt.Errorf("%w: %v overflows %s", ErrMismatch, converted, target)
	}

	out, ok := rv.Convert(target).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("%w: cannot coerce %T to %s", ErrMismatch, v, target)
	}
	return out, nil
}

func coerceKind(v any, kind reflect.Kind) (any, error) {
	switch kind {
	case reflect.Bool:
		return cast.ToBoolE(v)
	case reflect.String:
		return cast.ToStringE(v)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if u, ok := v.(uint64); ok && u > math.MaxInt64 {
			return nil, fmt.Errorf("%d overflows int64", u)
		}
		return cast.ToInt64E(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return cast.ToUint64E(v)
	case reflect.Float32, reflect.Float64:
		return cast.ToFloat64E(v)
	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}
}

// overflows reports whether v, as produced by coerceKind, does not fit in target.
func overflows(v reflect.Value, target reflect.Type) bool {
	zero := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return zero.OverflowInt(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return zero.OverflowUint(v.Uint())
	case reflect.Float32, reflect.Float64:
		return zero.OverflowFloat(v.Float())
	default:
		return false
	}
}

// underlying strips named primitive types down to their builtin form so cast
// recognises them.
func underlying(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	default:
		return v
	}
}
