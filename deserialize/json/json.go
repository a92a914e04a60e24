// Code specific to deserializing JSON.
package json

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"

	"github.com/Leinnan/assets-reflect/deserialize/shared"
)

// The deserialization driver for JSON.
type Driver struct{}

// A JSON object, as produced by `encoding/json` when decoding into `any`.
type JSON map[string]any

// A JSON value, as produced by `encoding/json` when decoding into `any`,
// except that numbers are kept as `json.Number` literals.
type Value struct {
	wrapped any
}

func (v Value) AsDict() (shared.Dict, bool) {
	switch typed := v.wrapped.(type) {
	case map[string]any:
		return JSON(typed), true
	case JSON:
		return typed, true
	}
	return nil, false
}

func (v Value) AsSlice() ([]shared.Value, bool) {
	wrapped, ok := v.wrapped.([]any)
	if !ok {
		return nil, false
	}
	result := make([]shared.Value, len(wrapped))
	for i, value := range wrapped {
		result[i] = Value{wrapped: value}
	}
	return result, true
}

func (v Value) Interface() any {
	return v.wrapped
}

var _ shared.Value = Value{} //nolint:exhaustruct

func (dict JSON) Lookup(key string) (shared.Value, bool) {
	if val, ok := dict[key]; ok {
		return Value{wrapped: val}, true
	}
	return nil, false
}

func (dict JSON) AsValue() shared.Value {
	return Value{wrapped: dict}
}

// The keys of this object, sorted, so that error reporting is deterministic.
func (dict JSON) Keys() []string {
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ shared.Dict = make(JSON, 0)

// The interface for `json.Unmarshaler`.
var unmarshaler = reflect.TypeOf(new(json.Unmarshaler)).Elem()

// The interface for `encoding.TextUnmarshaler`.
var textUnmarshaler = reflect.TypeOf(new(encoding.TextUnmarshaler)).Elem()

// Parse a buffer as a single JSON document.
//
// Numbers are kept as `json.Number`, so that integers beyond 2^53 reach
// the deserializer with every digit.
func (u Driver) Parse(buf []byte) (shared.Value, error) {
	decoder := json.NewDecoder(bytes.NewReader(buf))
	decoder.UseNumber()
	var tree any
	if err := decoder.Decode(&tree); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("malformed json at offset %d:\n\t * %w", syntaxErr.Offset, err)
		}
		return nil, fmt.Errorf("malformed json:\n\t * %w", err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("malformed json at offset %d: unexpected data after the document", decoder.InputOffset())
	}
	return Value{wrapped: tree}, nil
}

// Plain converts the `json.Number` literals of a parsed tree into float64,
// i.e. the tree `encoding/json` produces when decoding into `any`.
//
// Literals that do not fit in a float64 are left untouched.
func Plain(tree any) any {
	switch typed := tree.(type) {
	case json.Number:
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed
	case map[string]any:
		result := make(map[string]any, len(typed))
		for k, v := range typed {
			result[k] = Plain(v)
		}
		return result
	case JSON:
		return Plain(map[string]any(typed))
	case []any:
		result := make([]any, len(typed))
		for i, v := range typed {
			result[i] = Plain(v)
		}
		return result
	}
	return tree
}

// Determine whether we should call the driver to unmarshal values
// of this type.
//
// For JSON, this is the case if `*typ` implements `json.Unmarshaler`
// or `encoding.TextUnmarshaler`.
//
// You probably won't ever need to call this method.
func (u Driver) ShouldUnmarshal(typ reflect.Type) bool {
	if typ.Kind() == reflect.Interface {
		return false
	}
	ptr := reflect.PointerTo(typ)
	return ptr.Implements(unmarshaler) || ptr.Implements(textUnmarshaler)
}

// Perform unmarshaling.
//
// You probably won't ever need to call this method.
func (u Driver) Unmarshal(in any, out *any) (err error) {
	defer func() {
		// Attempt to intercept errors that leak implementation details.
		var typeErr *json.UnmarshalTypeError
		if err != nil && errors.As(err, &typeErr) {
			// Go error will mention `map[string] interface{}`, which is an implementation detail.
			err = fmt.Errorf("at %s, invalid json value", typeErr.Field)
		}
	}()

	var buf []byte
	switch typed := in.(type) {
	case []byte:
		buf = typed
	case Value:
		return u.Unmarshal(typed.wrapped, out)
	default:
		buf, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("cannot re-encode value:\n\t * %w", err)
		}
	}

	if unmarshal, ok := (*out).(json.Unmarshaler); ok {
		return unmarshal.UnmarshalJSON(buf) //nolint:wrapcheck
	}
	if unmarshal, ok := (*out).(encoding.TextUnmarshaler); ok {
		var text string
		if err := json.Unmarshal(buf, &text); err != nil {
			return fmt.Errorf("expected a string, got %s", buf)
		}
		return unmarshal.UnmarshalText([]byte(text)) //nolint:wrapcheck
	}
	return errors.New("this type cannot be deserialized")
}

func (u Driver) WrapValue(wrapped any) shared.Value {
	return Value{
		wrapped: wrapped,
	}
}

var _ shared.Driver = Driver{} // Type assertion.
