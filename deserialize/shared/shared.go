package shared

import (
	"reflect"
	"strconv"
)

// A value in an untyped tree.
//
// We use this type instead of raw type conversions to decrease the risk
// of confusion whenever manipulating `any` and to allow drivers to
// represent their trees as they wish.
type Value interface {
	AsDict() (Dict, bool)
	AsSlice() ([]Value, bool)

	// The raw scalar (or raw container) held by this value.
	//
	// `nil` stands for an explicit null, e.g. JSON `null`.
	Interface() any
}

// A dictionary.
//
// We use this type instead of raw type conversions to decrease the risk
// of confusion whenever manipulating `any` and to allow us to work with
// cases in which we do not have direct access to a dictionary.
type Dict interface {
	Lookup(key string) (Value, bool)
	AsValue() Value
	Keys() []string
}

// A driver for a specific textual format.
type Driver interface {
	// Parse a buffer into an untyped tree.
	Parse([]byte) (Value, error)

	// Return true if we have a specific implementation of deserialization
	// for a given type, for instance, if that type implements a specific
	// deserialization interface.
	ShouldUnmarshal(reflect.Type) bool

	// Perform unmarshaling for a value, using the type's own
	// deserialization interface.
	//
	// `in` is either a raw buffer or a raw value extracted from a tree.
	Unmarshal(in any, out *any) error

	// Wrap a raw value as a `Value`.
	WrapValue(any) Value
}

// A parser for strings into primitive values.
type Parser func(source string) (any, error)

func LookupParser(fieldType reflect.Type) *Parser {
	var p Parser
	switch fieldType.Kind() {
	case reflect.Bool:
		p = func(source string) (any, error) {
			return strconv.ParseBool(source) //nolint:wrapcheck
		}
	case reflect.Float32:
		p = func(source string) (any, error) {
			return strconv.ParseFloat(source, 32) //nolint:wrapcheck
		}
	case reflect.Float64:
		p = func(source string) (any, error) {
			return strconv.ParseFloat(source, 64) //nolint:wrapcheck
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		bits := fieldType.Bits()
		p = func(source string) (any, error) {
			return strconv.ParseInt(source, 10, bits) //nolint:wrapcheck
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		bits := fieldType.Bits()
		p = func(source string) (any, error) {
			return strconv.ParseUint(source, 10, bits) //nolint:wrapcheck
		}
	case reflect.String:
		p = func(source string) (any, error) {
			return source, nil
		}
	default:
		return nil
	}
	return &p
}

// A type that can be deserialized from a shared.Dict.
//
// With the JSON and YAML drivers, numbers in the dict are `json.Number`.
type UnmarshalDict interface {
	UnmarshalDict(Dict) error
}
