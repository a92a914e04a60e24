package reflectasset

import (
	"errors"
	"fmt"
	"reflect"
)

// Kinds of decode failures. Match them with `errors.Is`.
var (
	// The stream could not be fully read.
	ErrIO = errors.New("io error")

	// The bytes are not well-formed.
	ErrParse = errors.New("parse error")

	// The target type has no entry in the registry.
	ErrTypeNotRegistered = errors.New("type not registered")

	// The document does not match the schema of the target type.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// The registered descriptor produced a value of another type.
	ErrDowncastFailed = errors.New("downcast failed")

	// Installing the plugin requires a `*registry.Registry` resource.
	ErrRegistryMissing = errors.New("type registry missing from the application")
)

// DecodeError is the single terminal failure of a decode.
type DecodeError struct {
	// One of the sentinel errors above.
	Kind error

	// The asset type being decoded.
	Type reflect.Type

	Wrapped error
}

func (e *DecodeError) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("cannot decode %s: %s", e.Type, e.Kind)
	}
	return fmt.Sprintf("cannot decode %s: %s:\n\t * %s", e.Type, e.Kind, e.Wrapped)
}

func (e *DecodeError) Unwrap() []error {
	if e.Wrapped == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Wrapped}
}

func newDecodeError(kind error, typ reflect.Type, wrapped error) *DecodeError {
	return &DecodeError{
		Kind:    kind,
		Type:    typ,
		Wrapped: wrapped,
	}
}
