// Hooks letting asset types take part in their own deserialization.
//
// These interfaces are primarily designed to be implemented by asset
// types registered with the type registry.
package validation

import "fmt"

// A type that supports initialization.
//
// The deserializer runs `Initialize()` at every depth of the tree,
// **before** building the node. Fields left untouched by the input keep
// the values set here, which is the only way to provide defaults for a
// whole struct.
//
// Important: We expect `Initializer` to be implemented on **pointers**,
// rather than on structs.
//
// Otherwise, all its operations are performed on a copy of the struct and
// the result is lost immediately.
type Initializer interface {
	// Setup the contents of the struct.
	Initialize() error
}

// A type that supports validation.
//
// The deserializer runs `Validate()` at every depth of the tree,
// **after** building the node.
//
// Important: We expect `Validator` to be implemented on **pointers**,
// rather than on structs.
//
// This lets `Validate()` perform any necessary changes to the data
// structure. In particular, if necessary, it may be used to populate
// private fields from the contents of public fields.
type Validator interface {
	// Confirm that the data is valid.
	//
	// Return an error if it is invalid.
	//
	// If necessary, this method may alter the contents of the struct.
	Validate() error
}

// An error raised by a `Validator`, along with the place it was raised.
type Error struct {
	// The human-readable path of the value that failed validation.
	Path string

	// The error returned by `Validate()`.
	Wrapped error
}

// Wrap an error returned by `Validate()`.
func WrapError(path string, err error) Error {
	return Error{
		Path:    path,
		Wrapped: err,
	}
}

func (e Error) Error() string {
	return fmt.Sprintf("deserialized value %s did not pass validation\n\t * %s", e.Path, e.Wrapped.Error())
}

func (e Error) Unwrap() error {
	return e.Wrapped
}

var _ error = Error{} //nolint:exhaustruct
