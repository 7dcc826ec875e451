package memutils

import cerrors "github.com/cockroachdb/errors"

// Validatable is used by the DebugValidate method to allow it to act upon
// all types with a Validate method
type Validatable interface {
	Validate() error
}

// MustValidate calls Validate on the provided object and panics with an error wrapping ErrCorruption
// if validation fails. Unlike DebugValidate, it runs regardless of build tags.
func MustValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(cerrors.Mark(err, ErrCorruption))
	}
}
