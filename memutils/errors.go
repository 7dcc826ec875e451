package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrInvalidSize is returned by constructors when a size class, arena size, or capacity hint cannot be
// used to build an allocator
var ErrInvalidSize error = errors.New("invalid allocator size")

// ErrOutOfMemory is used when an allocation could not be satisfied and the caller asked for failures
// to be signaled rather than communicated via a nil pointer
var ErrOutOfMemory error = errors.New("allocator out of memory")

// ErrCorruption is the root of every error produced by structural validation. CheckCorruption
// methods panic with an error wrapping this value.
var ErrCorruption error = errors.New("allocator corruption detected")
