// Package sealerr defines the POSIX-shaped error taxonomy the engine
// surfaces to its callers (spec §7). fsengine is the sole translator
// from lower-level errors (aead.ErrAuthFailed, os.ErrNotExist, and
// friends) into these kinds; the FUSE bridge maps a Kind to an errno.
package sealerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for bridge-layer translation.
type Kind uint8

const (
	Other Kind = iota
	InvalidPassword
	InvalidDataDirStructure
	Corrupted
	NotFound
	AlreadyExists
	NotEmpty
	NotADirectory
	IsADirectory
	PermissionDenied
	InvalidInput
	Io
	TooManyOpenFiles
)

func (k Kind) String() string {
	switch k {
	case InvalidPassword:
		return "invalid password"
	case InvalidDataDirStructure:
		return "invalid data directory structure"
	case Corrupted:
		return "corrupted"
	case NotFound:
		return "not found"
	case AlreadyExists:
		return "already exists"
	case NotEmpty:
		return "not empty"
	case NotADirectory:
		return "not a directory"
	case IsADirectory:
		return "is a directory"
	case PermissionDenied:
		return "permission denied"
	case InvalidInput:
		return "invalid input"
	case Io:
		return "io error"
	case TooManyOpenFiles:
		return "too many open files"
	default:
		return "other"
	}
}

// Error is a classified engine error. Operation names the call that
// failed (e.g. "lookup", "write_all"); Err is the underlying cause,
// when there is one, and is never swallowed (spec §7).
type Error struct {
	Kind      Kind
	Operation string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Operation, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified Error.
func New(kind Kind, operation string, err error) *Error {
	return &Error{Kind: kind, Operation: operation, Err: err}
}

// Is reports whether err is a sealerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// KindOf extracts err's Kind, or Other if err is not a sealerr.Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return Other
}
