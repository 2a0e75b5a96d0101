// Package errs defines the caller-visible error taxonomy of the contacts
// engine.
//
// Every failure that crosses the engine boundary is an *Error carrying a
// Code. Lower layers wrap causes with fmt.Errorf("op: %w", err); callers
// classify with Is or CodeOf, which see through wrapping.
package errs

import (
	"errors"
	"fmt"
)

// Code categorizes an engine error.
type Code string

const (
	// InvalidArgument indicates nil or out-of-range input.
	InvalidArgument Code = "INVALID_ARGUMENT"

	// UnknownView indicates a view name that is not registered.
	UnknownView Code = "UNKNOWN_VIEW"

	// PropertyNotSupported indicates a property that does not belong to the
	// view, or is not allowed in the requested position (filter, projection).
	PropertyNotSupported Code = "PROPERTY_NOT_SUPPORTED"

	// TypeMismatch indicates an accessor or match kind that disagrees with
	// the declared semantic type, or a record of the wrong view.
	TypeMismatch Code = "TYPE_MISMATCH"

	// ViewMismatch indicates two filters built on different views.
	ViewMismatch Code = "VIEW_MISMATCH"

	// InvalidState indicates a structurally inconsistent build order.
	InvalidState Code = "INVALID_STATE"

	// NotFound indicates a lookup or delete-by-id found nothing.
	NotFound Code = "NOT_FOUND"

	// NoData indicates a cursor move past either end of a list.
	NoData Code = "NO_DATA"

	// PermissionDenied indicates the access cache rejected the operation.
	PermissionDenied Code = "PERMISSION_DENIED"

	// Locked indicates the storage lock could not be acquired within the
	// retry budget.
	Locked Code = "LOCKED"

	// OutOfMemory is surfaced verbatim from the storage collaborator.
	OutOfMemory Code = "OUT_OF_MEMORY"

	// Io covers every other storage failure.
	Io Code = "IO"

	// AlreadyExists indicates a uniqueness constraint violation.
	AlreadyExists Code = "ALREADY_EXISTS"

	// NoActiveTransaction indicates an End without a matching Begin.
	NoActiveTransaction Code = "NO_ACTIVE_TRANSACTION"
)

// Error is the engine error type.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the failing operation (e.g. "record.set").
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code. It lets
// errors.Is match against the sentinels returned by Sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Message == "" && t.Err == nil
}

// New creates an Error with a formatted message.
func New(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an underlying cause.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Sentinel returns a bare Error for use with errors.Is.
func Sentinel(code Code) *Error {
	return &Error{Code: code}
}

// CodeOf extracts the code from an error chain. Returns "" for nil and Io
// for errors that carry no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Io
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}
