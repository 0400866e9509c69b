// Package domainerrors carries the error taxonomy shared by services and
// transports. Services return *Error values with a Code; transports map the
// Code to a status without inspecting messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of domain failure. Codes are stable strings and are
// exposed verbatim as the "error" field of HTTP error envelopes.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeGuardViolation     Code = "guard_violation"
	CodeInvariantViolation Code = "invariant_violation"
	CodeStorageFault       Code = "storage_fault"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
)

// Error is a domain error with a machine-readable code and a human-readable
// message. Err keeps the underlying cause for logging; it is never rendered.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a domain error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether the first domain error in err's chain has code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias for HasCode kept for call sites that read better with it.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code of the first domain error in err's chain, or
// CodeInternal when err carries no domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

// Guard builds a GuardViolation naming the failed precondition.
func Guard(rule string) error {
	return &Error{Code: CodeGuardViolation, Message: rule}
}
