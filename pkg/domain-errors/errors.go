// Package domainerrors provides coded errors that services return to transports.
//
// Stores return sentinel facts (see pkg/platform/sentinel); services translate those
// facts into a Code so that transports can map them without inspecting messages:
//
//	if errors.Is(err, sentinel.ErrNotFound) {
//		return nil, dErrors.New(dErrors.CodeNotFound, "subject not found")
//	}
//	return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subject")
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error. Codes are stable and appear on the wire.
type Code string

const (
	CodeUnauthorized           Code = "unauthorized"
	CodeNotFound               Code = "not_found"
	CodeInvalidStateTransition Code = "invalid_state_transition"
	CodeAlreadyFinalized       Code = "already_finalized"
	CodeValidation             Code = "validation_error"
	CodeBadRequest             Code = "bad_request"
	CodeConflict               Code = "conflict"
	CodeInvariantViolation     Code = "invariant_violation"
	CodeTimeout                Code = "timeout"
	CodeInternal               Code = "internal"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so errors.Is works against
// a freshly constructed coded error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New creates a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
// A nil err still yields a coded error so callers can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether the outermost coded error in err's chain has the given code.
func HasCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// Is is an alias of HasCode kept for call-site readability in tests.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code of the outermost coded error in err's chain.
func CodeOf(err error) (Code, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}

// MessageOf returns the message of the outermost coded error, or err.Error() for
// uncoded errors.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
