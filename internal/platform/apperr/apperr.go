// Package apperr defines the structured error kinds used across the platform
// core. Handlers translate these into the gateway error envelope at the
// boundary; inside the core, saga steps and services branch on Kind to decide
// retry vs. abort.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
	KindPrecondition
	KindRateLimited
	KindUpstreamUnavailable
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "Validation"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindPrecondition:
		return "Precondition"
	case KindRateLimited:
		return "RateLimited"
	case KindUpstreamUnavailable:
		return "UpstreamUnavailable"
	case KindTransient:
		return "Transient"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is a kind-carrying error with a stable code and optional safe details.
type Error struct {
	Kind    Kind
	Code    string // CapitalCamelCase, e.g. "InsufficientFunds"
	Message string
	Details map[string]interface{}
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New creates a platform error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf creates a platform error with a formatted message.
func Newf(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and code to an underlying error.
func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, wrapped: err}
}

// WithDetails attaches safe, user-visible detail fields.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// KindOf extracts the Kind from an error chain. Unclassified errors are
// KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// CodeOf extracts the stable error code from an error chain, or "InternalError".
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return "InternalError"
}

// IsTransient reports whether a saga step should retry the error.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// Convenience constructors for the common kinds.

func Validation(code, message string) *Error { return New(KindValidation, code, message) }
func NotFound(code, message string) *Error   { return New(KindNotFound, code, message) }
func Conflict(code, message string) *Error   { return New(KindConflict, code, message) }
func Unauthorized(message string) *Error {
	return New(KindUnauthorized, "Unauthorized", message)
}
func Forbidden(message string) *Error {
	return New(KindForbidden, "Forbidden", message)
}
func Precondition(code, message string) *Error { return New(KindPrecondition, code, message) }
func Transient(code string, err error) *Error {
	return Wrap(err, KindTransient, code, "transient failure")
}
func Upstream(code string, err error) *Error {
	return Wrap(err, KindUpstreamUnavailable, code, "upstream unavailable")
}
