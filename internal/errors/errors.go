// Package errors defines the error taxonomy shared by the platform services
// and its mapping onto HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for HTTP mapping.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindForbidden          Kind = "forbidden"
	KindUnauthorized       Kind = "unauthorized"
	KindConflict           Kind = "conflict"
	KindInvalidAmount      Kind = "invalid_amount"
	KindValidation         Kind = "validation"
	KindGatewayUnavailable Kind = "gateway_unavailable"
	KindInternal           Kind = "internal"
)

// Error is the concrete error type produced by the service layer.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unresolved entity id.
func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

// Forbidden reports a missing role or ownership.
func Forbidden(format string, args ...interface{}) *Error {
	return newError(KindForbidden, format, args...)
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(format string, args ...interface{}) *Error {
	return newError(KindUnauthorized, format, args...)
}

// Conflict reports an entity that is not in the state the transition requires.
func Conflict(format string, args ...interface{}) *Error {
	return newError(KindConflict, format, args...)
}

// InvalidAmount reports a non-positive monetary value.
func InvalidAmount(format string, args ...interface{}) *Error {
	return newError(KindInvalidAmount, format, args...)
}

// Validation reports malformed input.
func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

// GatewayUnavailable reports a failed or timed-out payment gateway call.
func GatewayUnavailable(message string, err error) *Error {
	return &Error{Kind: KindGatewayUnavailable, Message: message, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

func IsNotFound(err error) bool      { return IsKind(err, KindNotFound) }
func IsForbidden(err error) bool     { return IsKind(err, KindForbidden) }
func IsConflict(err error) bool      { return IsKind(err, KindConflict) }
func IsInvalidAmount(err error) bool { return IsKind(err, KindInvalidAmount) }

// HTTPStatus maps an error chain to the HTTP status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindInvalidAmount, KindValidation:
		return http.StatusBadRequest
	case KindGatewayUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
