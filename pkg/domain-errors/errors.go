// Package derrors provides coded domain errors so services can classify
// failures without string matching and transports can map them to status
// codes in one place.
package derrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	// CodeValidation covers malformed input rejected before any state change.
	CodeValidation Code = "validation"
	// CodeNotFound covers lookups for entities that do not exist.
	CodeNotFound Code = "not_found"
	// CodeConflict covers compare-and-set races: another actor already acted.
	// Callers must not retry blindly.
	CodeConflict Code = "conflict"
	// CodeAlreadyDecided covers transitions attempted on a non-Pending request.
	CodeAlreadyDecided Code = "already_decided"
	// CodeGatewayTransient covers network/timeout failures from the payment
	// gateway; retried internally with backoff.
	CodeGatewayTransient Code = "gateway_transient"
	// CodeGatewayPermanent covers definitive gateway failures (invalid
	// destination, insufficient balance); never retried.
	CodeGatewayPermanent Code = "gateway_permanent"
	// CodeAuditWrite is fatal to the enclosing transition; the whole
	// transaction rolls back.
	CodeAuditWrite Code = "audit_write"
	// CodeUnauthorized covers missing or invalid admin credentials.
	CodeUnauthorized Code = "unauthorized"
	// CodeTimeout covers cancelled or deadline-exceeded operations.
	CodeTimeout Code = "timeout"
	// CodeInternal is the fallback for unexpected failures.
	CodeInternal Code = "internal"
)

// Error is a domain error with a classification code.
type Error struct {
	code    Code
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// Message returns the human-readable message without code or cause noise.
func (e *Error) Message() string { return e.message }

// New creates a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{code: code, message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message while keeping the cause chain.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, message: message, cause: err}
}

// CodeOf extracts the code from err, walking the wrap chain. Errors without a
// code report CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// ToHTTPStatus maps a domain error code to an HTTP status code.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeAlreadyDecided:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeGatewayTransient, CodeTimeout:
		return http.StatusServiceUnavailable
	case CodeGatewayPermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
