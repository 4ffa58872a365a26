// Package errors provides coded domain errors shared by all features.
//
// Services construct these at the point a rule or transition fails; transport
// layers translate them to HTTP statuses without re-deriving the cause. The
// Details map carries structured context (which rule failed, by how much,
// which rate) so callers can render actionable messages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of domain error. Values are wire-stable and appear
// verbatim in error envelopes and bulk result rows.
type Code string

const (
	// Transport-level codes.
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal_error"
	CodeUnavailable  Code = "unavailable"

	// Input and invariant codes.
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvariantViolation Code = "invariant_violation"

	// Negotiation domain codes.
	CodeRuleViolation        Code = "rule_violation"
	CodeInvalidTransition    Code = "invalid_transition"
	CodeInvalidDeadline      Code = "invalid_deadline"
	CodeInvalidAmount        Code = "invalid_amount"
	CodeStaleCounter         Code = "stale_counter"
	CodeAlreadyTerminal      Code = "already_terminal"
	CodeStepNotPending       Code = "step_not_pending"
	CodePendingBatchExists   Code = "pending_batch_exists"
	CodeRateNotInNegotiation Code = "rate_not_in_negotiation"
	CodeEmptyRateList        Code = "empty_rate_list"
	CodeConcurrencyTimeout   Code = "concurrency_timeout"
)

// Error is a domain error with a machine-readable code, a human-readable
// message, and optional structured details.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// cause for errors.Is/As chains.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// WithDetails returns a copy of the error carrying structured detail values.
// Keys are wire-stable; values must be JSON-encodable.
func (e *Error) WithDetails(details map[string]any) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// HasCode reports whether err (or anything it wraps) is a domain error with
// the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias for HasCode kept for call-site readability:
// dErrors.Is(err, dErrors.CodeConflict).
func Is(err error, code Code) bool { return HasCode(err, code) }

// IsDomain reports whether err carries a domain error anywhere in its chain.
// Services use it to pass already-coded errors through untouched instead of
// re-wrapping them as internal failures.
func IsDomain(err error) bool {
	var de *Error
	return errors.As(err, &de)
}

// CodeOf extracts the code from err, or CodeInternal when err is not a
// domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// DetailsOf extracts structured details from err, or nil.
func DetailsOf(err error) map[string]any {
	var de *Error
	if errors.As(err, &de) {
		return de.Details
	}
	return nil
}

// MessageOf extracts the human-readable message from err. Non-domain errors
// return an empty message so internals are never leaked to callers.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

// ToHTTPStatus maps a code to the HTTP status the transport layer should use.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeInvalidInput,
		CodeInvalidDeadline, CodeInvalidAmount, CodeEmptyRateList:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeRateNotInNegotiation:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidTransition, CodeStaleCounter,
		CodeAlreadyTerminal, CodeStepNotPending, CodePendingBatchExists:
		return http.StatusConflict
	case CodeRuleViolation:
		return http.StatusUnprocessableEntity
	case CodeConcurrencyTimeout, CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
