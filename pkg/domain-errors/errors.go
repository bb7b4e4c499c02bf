// Package dErrors defines coded domain errors shared across modules.
//
// Services return these so transport layers can translate outcomes into
// HTTP statuses without inspecting error strings. Stores return sentinel
// errors (pkg/platform/sentinel); services translate them into coded
// errors with caller-facing messages.
package dErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error for transport mapping and retry policy.
type Code string

const (
	// CodeInvalidInput marks malformed or missing caller input. Never retried.
	CodeInvalidInput Code = "invalid_input"
	// CodeBadRequest marks a structurally valid request that violates a
	// business rule. Never retried.
	CodeBadRequest Code = "bad_request"
	// CodeInvalidState marks an operation attempted against an entity in the
	// wrong lifecycle state, such as an illegal transition edge.
	CodeInvalidState Code = "invalid_state"
	// CodeNotFound marks a lookup-only reference to an absent entity.
	CodeNotFound Code = "not_found"
	// CodeConflict marks a uniqueness violation. On ledger appends this means
	// "this exact event was already recorded", not a caller failure.
	CodeConflict Code = "conflict"
	// CodeContention marks lock or version contention that survived the
	// internal retry budget.
	CodeContention Code = "contention"
	// CodeUnauthorized marks a missing or unverifiable caller identity.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden marks a caller whose role does not permit the operation.
	CodeForbidden Code = "forbidden"
	// CodeInvariantViolation marks a broken internal invariant.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeUnavailable marks a temporarily unreachable dependency.
	CodeUnavailable Code = "unavailable"
	// CodeInternal marks everything else. Details are logged, never returned.
	CodeInternal Code = "internal_error"
)

// Error is a domain error with a stable code and a caller-facing message.
type Error struct {
	Code    Code
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New creates a coded domain error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is/As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, err: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.err
		de = nil
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the outermost caller-facing message, or empty when the
// error carries none.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

// ToHTTPStatus maps a code to its transport status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeInvalidState:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeContention, CodeInvariantViolation:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
