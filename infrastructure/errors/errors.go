// Package errors provides the unified error taxonomy used across Medic's core
// components. Components never raise across the HTTP boundary; they return a
// *ServiceError (or nil) and the HTTP layer maps it to a status code and the
// standard response envelope.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies the error taxonomy bucket a ServiceError belongs to.
type ErrorCode string

const (
	// ErrCodeValidation covers malformed inbound JSON/params and semantic
	// violations (unknown step type, invalid approval syntax).
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNotFound covers missing services, snapshots, playbooks, secrets.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeConflict covers duplicate (service_id, run_id) job starts and
	// double-restore of an already-restored snapshot.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeTransient covers store errors, outbound HTTP errors, DNS errors.
	ErrCodeTransient ErrorCode = "TRANSIENT"

	// ErrCodeSecurity covers URL validation failure, missing/invalid
	// encryption key, decryption failure, unauthorized caller. The message
	// surfaced to callers is always generic; details belong only in logs.
	ErrCodeSecurity ErrorCode = "SECURITY"

	// ErrCodeResource covers script subprocess memory/CPU/timeout limits.
	ErrCodeResource ErrorCode = "RESOURCE"

	// ErrCodeCircuitOpen covers a playbook trigger rejected by the circuit
	// breaker. Not surfaced as an HTTP error — callers get a structured
	// {triggered:false, status:"circuit_breaker_open"} result instead.
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
)

var httpStatusByCode = map[ErrorCode]int{
	ErrCodeValidation:  http.StatusBadRequest,
	ErrCodeNotFound:    http.StatusNotFound,
	ErrCodeConflict:    http.StatusConflict,
	ErrCodeTransient:   http.StatusServiceUnavailable,
	ErrCodeSecurity:    http.StatusForbidden,
	ErrCodeResource:    http.StatusUnprocessableEntity,
	ErrCodeCircuitOpen: http.StatusOK,
}

// ServiceError is a structured error carrying a taxonomy code, a message safe
// to return to callers, and an optional wrapped cause for logs only.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a logging-only detail. Validation/Security errors
// should not surface Details to HTTP callers; see infrastructure/httputil.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError of the given taxonomy code.
func New(code ErrorCode, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatusByCode[code]}
}

// Wrap creates a ServiceError of the given taxonomy code around a cause.
func Wrap(code ErrorCode, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatusByCode[code], Err: err}
}

// Validation returns a 400 validation error.
func Validation(message string) *ServiceError {
	return New(ErrCodeValidation, message)
}

// ValidationField returns a 400 validation error naming the offending field.
func ValidationField(field, reason string) *ServiceError {
	return New(ErrCodeValidation, reason).WithDetails("field", field)
}

// NotFound returns a 404 not-found error for the given resource kind/id.
func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Conflict returns a 409 conflict error.
func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message)
}

// Transient wraps a store or outbound-I/O error.
func Transient(operation string, err error) *ServiceError {
	return Wrap(ErrCodeTransient, fmt.Sprintf("%s failed", operation), err)
}

// Security returns a generic security error; the real reason belongs only in
// logs via WithDetails, never in Message.
func Security(message string) *ServiceError {
	return New(ErrCodeSecurity, message)
}

// Resource returns a resource-limit error (script memory/CPU/timeout).
func Resource(message string) *ServiceError {
	return New(ErrCodeResource, message)
}

// CircuitOpen signals a playbook trigger rejected by the breaker. Handlers
// treat this as a structured result, not an HTTP error.
func CircuitOpen(serviceID string) *ServiceError {
	return New(ErrCodeCircuitOpen, "circuit_breaker_open").WithDetails("service_id", serviceID)
}

// RateLimitExceeded returns a 429 with limit/window detail for logging; the
// HTTP layer sets Retry-After and X-RateLimit-* headers separately.
func RateLimitExceeded(limit int, window string) *ServiceError {
	e := New(ErrCodeTransient, "rate limit exceeded")
	e.HTTPStatus = http.StatusTooManyRequests
	return e.WithDetails("limit", limit).WithDetails("window", window)
}

// IsServiceError reports whether err is (or wraps) a *ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a *ServiceError from an error chain, if present.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status for err, defaulting to 500.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
