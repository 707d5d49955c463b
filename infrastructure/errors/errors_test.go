package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(ErrCodeValidation, "test message"),
			want: "[VALIDATION] test message",
		},
		{
			name: "error with underlying error",
			err:  Wrap(ErrCodeTransient, "test message", errors.New("underlying")),
			want: "[TRANSIENT] test message: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(ErrCodeTransient, "test", underlying)

	assert.Equal(t, underlying, err.Unwrap())
	assert.True(t, errors.Is(err, underlying))
}

func TestServiceError_WithDetails(t *testing.T) {
	err := New(ErrCodeValidation, "test")
	err.WithDetails("field", "username").WithDetails("reason", "too short")

	assert.Len(t, err.Details, 2)
	assert.Equal(t, "username", err.Details["field"])
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeConflict, http.StatusConflict},
		{ErrCodeTransient, http.StatusServiceUnavailable},
		{ErrCodeSecurity, http.StatusForbidden},
		{ErrCodeResource, http.StatusUnprocessableEntity},
		{ErrCodeCircuitOpen, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "x").HTTPStatus)
		})
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("service", "svc-1")
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus)
	assert.Equal(t, "service", err.Details["resource"])
	assert.Equal(t, "svc-1", err.Details["id"])
}

func TestRateLimitExceeded(t *testing.T) {
	err := RateLimitExceeded(20, "60s")
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus)
	assert.Equal(t, 20, err.Details["limit"])
}

func TestCircuitOpen(t *testing.T) {
	err := CircuitOpen("svc-1")
	assert.Equal(t, ErrCodeCircuitOpen, err.Code)
	assert.Equal(t, "svc-1", err.Details["service_id"])
}

func TestGetServiceErrorAndStatus(t *testing.T) {
	base := NotFound("playbook", "p1")
	wrapped := errors.New("context: " + base.Error())

	assert.True(t, IsServiceError(base))
	assert.False(t, IsServiceError(wrapped))
	assert.Equal(t, base, GetServiceError(base))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(wrapped))
	assert.Equal(t, http.StatusNotFound, GetHTTPStatus(base))
}
