// Package httputil provides common HTTP utilities for Medic's handlers: the
// response envelope, request decoding, and query/pagination helpers.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/medicops/medic/infrastructure/logging"
)

// Envelope is the standard response shape for every Medic HTTP response.
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Results interface{} `json:"results,omitempty"`
}

var defaultLogger = logging.NewFromEnv("httputil")

// WriteJSON writes an arbitrary JSON payload with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		defaultLogger.WithError(err).Warn("write json response")
	}
}

// WriteEnvelope writes the {success, message, results} envelope.
func WriteEnvelope(w http.ResponseWriter, status int, success bool, message string, results interface{}) {
	WriteJSON(w, status, Envelope{Success: success, Message: message, Results: results})
}

// WriteOK writes a successful envelope with status 200.
func WriteOK(w http.ResponseWriter, message string, results interface{}) {
	WriteEnvelope(w, http.StatusOK, true, message, results)
}

// WriteCreated writes a successful envelope with status 201.
func WriteCreated(w http.ResponseWriter, message string, results interface{}) {
	WriteEnvelope(w, http.StatusCreated, true, message, results)
}

// WriteErrorResponse writes a failed envelope carrying an error code and
// optional structured details in results, e.g. {"code": "RATE_LIMITED", ...}.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	var results interface{}
	if code != "" || len(details) > 0 {
		results = map[string]interface{}{"code": code, "details": details}
	}
	WriteEnvelope(w, status, false, message, results)
}

// WriteError writes a failed envelope with the given status and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteEnvelope(w, status, false, message, nil)
}

// BadRequest writes a 400 failure envelope.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// Unauthorized writes a 401 failure envelope.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "unauthorized"
	}
	WriteError(w, http.StatusUnauthorized, message)
}

// Forbidden writes a 403 failure envelope.
func Forbidden(w http.ResponseWriter, message string) {
	if message == "" {
		message = "forbidden"
	}
	WriteError(w, http.StatusForbidden, message)
}

// NotFound writes a 404 failure envelope.
func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "not found"
	}
	WriteError(w, http.StatusNotFound, message)
}

// Conflict writes a 409 failure envelope.
func Conflict(w http.ResponseWriter, message string) {
	if message == "" {
		message = "conflict"
	}
	WriteError(w, http.StatusConflict, message)
}

// InternalError writes a 500 failure envelope.
func InternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "internal server error"
	}
	WriteError(w, http.StatusInternalServerError, message)
}

// ServiceUnavailable writes a 503 failure envelope.
func ServiceUnavailable(w http.ResponseWriter, message string) {
	if message == "" {
		message = "service unavailable"
	}
	WriteError(w, http.StatusServiceUnavailable, message)
}

// DecodeJSON decodes a JSON request body into v.
// Returns false and writes an error response if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", "request body too large", nil)
			return false
		}
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}

// DecodeJSONOptional decodes a JSON request body into v when present.
// It returns true when the body is empty and no decoding is needed.
func DecodeJSONOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return true
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}

		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", "request body too large", nil)
			return false
		}
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}

// PathParam extracts a path parameter from the URL.
// Example: PathParam("/service/worker/orders", "/service/", "/orders") returns "worker"
func PathParam(path, prefix, suffix string) string {
	path = strings.TrimPrefix(path, prefix)
	if suffix != "" {
		if idx := strings.Index(path, suffix); idx >= 0 {
			path = path[:idx]
		}
	}
	if idx := strings.Index(path, "/"); idx >= 0 {
		path = path[:idx]
	}
	return path
}

// PathParamAt extracts a path segment at the given index (0-based).
func PathParamAt(path string, index int) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if index >= 0 && index < len(parts) {
		return parts[index]
	}
	return ""
}

// QueryInt extracts an integer query parameter with a default value.
func QueryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return defaultVal
}

// QueryInt64 extracts an int64 query parameter with a default value.
func QueryInt64(r *http.Request, key string, defaultVal int64) int64 {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.ParseInt(val, 10, 64); err == nil {
		return n
	}
	return defaultVal
}

// QueryString extracts a string query parameter with a default value.
func QueryString(r *http.Request, key, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// QueryBool extracts a boolean query parameter with a default value.
func QueryBool(r *http.Request, key string, defaultVal bool) bool {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val == "true" || val == "1" || val == "yes"
}

// PaginationParams extracts offset/limit query parameters, clamped to
// [1, maxLimit] for limit and >= 0 for offset.
func PaginationParams(r *http.Request, defaultLimit, maxLimit int) (offset, limit int) {
	offset = QueryInt(r, "offset", 0)
	limit = QueryInt(r, "limit", defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}
	if limit < 1 {
		limit = 1
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}

// APIKeyHeader is the header carrying a caller's API key.
const APIKeyHeader = "X-API-Key"

type apiKeyContextKey struct{}

// WithAPIKeyID attaches the resolved API key id to the request context; used
// by the API-key auth middleware after a successful lookup.
func WithAPIKeyID(r *http.Request, keyID string) *http.Request {
	return r.WithContext(withAPIKeyID(r.Context(), keyID))
}

// GetAPIKeyID returns the authenticated caller's API key id, if any.
func GetAPIKeyID(r *http.Request) string {
	return apiKeyIDFromContext(r.Context())
}

// RequireAPIKeyID extracts the authenticated API key id from the request
// context. Returns false and writes a 401 response if absent.
func RequireAPIKeyID(w http.ResponseWriter, r *http.Request) (string, bool) {
	keyID := GetAPIKeyID(r)
	if keyID == "" {
		Unauthorized(w, "API key required")
		return "", false
	}
	return keyID, true
}

// ClientIdentifier returns the authenticated API key id, or "ip:<addr>" when
// the request is unauthenticated. Used as the rate-limiter bucket key.
func ClientIdentifier(r *http.Request) string {
	if keyID := GetAPIKeyID(r); keyID != "" {
		return keyID
	}
	return "ip:" + ClientIP(r)
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
