package httputil

import (
	"context"
	"net/http"

	"github.com/medicops/medic/infrastructure/errors"
	"github.com/medicops/medic/infrastructure/logging"
)

// handleError logs the error and writes the envelope matching its taxonomy.
func handleError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	if logger != nil {
		logger.WithContext(r.Context()).WithError(err).Error("handler failed")
	}

	if svcErr := errors.GetServiceError(err); svcErr != nil {
		WriteError(w, svcErr.HTTPStatus, svcErr.Message)
		return
	}

	InternalError(w, "internal server error")
}

// HandleJSON decodes a JSON request body into Req, calls fn, and writes the
// result as an envelope. It eliminates the repeated decode/execute/respond
// boilerplate every handler would otherwise need.
func HandleJSON[Req any, Resp any](
	logger *logging.Logger,
	fn func(ctx context.Context, req *Req) (Resp, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if !DecodeJSON(w, r, &req) {
			return
		}
		resp, err := fn(r.Context(), &req)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}
		WriteOK(w, "ok", resp)
	}
}

// HandleNoBody handles requests that carry no JSON body (typically GET).
func HandleNoBody[Resp any](
	logger *logging.Logger,
	fn func(ctx context.Context) (Resp, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := fn(r.Context())
		if err != nil {
			handleError(w, r, logger, err)
			return
		}
		WriteOK(w, "ok", resp)
	}
}

// DecodeAndValidate decodes JSON and runs a validation function.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}, validate func() error) bool {
	if !DecodeJSON(w, r, req) {
		return false
	}
	if err := validate(); err != nil {
		BadRequest(w, err.Error())
		return false
	}
	return true
}

// RespondCreated writes a 201 envelope with the given data.
func RespondCreated(w http.ResponseWriter, data interface{}) {
	WriteCreated(w, "created", data)
}

// RespondNoContent writes a 204 No Content response.
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// RequireJSONContentType checks that the request has application/json content type.
func RequireJSONContentType(w http.ResponseWriter, r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" {
		BadRequest(w, "Content-Type must be application/json")
		return false
	}
	return true
}
