package api

import (
	"net/http"
	"strconv"

	"github.com/medicops/medic/infrastructure/errors"
	"github.com/medicops/medic/infrastructure/httputil"
	"github.com/medicops/medic/infrastructure/logging"
	"github.com/medicops/medic/internal/ratelimit"
)

// respondError logs err and writes the envelope matching its taxonomy code
// (spec.md §7's error→HTTP mapping). Unlike httputil.HandleJSON, callers here
// choose their own success status, so this package keeps a small local
// equivalent instead of the generic wrapper.
func respondError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	if logger != nil {
		logger.WithContext(r.Context()).WithError(err).Error("api request failed")
	}
	if svcErr := errors.GetServiceError(err); svcErr != nil {
		httputil.WriteEnvelope(w, svcErr.HTTPStatus, false, svcErr.Message, nil)
		return
	}
	httputil.WriteEnvelope(w, http.StatusInternalServerError, false, "internal server error", nil)
}

func respondOK(w http.ResponseWriter, message string, results interface{}) {
	httputil.WriteEnvelope(w, http.StatusOK, true, message, results)
}

func respondCreated(w http.ResponseWriter, message string, results interface{}) {
	httputil.WriteEnvelope(w, http.StatusCreated, true, message, results)
}

// setRateLimitHeaders writes the X-RateLimit-*/Retry-After headers spec.md
// §4.5 requires on every rate-limited response, success or reject.
func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
	}
}
