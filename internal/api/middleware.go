package api

import (
	"net/http"

	"github.com/medicops/medic/infrastructure/errors"
	"github.com/medicops/medic/infrastructure/httputil"
	"github.com/medicops/medic/internal/apikey"
	"github.com/medicops/medic/internal/ratelimit"
)

// guard wraps a handler with X-API-Key authentication, endpoint-class
// authorization, and sliding-window rate limiting, per spec.md §4.5/§6.
// class is the endpoint class checked against the key's
// PermittedEndpointClasses (e.g. "heartbeat", "service", "playbooks"); it is
// distinct from the coarser heartbeat/management class the rate limiter
// itself buckets by.
func (d *Deps) guard(class string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := d.APIKeys.Authenticate(r.Context(), r.Header.Get(httputil.APIKeyHeader))
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		if !apikey.Permits(key, class) {
			respondError(w, r, d.Logger, errors.Security("API key not permitted for this endpoint"))
			return
		}
		r = httputil.WithAPIKeyID(r, apikey.Identifier(key))

		rlClass := ratelimit.ClassifyPath(r.URL.Path)
		if override := apikey.RateLimit(key, 0); override > 0 {
			d.RateLimiter.SetOverride(apikey.Identifier(key), override)
		}
		decision := d.RateLimiter.Check(httputil.ClientIdentifier(r), rlClass)
		setRateLimitHeaders(w, decision)
		if !decision.Allowed {
			respondError(w, r, d.Logger, errors.RateLimitExceeded(decision.Limit, "60s"))
			return
		}

		next(w, r)
	}
}
