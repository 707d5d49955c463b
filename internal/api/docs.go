package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/medicops/medic/infrastructure/httputil"
)

// swaggerJSON is a minimal static OpenAPI document describing the baseline
// surface (spec.md §6). It is intentionally not generated from the route
// table — schema validation/swagger hosting is explicitly out of scope
// (spec.md §1) and this exists only so GET /docs/swagger.json resolves.
var swaggerJSON = map[string]interface{}{
	"openapi": "3.0.0",
	"info": map[string]interface{}{
		"title":   "Medic",
		"version": "1",
	},
	"paths": map[string]interface{}{
		"/heartbeat":         map[string]interface{}{"post": map[string]string{"summary": "record a heartbeat"}},
		"/service":           map[string]interface{}{"post": map[string]string{"summary": "register a service"}},
		"/alerts":            map[string]interface{}{"get": map[string]string{"summary": "list recent alerts"}},
		"/v2/snapshots":      map[string]interface{}{"get": map[string]string{"summary": "list service snapshots"}},
		"/v2/playbooks":      map[string]interface{}{"get": map[string]string{"summary": "list playbooks"}},
		"/v2/jobs/{id}/stats": map[string]interface{}{"get": map[string]string{"summary": "job duration statistics"}},
	},
}

// registerDocs wires /docs and /docs/swagger.json. These bypass
// authentication and rate limiting (spec.md §6).
func (d *Deps) registerDocs(r *mux.Router) {
	r.HandleFunc("/docs/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, swaggerJSON)
	}).Methods(http.MethodGet)

	r.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<!doctype html><html><head><title>Medic API</title></head>` +
			`<body><h1>Medic API</h1><p>See <a href="/docs/swagger.json">/docs/swagger.json</a>.</p></body></html>`))
	}).Methods(http.MethodGet)
}
