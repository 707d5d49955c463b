package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/medicops/medic/infrastructure/errors"
	"github.com/medicops/medic/infrastructure/httputil"
	"github.com/medicops/medic/internal/secrets"
)

const classSecrets = "secrets"

// registerSecrets wires POST /v2/secrets (SPEC_FULL.md §6). Secret values
// are write-only through this surface: there is no GET, only references
// resolved internally by playbook execution.
func (d *Deps) registerSecrets(r *mux.Router) {
	r.HandleFunc("/v2/secrets", d.guard(classSecrets, d.handlePutSecret)).Methods(http.MethodPost)
}

type putSecretRequest struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

type putSecretResponse struct {
	Name string `json:"name"`
}

func (d *Deps) handlePutSecret(w http.ResponseWriter, r *http.Request) {
	var req putSecretRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if !secrets.ValidName(req.Name) {
		respondError(w, r, d.Logger, errors.ValidationField("name", "must match ^[A-Za-z_][A-Za-z0-9_]*$"))
		return
	}
	if req.Value == "" {
		respondError(w, r, d.Logger, errors.ValidationField("value", "is required"))
		return
	}

	actor := actorFromRequest(r)
	if err := d.Secrets.Put(r.Context(), req.Name, req.Value, req.Description, actor); err != nil {
		respondError(w, r, d.Logger, errors.Transient("put secret", err))
		return
	}
	respondCreated(w, "secret stored successfully", putSecretResponse{Name: req.Name})
}
