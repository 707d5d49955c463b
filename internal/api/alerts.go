package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/medicops/medic/infrastructure/errors"
)

const classAlerts = "alerts"

// registerAlerts wires GET /alerts[?active] (spec.md §6).
func (d *Deps) registerAlerts(r *mux.Router) {
	r.HandleFunc("/alerts", d.guard(classAlerts, d.handleListAlerts)).Methods(http.MethodGet)
}

func (d *Deps) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	var activeOnly bool
	if raw := r.URL.Query().Get("active"); raw != "" {
		parsed, err := strconv.ParseBool(normalizeBoolParam(raw))
		if err != nil {
			respondError(w, r, d.Logger, errors.ValidationField("active", "must be a boolean"))
			return
		}
		activeOnly = parsed
	}

	alerts, err := d.Store.ListAlerts(r.Context(), activeOnly, 100)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("list alerts", err))
		return
	}
	respondOK(w, "", alerts)
}
