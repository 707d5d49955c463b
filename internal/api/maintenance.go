package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/medicops/medic/infrastructure/errors"
	"github.com/medicops/medic/infrastructure/httputil"
	"github.com/medicops/medic/internal/store"
)

const classMaintenance = "maintenance"

// registerMaintenance wires GET/POST /v2/maintenance-windows
// (SPEC_FULL.md §6).
func (d *Deps) registerMaintenance(r *mux.Router) {
	r.HandleFunc("/v2/maintenance-windows", d.guard(classMaintenance, d.handleListMaintenanceWindows)).Methods(http.MethodGet)
	r.HandleFunc("/v2/maintenance-windows", d.guard(classMaintenance, d.handleCreateMaintenanceWindow)).Methods(http.MethodPost)
}

func (d *Deps) handleListMaintenanceWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := d.Store.ListMaintenanceWindows(r.Context())
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("list maintenance windows", err))
		return
	}
	respondOK(w, "", windows)
}

type createMaintenanceWindowRequest struct {
	Name       string  `json:"name"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	Timezone   string  `json:"timezone,omitempty"`
	Recurrence string  `json:"recurrence,omitempty"`
	ServiceIDs []int64 `json:"service_ids,omitempty"`
}

func (d *Deps) handleCreateMaintenanceWindow(w http.ResponseWriter, r *http.Request) {
	var req createMaintenanceWindowRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		respondError(w, r, d.Logger, errors.ValidationField("name", "is required"))
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		respondError(w, r, d.Logger, errors.ValidationField("start_time", "must be RFC3339"))
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		respondError(w, r, d.Logger, errors.ValidationField("end_time", "must be RFC3339"))
		return
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	window, err := d.Store.CreateMaintenanceWindow(r.Context(), store.MaintenanceWindow{
		Name:       req.Name,
		StartTime:  start,
		EndTime:    end,
		Timezone:   timezone,
		Recurrence: req.Recurrence,
		ServiceIDs: req.ServiceIDs,
	})
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("create maintenance window", err))
		return
	}
	respondCreated(w, "maintenance window created successfully", window)
}
