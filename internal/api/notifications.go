package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/medicops/medic/infrastructure/errors"
	"github.com/medicops/medic/infrastructure/httputil"
	"github.com/medicops/medic/internal/store"
)

const classNotifications = "notifications"

// registerNotifications wires GET/POST /v2/notification-targets
// (SPEC_FULL.md §6).
func (d *Deps) registerNotifications(r *mux.Router) {
	r.HandleFunc("/v2/notification-targets", d.guard(classNotifications, d.handleListNotificationTargets)).Methods(http.MethodGet)
	r.HandleFunc("/v2/notification-targets", d.guard(classNotifications, d.handleCreateNotificationTarget)).Methods(http.MethodPost)
}

func (d *Deps) handleListNotificationTargets(w http.ResponseWriter, r *http.Request) {
	serviceID, err := strconv.ParseInt(r.URL.Query().Get("service_id"), 10, 64)
	if err != nil {
		respondError(w, r, d.Logger, errors.ValidationField("service_id", "is required and must be an integer"))
		return
	}

	targets, err := d.Store.ListNotificationTargets(r.Context(), serviceID)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("list notification targets", err))
		return
	}
	respondOK(w, "", targets)
}

type createNotificationTargetRequest struct {
	ServiceID int64             `json:"service_id"`
	Type      string            `json:"type"`
	Config    map[string]string `json:"config"`
	Priority  int               `json:"priority,omitempty"`
	Enabled   *bool             `json:"enabled,omitempty"`
	Period    string            `json:"period,omitempty"`
}

func (d *Deps) handleCreateNotificationTarget(w http.ResponseWriter, r *http.Request) {
	var req createNotificationTargetRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.ServiceID == 0 || req.Type == "" {
		respondError(w, r, d.Logger, errors.Validation("service_id and type are required"))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	period := store.NotificationPeriod(req.Period)
	if period == "" {
		period = store.PeriodAlways
	}

	target, err := d.Store.CreateNotificationTarget(r.Context(), store.NotificationTarget{
		ServiceID: req.ServiceID,
		Type:      store.NotificationType(req.Type),
		Config:    req.Config,
		Priority:  req.Priority,
		Enabled:   enabled,
		Period:    period,
	})
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("create notification target", err))
		return
	}
	respondCreated(w, "notification target created successfully", target)
}
