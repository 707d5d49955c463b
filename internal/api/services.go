package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/medicops/medic/infrastructure/errors"
	"github.com/medicops/medic/infrastructure/httputil"
	"github.com/medicops/medic/internal/store"
)

const classHeartbeat = "heartbeat"
const classService = "service"

func (d *Deps) registerServices(r *mux.Router) {
	r.HandleFunc("/heartbeat", d.guard(classHeartbeat, d.handlePostHeartbeat)).Methods(http.MethodPost)
	r.HandleFunc("/heartbeat", d.guard(classHeartbeat, d.handleGetHeartbeat)).Methods(http.MethodGet)

	r.HandleFunc("/v2/heartbeat/{id}/start", d.guard(classHeartbeat, d.handleJobSignal(store.HeartbeatStarted))).Methods(http.MethodPost)
	r.HandleFunc("/v2/heartbeat/{id}/complete", d.guard(classHeartbeat, d.handleJobSignal(store.HeartbeatCompleted))).Methods(http.MethodPost)
	r.HandleFunc("/v2/heartbeat/{id}/fail", d.guard(classHeartbeat, d.handleJobSignal(store.HeartbeatFailed))).Methods(http.MethodPost)

	r.HandleFunc("/service", d.guard(classService, d.handlePostService)).Methods(http.MethodPost)
	r.HandleFunc("/service", d.guard(classService, d.handleListServices)).Methods(http.MethodGet)
	r.HandleFunc("/service/{heartbeat_name}", d.guard(classService, d.handleGetService)).Methods(http.MethodGet)
	r.HandleFunc("/service/{heartbeat_name}", d.guard(classService, d.handlePatchService)).Methods(http.MethodPost)
}

// --- POST /heartbeat, GET /heartbeat ---

type heartbeatRequest struct {
	HeartbeatName string `json:"heartbeat_name"`
	Status        string `json:"status"`
	ServiceName   string `json:"service_name,omitempty"`
}

func (d *Deps) handlePostHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.HeartbeatName == "" || req.Status == "" {
		respondError(w, r, d.Logger, errors.Validation("heartbeat_name and status are required"))
		return
	}

	ctx := r.Context()
	svc, found, err := d.Store.GetServiceByHeartbeatName(ctx, req.HeartbeatName)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("get service", err))
		return
	}
	if !found {
		respondError(w, r, d.Logger, errors.NotFound("service", req.HeartbeatName))
		return
	}
	if !svc.Active {
		respondError(w, r, d.Logger, errors.Validation(req.HeartbeatName+" was located, but is marked inactive"))
		return
	}

	if _, err := d.Store.RecordHeartbeat(ctx, store.HeartbeatEvent{
		ServiceID: svc.ID,
		Status:    store.HeartbeatStatus(strings.ToUpper(req.Status)),
		Time:      d.Clock.Now(),
	}); err != nil {
		respondError(w, r, d.Logger, errors.Transient("record heartbeat", err))
		return
	}
	if d.Metrics != nil {
		d.Metrics.RecordHeartbeat(svc.ServiceName, req.Status)
	}
	respondCreated(w, "heartbeat posted successfully", nil)
}

func (d *Deps) handleGetHeartbeat(w http.ResponseWriter, r *http.Request) {
	heartbeatName := r.URL.Query().Get("heartbeat_name")
	maxCount := httputil.QueryInt(r, "maxCount", 250)
	if maxCount > 250 {
		maxCount = 250
	}

	ctx := r.Context()
	var serviceID int64
	if heartbeatName != "" {
		svc, found, err := d.Store.GetServiceByHeartbeatName(ctx, heartbeatName)
		if err != nil {
			respondError(w, r, d.Logger, errors.Transient("get service", err))
			return
		}
		if !found {
			respondOK(w, "", []store.HeartbeatEvent{})
			return
		}
		serviceID = svc.ID
	}

	events, err := d.Store.RecentHeartbeats(ctx, serviceID, maxCount)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("recent heartbeats", err))
		return
	}
	respondOK(w, "", events)
}

// --- POST /v2/heartbeat/<id>/{start|complete|fail} ---

type jobSignalRequest struct {
	RunID string `json:"run_id,omitempty"`
}

type jobSignalResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id,omitempty"`
}

func (d *Deps) handleJobSignal(status store.HeartbeatStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			respondError(w, r, d.Logger, errors.Validation("invalid service id"))
			return
		}

		var req jobSignalRequest
		if !httputil.DecodeJSONOptional(w, r, &req) {
			return
		}

		ctx := r.Context()
		svc, found, err := d.Store.GetServiceByID(ctx, serviceID)
		if err != nil {
			respondError(w, r, d.Logger, errors.Transient("get service", err))
			return
		}
		if !found {
			respondError(w, r, d.Logger, errors.NotFound("service", strconv.FormatInt(serviceID, 10)))
			return
		}
		if !svc.Active {
			respondError(w, r, d.Logger, errors.Validation(svc.HeartbeatName+" was located, but is marked inactive"))
			return
		}

		now := d.Clock.Now()
		switch status {
		case store.HeartbeatStarted:
			if _, _, err := d.Jobs.RecordStart(ctx, serviceID, req.RunID, &now); err != nil {
				respondError(w, r, d.Logger, errors.Transient("record job start", err))
				return
			}
		case store.HeartbeatCompleted, store.HeartbeatFailed:
			jobStatus := store.JobCompleted
			if status == store.HeartbeatFailed {
				jobStatus = store.JobFailed
			}
			if _, _, err := d.Jobs.RecordCompletion(ctx, serviceID, req.RunID, jobStatus, &now, svc.ServiceName, svc.MaxDurationMs); err != nil {
				respondError(w, r, d.Logger, errors.Transient("record job completion", err))
				return
			}
		}

		var runID *string
		if req.RunID != "" {
			runID = &req.RunID
		}
		if _, err := d.Store.RecordHeartbeat(ctx, store.HeartbeatEvent{
			ServiceID: serviceID,
			Status:    status,
			Time:      now,
			RunID:     runID,
		}); err != nil {
			respondError(w, r, d.Logger, errors.Transient("record heartbeat", err))
			return
		}

		respondCreated(w, "job signal "+string(status)+" recorded successfully", jobSignalResponse{
			Status: string(status),
			RunID:  req.RunID,
		})
	}
}

// --- POST /service, GET /service, GET/POST /service/<heartbeat_name> ---

type createServiceRequest struct {
	HeartbeatName      string  `json:"heartbeat_name"`
	ServiceName        string  `json:"service_name"`
	AlertIntervalMin   int     `json:"alert_interval"`
	Threshold          int     `json:"threshold,omitempty"`
	GracePeriodSeconds int     `json:"grace_period_seconds,omitempty"`
	TeamID             *int64  `json:"team_id,omitempty"`
	Priority           string  `json:"priority,omitempty"`
	Runbook            string  `json:"runbook,omitempty"`
	MaxDurationMs      *int64  `json:"max_duration_ms,omitempty"`
}

func (d *Deps) handlePostService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.HeartbeatName == "" || req.ServiceName == "" || req.AlertIntervalMin <= 0 {
		respondError(w, r, d.Logger, errors.Validation("heartbeat_name, service_name, and alert_interval are required"))
		return
	}

	priority := store.Priority(req.Priority)
	if priority == "" {
		priority = store.PriorityP3
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = 1
	}

	ctx := r.Context()
	_, found, err := d.Store.GetServiceByHeartbeatName(ctx, req.HeartbeatName)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("get service", err))
		return
	}
	if found {
		respondOK(w, "heartbeat is already registered", nil)
		return
	}

	svc, err := d.Store.CreateService(ctx, store.Service{
		HeartbeatName:      req.HeartbeatName,
		ServiceName:        req.ServiceName,
		Active:             true,
		AlertIntervalMin:   req.AlertIntervalMin,
		Threshold:          threshold,
		GracePeriodSeconds: req.GracePeriodSeconds,
		TeamID:             req.TeamID,
		Priority:           priority,
		Runbook:            req.Runbook,
		MaxDurationMs:      req.MaxDurationMs,
	})
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("create service", err))
		return
	}
	respondCreated(w, "heartbeat successfully registered", svc)
}

func (d *Deps) handleListServices(w http.ResponseWriter, r *http.Request) {
	filter := store.ServiceFilter{ServiceName: r.URL.Query().Get("service_name")}
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(normalizeBoolParam(raw))
		if err != nil {
			respondError(w, r, d.Logger, errors.ValidationField("active", "must be a boolean"))
			return
		}
		filter.ActiveOnly = &active
	}

	services, err := d.Store.ListServices(r.Context(), filter)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("list services", err))
		return
	}
	respondOK(w, "", services)
}

func normalizeBoolParam(raw string) string {
	switch raw {
	case "1":
		return "true"
	case "0":
		return "false"
	default:
		return raw
	}
}

func (d *Deps) handleGetService(w http.ResponseWriter, r *http.Request) {
	heartbeatName := mux.Vars(r)["heartbeat_name"]
	svc, found, err := d.Store.GetServiceByHeartbeatName(r.Context(), heartbeatName)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("get service", err))
		return
	}
	if !found {
		respondOK(w, "", []store.Service{})
		return
	}
	respondOK(w, "", []store.Service{svc})
}

type patchServiceRequest struct {
	ServiceName        *string `json:"service_name,omitempty"`
	Muted              *bool   `json:"muted,omitempty"`
	Active             *bool   `json:"active,omitempty"`
	Down               *bool   `json:"down,omitempty"`
	AlertIntervalMin   *int    `json:"alert_interval,omitempty"`
	Threshold          *int    `json:"threshold,omitempty"`
	GracePeriodSeconds *int    `json:"grace_period_seconds,omitempty"`
	TeamID             *int64  `json:"team_id,omitempty"`
	Priority           *string `json:"priority,omitempty"`
	Runbook            *string `json:"runbook,omitempty"`
	MaxDurationMs      *int64  `json:"max_duration_ms,omitempty"`
}

func (d *Deps) handlePatchService(w http.ResponseWriter, r *http.Request) {
	heartbeatName := mux.Vars(r)["heartbeat_name"]

	ctx := r.Context()
	svc, found, err := d.Store.GetServiceByHeartbeatName(ctx, heartbeatName)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("get service", err))
		return
	}
	if !found {
		respondOK(w, "the heartbeat registration specified was not located", nil)
		return
	}

	var req patchServiceRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	patch := store.ServicePatch{
		ServiceName:        req.ServiceName,
		Muted:              req.Muted,
		Active:             req.Active,
		Down:               req.Down,
		AlertIntervalMin:   req.AlertIntervalMin,
		Threshold:          req.Threshold,
		GracePeriodSeconds: req.GracePeriodSeconds,
		TeamID:             req.TeamID,
		Runbook:            req.Runbook,
		MaxDurationMs:      req.MaxDurationMs,
	}
	if req.Priority != nil {
		p := store.Priority(*req.Priority)
		patch.Priority = &p
	}
	if patch.IsEmpty() {
		respondOK(w, "successfully posted update", nil)
		return
	}

	actionType := actionTypeForPatch(req)
	actor := actorFromRequest(r)
	if _, err := d.Snapshots.Capture(ctx, svc, actionType, actor); err != nil {
		respondError(w, r, d.Logger, err)
		return
	}

	updated, err := d.Store.UpdateService(ctx, svc.ID, patch)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("update service", err))
		return
	}
	respondOK(w, "successfully posted update", updated)
}

func actionTypeForPatch(req patchServiceRequest) store.ActionType {
	switch {
	case req.Active != nil && !*req.Active:
		return store.ActionDeactivate
	case req.Active != nil && *req.Active:
		return store.ActionActivate
	case req.Muted != nil && *req.Muted:
		return store.ActionMute
	case req.Muted != nil && !*req.Muted:
		return store.ActionUnmute
	case req.Priority != nil:
		return store.ActionPriority
	case req.TeamID != nil:
		return store.ActionTeamChange
	default:
		return store.ActionEdit
	}
}

func actorFromRequest(r *http.Request) string {
	if id := httputil.GetAPIKeyID(r); id != "" {
		return id
	}
	return "api"
}
