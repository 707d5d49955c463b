package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/medicops/medic/infrastructure/errors"
	"github.com/medicops/medic/infrastructure/httputil"
	"github.com/medicops/medic/internal/playbook"
	"github.com/medicops/medic/internal/store"
)

const classPlaybooks = "playbooks"

// registerPlaybooks wires the playbook and execution surface supplemented
// in SPEC_FULL.md §6: GET/POST /v2/playbooks, GET/POST
// /v2/playbooks/{id}/executions, POST /v2/executions/{id}/approve,
// POST /v2/executions/{id}/cancel.
func (d *Deps) registerPlaybooks(r *mux.Router) {
	r.HandleFunc("/v2/playbooks", d.guard(classPlaybooks, d.handleListPlaybooks)).Methods(http.MethodGet)
	r.HandleFunc("/v2/playbooks", d.guard(classPlaybooks, d.handleCreatePlaybook)).Methods(http.MethodPost)
	r.HandleFunc("/v2/playbooks/{id}/executions", d.guard(classPlaybooks, d.handleListExecutions)).Methods(http.MethodGet)
	r.HandleFunc("/v2/playbooks/{id}/executions", d.guard(classPlaybooks, d.handleStartExecution)).Methods(http.MethodPost)
	r.HandleFunc("/v2/executions/{id}/approve", d.guard(classPlaybooks, d.handleApproveExecution)).Methods(http.MethodPost)
	r.HandleFunc("/v2/executions/{id}/cancel", d.guard(classPlaybooks, d.handleCancelExecution)).Methods(http.MethodPost)
}

func (d *Deps) handleListPlaybooks(w http.ResponseWriter, r *http.Request) {
	pbs, err := d.Store.ListPlaybooks(r.Context())
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("list playbooks", err))
		return
	}
	respondOK(w, "", pbs)
}

type createPlaybookRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	YAMLContent string `json:"yaml_content"`
}

func (d *Deps) handleCreatePlaybook(w http.ResponseWriter, r *http.Request) {
	var req createPlaybookRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.YAMLContent == "" {
		respondError(w, r, d.Logger, errors.Validation("name and yaml_content are required"))
		return
	}
	if _, err := playbook.Parse(req.YAMLContent); err != nil {
		respondError(w, r, d.Logger, errors.Wrap(errors.ErrCodeValidation, "invalid playbook yaml", err))
		return
	}

	pb, err := d.Store.CreatePlaybook(r.Context(), store.Playbook{
		Name:        req.Name,
		Description: req.Description,
		YAMLContent: req.YAMLContent,
		Version:     1,
	})
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("create playbook", err))
		return
	}
	respondCreated(w, "playbook created successfully", pb)
}

func (d *Deps) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	playbookID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, r, d.Logger, errors.Validation("invalid playbook id"))
		return
	}

	execs, err := d.Store.ListActiveExecutions(r.Context())
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("list executions", err))
		return
	}
	filtered := make([]store.PlaybookExecution, 0, len(execs))
	for _, e := range execs {
		if e.PlaybookID == playbookID {
			filtered = append(filtered, e)
		}
	}
	respondOK(w, "", filtered)
}

type startExecutionRequest struct {
	ServiceID           *int64            `json:"service_id,omitempty"`
	ServiceName         string            `json:"service_name,omitempty"`
	AlertContext        map[string]string `json:"alert_context,omitempty"`
	AlertID             *int64            `json:"alert_id,omitempty"`
	ConsecutiveFailures int               `json:"consecutive_failures,omitempty"`
	TriggerID           *int64            `json:"trigger_id,omitempty"`
}

func (d *Deps) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	playbookID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, r, d.Logger, errors.Validation("invalid playbook id"))
		return
	}

	ctx := r.Context()
	pb, found, err := d.Store.GetPlaybook(ctx, playbookID)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("get playbook", err))
		return
	}
	if !found {
		respondError(w, r, d.Logger, errors.NotFound("playbook", mux.Vars(r)["id"]))
		return
	}

	def, err := playbook.Parse(pb.YAMLContent)
	if err != nil {
		respondError(w, r, d.Logger, errors.Wrap(errors.ErrCodeValidation, "stored playbook yaml is invalid", err))
		return
	}

	var req startExecutionRequest
	if !httputil.DecodeJSONOptional(w, r, &req) {
		return
	}

	exec, err := d.Playbooks.Start(ctx, pb, def, req.ServiceID, req.ServiceName, req.AlertContext, req.AlertID, req.ConsecutiveFailures, req.TriggerID)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("start execution", err))
		return
	}
	respondCreated(w, "playbook execution started", exec)
}

func (d *Deps) loadExecutionAndDefinition(r *http.Request) (store.PlaybookExecution, playbook.Definition, error) {
	ctx := r.Context()
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return store.PlaybookExecution{}, playbook.Definition{}, errors.Validation("invalid execution id")
	}
	exec, found, err := d.Store.GetExecution(ctx, id)
	if err != nil {
		return store.PlaybookExecution{}, playbook.Definition{}, errors.Transient("get execution", err)
	}
	if !found {
		return store.PlaybookExecution{}, playbook.Definition{}, errors.NotFound("execution", mux.Vars(r)["id"])
	}
	pb, found, err := d.Store.GetPlaybook(ctx, exec.PlaybookID)
	if err != nil {
		return store.PlaybookExecution{}, playbook.Definition{}, errors.Transient("get playbook", err)
	}
	if !found {
		return store.PlaybookExecution{}, playbook.Definition{}, errors.NotFound("playbook", strconv.FormatInt(exec.PlaybookID, 10))
	}
	def, err := playbook.Parse(pb.YAMLContent)
	if err != nil {
		return store.PlaybookExecution{}, playbook.Definition{}, errors.Wrap(errors.ErrCodeValidation, "stored playbook yaml is invalid", err)
	}
	return exec, def, nil
}

func (d *Deps) handleApproveExecution(w http.ResponseWriter, r *http.Request) {
	exec, def, err := d.loadExecutionAndDefinition(r)
	if err != nil {
		respondError(w, r, d.Logger, err)
		return
	}
	exec, err = d.Playbooks.Approve(r.Context(), exec, def)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("approve execution", err))
		return
	}
	respondOK(w, "execution approved", exec)
}

func (d *Deps) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	exec, _, err := d.loadExecutionAndDefinition(r)
	if err != nil {
		respondError(w, r, d.Logger, err)
		return
	}
	exec, err = d.Playbooks.Cancel(r.Context(), exec)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("cancel execution", err))
		return
	}
	respondOK(w, "execution cancelled", exec)
}
