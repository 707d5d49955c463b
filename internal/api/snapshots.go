package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/medicops/medic/infrastructure/errors"
	"github.com/medicops/medic/infrastructure/httputil"
	"github.com/medicops/medic/internal/store"
)

const classSnapshots = "snapshots"

// registerSnapshots wires the pre-mutation snapshot log surface supplemented
// in SPEC_FULL.md §6: GET /v2/snapshots, GET /v2/snapshots/{id},
// POST /v2/snapshots/{id}/restore.
func (d *Deps) registerSnapshots(r *mux.Router) {
	r.HandleFunc("/v2/snapshots", d.guard(classSnapshots, d.handleListSnapshots)).Methods(http.MethodGet)
	r.HandleFunc("/v2/snapshots/{id}", d.guard(classSnapshots, d.handleGetSnapshot)).Methods(http.MethodGet)
	r.HandleFunc("/v2/snapshots/{id}/restore", d.guard(classSnapshots, d.handleRestoreSnapshot)).Methods(http.MethodPost)
}

func (d *Deps) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SnapshotFilter{
		Limit:  httputil.QueryInt(r, "limit", 50),
		Offset: httputil.QueryInt(r, "offset", 0),
	}
	if raw := q.Get("service_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, r, d.Logger, errors.ValidationField("service_id", "must be an integer"))
			return
		}
		filter.ServiceID = &id
	}
	if raw := q.Get("action_type"); raw != "" {
		at := store.ActionType(raw)
		filter.ActionType = &at
	}
	if raw := q.Get("start_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, r, d.Logger, errors.ValidationField("start_date", "must be RFC3339"))
			return
		}
		filter.Start = &t
	}
	if raw := q.Get("end_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, r, d.Logger, errors.ValidationField("end_date", "must be RFC3339"))
			return
		}
		filter.End = &t
	}

	snaps, err := d.Snapshots.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("list snapshots", err))
		return
	}
	respondOK(w, "", snaps)
}

func (d *Deps) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, r, d.Logger, errors.Validation("invalid snapshot id"))
		return
	}
	snap, found, err := d.Snapshots.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("get snapshot", err))
		return
	}
	if !found {
		respondError(w, r, d.Logger, errors.NotFound("snapshot", mux.Vars(r)["id"]))
		return
	}
	respondOK(w, "", snap)
}

func (d *Deps) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, r, d.Logger, errors.Validation("invalid snapshot id"))
		return
	}
	svc, err := d.Snapshots.Restore(r.Context(), id)
	if err != nil {
		respondError(w, r, d.Logger, err)
		return
	}
	respondOK(w, "snapshot restored", svc)
}
