package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/medicops/medic/infrastructure/errors"
	"github.com/medicops/medic/infrastructure/httputil"
	"github.com/medicops/medic/internal/jobrun"
)

const classJobs = "jobs"

// registerJobs wires GET /v2/jobs/{id}/stats (SPEC_FULL.md §6), surfacing
// internal/jobrun.Tracker.Statistics' duration percentiles.
func (d *Deps) registerJobs(r *mux.Router) {
	r.HandleFunc("/v2/jobs/{id}/stats", d.guard(classJobs, d.handleJobStatistics)).Methods(http.MethodGet)
}

func (d *Deps) handleJobStatistics(w http.ResponseWriter, r *http.Request) {
	serviceID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, r, d.Logger, errors.Validation("invalid service id"))
		return
	}
	minRuns := httputil.QueryInt(r, "min_runs", jobrun.DefaultMinRuns)
	maxRuns := httputil.QueryInt(r, "max_runs", jobrun.DefaultMaxRuns)

	stats, err := d.Jobs.Statistics(r.Context(), serviceID, minRuns, maxRuns)
	if err != nil {
		respondError(w, r, d.Logger, errors.Transient("job statistics", err))
		return
	}
	respondOK(w, "", stats)
}
