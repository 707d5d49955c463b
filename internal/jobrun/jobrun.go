// Package jobrun correlates START/COMPLETE/FAIL heartbeat signals into job
// runs, computes duration statistics, and detects stale (hung) runs
// (spec.md §4.10, grounded on original_source/Medic/Core/job_runs.py).
package jobrun

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/medicops/medic/internal/clock"
	"github.com/medicops/medic/internal/store"
)

// DefaultMinRuns and DefaultMaxRuns bound get_duration_statistics.
const (
	DefaultMinRuns = 5
	DefaultMaxRuns = 100
)

// AlertType distinguishes a duration-threshold breach from a stale (still
// running, past max_duration_ms) job.
type AlertType string

const (
	AlertExceeded AlertType = "exceeded"
	AlertStale    AlertType = "stale"
)

// DurationAlert is emitted when a job run's duration (or elapsed time, for
// a still-running stale run) breaches the owning service's max_duration_ms.
// It is a signal, not a persisted row — the caller (the monitor loop) routes
// it to the alert pipeline.
type DurationAlert struct {
	ServiceID     int64
	ServiceName   string
	RunID         string
	AlertType     AlertType
	DurationMs    int64
	MaxDurationMs int64
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// DurationStatistics summarizes a service's completed-run durations.
// When fewer than min_runs completed runs with a duration are available,
// RunCount is the number of runs found and every duration field is zero.
type DurationStatistics struct {
	ServiceID     int64
	RunCount      int
	AvgDurationMs float64
	P50DurationMs int64
	P95DurationMs int64
	P99DurationMs int64
	MinDurationMs int64
	MaxDurationMs int64
}

// Tracker implements the job-run tracking operations over a Store.
type Tracker struct {
	store store.Store
	clock clock.Clock
}

// New builds a Tracker backed by st, reading the current time from c.
func New(st store.Store, c clock.Clock) *Tracker {
	return &Tracker{store: st, clock: c}
}

// RecordStart records the start of a job run. A duplicate (service_id,
// run_id) is not an error: it returns created=false with the zero JobRun.
func (t *Tracker) RecordStart(ctx context.Context, serviceID int64, runID string, startedAt *time.Time) (store.JobRun, bool, error) {
	at := t.clock.Now()
	if startedAt != nil {
		at = *startedAt
	}
	run, created, err := t.store.InsertJobRunStarted(ctx, store.JobRun{
		ServiceID: serviceID,
		RunID:     runID,
		StartedAt: at,
		Status:    store.JobStarted,
	})
	if err != nil {
		return store.JobRun{}, false, fmt.Errorf("record job start: %w", err)
	}
	return run, created, nil
}

// RecordCompletion records the completion of a job run with status
// COMPLETED or FAILED. If a STARTED row exists it is updated with
// duration_ms = completed_at - started_at; otherwise a completion-only row
// is inserted with duration_ms = 0 and started_at = completed_at (spec.md
// §4.10 and §9's documented zero-duration quirk — preserved, not "fixed").
// When maxDurationMs is set and the resulting duration exceeds it, an
// "exceeded" DurationAlert is returned alongside the run.
func (t *Tracker) RecordCompletion(ctx context.Context, serviceID int64, runID string, status store.JobStatus, completedAt *time.Time, serviceName string, maxDurationMs *int64) (store.JobRun, *DurationAlert, error) {
	if status != store.JobCompleted && status != store.JobFailed {
		return store.JobRun{}, nil, fmt.Errorf("invalid completion status: %s", status)
	}

	at := t.clock.Now()
	if completedAt != nil {
		at = *completedAt
	}

	existing, found, err := t.store.GetJobRun(ctx, serviceID, runID)
	if err != nil {
		return store.JobRun{}, nil, fmt.Errorf("record job completion: %w", err)
	}

	var run store.JobRun
	if found && existing.Status == store.JobStarted {
		durationMs := at.Sub(existing.StartedAt).Milliseconds()
		if durationMs < 0 {
			durationMs = 0
		}
		updated, ok, err := t.store.UpdateJobRunCompletion(ctx, serviceID, runID, status, at, durationMs)
		if err != nil {
			return store.JobRun{}, nil, fmt.Errorf("record job completion: %w", err)
		}
		if !ok {
			return store.JobRun{}, nil, fmt.Errorf("record job completion: started run for service %d run %q vanished before update", serviceID, runID)
		}
		run = updated
	} else {
		inserted, err := t.store.InsertCompletionOnlyJobRun(ctx, store.JobRun{
			ServiceID:   serviceID,
			RunID:       runID,
			StartedAt:   at,
			CompletedAt: &at,
			DurationMs:  int64Ptr(0),
			Status:      status,
		})
		if err != nil {
			return store.JobRun{}, nil, fmt.Errorf("record job completion: %w", err)
		}
		run = inserted
	}

	alert := checkDurationThreshold(run, serviceName, maxDurationMs)
	return run, alert, nil
}

// checkDurationThreshold reports an "exceeded" alert when the run's
// duration is known and breaches maxDurationMs.
func checkDurationThreshold(run store.JobRun, serviceName string, maxDurationMs *int64) *DurationAlert {
	if run.DurationMs == nil || maxDurationMs == nil || *maxDurationMs <= 0 {
		return nil
	}
	if *run.DurationMs <= *maxDurationMs {
		return nil
	}
	return &DurationAlert{
		ServiceID:     run.ServiceID,
		ServiceName:   serviceName,
		RunID:         run.RunID,
		AlertType:     AlertExceeded,
		DurationMs:    *run.DurationMs,
		MaxDurationMs: *maxDurationMs,
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
	}
}

// CheckStaleRuns finds STARTED runs whose elapsed time has exceeded their
// service's max_duration_ms, emits a "stale" DurationAlert for each, and
// marks each row STALE_ALERTED so it is not alerted again on the next pass.
// serviceNames resolves a service_id to its service name for the alert;
// a missing entry falls back to "unknown".
func (t *Tracker) CheckStaleRuns(ctx context.Context, serviceNames map[int64]string) ([]DurationAlert, error) {
	now := t.clock.Now()
	stale, err := t.store.StaleStartedJobRuns(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("check stale job runs: %w", err)
	}

	alerts := make([]DurationAlert, 0, len(stale))
	for _, run := range stale {
		name := serviceNames[run.ServiceID]
		if name == "" {
			name = "unknown"
		}
		elapsedMs := now.Sub(run.StartedAt).Milliseconds()

		if err := t.store.MarkJobRunStaleAlerted(ctx, run.ID); err != nil {
			return alerts, fmt.Errorf("mark job run %d stale-alerted: %w", run.ID, err)
		}

		alerts = append(alerts, DurationAlert{
			ServiceID:   run.ServiceID,
			ServiceName: name,
			RunID:       run.RunID,
			AlertType:   AlertStale,
			DurationMs:  elapsedMs,
			StartedAt:   run.StartedAt,
		})
	}
	return alerts, nil
}

// Statistics computes duration percentiles (linear interpolation) over a
// service's most recent completed runs. Fewer than minRuns (default
// DefaultMinRuns) completed runs yields a result with every duration field
// zero and RunCount set to the number of runs found.
func (t *Tracker) Statistics(ctx context.Context, serviceID int64, minRuns, maxRuns int) (DurationStatistics, error) {
	if minRuns <= 0 {
		minRuns = DefaultMinRuns
	}
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}

	durations, err := t.store.CompletedDurations(ctx, serviceID, maxRuns)
	if err != nil {
		return DurationStatistics{}, fmt.Errorf("duration statistics: %w", err)
	}
	if len(durations) < minRuns {
		return DurationStatistics{ServiceID: serviceID, RunCount: len(durations)}, nil
	}

	sorted := append([]int64(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, d := range sorted {
		sum += d
	}
	n := len(sorted)

	return DurationStatistics{
		ServiceID:     serviceID,
		RunCount:      n,
		AvgDurationMs: float64(sum) / float64(n),
		P50DurationMs: percentile(sorted, 50),
		P95DurationMs: percentile(sorted, 95),
		P99DurationMs: percentile(sorted, 99),
		MinDurationMs: sorted[0],
		MaxDurationMs: sorted[n-1],
	}, nil
}

// percentile computes the p-th percentile of sorted (ascending) data using
// linear interpolation between the floor and ceiling ranks, matching the
// teacher's numpy-equivalent algorithm.
func percentile(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	k := float64(n-1) * (p / 100.0)
	f := int(k)
	c := f + 1
	if c >= n {
		c = f
	}
	if f == c {
		return sorted[f]
	}

	d := k - float64(f)
	return int64(float64(sorted[f])*(1-d) + float64(sorted[c])*d)
}

func int64Ptr(v int64) *int64 { return &v }
