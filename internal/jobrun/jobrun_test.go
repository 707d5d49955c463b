package jobrun

import (
	"context"
	"testing"
	"time"

	"github.com/medicops/medic/internal/clock"
	"github.com/medicops/medic/internal/store"
)

type fakeStore struct {
	store.Store
	started          map[string]store.JobRun
	completionOnly   []store.JobRun
	durations        []int64
	stale            []store.JobRun
	staleAlertedIDs  []int64
	nextID           int64
}

func key(serviceID int64, runID string) string {
	return runID
}

func newFakeStore() *fakeStore {
	return &fakeStore{started: make(map[string]store.JobRun)}
}

func (f *fakeStore) InsertJobRunStarted(ctx context.Context, run store.JobRun) (store.JobRun, bool, error) {
	k := key(run.ServiceID, run.RunID)
	if _, exists := f.started[k]; exists {
		return store.JobRun{}, false, nil
	}
	f.nextID++
	run.ID = f.nextID
	f.started[k] = run
	return run, true, nil
}

func (f *fakeStore) GetJobRun(ctx context.Context, serviceID int64, runID string) (store.JobRun, bool, error) {
	run, ok := f.started[key(serviceID, runID)]
	return run, ok, nil
}

func (f *fakeStore) UpdateJobRunCompletion(ctx context.Context, serviceID int64, runID string, status store.JobStatus, completedAt time.Time, durationMs int64) (store.JobRun, bool, error) {
	k := key(serviceID, runID)
	run, ok := f.started[k]
	if !ok || run.Status != store.JobStarted {
		return store.JobRun{}, false, nil
	}
	run.CompletedAt = &completedAt
	run.DurationMs = &durationMs
	run.Status = status
	f.started[k] = run
	return run, true, nil
}

func (f *fakeStore) InsertCompletionOnlyJobRun(ctx context.Context, run store.JobRun) (store.JobRun, error) {
	f.nextID++
	run.ID = f.nextID
	f.completionOnly = append(f.completionOnly, run)
	return run, nil
}

func (f *fakeStore) CompletedDurations(ctx context.Context, serviceID int64, maxRuns int) ([]int64, error) {
	if len(f.durations) > maxRuns {
		return f.durations[:maxRuns], nil
	}
	return f.durations, nil
}

func (f *fakeStore) StaleStartedJobRuns(ctx context.Context, now time.Time) ([]store.JobRun, error) {
	return f.stale, nil
}

func (f *fakeStore) MarkJobRunStaleAlerted(ctx context.Context, id int64) error {
	f.staleAlertedIDs = append(f.staleAlertedIDs, id)
	return nil
}

func TestRecordStartThenDuplicateIsNotError(t *testing.T) {
	fs := newFakeStore()
	tr := New(fs, clock.Real{})

	_, created, err := tr.RecordStart(context.Background(), 1, "run-1", nil)
	if err != nil || !created {
		t.Fatalf("first start: created=%v err=%v", created, err)
	}

	_, created, err = tr.RecordStart(context.Background(), 1, "run-1", nil)
	if err != nil {
		t.Fatalf("duplicate start returned error: %v", err)
	}
	if created {
		t.Fatal("duplicate start should not be created")
	}
}

func TestRecordCompletionUpdatesStartedRunWithDuration(t *testing.T) {
	fs := newFakeStore()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	frozen := &clock.Frozen{At: start}
	tr := New(fs, frozen)

	_, _, err := tr.RecordStart(context.Background(), 1, "run-1", &start)
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}

	completedAt := start.Add(2500 * time.Millisecond)
	run, alert, err := tr.RecordCompletion(context.Background(), 1, "run-1", store.JobCompleted, &completedAt, "checkout-api", nil)
	if err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if run.DurationMs == nil || *run.DurationMs != 2500 {
		t.Errorf("duration_ms = %v, want 2500", run.DurationMs)
	}
	if alert != nil {
		t.Errorf("expected no alert without a threshold, got %+v", alert)
	}
}

func TestRecordCompletionWithoutStartedRowIsZeroDuration(t *testing.T) {
	fs := newFakeStore()
	tr := New(fs, clock.Real{})

	run, _, err := tr.RecordCompletion(context.Background(), 1, "orphan", store.JobFailed, nil, "checkout-api", nil)
	if err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if run.DurationMs == nil || *run.DurationMs != 0 {
		t.Errorf("duration_ms = %v, want 0 for completion-only row", run.DurationMs)
	}
	if run.StartedAt != *run.CompletedAt {
		t.Error("completion-only row should set started_at = completed_at")
	}
}

func TestRecordCompletionRejectsInvalidStatus(t *testing.T) {
	fs := newFakeStore()
	tr := New(fs, clock.Real{})

	_, _, err := tr.RecordCompletion(context.Background(), 1, "run-1", store.JobStarted, nil, "svc", nil)
	if err == nil {
		t.Fatal("expected error for non-terminal completion status")
	}
}

func TestRecordCompletionEmitsExceededAlert(t *testing.T) {
	fs := newFakeStore()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := New(fs, &clock.Frozen{At: start})

	_, _, err := tr.RecordStart(context.Background(), 1, "slow-run", &start)
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}

	completedAt := start.Add(10 * time.Second)
	maxDuration := int64(5000)
	_, alert, err := tr.RecordCompletion(context.Background(), 1, "slow-run", store.JobCompleted, &completedAt, "checkout-api", &maxDuration)
	if err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if alert == nil {
		t.Fatal("expected an exceeded duration alert")
	}
	if alert.AlertType != AlertExceeded || alert.DurationMs != 10000 {
		t.Errorf("alert = %+v", alert)
	}
}

func TestCheckStaleRunsMarksAlertedAndReturnsAlerts(t *testing.T) {
	fs := newFakeStore()
	started := time.Now().Add(-time.Hour)
	fs.stale = []store.JobRun{
		{ID: 7, ServiceID: 3, RunID: "hung", StartedAt: started, Status: store.JobStarted},
	}
	tr := New(fs, clock.Real{})

	alerts, err := tr.CheckStaleRuns(context.Background(), map[int64]string{3: "checkout-api"})
	if err != nil {
		t.Fatalf("CheckStaleRuns: %v", err)
	}
	if len(alerts) != 1 || alerts[0].AlertType != AlertStale || alerts[0].ServiceName != "checkout-api" {
		t.Fatalf("alerts = %+v", alerts)
	}
	if len(fs.staleAlertedIDs) != 1 || fs.staleAlertedIDs[0] != 7 {
		t.Errorf("expected job run 7 marked stale-alerted, got %v", fs.staleAlertedIDs)
	}
}

func TestStatisticsBelowMinRunsIsEmpty(t *testing.T) {
	fs := newFakeStore()
	fs.durations = []int64{100, 200}
	tr := New(fs, clock.Real{})

	stats, err := tr.Statistics(context.Background(), 1, DefaultMinRuns, DefaultMaxRuns)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.RunCount != 2 || stats.P50DurationMs != 0 {
		t.Errorf("expected empty stats below min_runs, got %+v", stats)
	}
}

func TestStatisticsComputesPercentilesByLinearInterpolation(t *testing.T) {
	fs := newFakeStore()
	fs.durations = []int64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}
	tr := New(fs, clock.Real{})

	stats, err := tr.Statistics(context.Background(), 1, 5, 100)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.RunCount != 10 {
		t.Fatalf("run_count = %d, want 10", stats.RunCount)
	}
	if stats.MinDurationMs != 100 || stats.MaxDurationMs != 1000 {
		t.Errorf("min/max = %d/%d", stats.MinDurationMs, stats.MaxDurationMs)
	}
	if stats.P50DurationMs != 550 {
		t.Errorf("p50 = %d, want 550", stats.P50DurationMs)
	}
}

func TestPercentileSingleValue(t *testing.T) {
	if got := percentile([]int64{42}, 95); got != 42 {
		t.Errorf("percentile of single value = %d, want 42", got)
	}
}
