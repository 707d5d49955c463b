package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medicops/medic/internal/store"
)

// fakeStore is an in-memory store.Store used across internal/api's handler
// tests. It mirrors the minimal fakes used in the domain packages' own test
// files (see e.g. internal/jobrun/jobrun_test.go), sized to cover every
// method the HTTP layer can reach rather than just one package's surface.
type fakeStore struct {
	services    map[int64]store.Service
	heartbeats  []store.HeartbeatEvent
	alerts      map[int64]store.Alert
	jobRuns     map[string]store.JobRun
	playbooks   map[int64]store.Playbook
	executions  map[int64]store.PlaybookExecution
	secrets     map[string]store.Secret
	webhooks    map[int64]store.Webhook
	windows     []store.MaintenanceWindow
	targets     []store.NotificationTarget
	teams       map[int64]store.Team
	snapshots   map[int64]store.Snapshot
	apiKeys     map[string]store.APIKey
	nextID      int64
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		services:   map[int64]store.Service{},
		alerts:     map[int64]store.Alert{},
		jobRuns:    map[string]store.JobRun{},
		playbooks:  map[int64]store.Playbook{},
		executions: map[int64]store.PlaybookExecution{},
		secrets:    map[string]store.Secret{},
		webhooks:   map[int64]store.Webhook{},
		teams:      map[int64]store.Team{},
		snapshots:  map[int64]store.Snapshot{},
		apiKeys:    map[string]store.APIKey{},
	}
}

func (f *fakeStore) newID() int64 {
	f.nextID++
	return f.nextID
}

// Services

func (f *fakeStore) CreateService(ctx context.Context, svc store.Service) (store.Service, error) {
	svc.ID = f.newID()
	f.services[svc.ID] = svc
	return svc, nil
}

func (f *fakeStore) GetServiceByHeartbeatName(ctx context.Context, heartbeatName string) (store.Service, bool, error) {
	for _, svc := range f.services {
		if svc.HeartbeatName == heartbeatName {
			return svc, true, nil
		}
	}
	return store.Service{}, false, nil
}

func (f *fakeStore) GetServiceByID(ctx context.Context, id int64) (store.Service, bool, error) {
	svc, ok := f.services[id]
	return svc, ok, nil
}

func (f *fakeStore) ListServices(ctx context.Context, filter store.ServiceFilter) ([]store.Service, error) {
	var out []store.Service
	for _, svc := range f.services {
		if filter.ServiceName != "" && svc.ServiceName != filter.ServiceName {
			continue
		}
		if filter.ActiveOnly != nil && svc.Active != *filter.ActiveOnly {
			continue
		}
		out = append(out, svc)
	}
	return out, nil
}

func (f *fakeStore) ListActiveMonitorableServices(ctx context.Context) ([]store.Service, error) {
	var out []store.Service
	for _, svc := range f.services {
		if svc.Active {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateService(ctx context.Context, id int64, patch store.ServicePatch) (store.Service, error) {
	svc, ok := f.services[id]
	if !ok {
		return store.Service{}, errors.New("service not found")
	}
	svc = patch.Apply(svc)
	f.services[id] = svc
	return svc, nil
}

func (f *fakeStore) ReplaceService(ctx context.Context, svc store.Service) error {
	f.services[svc.ID] = svc
	return nil
}

// Heartbeats

func (f *fakeStore) RecordHeartbeat(ctx context.Context, event store.HeartbeatEvent) (store.HeartbeatEvent, error) {
	event.ID = f.newID()
	f.heartbeats = append(f.heartbeats, event)
	return event, nil
}

func (f *fakeStore) RecentHeartbeats(ctx context.Context, serviceID int64, maxCount int) ([]store.HeartbeatEvent, error) {
	var out []store.HeartbeatEvent
	for i := len(f.heartbeats) - 1; i >= 0 && len(out) < maxCount; i-- {
		if serviceID == 0 || f.heartbeats[i].ServiceID == serviceID {
			out = append(out, f.heartbeats[i])
		}
	}
	return out, nil
}

func (f *fakeStore) LastHeartbeatTime(ctx context.Context, serviceID int64) (time.Time, bool, error) {
	for i := len(f.heartbeats) - 1; i >= 0; i-- {
		if f.heartbeats[i].ServiceID == serviceID {
			return f.heartbeats[i].Time, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (f *fakeStore) CountHeartbeatsSince(ctx context.Context, serviceID int64, since time.Time) (int, error) {
	count := 0
	for _, e := range f.heartbeats {
		if e.ServiceID == serviceID && !e.Time.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) CountHeartbeatsSinceWithStatus(ctx context.Context, serviceID int64, since time.Time, status store.HeartbeatStatus) (int, error) {
	count := 0
	for _, e := range f.heartbeats {
		if e.ServiceID == serviceID && !e.Time.Before(since) && e.Status == status {
			count++
		}
	}
	return count, nil
}

// Alerts

func (f *fakeStore) GetActiveAlert(ctx context.Context, serviceID int64) (store.Alert, bool, error) {
	for _, a := range f.alerts {
		if a.ServiceID == serviceID && a.Active {
			return a, true, nil
		}
	}
	return store.Alert{}, false, nil
}

func (f *fakeStore) CreateAlert(ctx context.Context, alert store.Alert) (store.Alert, error) {
	alert.ID = f.newID()
	f.alerts[alert.ID] = alert
	return alert, nil
}

func (f *fakeStore) IncrementAlertCycle(ctx context.Context, alertID int64) (store.Alert, error) {
	a := f.alerts[alertID]
	a.AlertCycle++
	f.alerts[alertID] = a
	return a, nil
}

func (f *fakeStore) SetAlertExternalReference(ctx context.Context, alertID int64, externalRef string) error {
	a := f.alerts[alertID]
	a.ExternalReferenceID = &externalRef
	f.alerts[alertID] = a
	return nil
}

func (f *fakeStore) CloseAlert(ctx context.Context, alertID int64, closedAt time.Time) error {
	a := f.alerts[alertID]
	a.Active = false
	a.ClosedDate = &closedAt
	f.alerts[alertID] = a
	return nil
}

func (f *fakeStore) ListAlerts(ctx context.Context, activeOnly bool, limit int) ([]store.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []store.Alert
	for _, a := range f.alerts {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, a)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Job runs

func (f *fakeStore) GetJobRun(ctx context.Context, serviceID int64, runID string) (store.JobRun, bool, error) {
	run, ok := f.jobRuns[jobRunKey(serviceID, runID)]
	return run, ok, nil
}

func (f *fakeStore) InsertJobRunStarted(ctx context.Context, run store.JobRun) (store.JobRun, bool, error) {
	key := jobRunKey(run.ServiceID, run.RunID)
	if _, exists := f.jobRuns[key]; exists {
		return store.JobRun{}, false, nil
	}
	run.ID = f.newID()
	f.jobRuns[key] = run
	return run, true, nil
}

func (f *fakeStore) UpdateJobRunCompletion(ctx context.Context, serviceID int64, runID string, status store.JobStatus, completedAt time.Time, durationMs int64) (store.JobRun, bool, error) {
	key := jobRunKey(serviceID, runID)
	run, ok := f.jobRuns[key]
	if !ok {
		return store.JobRun{}, false, nil
	}
	run.Status = status
	run.CompletedAt = &completedAt
	run.DurationMs = &durationMs
	f.jobRuns[key] = run
	return run, true, nil
}

func (f *fakeStore) InsertCompletionOnlyJobRun(ctx context.Context, run store.JobRun) (store.JobRun, error) {
	run.ID = f.newID()
	f.jobRuns[jobRunKey(run.ServiceID, run.RunID)] = run
	return run, nil
}

func (f *fakeStore) CompletedDurations(ctx context.Context, serviceID int64, maxRuns int) ([]int64, error) {
	var out []int64
	for _, run := range f.jobRuns {
		if run.ServiceID == serviceID && run.DurationMs != nil {
			out = append(out, *run.DurationMs)
		}
		if len(out) >= maxRuns {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) StaleStartedJobRuns(ctx context.Context, now time.Time) ([]store.JobRun, error) {
	return nil, nil
}

func (f *fakeStore) MarkJobRunStaleAlerted(ctx context.Context, id int64) error {
	return nil
}

func jobRunKey(serviceID int64, runID string) string {
	return fmt.Sprintf("%d/%s", serviceID, runID)
}

// Playbooks

func (f *fakeStore) GetPlaybook(ctx context.Context, id int64) (store.Playbook, bool, error) {
	pb, ok := f.playbooks[id]
	return pb, ok, nil
}

func (f *fakeStore) CreatePlaybook(ctx context.Context, pb store.Playbook) (store.Playbook, error) {
	pb.ID = f.newID()
	f.playbooks[pb.ID] = pb
	return pb, nil
}

func (f *fakeStore) ListPlaybooks(ctx context.Context) ([]store.Playbook, error) {
	var out []store.Playbook
	for _, pb := range f.playbooks {
		out = append(out, pb)
	}
	return out, nil
}

func (f *fakeStore) GetRegisteredScript(ctx context.Context, name string) (store.RegisteredScript, bool, error) {
	return store.RegisteredScript{}, false, nil
}

func (f *fakeStore) ListPlaybookTriggers(ctx context.Context) ([]store.PlaybookTrigger, error) {
	return nil, nil
}

// Playbook executions

func (f *fakeStore) CreateExecution(ctx context.Context, exec store.PlaybookExecution) (store.PlaybookExecution, error) {
	exec.ID = f.newID()
	f.executions[exec.ID] = exec
	return exec, nil
}

func (f *fakeStore) GetExecution(ctx context.Context, id int64) (store.PlaybookExecution, bool, error) {
	exec, ok := f.executions[id]
	return exec, ok, nil
}

func (f *fakeStore) UpdateExecution(ctx context.Context, exec store.PlaybookExecution) error {
	f.executions[exec.ID] = exec
	return nil
}

func (f *fakeStore) ListActiveExecutions(ctx context.Context) ([]store.PlaybookExecution, error) {
	var out []store.PlaybookExecution
	for _, e := range f.executions {
		if e.Status.IsActive() || e.Status == store.ExecutionPendingApproval {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) CountExecutionsSince(ctx context.Context, serviceID int64, since time.Time) (int, error) {
	return 0, nil
}

func (f *fakeStore) UpsertStepResult(ctx context.Context, sr store.StepResult) (store.StepResult, error) {
	return sr, nil
}

func (f *fakeStore) ListStepResults(ctx context.Context, executionID int64) ([]store.StepResult, error) {
	return nil, nil
}

// Secrets

func (f *fakeStore) GetSecret(ctx context.Context, name string) (store.Secret, bool, error) {
	s, ok := f.secrets[name]
	return s, ok, nil
}

func (f *fakeStore) PutSecret(ctx context.Context, secret store.Secret) error {
	f.secrets[secret.Name] = secret
	return nil
}

// Webhooks

func (f *fakeStore) GetWebhook(ctx context.Context, id int64) (store.Webhook, bool, error) {
	wh, ok := f.webhooks[id]
	return wh, ok, nil
}

func (f *fakeStore) ListEnabledWebhooks(ctx context.Context, serviceID *int64) ([]store.Webhook, error) {
	return nil, nil
}

func (f *fakeStore) CreateDelivery(ctx context.Context, d store.WebhookDelivery) (store.WebhookDelivery, error) {
	d.ID = f.newID()
	return d, nil
}

func (f *fakeStore) UpdateDelivery(ctx context.Context, d store.WebhookDelivery) error {
	return nil
}

// Maintenance windows

func (f *fakeStore) ListMaintenanceWindows(ctx context.Context) ([]store.MaintenanceWindow, error) {
	return f.windows, nil
}

func (f *fakeStore) CreateMaintenanceWindow(ctx context.Context, w store.MaintenanceWindow) (store.MaintenanceWindow, error) {
	w.ID = f.newID()
	f.windows = append(f.windows, w)
	return w, nil
}

// Notification targets

func (f *fakeStore) ListNotificationTargets(ctx context.Context, serviceID int64) ([]store.NotificationTarget, error) {
	var out []store.NotificationTarget
	for _, t := range f.targets {
		if t.ServiceID == serviceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateNotificationTarget(ctx context.Context, t store.NotificationTarget) (store.NotificationTarget, error) {
	t.ID = f.newID()
	f.targets = append(f.targets, t)
	return t, nil
}

// Teams

func (f *fakeStore) GetTeam(ctx context.Context, id int64) (store.Team, bool, error) {
	t, ok := f.teams[id]
	return t, ok, nil
}

// Snapshots

func (f *fakeStore) CreateSnapshot(ctx context.Context, snap store.Snapshot) (store.Snapshot, error) {
	snap.ID = f.newID()
	f.snapshots[snap.ID] = snap
	return snap, nil
}

func (f *fakeStore) GetSnapshot(ctx context.Context, id int64) (store.Snapshot, bool, error) {
	s, ok := f.snapshots[id]
	return s, ok, nil
}

func (f *fakeStore) ListSnapshots(ctx context.Context, filter store.SnapshotFilter) ([]store.Snapshot, error) {
	var out []store.Snapshot
	for _, s := range f.snapshots {
		if filter.ServiceID != nil && s.ServiceID != *filter.ServiceID {
			continue
		}
		if filter.ActionType != nil && s.ActionType != *filter.ActionType {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) MarkSnapshotRestored(ctx context.Context, id int64, restoredAt time.Time) error {
	s := f.snapshots[id]
	s.RestoredAt = &restoredAt
	f.snapshots[id] = s
	return nil
}

// API keys

func (f *fakeStore) GetAPIKeyByHash(ctx context.Context, lookupHash string) (store.APIKey, bool, error) {
	k, ok := f.apiKeys[lookupHash]
	return k, ok, nil
}

func (f *fakeStore) CreateAPIKey(ctx context.Context, key store.APIKey) (store.APIKey, error) {
	key.ID = f.newID()
	f.apiKeys[key.LookupHash] = key
	return key, nil
}
