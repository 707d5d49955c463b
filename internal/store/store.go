package store

import (
	"context"
	"time"
)

// ServiceFilter narrows ListServices.
type ServiceFilter struct {
	ServiceName string
	ActiveOnly  *bool
}

// SnapshotFilter narrows ListSnapshots.
type SnapshotFilter struct {
	ServiceID  *int64
	ActionType *ActionType
	Start      *time.Time
	End        *time.Time
	Limit      int
	Offset     int
}

// Store is the typed persistence surface every Medic component is built on.
// The core treats the relational store as an opaque transactional row store;
// this interface is the small set of operations it is allowed to perform
// (spec.md §6's "Store operations" contract, expanded into Go method shape).
type Store interface {
	// Services
	CreateService(ctx context.Context, svc Service) (Service, error)
	GetServiceByHeartbeatName(ctx context.Context, heartbeatName string) (Service, bool, error)
	GetServiceByID(ctx context.Context, id int64) (Service, bool, error)
	ListServices(ctx context.Context, filter ServiceFilter) ([]Service, error)
	ListActiveMonitorableServices(ctx context.Context) ([]Service, error)
	UpdateService(ctx context.Context, id int64, patch ServicePatch) (Service, error)
	ReplaceService(ctx context.Context, svc Service) error

	// Heartbeats
	RecordHeartbeat(ctx context.Context, event HeartbeatEvent) (HeartbeatEvent, error)
	RecentHeartbeats(ctx context.Context, serviceID int64, maxCount int) ([]HeartbeatEvent, error)
	LastHeartbeatTime(ctx context.Context, serviceID int64) (time.Time, bool, error)
	CountHeartbeatsSince(ctx context.Context, serviceID int64, since time.Time) (int, error)
	CountHeartbeatsSinceWithStatus(ctx context.Context, serviceID int64, since time.Time, status HeartbeatStatus) (int, error)

	// Alerts
	GetActiveAlert(ctx context.Context, serviceID int64) (Alert, bool, error)
	CreateAlert(ctx context.Context, alert Alert) (Alert, error)
	IncrementAlertCycle(ctx context.Context, alertID int64) (Alert, error)
	SetAlertExternalReference(ctx context.Context, alertID int64, externalRef string) error
	CloseAlert(ctx context.Context, alertID int64, closedAt time.Time) error
	ListAlerts(ctx context.Context, activeOnly bool, limit int) ([]Alert, error)

	// Job runs
	GetJobRun(ctx context.Context, serviceID int64, runID string) (JobRun, bool, error)
	InsertJobRunStarted(ctx context.Context, run JobRun) (JobRun, bool, error)
	UpdateJobRunCompletion(ctx context.Context, serviceID int64, runID string, status JobStatus, completedAt time.Time, durationMs int64) (JobRun, bool, error)
	InsertCompletionOnlyJobRun(ctx context.Context, run JobRun) (JobRun, error)
	CompletedDurations(ctx context.Context, serviceID int64, maxRuns int) ([]int64, error)
	StaleStartedJobRuns(ctx context.Context, now time.Time) ([]JobRun, error)
	MarkJobRunStaleAlerted(ctx context.Context, id int64) error

	// Playbooks
	GetPlaybook(ctx context.Context, id int64) (Playbook, bool, error)
	CreatePlaybook(ctx context.Context, pb Playbook) (Playbook, error)
	ListPlaybooks(ctx context.Context) ([]Playbook, error)
	GetRegisteredScript(ctx context.Context, name string) (RegisteredScript, bool, error)
	ListPlaybookTriggers(ctx context.Context) ([]PlaybookTrigger, error)

	// Playbook executions
	CreateExecution(ctx context.Context, exec PlaybookExecution) (PlaybookExecution, error)
	GetExecution(ctx context.Context, id int64) (PlaybookExecution, bool, error)
	UpdateExecution(ctx context.Context, exec PlaybookExecution) error
	ListActiveExecutions(ctx context.Context) ([]PlaybookExecution, error)
	CountExecutionsSince(ctx context.Context, serviceID int64, since time.Time) (int, error)
	UpsertStepResult(ctx context.Context, sr StepResult) (StepResult, error)
	ListStepResults(ctx context.Context, executionID int64) ([]StepResult, error)

	// Secrets
	GetSecret(ctx context.Context, name string) (Secret, bool, error)
	PutSecret(ctx context.Context, secret Secret) error

	// Webhooks
	GetWebhook(ctx context.Context, id int64) (Webhook, bool, error)
	ListEnabledWebhooks(ctx context.Context, serviceID *int64) ([]Webhook, error)
	CreateDelivery(ctx context.Context, d WebhookDelivery) (WebhookDelivery, error)
	UpdateDelivery(ctx context.Context, d WebhookDelivery) error

	// Maintenance windows
	ListMaintenanceWindows(ctx context.Context) ([]MaintenanceWindow, error)
	CreateMaintenanceWindow(ctx context.Context, w MaintenanceWindow) (MaintenanceWindow, error)

	// Notification targets
	ListNotificationTargets(ctx context.Context, serviceID int64) ([]NotificationTarget, error)
	CreateNotificationTarget(ctx context.Context, t NotificationTarget) (NotificationTarget, error)

	// Teams
	GetTeam(ctx context.Context, id int64) (Team, bool, error)

	// Snapshots
	CreateSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error)
	GetSnapshot(ctx context.Context, id int64) (Snapshot, bool, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]Snapshot, error)
	MarkSnapshotRestored(ctx context.Context, id int64, restoredAt time.Time) error

	// API keys
	GetAPIKeyByHash(ctx context.Context, lookupHash string) (APIKey, bool, error)
	CreateAPIKey(ctx context.Context, key APIKey) (APIKey, error)
}
