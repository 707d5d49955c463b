// Package store provides typed operations over Medic's persisted entities.
// It treats PostgreSQL as the backing row store; every entity in spec.md §3
// has a corresponding struct and CRUD surface here.
package store

import (
	"encoding/json"
	"time"
)

// Priority is a service's alert priority.
type Priority string

const (
	PriorityP1 Priority = "p1"
	PriorityP2 Priority = "p2"
	PriorityP3 Priority = "p3"
	PriorityP4 Priority = "p4"
)

// HeartbeatStatus is the status carried by a HeartbeatEvent.
type HeartbeatStatus string

const (
	HeartbeatUp        HeartbeatStatus = "UP"
	HeartbeatDown      HeartbeatStatus = "DOWN"
	HeartbeatStarted   HeartbeatStatus = "STARTED"
	HeartbeatCompleted HeartbeatStatus = "COMPLETED"
	HeartbeatFailed    HeartbeatStatus = "FAILED"
)

// JobStatus is the lifecycle status of a JobRun.
type JobStatus string

const (
	JobStarted      JobStatus = "STARTED"
	JobCompleted    JobStatus = "COMPLETED"
	JobFailed       JobStatus = "FAILED"
	JobStaleAlerted JobStatus = "STALE_ALERTED"
)

// ExecutionStatus is the lifecycle status of a PlaybookExecution.
type ExecutionStatus string

const (
	ExecutionPendingApproval ExecutionStatus = "pending_approval"
	ExecutionRunning         ExecutionStatus = "running"
	ExecutionWaiting         ExecutionStatus = "waiting"
	ExecutionCompleted       ExecutionStatus = "completed"
	ExecutionFailed          ExecutionStatus = "failed"
	ExecutionCancelled       ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the execution status is a terminal state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// IsActive reports whether the execution status can still make progress.
func (s ExecutionStatus) IsActive() bool {
	return s == ExecutionRunning || s == ExecutionWaiting
}

// StepStatus is the lifecycle status of a StepResult.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// DeliveryStatus is the lifecycle status of a WebhookDelivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryRetrying  DeliveryStatus = "retrying"
	DeliverySuccess   DeliveryStatus = "success"
	DeliveryFailed    DeliveryStatus = "failed"
)

// NotificationPeriod controls when a NotificationTarget is eligible.
type NotificationPeriod string

const (
	PeriodAlways       NotificationPeriod = "always"
	PeriodDuringHours  NotificationPeriod = "during_hours"
	PeriodAfterHours   NotificationPeriod = "after_hours"
)

// NotificationType identifies a NotificationTarget's delivery mechanism.
type NotificationType string

const (
	NotificationSlack     NotificationType = "slack"
	NotificationPagerDuty NotificationType = "pagerduty"
	NotificationWebhook   NotificationType = "webhook"
)

// ActionType classifies a Snapshot's triggering mutation.
type ActionType string

const (
	ActionDeactivate   ActionType = "deactivate"
	ActionActivate     ActionType = "activate"
	ActionMute         ActionType = "mute"
	ActionUnmute       ActionType = "unmute"
	ActionEdit         ActionType = "edit"
	ActionBulkEdit     ActionType = "bulk_edit"
	ActionPriority     ActionType = "priority_change"
	ActionTeamChange   ActionType = "team_change"
	ActionDelete       ActionType = "delete"
)

// Team backs the legacy team→Slack notification fallback (spec.md §4.2).
type Team struct {
	ID             int64     `db:"id"`
	Name           string    `db:"name"`
	SlackChannelID string    `db:"slack_channel_id"`
	CreatedAt      time.Time `db:"created_at"`
}

// Service is a registered, monitored service.
type Service struct {
	ID                 int64     `db:"id"`
	HeartbeatName      string    `db:"heartbeat_name"`
	ServiceName        string    `db:"service_name"`
	Active             bool      `db:"active"`
	Muted              bool      `db:"muted"`
	Down               bool      `db:"down"`
	AlertIntervalMin   int       `db:"alert_interval"`
	Threshold          int       `db:"threshold"`
	GracePeriodSeconds int       `db:"grace_period_seconds"`
	TeamID             *int64    `db:"team_id"`
	Priority           Priority  `db:"priority"`
	Runbook            string    `db:"runbook"`
	MaxDurationMs      *int64    `db:"max_duration_ms"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

// HeartbeatEvent is an append-only liveness signal.
type HeartbeatEvent struct {
	ID        int64           `db:"id"`
	ServiceID int64           `db:"service_id"`
	Status    HeartbeatStatus `db:"status"`
	Time      time.Time       `db:"time"`
	RunID     *string         `db:"run_id"`
}

// Alert tracks an open or closed incident for a service.
type Alert struct {
	ID                   int64      `db:"id"`
	ServiceID            int64      `db:"service_id"`
	Active               bool       `db:"active"`
	AlertCycle           int        `db:"alert_cycle"`
	ExternalReferenceID  *string    `db:"external_reference_id"`
	CreatedDate          time.Time  `db:"created_date"`
	ClosedDate           *time.Time `db:"closed_date"`
}

// JobRun correlates a START signal with its eventual completion.
type JobRun struct {
	ID          int64      `db:"id"`
	ServiceID   int64      `db:"service_id"`
	RunID       string     `db:"run_id"`
	StartedAt   time.Time  `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	DurationMs  *int64     `db:"duration_ms"`
	Status      JobStatus  `db:"status"`
}

// Playbook is a stored, versioned remediation workflow definition.
type Playbook struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	YAMLContent string    `db:"yaml_content"`
	Version     int       `db:"version"`
	CreatedAt   time.Time `db:"created_at"`
}

// RegisteredScript is a named, pre-approved script body the Script step
// executor is permitted to run.
type RegisteredScript struct {
	Name                  string `db:"name"`
	Content               string `db:"content"`
	Interpreter           string `db:"interpreter"`
	DefaultTimeoutSeconds int    `db:"default_timeout_seconds"`
}

// PlaybookTrigger matches a service-name pattern and failure threshold to a
// playbook to start.
type PlaybookTrigger struct {
	ID                  int64  `db:"id"`
	PlaybookID           int64  `db:"playbook_id"`
	ServicePattern       string `db:"service_pattern"`
	ConsecutiveFailures  int    `db:"consecutive_failures"`
}

// ExecutionContextData is the JSON-serialized execution context persisted
// alongside a PlaybookExecution (built by internal/playbook.BuildContext, whose
// standard keys are the Binding* constants there).
type ExecutionContextData map[string]string

// PlaybookExecution is a running or completed instance of a playbook.
type PlaybookExecution struct {
	ID          int64                `db:"id"`
	PlaybookID  int64                `db:"playbook_id"`
	ServiceID   *int64               `db:"service_id"`
	Status      ExecutionStatus      `db:"status"`
	CurrentStep int                  `db:"current_step"`
	Context     ExecutionContextData `db:"context"`
	ResumeAt    *time.Time           `db:"resume_at"`
	CreatedAt   time.Time            `db:"created_at"`
	UpdatedAt   time.Time            `db:"updated_at"`
}

// StepResult records the outcome of a single playbook step.
type StepResult struct {
	ID           int64      `db:"id"`
	ExecutionID  int64      `db:"execution_id"`
	StepName     string     `db:"step_name"`
	StepIndex    int        `db:"step_index"`
	Status       StepStatus `db:"status"`
	Output       string     `db:"output"`
	ErrorMessage string     `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// MaxStepOutputBytes is the truncation limit for persisted step output.
const MaxStepOutputBytes = 4096

// Secret is a name-keyed AES-256-GCM-encrypted value. Plaintext is never
// persisted or logged.
type Secret struct {
	Name        string    `db:"name"`
	Ciphertext  []byte    `db:"ciphertext"`
	Nonce       []byte    `db:"nonce"`
	Tag         []byte    `db:"tag"`
	Description string    `db:"description"`
	Actor       string    `db:"actor"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Webhook is a configured delivery target, optionally scoped to one service.
type Webhook struct {
	ID        int64             `db:"id"`
	URL       string            `db:"url"`
	Headers   map[string]string `db:"headers"`
	Enabled   bool              `db:"enabled"`
	ServiceID *int64            `db:"service_id"`
}

// WebhookDelivery records one delivery attempt/outcome timeline.
type WebhookDelivery struct {
	ID           int64          `db:"id"`
	WebhookID    int64          `db:"webhook_id"`
	Payload      json.RawMessage `db:"payload"`
	Status       DeliveryStatus `db:"status"`
	Attempts     int            `db:"attempts"`
	ResponseCode *int           `db:"response_code"`
	ResponseBody string         `db:"response_body"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// MaxResponseBodyBytes is the truncation limit for persisted response bodies.
const MaxResponseBodyBytes = 4096

// MaintenanceWindow suppresses outbound alerting for applicable services.
type MaintenanceWindow struct {
	ID         int64     `db:"id"`
	Name       string    `db:"name"`
	StartTime  time.Time `db:"start_time"`
	EndTime    time.Time `db:"end_time"`
	Timezone   string    `db:"timezone"`
	Recurrence string    `db:"recurrence"`
	ServiceIDs []int64   `db:"service_ids"`
}

// Applies reports whether the window applies to the given service id.
func (w MaintenanceWindow) Applies(serviceID int64) bool {
	if len(w.ServiceIDs) == 0 {
		return true
	}
	for _, id := range w.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// NotificationTarget is a routable alert destination bound to a service.
type NotificationTarget struct {
	ID        int64              `db:"id"`
	ServiceID int64              `db:"service_id"`
	Type      NotificationType   `db:"type"`
	Config    map[string]string  `db:"config"`
	Priority  int                `db:"priority"`
	Enabled   bool               `db:"enabled"`
	Period    NotificationPeriod `db:"period"`
}

// Snapshot is a full pre-mutation capture of a Service row.
type Snapshot struct {
	ID           int64      `db:"id"`
	ServiceID    int64      `db:"service_id"`
	SnapshotData Service    `db:"snapshot_data"`
	ActionType   ActionType `db:"action_type"`
	Actor        string     `db:"actor"`
	CreatedAt    time.Time  `db:"created_at"`
	RestoredAt   *time.Time `db:"restored_at"`
}

// APIKey gates HTTP access by hashed secret and permitted endpoint classes.
//
// LookupHash is a SHA-256 fingerprint of the raw key used only to find the
// candidate row by equality (bcrypt's per-hash salt makes it unsuitable for
// indexed lookup); HashedSecret is the bcrypt hash that actually authenticates
// the request once the candidate is found.
type APIKey struct {
	ID                       int64     `db:"id"`
	LookupHash               string    `db:"lookup_hash"`
	HashedSecret             string    `db:"hashed_secret"`
	PermittedEndpointClasses []string  `db:"permitted_endpoint_classes"`
	RateLimitOverride        *int      `db:"rate_limit_override"`
	CreatedAt                time.Time `db:"created_at"`
}
