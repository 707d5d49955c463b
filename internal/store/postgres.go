package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres is the PostgreSQL-backed Store implementation.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an already-opened *sql.DB (see internal/platform/database)
// in the sqlx struct-scanning layer used by every method below.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: sqlx.NewDb(db, "postgres")}
}

var _ Store = (*Postgres)(nil)

// --- Services ---------------------------------------------------------

func (p *Postgres) CreateService(ctx context.Context, svc Service) (Service, error) {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO services (heartbeat_name, service_name, active, muted, down, alert_interval,
			threshold, grace_period_seconds, team_id, priority, runbook, max_duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at, updated_at
	`, svc.HeartbeatName, svc.ServiceName, svc.Active, svc.Muted, svc.Down, svc.AlertIntervalMin,
		svc.Threshold, svc.GracePeriodSeconds, svc.TeamID, svc.Priority, svc.Runbook, svc.MaxDurationMs)
	if err := row.Scan(&svc.ID, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
		return Service{}, fmt.Errorf("create service: %w", err)
	}
	return svc, nil
}

func (p *Postgres) GetServiceByHeartbeatName(ctx context.Context, heartbeatName string) (Service, bool, error) {
	var svc Service
	err := p.db.GetContext(ctx, &svc, `
		SELECT id, heartbeat_name, service_name, active, muted, down, alert_interval, threshold,
			grace_period_seconds, team_id, priority, runbook, max_duration_ms, created_at, updated_at
		FROM services WHERE lower(heartbeat_name) = lower($1)
	`, heartbeatName)
	if err == sql.ErrNoRows {
		return Service{}, false, nil
	}
	if err != nil {
		return Service{}, false, fmt.Errorf("get service by heartbeat name: %w", err)
	}
	return svc, true, nil
}

func (p *Postgres) GetServiceByID(ctx context.Context, id int64) (Service, bool, error) {
	var svc Service
	err := p.db.GetContext(ctx, &svc, `
		SELECT id, heartbeat_name, service_name, active, muted, down, alert_interval, threshold,
			grace_period_seconds, team_id, priority, runbook, max_duration_ms, created_at, updated_at
		FROM services WHERE id = $1
	`, id)
	if err == sql.ErrNoRows {
		return Service{}, false, nil
	}
	if err != nil {
		return Service{}, false, fmt.Errorf("get service by id: %w", err)
	}
	return svc, true, nil
}

func (p *Postgres) ListServices(ctx context.Context, filter ServiceFilter) ([]Service, error) {
	query := `SELECT id, heartbeat_name, service_name, active, muted, down, alert_interval, threshold,
		grace_period_seconds, team_id, priority, runbook, max_duration_ms, created_at, updated_at
		FROM services WHERE 1=1`
	var args []interface{}
	if filter.ServiceName != "" {
		args = append(args, filter.ServiceName)
		query += fmt.Sprintf(" AND service_name = $%d", len(args))
	}
	if filter.ActiveOnly != nil {
		args = append(args, *filter.ActiveOnly)
		query += fmt.Sprintf(" AND active = $%d", len(args))
	}
	query += " ORDER BY id"

	var services []Service
	if err := p.db.SelectContext(ctx, &services, query, args...); err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return services, nil
}

// ListActiveMonitorableServices returns active services excluding the
// "fakeservice" sentinel the monitor loop skips (spec.md §4.1).
func (p *Postgres) ListActiveMonitorableServices(ctx context.Context) ([]Service, error) {
	var services []Service
	err := p.db.SelectContext(ctx, &services, `
		SELECT id, heartbeat_name, service_name, active, muted, down, alert_interval, threshold,
			grace_period_seconds, team_id, priority, runbook, max_duration_ms, created_at, updated_at
		FROM services WHERE active = true AND service_name <> 'fakeservice'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list monitorable services: %w", err)
	}
	return services, nil
}

// UpdateService applies a ServicePatch via a generated UPDATE ... SET clause
// containing only the present columns (spec.md §9 design note).
func (p *Postgres) UpdateService(ctx context.Context, id int64, patch ServicePatch) (Service, error) {
	if patch.IsEmpty() {
		svc, _, err := p.GetServiceByID(ctx, id)
		return svc, err
	}

	var sets []string
	var args []interface{}
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.ServiceName != nil {
		add("service_name", *patch.ServiceName)
	}
	if patch.Active != nil {
		add("active", *patch.Active)
	}
	if patch.Muted != nil {
		add("muted", *patch.Muted)
	}
	if patch.Down != nil {
		add("down", *patch.Down)
	}
	if patch.AlertIntervalMin != nil {
		add("alert_interval", *patch.AlertIntervalMin)
	}
	if patch.Threshold != nil {
		add("threshold", *patch.Threshold)
	}
	if patch.GracePeriodSeconds != nil {
		add("grace_period_seconds", *patch.GracePeriodSeconds)
	}
	if patch.TeamID != nil {
		add("team_id", *patch.TeamID)
	}
	if patch.Priority != nil {
		add("priority", *patch.Priority)
	}
	if patch.Runbook != nil {
		add("runbook", *patch.Runbook)
	}
	if patch.MaxDurationMs != nil {
		add("max_duration_ms", *patch.MaxDurationMs)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE services SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return Service{}, fmt.Errorf("update service: %w", err)
	}
	svc, _, err := p.GetServiceByID(ctx, id)
	return svc, err
}

// ReplaceService overwrites every mutable column of an existing row, used by
// snapshot restore (spec.md §4.11), which preserves service_id and
// heartbeat_name but overwrites everything else from snapshot_data.
func (p *Postgres) ReplaceService(ctx context.Context, svc Service) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE services SET service_name=$1, active=$2, muted=$3, down=$4, alert_interval=$5,
			threshold=$6, grace_period_seconds=$7, team_id=$8, priority=$9, runbook=$10,
			max_duration_ms=$11, updated_at=now()
		WHERE id = $12
	`, svc.ServiceName, svc.Active, svc.Muted, svc.Down, svc.AlertIntervalMin, svc.Threshold,
		svc.GracePeriodSeconds, svc.TeamID, svc.Priority, svc.Runbook, svc.MaxDurationMs, svc.ID)
	if err != nil {
		return fmt.Errorf("replace service: %w", err)
	}
	return nil
}

// --- Heartbeats ---------------------------------------------------------

func (p *Postgres) RecordHeartbeat(ctx context.Context, event HeartbeatEvent) (HeartbeatEvent, error) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO heartbeat_events (service_id, status, time, run_id)
		VALUES ($1,$2,$3,$4) RETURNING id
	`, event.ServiceID, event.Status, event.Time, event.RunID)
	if err := row.Scan(&event.ID); err != nil {
		return HeartbeatEvent{}, fmt.Errorf("record heartbeat: %w", err)
	}
	return event, nil
}

func (p *Postgres) RecentHeartbeats(ctx context.Context, serviceID int64, maxCount int) ([]HeartbeatEvent, error) {
	if maxCount <= 0 || maxCount > 250 {
		maxCount = 250
	}
	var events []HeartbeatEvent
	err := p.db.SelectContext(ctx, &events, `
		SELECT id, service_id, status, time, run_id FROM heartbeat_events
		WHERE service_id = $1 ORDER BY time DESC LIMIT $2
	`, serviceID, maxCount)
	if err != nil {
		return nil, fmt.Errorf("recent heartbeats: %w", err)
	}
	return events, nil
}

func (p *Postgres) LastHeartbeatTime(ctx context.Context, serviceID int64) (time.Time, bool, error) {
	var t time.Time
	err := p.db.GetContext(ctx, &t, `
		SELECT time FROM heartbeat_events WHERE service_id = $1 ORDER BY time DESC LIMIT 1
	`, serviceID)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last heartbeat time: %w", err)
	}
	return t, true, nil
}

func (p *Postgres) CountHeartbeatsSince(ctx context.Context, serviceID int64, since time.Time) (int, error) {
	var count int
	err := p.db.GetContext(ctx, &count, `
		SELECT count(*) FROM heartbeat_events WHERE service_id = $1 AND time >= $2
	`, serviceID, since)
	if err != nil {
		return 0, fmt.Errorf("count heartbeats since: %w", err)
	}
	return count, nil
}

func (p *Postgres) CountHeartbeatsSinceWithStatus(ctx context.Context, serviceID int64, since time.Time, status HeartbeatStatus) (int, error) {
	var count int
	err := p.db.GetContext(ctx, &count, `
		SELECT count(*) FROM heartbeat_events WHERE service_id = $1 AND time >= $2 AND status = $3
	`, serviceID, since, status)
	if err != nil {
		return 0, fmt.Errorf("count heartbeats since with status: %w", err)
	}
	return count, nil
}

// --- Alerts ---------------------------------------------------------

func (p *Postgres) GetActiveAlert(ctx context.Context, serviceID int64) (Alert, bool, error) {
	var alert Alert
	err := p.db.GetContext(ctx, &alert, `
		SELECT id, service_id, active, alert_cycle, external_reference_id, created_date, closed_date
		FROM alerts WHERE service_id = $1 AND active = true
		ORDER BY created_date DESC LIMIT 1
	`, serviceID)
	if err == sql.ErrNoRows {
		return Alert{}, false, nil
	}
	if err != nil {
		return Alert{}, false, fmt.Errorf("get active alert: %w", err)
	}
	return alert, true, nil
}

func (p *Postgres) CreateAlert(ctx context.Context, alert Alert) (Alert, error) {
	if alert.CreatedDate.IsZero() {
		alert.CreatedDate = time.Now().UTC()
	}
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO alerts (service_id, active, alert_cycle, external_reference_id, created_date)
		VALUES ($1,true,$2,$3,$4) RETURNING id
	`, alert.ServiceID, alert.AlertCycle, alert.ExternalReferenceID, alert.CreatedDate)
	if err := row.Scan(&alert.ID); err != nil {
		return Alert{}, fmt.Errorf("create alert: %w", err)
	}
	alert.Active = true
	return alert, nil
}

func (p *Postgres) IncrementAlertCycle(ctx context.Context, alertID int64) (Alert, error) {
	var alert Alert
	err := p.db.GetContext(ctx, &alert, `
		UPDATE alerts SET alert_cycle = alert_cycle + 1 WHERE id = $1
		RETURNING id, service_id, active, alert_cycle, external_reference_id, created_date, closed_date
	`, alertID)
	if err != nil {
		return Alert{}, fmt.Errorf("increment alert cycle: %w", err)
	}
	return alert, nil
}

func (p *Postgres) SetAlertExternalReference(ctx context.Context, alertID int64, externalRef string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE alerts SET external_reference_id = $1 WHERE id = $2`, externalRef, alertID)
	if err != nil {
		return fmt.Errorf("set alert external reference: %w", err)
	}
	return nil
}

func (p *Postgres) CloseAlert(ctx context.Context, alertID int64, closedAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE alerts SET active = false, closed_date = $1 WHERE id = $2
	`, closedAt, alertID)
	if err != nil {
		return fmt.Errorf("close alert: %w", err)
	}
	return nil
}

func (p *Postgres) ListAlerts(ctx context.Context, activeOnly bool, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, service_id, active, alert_cycle, external_reference_id, created_date, closed_date
		FROM alerts`
	var args []interface{}
	if activeOnly {
		query += " WHERE active = true"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_date DESC LIMIT $%d", len(args))

	var alerts []Alert
	if err := p.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// --- Job runs ---------------------------------------------------------

func (p *Postgres) GetJobRun(ctx context.Context, serviceID int64, runID string) (JobRun, bool, error) {
	var run JobRun
	err := p.db.GetContext(ctx, &run, `
		SELECT id, service_id, run_id, started_at, completed_at, duration_ms, status
		FROM job_runs WHERE service_id = $1 AND run_id = $2
	`, serviceID, runID)
	if err == sql.ErrNoRows {
		return JobRun{}, false, nil
	}
	if err != nil {
		return JobRun{}, false, fmt.Errorf("get job run: %w", err)
	}
	return run, true, nil
}

// InsertJobRunStarted inserts a new STARTED row. A duplicate (service_id,
// run_id) is not an error per spec.md §4.10; it returns (zero, false, nil).
func (p *Postgres) InsertJobRunStarted(ctx context.Context, run JobRun) (JobRun, bool, error) {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO job_runs (service_id, run_id, started_at, status)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (service_id, run_id) DO NOTHING
		RETURNING id
	`, run.ServiceID, run.RunID, run.StartedAt, JobStarted)
	if err := row.Scan(&run.ID); err != nil {
		if err == sql.ErrNoRows {
			return JobRun{}, false, nil
		}
		return JobRun{}, false, fmt.Errorf("insert job run started: %w", err)
	}
	run.Status = JobStarted
	return run, true, nil
}

// UpdateJobRunCompletion updates an existing STARTED row with its completion.
// Returns (zero, false, nil) when no matching STARTED row exists so the
// caller can fall back to InsertCompletionOnlyJobRun.
func (p *Postgres) UpdateJobRunCompletion(ctx context.Context, serviceID int64, runID string, status JobStatus, completedAt time.Time, durationMs int64) (JobRun, bool, error) {
	var run JobRun
	err := p.db.GetContext(ctx, &run, `
		UPDATE job_runs SET completed_at = $1, duration_ms = $2, status = $3
		WHERE service_id = $4 AND run_id = $5 AND completed_at IS NULL
		RETURNING id, service_id, run_id, started_at, completed_at, duration_ms, status
	`, completedAt, durationMs, status, serviceID, runID)
	if err == sql.ErrNoRows {
		return JobRun{}, false, nil
	}
	if err != nil {
		return JobRun{}, false, fmt.Errorf("update job run completion: %w", err)
	}
	return run, true, nil
}

func (p *Postgres) InsertCompletionOnlyJobRun(ctx context.Context, run JobRun) (JobRun, error) {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO job_runs (service_id, run_id, started_at, completed_at, duration_ms, status)
		VALUES ($1,$2,$3,$3,0,$4)
		RETURNING id
	`, run.ServiceID, run.RunID, run.CompletedAt, run.Status)
	if err := row.Scan(&run.ID); err != nil {
		return JobRun{}, fmt.Errorf("insert completion-only job run: %w", err)
	}
	run.StartedAt = *run.CompletedAt
	zero := int64(0)
	run.DurationMs = &zero
	return run, nil
}

// CompletedDurations returns duration_ms for the most recent completed runs,
// most recent first, including zero-duration completion-only rows (spec.md
// §9 open question: only NULL durations are excluded, not zeros).
func (p *Postgres) CompletedDurations(ctx context.Context, serviceID int64, maxRuns int) ([]int64, error) {
	if maxRuns <= 0 {
		maxRuns = 100
	}
	var durations []int64
	err := p.db.SelectContext(ctx, &durations, `
		SELECT duration_ms FROM job_runs
		WHERE service_id = $1 AND status = $2 AND duration_ms IS NOT NULL
		ORDER BY completed_at DESC LIMIT $3
	`, serviceID, JobCompleted, maxRuns)
	if err != nil {
		return nil, fmt.Errorf("completed durations: %w", err)
	}
	return durations, nil
}

func (p *Postgres) StaleStartedJobRuns(ctx context.Context, now time.Time) ([]JobRun, error) {
	var runs []JobRun
	err := p.db.SelectContext(ctx, &runs, `
		SELECT jr.id, jr.service_id, jr.run_id, jr.started_at, jr.completed_at, jr.duration_ms, jr.status
		FROM job_runs jr JOIN services s ON s.id = jr.service_id
		WHERE jr.status = $1 AND jr.completed_at IS NULL AND s.max_duration_ms IS NOT NULL
			AND EXTRACT(EPOCH FROM ($2 - jr.started_at)) * 1000 > s.max_duration_ms
	`, JobStarted, now)
	if err != nil {
		return nil, fmt.Errorf("stale started job runs: %w", err)
	}
	return runs, nil
}

func (p *Postgres) MarkJobRunStaleAlerted(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, `UPDATE job_runs SET status = $1 WHERE id = $2`, JobStaleAlerted, id)
	if err != nil {
		return fmt.Errorf("mark job run stale alerted: %w", err)
	}
	return nil
}

// --- Playbooks ---------------------------------------------------------

func (p *Postgres) GetPlaybook(ctx context.Context, id int64) (Playbook, bool, error) {
	var pb Playbook
	err := p.db.GetContext(ctx, &pb, `
		SELECT id, name, description, yaml_content, version, created_at FROM playbooks WHERE id = $1
	`, id)
	if err == sql.ErrNoRows {
		return Playbook{}, false, nil
	}
	if err != nil {
		return Playbook{}, false, fmt.Errorf("get playbook: %w", err)
	}
	return pb, true, nil
}

func (p *Postgres) CreatePlaybook(ctx context.Context, pb Playbook) (Playbook, error) {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO playbooks (name, description, yaml_content, version)
		VALUES ($1,$2,$3,$4) RETURNING id, created_at
	`, pb.Name, pb.Description, pb.YAMLContent, pb.Version)
	if err := row.Scan(&pb.ID, &pb.CreatedAt); err != nil {
		return Playbook{}, fmt.Errorf("create playbook: %w", err)
	}
	return pb, nil
}

func (p *Postgres) ListPlaybooks(ctx context.Context) ([]Playbook, error) {
	var playbooks []Playbook
	err := p.db.SelectContext(ctx, &playbooks, `
		SELECT id, name, description, yaml_content, version, created_at FROM playbooks ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list playbooks: %w", err)
	}
	return playbooks, nil
}

func (p *Postgres) GetRegisteredScript(ctx context.Context, name string) (RegisteredScript, bool, error) {
	var script RegisteredScript
	err := p.db.GetContext(ctx, &script, `
		SELECT name, content, interpreter, default_timeout_seconds FROM registered_scripts WHERE name = $1
	`, name)
	if err == sql.ErrNoRows {
		return RegisteredScript{}, false, nil
	}
	if err != nil {
		return RegisteredScript{}, false, fmt.Errorf("get registered script: %w", err)
	}
	return script, true, nil
}

func (p *Postgres) ListPlaybookTriggers(ctx context.Context) ([]PlaybookTrigger, error) {
	var triggers []PlaybookTrigger
	err := p.db.SelectContext(ctx, &triggers, `
		SELECT id, playbook_id, service_pattern, consecutive_failures FROM playbook_triggers ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list playbook triggers: %w", err)
	}
	return triggers, nil
}

// --- Playbook executions ---------------------------------------------------------

func (p *Postgres) CreateExecution(ctx context.Context, exec PlaybookExecution) (PlaybookExecution, error) {
	contextJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return PlaybookExecution{}, fmt.Errorf("marshal execution context: %w", err)
	}
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO playbook_executions (playbook_id, service_id, status, current_step, context, resume_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at, updated_at
	`, exec.PlaybookID, exec.ServiceID, exec.Status, exec.CurrentStep, contextJSON, exec.ResumeAt)
	if err := row.Scan(&exec.ID, &exec.CreatedAt, &exec.UpdatedAt); err != nil {
		return PlaybookExecution{}, fmt.Errorf("create execution: %w", err)
	}
	return exec, nil
}

func (p *Postgres) GetExecution(ctx context.Context, id int64) (PlaybookExecution, bool, error) {
	return p.scanExecution(ctx, `
		SELECT id, playbook_id, service_id, status, current_step, context, resume_at, created_at, updated_at
		FROM playbook_executions WHERE id = $1
	`, id)
}

func (p *Postgres) scanExecution(ctx context.Context, query string, args ...interface{}) (PlaybookExecution, bool, error) {
	var (
		exec        PlaybookExecution
		contextJSON []byte
	)
	row := p.db.QueryRowxContext(ctx, query, args...)
	err := row.Scan(&exec.ID, &exec.PlaybookID, &exec.ServiceID, &exec.Status, &exec.CurrentStep,
		&contextJSON, &exec.ResumeAt, &exec.CreatedAt, &exec.UpdatedAt)
	if err == sql.ErrNoRows {
		return PlaybookExecution{}, false, nil
	}
	if err != nil {
		return PlaybookExecution{}, false, fmt.Errorf("scan execution: %w", err)
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &exec.Context); err != nil {
			return PlaybookExecution{}, false, fmt.Errorf("unmarshal execution context: %w", err)
		}
	}
	return exec, true, nil
}

// UpdateExecution persists the execution's mutable fields. Called after
// every step so a process restart can resume any active execution
// (spec.md §4.3's "persistence required after every step").
func (p *Postgres) UpdateExecution(ctx context.Context, exec PlaybookExecution) error {
	contextJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal execution context: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		UPDATE playbook_executions SET status=$1, current_step=$2, context=$3, resume_at=$4, updated_at=now()
		WHERE id = $5
	`, exec.Status, exec.CurrentStep, contextJSON, exec.ResumeAt, exec.ID)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

func (p *Postgres) ListActiveExecutions(ctx context.Context) ([]PlaybookExecution, error) {
	rows, err := p.db.QueryxContext(ctx, `
		SELECT id, playbook_id, service_id, status, current_step, context, resume_at, created_at, updated_at
		FROM playbook_executions WHERE status IN ($1, $2)
	`, ExecutionRunning, ExecutionWaiting)
	if err != nil {
		return nil, fmt.Errorf("list active executions: %w", err)
	}
	defer rows.Close()

	var execs []PlaybookExecution
	for rows.Next() {
		var (
			exec        PlaybookExecution
			contextJSON []byte
		)
		if err := rows.Scan(&exec.ID, &exec.PlaybookID, &exec.ServiceID, &exec.Status, &exec.CurrentStep,
			&contextJSON, &exec.ResumeAt, &exec.CreatedAt, &exec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan active execution: %w", err)
		}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &exec.Context); err != nil {
				return nil, fmt.Errorf("unmarshal execution context: %w", err)
			}
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// CountExecutionsSince backs the circuit breaker's stateless admission read
// (spec.md §4.4): count of executions started for a service in a window.
func (p *Postgres) CountExecutionsSince(ctx context.Context, serviceID int64, since time.Time) (int, error) {
	var count int
	err := p.db.GetContext(ctx, &count, `
		SELECT count(*) FROM playbook_executions WHERE service_id = $1 AND created_at >= $2
	`, serviceID, since)
	if err != nil {
		return 0, fmt.Errorf("count executions since: %w", err)
	}
	return count, nil
}

func (p *Postgres) UpsertStepResult(ctx context.Context, sr StepResult) (StepResult, error) {
	if len(sr.Output) > MaxStepOutputBytes {
		sr.Output = sr.Output[:MaxStepOutputBytes] + "...[truncated]"
	}
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO step_results (execution_id, step_name, step_index, status, output, error_message)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (execution_id, step_index) DO UPDATE SET
			status = EXCLUDED.status, output = EXCLUDED.output,
			error_message = EXCLUDED.error_message, updated_at = now()
		RETURNING id, created_at, updated_at
	`, sr.ExecutionID, sr.StepName, sr.StepIndex, sr.Status, sr.Output, sr.ErrorMessage)
	if err := row.Scan(&sr.ID, &sr.CreatedAt, &sr.UpdatedAt); err != nil {
		return StepResult{}, fmt.Errorf("upsert step result: %w", err)
	}
	return sr, nil
}

func (p *Postgres) ListStepResults(ctx context.Context, executionID int64) ([]StepResult, error) {
	var results []StepResult
	err := p.db.SelectContext(ctx, &results, `
		SELECT id, execution_id, step_name, step_index, status, output, error_message, created_at, updated_at
		FROM step_results WHERE execution_id = $1 ORDER BY step_index
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list step results: %w", err)
	}
	return results, nil
}

// --- Secrets ---------------------------------------------------------

func (p *Postgres) GetSecret(ctx context.Context, name string) (Secret, bool, error) {
	var secret Secret
	err := p.db.GetContext(ctx, &secret, `
		SELECT name, ciphertext, nonce, tag, description, actor, created_at, updated_at
		FROM secrets WHERE name = $1
	`, name)
	if err == sql.ErrNoRows {
		return Secret{}, false, nil
	}
	if err != nil {
		return Secret{}, false, fmt.Errorf("get secret: %w", err)
	}
	return secret, true, nil
}

func (p *Postgres) PutSecret(ctx context.Context, secret Secret) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO secrets (name, ciphertext, nonce, tag, description, actor)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (name) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext, nonce = EXCLUDED.nonce, tag = EXCLUDED.tag,
			description = EXCLUDED.description, actor = EXCLUDED.actor, updated_at = now()
	`, secret.Name, secret.Ciphertext, secret.Nonce, secret.Tag, secret.Description, secret.Actor)
	if err != nil {
		return fmt.Errorf("put secret: %w", err)
	}
	return nil
}

// --- Webhooks ---------------------------------------------------------

func (p *Postgres) GetWebhook(ctx context.Context, id int64) (Webhook, bool, error) {
	return p.scanWebhook(ctx, `SELECT id, url, headers, enabled, service_id FROM webhooks WHERE id = $1`, id)
}

func (p *Postgres) scanWebhook(ctx context.Context, query string, args ...interface{}) (Webhook, bool, error) {
	var (
		wh          Webhook
		headersJSON []byte
	)
	row := p.db.QueryRowxContext(ctx, query, args...)
	if err := row.Scan(&wh.ID, &wh.URL, &headersJSON, &wh.Enabled, &wh.ServiceID); err != nil {
		if err == sql.ErrNoRows {
			return Webhook{}, false, nil
		}
		return Webhook{}, false, fmt.Errorf("scan webhook: %w", err)
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &wh.Headers); err != nil {
			return Webhook{}, false, fmt.Errorf("unmarshal webhook headers: %w", err)
		}
	}
	return wh, true, nil
}

func (p *Postgres) ListEnabledWebhooks(ctx context.Context, serviceID *int64) ([]Webhook, error) {
	query := `SELECT id, url, headers, enabled, service_id FROM webhooks WHERE enabled = true`
	var args []interface{}
	if serviceID != nil {
		query += " AND (service_id IS NULL OR service_id = $1)"
		args = append(args, *serviceID)
	}
	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list enabled webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []Webhook
	for rows.Next() {
		var (
			wh          Webhook
			headersJSON []byte
		)
		if err := rows.Scan(&wh.ID, &wh.URL, &headersJSON, &wh.Enabled, &wh.ServiceID); err != nil {
			return nil, fmt.Errorf("scan webhook row: %w", err)
		}
		if len(headersJSON) > 0 {
			if err := json.Unmarshal(headersJSON, &wh.Headers); err != nil {
				return nil, fmt.Errorf("unmarshal webhook headers: %w", err)
			}
		}
		webhooks = append(webhooks, wh)
	}
	return webhooks, rows.Err()
}

func (p *Postgres) CreateDelivery(ctx context.Context, d WebhookDelivery) (WebhookDelivery, error) {
	if d.Status == "" {
		d.Status = DeliveryPending
	}
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO webhook_deliveries (webhook_id, payload, status, attempts, response_code, response_body)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at, updated_at
	`, d.WebhookID, []byte(d.Payload), d.Status, d.Attempts, d.ResponseCode, d.ResponseBody)
	if err := row.Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return WebhookDelivery{}, fmt.Errorf("create delivery: %w", err)
	}
	return d, nil
}

func (p *Postgres) UpdateDelivery(ctx context.Context, d WebhookDelivery) error {
	if len(d.ResponseBody) > MaxResponseBodyBytes {
		d.ResponseBody = d.ResponseBody[:MaxResponseBodyBytes] + "...[truncated]"
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status=$1, attempts=$2, response_code=$3, response_body=$4, updated_at=now()
		WHERE id = $5
	`, d.Status, d.Attempts, d.ResponseCode, d.ResponseBody, d.ID)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	return nil
}

// --- Maintenance windows ---------------------------------------------------------

func (p *Postgres) ListMaintenanceWindows(ctx context.Context) ([]MaintenanceWindow, error) {
	rows, err := p.db.QueryxContext(ctx, `
		SELECT id, name, start_time, end_time, timezone, recurrence, service_ids FROM maintenance_windows
	`)
	if err != nil {
		return nil, fmt.Errorf("list maintenance windows: %w", err)
	}
	defer rows.Close()

	var windows []MaintenanceWindow
	for rows.Next() {
		var w MaintenanceWindow
		var serviceIDs pq.Int64Array
		if err := rows.Scan(&w.ID, &w.Name, &w.StartTime, &w.EndTime, &w.Timezone, &w.Recurrence, &serviceIDs); err != nil {
			return nil, fmt.Errorf("scan maintenance window: %w", err)
		}
		w.ServiceIDs = []int64(serviceIDs)
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// CreateMaintenanceWindow inserts a new maintenance window row.
func (p *Postgres) CreateMaintenanceWindow(ctx context.Context, w MaintenanceWindow) (MaintenanceWindow, error) {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO maintenance_windows (name, start_time, end_time, timezone, recurrence, service_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, w.Name, w.StartTime, w.EndTime, w.Timezone, w.Recurrence, pq.Int64Array(w.ServiceIDs))
	if err := row.Scan(&w.ID); err != nil {
		return MaintenanceWindow{}, fmt.Errorf("create maintenance window: %w", err)
	}
	return w, nil
}

// --- Notification targets ---------------------------------------------------------

func (p *Postgres) ListNotificationTargets(ctx context.Context, serviceID int64) ([]NotificationTarget, error) {
	rows, err := p.db.QueryxContext(ctx, `
		SELECT id, service_id, type, config, priority, enabled, period
		FROM notification_targets WHERE service_id = $1 AND enabled = true ORDER BY priority ASC
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list notification targets: %w", err)
	}
	defer rows.Close()

	var targets []NotificationTarget
	for rows.Next() {
		var (
			target     NotificationTarget
			configJSON []byte
		)
		if err := rows.Scan(&target.ID, &target.ServiceID, &target.Type, &configJSON, &target.Priority,
			&target.Enabled, &target.Period); err != nil {
			return nil, fmt.Errorf("scan notification target: %w", err)
		}
		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &target.Config); err != nil {
				return nil, fmt.Errorf("unmarshal notification target config: %w", err)
			}
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

// CreateNotificationTarget inserts a new notification target row.
func (p *Postgres) CreateNotificationTarget(ctx context.Context, t NotificationTarget) (NotificationTarget, error) {
	configJSON, err := json.Marshal(t.Config)
	if err != nil {
		return NotificationTarget{}, fmt.Errorf("marshal notification target config: %w", err)
	}
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO notification_targets (service_id, type, config, priority, enabled, period)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, t.ServiceID, t.Type, configJSON, t.Priority, t.Enabled, t.Period)
	if err := row.Scan(&t.ID); err != nil {
		return NotificationTarget{}, fmt.Errorf("create notification target: %w", err)
	}
	return t, nil
}

// --- Teams ---------------------------------------------------------

func (p *Postgres) GetTeam(ctx context.Context, id int64) (Team, bool, error) {
	var team Team
	err := p.db.GetContext(ctx, &team, `SELECT id, name, slack_channel_id, created_at FROM teams WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return Team{}, false, nil
	}
	if err != nil {
		return Team{}, false, fmt.Errorf("get team: %w", err)
	}
	return team, true, nil
}

// --- Snapshots ---------------------------------------------------------

func (p *Postgres) CreateSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error) {
	dataJSON, err := json.Marshal(snap.SnapshotData)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal snapshot data: %w", err)
	}
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO snapshots (service_id, snapshot_data, action_type, actor)
		VALUES ($1,$2,$3,$4) RETURNING id, created_at
	`, snap.ServiceID, dataJSON, snap.ActionType, snap.Actor)
	if err := row.Scan(&snap.ID, &snap.CreatedAt); err != nil {
		return Snapshot{}, fmt.Errorf("create snapshot: %w", err)
	}
	return snap, nil
}

func (p *Postgres) GetSnapshot(ctx context.Context, id int64) (Snapshot, bool, error) {
	return p.scanSnapshot(ctx, `
		SELECT id, service_id, snapshot_data, action_type, actor, created_at, restored_at
		FROM snapshots WHERE id = $1
	`, id)
}

func (p *Postgres) scanSnapshot(ctx context.Context, query string, args ...interface{}) (Snapshot, bool, error) {
	var (
		snap     Snapshot
		dataJSON []byte
	)
	row := p.db.QueryRowxContext(ctx, query, args...)
	err := row.Scan(&snap.ID, &snap.ServiceID, &dataJSON, &snap.ActionType, &snap.Actor, &snap.CreatedAt, &snap.RestoredAt)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("scan snapshot: %w", err)
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &snap.SnapshotData); err != nil {
			return Snapshot{}, false, fmt.Errorf("unmarshal snapshot data: %w", err)
		}
	}
	return snap, true, nil
}

func (p *Postgres) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]Snapshot, error) {
	query := `SELECT id, service_id, snapshot_data, action_type, actor, created_at, restored_at FROM snapshots WHERE 1=1`
	var args []interface{}
	if filter.ServiceID != nil {
		args = append(args, *filter.ServiceID)
		query += fmt.Sprintf(" AND service_id = $%d", len(args))
	}
	if filter.ActionType != nil {
		args = append(args, *filter.ActionType)
		query += fmt.Sprintf(" AND action_type = $%d", len(args))
	}
	if filter.Start != nil {
		args = append(args, *filter.Start)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.End != nil {
		args = append(args, *filter.End)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 250 {
		limit = 250
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var (
			snap     Snapshot
			dataJSON []byte
		)
		if err := rows.Scan(&snap.ID, &snap.ServiceID, &dataJSON, &snap.ActionType, &snap.Actor,
			&snap.CreatedAt, &snap.RestoredAt); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &snap.SnapshotData); err != nil {
				return nil, fmt.Errorf("unmarshal snapshot data: %w", err)
			}
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func (p *Postgres) MarkSnapshotRestored(ctx context.Context, id int64, restoredAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE snapshots SET restored_at = $1 WHERE id = $2`, restoredAt, id)
	if err != nil {
		return fmt.Errorf("mark snapshot restored: %w", err)
	}
	return nil
}

// --- API keys ---------------------------------------------------------

// GetAPIKeyByHash looks up an API key by its SHA-256 lookup fingerprint
// (lookupHash, despite the interface's historical parameter name). The
// returned row's HashedSecret is the bcrypt hash the caller must still
// compare the raw key against.
func (p *Postgres) GetAPIKeyByHash(ctx context.Context, lookupHash string) (APIKey, bool, error) {
	var key APIKey
	var classes pq.StringArray
	row := p.db.QueryRowxContext(ctx, `
		SELECT id, lookup_hash, hashed_secret, permitted_endpoint_classes, rate_limit_override, created_at
		FROM api_keys WHERE lookup_hash = $1
	`, lookupHash)
	err := row.Scan(&key.ID, &key.LookupHash, &key.HashedSecret, &classes, &key.RateLimitOverride, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return APIKey{}, false, nil
	}
	if err != nil {
		return APIKey{}, false, fmt.Errorf("get api key: %w", err)
	}
	key.PermittedEndpointClasses = []string(classes)
	return key, true, nil
}

// CreateAPIKey inserts a newly provisioned API key row.
func (p *Postgres) CreateAPIKey(ctx context.Context, key APIKey) (APIKey, error) {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO api_keys (lookup_hash, hashed_secret, permitted_endpoint_classes, rate_limit_override, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, created_at
	`, key.LookupHash, key.HashedSecret, pq.StringArray(key.PermittedEndpointClasses), key.RateLimitOverride)
	if err := row.Scan(&key.ID, &key.CreatedAt); err != nil {
		return APIKey{}, fmt.Errorf("create api key: %w", err)
	}
	return key, nil
}
