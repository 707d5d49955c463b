package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func TestCreateService(t *testing.T) {
	p, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO services").
		WithArgs("svc-hb", "svc", true, false, false, 5, 1, 0, nil, PriorityP3, "", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(1), now, now))

	svc, err := p.CreateService(context.Background(), Service{
		HeartbeatName:    "svc-hb",
		ServiceName:      "svc",
		Active:           true,
		AlertIntervalMin: 5,
		Threshold:        1,
		Priority:         PriorityP3,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), svc.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetServiceByHeartbeatNameNotFound(t *testing.T) {
	p, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM services WHERE lower").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "heartbeat_name", "service_name", "active", "muted", "down", "alert_interval",
			"threshold", "grace_period_seconds", "team_id", "priority", "runbook", "max_duration_ms",
			"created_at", "updated_at",
		}))

	_, found, err := p.GetServiceByHeartbeatName(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateServiceOnlyPatchesProvidedFields(t *testing.T) {
	p, mock := newMockStore(t)
	name := "renamed"

	mock.ExpectExec("UPDATE services SET service_name = \\$1, updated_at = now\\(\\) WHERE id = \\$2").
		WithArgs(name, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM services WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "heartbeat_name", "service_name", "active", "muted", "down", "alert_interval",
			"threshold", "grace_period_seconds", "team_id", "priority", "runbook", "max_duration_ms",
			"created_at", "updated_at",
		}).AddRow(int64(7), "hb", name, true, false, false, 5, 1, 0, nil, PriorityP3, "", nil, time.Now(), time.Now()))

	svc, err := p.UpdateService(context.Background(), 7, ServicePatch{ServiceName: &name})
	require.NoError(t, err)
	require.Equal(t, "renamed", svc.ServiceName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordHeartbeat(t *testing.T) {
	p, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO heartbeat_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	evt, err := p.RecordHeartbeat(context.Background(), HeartbeatEvent{ServiceID: 1, Status: HeartbeatUp, Time: time.Now()})
	require.NoError(t, err)
	require.Equal(t, int64(42), evt.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertJobRunStartedDuplicateIsNotError(t *testing.T) {
	p, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO job_runs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	run, ok, err := p.InsertJobRunStarted(context.Background(), JobRun{ServiceID: 1, RunID: "r1", StartedAt: time.Now()})
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, run.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateExecutionMarshalsContext(t *testing.T) {
	p, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO playbook_executions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(5), now, now))

	exec, err := p.CreateExecution(context.Background(), PlaybookExecution{
		PlaybookID: 1,
		Status:     ExecutionPendingApproval,
		Context:    ExecutionContextData{"service": "checkout"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), exec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetExecutionUnmarshalsContext(t *testing.T) {
	p, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM playbook_executions WHERE id").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "playbook_id", "service_id", "status", "current_step", "context", "resume_at",
			"created_at", "updated_at",
		}).AddRow(int64(9), int64(1), int64(2), ExecutionRunning, 1, []byte(`{"k":"v"}`), nil, now, now))

	exec, found, err := p.GetExecution(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", exec.Context["k"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSecretNotFound(t *testing.T) {
	p, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM secrets WHERE name").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"name", "ciphertext", "nonce", "tag", "description", "actor", "created_at", "updated_at",
		}))

	_, found, err := p.GetSecret(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMaintenanceWindowsExpandsServiceIDs(t *testing.T) {
	p, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM maintenance_windows").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "start_time", "end_time", "timezone", "recurrence", "service_ids",
		}).AddRow(int64(1), "deploy window", time.Now(), time.Now().Add(time.Hour), "UTC", "", "{1,2,3}"))

	windows, err := p.ListMaintenanceWindows(context.Background())
	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.True(t, windows[0].Applies(2))
	require.False(t, windows[0].Applies(9))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseAlert(t *testing.T) {
	p, mock := newMockStore(t)
	mock.ExpectExec("UPDATE alerts SET active = false").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.CloseAlert(context.Background(), 1, time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
