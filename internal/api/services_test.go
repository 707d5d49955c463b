package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/medicops/medic/infrastructure/logging"
	"github.com/medicops/medic/internal/apikey"
	"github.com/medicops/medic/internal/clock"
	"github.com/medicops/medic/internal/jobrun"
	"github.com/medicops/medic/internal/snapshot"
	"github.com/medicops/medic/internal/store"
)

func testDeps(t *testing.T) (*Deps, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	c := clock.Frozen{At: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)}
	return &Deps{
		Store:   st,
		Clock:   c,
		Logger:  logging.New("medic-test", "error", "json"),
		APIKeys: apikey.New(st),
		Snapshots: snapshot.New(st, c),
		Jobs:      jobrun.New(st, c),
		Version:   "test",
	}, st
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	return body
}

func TestPostHeartbeatUnknownService(t *testing.T) {
	d, _ := testDeps(t)
	req := httptest.NewRequest(http.MethodPost, "/heartbeat", bytes.NewBufferString(`{"heartbeat_name":"missing","status":"UP"}`))
	rec := httptest.NewRecorder()

	d.handlePostHeartbeat(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	if body["success"] != false {
		t.Fatalf("success = %v, want false", body["success"])
	}
}

func TestPostHeartbeatInactiveService(t *testing.T) {
	d, st := testDeps(t)
	st.CreateService(nil, store.Service{HeartbeatName: "hb", ServiceName: "svc", Active: false})

	req := httptest.NewRequest(http.MethodPost, "/heartbeat", bytes.NewBufferString(`{"heartbeat_name":"hb","status":"UP"}`))
	rec := httptest.NewRecorder()

	d.handlePostHeartbeat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPostHeartbeatSuccess(t *testing.T) {
	d, st := testDeps(t)
	st.CreateService(nil, store.Service{HeartbeatName: "hb", ServiceName: "svc", Active: true})

	req := httptest.NewRequest(http.MethodPost, "/heartbeat", bytes.NewBufferString(`{"heartbeat_name":"hb","status":"UP"}`))
	rec := httptest.NewRecorder()

	d.handlePostHeartbeat(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if len(st.heartbeats) != 1 {
		t.Fatalf("expected 1 recorded heartbeat, got %d", len(st.heartbeats))
	}
}

func TestPostServiceRegistersThenReportsAlreadyRegistered(t *testing.T) {
	d, _ := testDeps(t)
	body := `{"heartbeat_name":"hb","service_name":"svc","alert_interval":5}`

	req1 := httptest.NewRequest(http.MethodPost, "/service", bytes.NewBufferString(body))
	rec1 := httptest.NewRecorder()
	d.handlePostService(rec1, req1)
	if rec1.Code != http.StatusCreated {
		t.Fatalf("first registration status = %d, want 201", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/service", bytes.NewBufferString(body))
	rec2 := httptest.NewRecorder()
	d.handlePostService(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("second registration status = %d, want 200", rec2.Code)
	}
	envelope := decodeEnvelope(t, rec2)
	if envelope["success"] != true {
		t.Fatalf("success = %v, want true even though already registered", envelope["success"])
	}
}

func TestPatchServiceCapturesSnapshotBeforeMutation(t *testing.T) {
	d, st := testDeps(t)
	svc, _ := st.CreateService(nil, store.Service{HeartbeatName: "hb", ServiceName: "svc", Active: true, Priority: store.PriorityP3})

	req := httptest.NewRequest(http.MethodPost, "/service/hb", bytes.NewBufferString(`{"muted":true}`))
	req = mux.SetURLVars(req, map[string]string{"heartbeat_name": "hb"})
	rec := httptest.NewRecorder()

	d.handlePatchService(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(st.snapshots) != 1 {
		t.Fatalf("expected 1 snapshot captured, got %d", len(st.snapshots))
	}
	for _, snap := range st.snapshots {
		if snap.SnapshotData.Muted {
			t.Fatalf("snapshot should capture pre-mutation state (muted=false)")
		}
	}
	updated := st.services[svc.ID]
	if !updated.Muted {
		t.Fatalf("service should be muted after patch")
	}
}

func TestHandleJobSignalStartThenCompleteRecordsHeartbeatAndJobRun(t *testing.T) {
	d, st := testDeps(t)
	svc, _ := st.CreateService(nil, store.Service{HeartbeatName: "hb", ServiceName: "svc", Active: true})

	startReq := httptest.NewRequest(http.MethodPost, "/v2/heartbeat/1/start", bytes.NewBufferString(`{"run_id":"run-1"}`))
	startReq = mux.SetURLVars(startReq, map[string]string{"id": "1"})
	_ = svc
	rec := httptest.NewRecorder()
	d.handleJobSignal(store.HeartbeatStarted)(rec, startReq)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", rec.Code)
	}

	completeReq := httptest.NewRequest(http.MethodPost, "/v2/heartbeat/1/complete", bytes.NewBufferString(`{"run_id":"run-1"}`))
	completeReq = mux.SetURLVars(completeReq, map[string]string{"id": "1"})
	rec2 := httptest.NewRecorder()
	d.handleJobSignal(store.HeartbeatCompleted)(rec2, completeReq)
	if rec2.Code != http.StatusCreated {
		t.Fatalf("complete status = %d, want 201", rec2.Code)
	}

	if len(st.heartbeats) != 2 {
		t.Fatalf("expected 2 heartbeat events (started+completed), got %d", len(st.heartbeats))
	}
	if len(st.jobRuns) != 1 {
		t.Fatalf("expected 1 job run, got %d", len(st.jobRuns))
	}
}

func TestHandleJobSignalUnknownService(t *testing.T) {
	d, _ := testDeps(t)
	req := httptest.NewRequest(http.MethodPost, "/v2/heartbeat/99/start", bytes.NewBufferString(`{}`))
	req = mux.SetURLVars(req, map[string]string{"id": "99"})
	rec := httptest.NewRecorder()

	d.handleJobSignal(store.HeartbeatStarted)(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
