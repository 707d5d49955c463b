package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/medicops/medic/internal/store"
)

func TestHandleListAlertsDefaultsToAll(t *testing.T) {
	d, st := testDeps(t)
	st.CreateAlert(nil, store.Alert{ServiceID: 1, Active: true})
	st.CreateAlert(nil, store.Alert{ServiceID: 2, Active: false})

	req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	rec := httptest.NewRecorder()

	d.handleListAlerts(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	results, ok := body["results"].([]interface{})
	if !ok || len(results) != 2 {
		t.Fatalf("expected 2 alerts with no active filter, got %v", body["results"])
	}
}

func TestHandleListAlertsActiveOnly(t *testing.T) {
	d, st := testDeps(t)
	st.CreateAlert(nil, store.Alert{ServiceID: 1, Active: true})
	st.CreateAlert(nil, store.Alert{ServiceID: 2, Active: false})

	req := httptest.NewRequest(http.MethodGet, "/alerts?active=1", nil)
	rec := httptest.NewRecorder()

	d.handleListAlerts(rec, req)

	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	results, _ := body["results"].([]interface{})
	if len(results) != 1 {
		t.Fatalf("expected 1 active alert, got %v", body["results"])
	}
}

func TestHandleListAlertsInvalidActiveParam(t *testing.T) {
	d, _ := testDeps(t)
	req := httptest.NewRequest(http.MethodGet, "/alerts?active=notabool", nil)
	rec := httptest.NewRecorder()

	d.handleListAlerts(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
