package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleCreateNotificationTargetRequiresServiceIDAndType(t *testing.T) {
	d, _ := testDeps(t)
	req := httptest.NewRequest(http.MethodPost, "/v2/notification-targets", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	d.handleCreateNotificationTarget(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleCreateNotificationTargetSuccess(t *testing.T) {
	d, st := testDeps(t)
	req := httptest.NewRequest(http.MethodPost, "/v2/notification-targets", bytes.NewBufferString(
		`{"service_id":1,"type":"slack","config":{"channel":"#ops"}}`))
	rec := httptest.NewRecorder()

	d.handleCreateNotificationTarget(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	if len(st.targets) != 1 || !st.targets[0].Enabled {
		t.Fatalf("expected 1 enabled target, got %+v", st.targets)
	}
}

func TestHandleListNotificationTargetsRequiresServiceID(t *testing.T) {
	d, _ := testDeps(t)
	req := httptest.NewRequest(http.MethodGet, "/v2/notification-targets", nil)
	rec := httptest.NewRecorder()

	d.handleListNotificationTargets(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
