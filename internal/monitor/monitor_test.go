package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/medicops/medic/internal/alertrouter"
	"github.com/medicops/medic/internal/clock"
	"github.com/medicops/medic/internal/store"
	"github.com/medicops/medic/internal/urlvalidator"
	"github.com/medicops/medic/internal/webhookdelivery"
)

type fakeStore struct {
	store.Store
	mu sync.Mutex

	services          map[int64]store.Service
	lastHeartbeat     map[int64]time.Time
	heartbeatCounts   map[int64]int
	activeAlerts      map[int64]store.Alert
	nextAlertID       int64
	createdAlerts     []store.Alert
	closedAlerts      []int64
	patches           []store.ServicePatch
	failLastHeartbeat map[int64]bool

	webhooks   []store.Webhook
	deliveries []store.WebhookDelivery
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		services:          make(map[int64]store.Service),
		lastHeartbeat:     make(map[int64]time.Time),
		heartbeatCounts:   make(map[int64]int),
		activeAlerts:      make(map[int64]store.Alert),
		failLastHeartbeat: make(map[int64]bool),
	}
}

func (f *fakeStore) ListActiveMonitorableServices(ctx context.Context) ([]store.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Service
	for _, s := range f.services {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) LastHeartbeatTime(ctx context.Context, serviceID int64) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLastHeartbeat[serviceID] {
		return time.Time{}, false, errors.New("store unavailable")
	}
	t, ok := f.lastHeartbeat[serviceID]
	return t, ok, nil
}

func (f *fakeStore) CountHeartbeatsSince(ctx context.Context, serviceID int64, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeatCounts[serviceID], nil
}

func (f *fakeStore) GetActiveAlert(ctx context.Context, serviceID int64) (store.Alert, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.activeAlerts[serviceID]
	return a, ok, nil
}

func (f *fakeStore) CreateAlert(ctx context.Context, alert store.Alert) (store.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextAlertID++
	alert.ID = f.nextAlertID
	f.activeAlerts[alert.ServiceID] = alert
	f.createdAlerts = append(f.createdAlerts, alert)
	return alert, nil
}

func (f *fakeStore) IncrementAlertCycle(ctx context.Context, alertID int64) (store.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sid, a := range f.activeAlerts {
		if a.ID == alertID {
			a.AlertCycle++
			f.activeAlerts[sid] = a
			return a, nil
		}
	}
	return store.Alert{}, errors.New("alert not found")
}

func (f *fakeStore) CloseAlert(ctx context.Context, alertID int64, closedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sid, a := range f.activeAlerts {
		if a.ID == alertID {
			delete(f.activeAlerts, sid)
			f.closedAlerts = append(f.closedAlerts, alertID)
			return nil
		}
	}
	return errors.New("alert not found")
}

func (f *fakeStore) UpdateService(ctx context.Context, id int64, patch store.ServicePatch) (store.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	svc := f.services[id]
	svc = patch.Apply(svc)
	f.services[id] = svc
	return svc, nil
}

func (f *fakeStore) ListMaintenanceWindows(ctx context.Context) ([]store.MaintenanceWindow, error) {
	return nil, nil
}

func (f *fakeStore) ListNotificationTargets(ctx context.Context, serviceID int64) ([]store.NotificationTarget, error) {
	return nil, nil
}

func (f *fakeStore) GetServiceByID(ctx context.Context, id int64) (store.Service, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[id]
	return svc, ok, nil
}

func (f *fakeStore) GetTeam(ctx context.Context, id int64) (store.Team, bool, error) {
	return store.Team{}, false, nil
}

func (f *fakeStore) ListEnabledWebhooks(ctx context.Context, serviceID *int64) ([]store.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Webhook
	for _, w := range f.webhooks {
		if w.ServiceID == nil || (serviceID != nil && *w.ServiceID == *serviceID) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateDelivery(ctx context.Context, d store.WebhookDelivery) (store.WebhookDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = int64(len(f.deliveries) + 1)
	f.deliveries = append(f.deliveries, d)
	return d, nil
}

func (f *fakeStore) UpdateDelivery(ctx context.Context, d store.WebhookDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.deliveries {
		if existing.ID == d.ID {
			f.deliveries[i] = d
			return nil
		}
	}
	return errors.New("delivery not found")
}

func noopSender(ctx context.Context, target store.NotificationTarget, payload map[string]interface{}) (bool, string, error) {
	return true, "", nil
}

func testRouter(fs *fakeStore) *alertrouter.Router {
	return alertrouter.New(fs, noopSender, alertrouter.NewBusinessHours(time.UTC), "#fallback")
}

func TestSweepOpensAlertWhenHeartbeatsBelowThreshold(t *testing.T) {
	fs := newFakeStore()
	fs.services[1] = store.Service{ID: 1, ServiceName: "checkout-api", Active: true, Threshold: 3, AlertIntervalMin: 5}
	fs.lastHeartbeat[1] = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fs.heartbeatCounts[1] = 0

	loop := New(fs, &clock.Frozen{At: time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)}, testRouter(fs), nil, nil, nil, 4, time.Second)
	loop.Sweep(context.Background())

	if len(fs.createdAlerts) != 1 {
		t.Fatalf("expected one alert created, got %d", len(fs.createdAlerts))
	}
	if !fs.services[1].Down {
		t.Error("expected service marked down")
	}
}

func TestSweepSkipsDuringGracePeriod(t *testing.T) {
	fs := newFakeStore()
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	fs.services[1] = store.Service{ID: 1, ServiceName: "checkout-api", Active: true, Threshold: 3, AlertIntervalMin: 5, GracePeriodSeconds: 600}
	fs.lastHeartbeat[1] = now.Add(-1 * time.Minute) // well inside alert_interval(5m)+grace(10m)
	fs.heartbeatCounts[1] = 0

	loop := New(fs, &clock.Frozen{At: now}, testRouter(fs), nil, nil, nil, 4, time.Second)
	loop.Sweep(context.Background())

	if len(fs.createdAlerts) != 0 {
		t.Errorf("expected no alert during grace period, got %d", len(fs.createdAlerts))
	}
	if len(fs.patches) != 0 {
		t.Errorf("expected no service mutation during grace period, got %d patches", len(fs.patches))
	}
}

func TestSweepClosesAlertWhenRecovered(t *testing.T) {
	fs := newFakeStore()
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	fs.services[1] = store.Service{ID: 1, ServiceName: "checkout-api", Active: true, Down: true, Threshold: 3, AlertIntervalMin: 5}
	fs.lastHeartbeat[1] = now
	fs.heartbeatCounts[1] = 5
	fs.activeAlerts[1] = store.Alert{ID: 7, ServiceID: 1, Active: true, AlertCycle: 4}
	fs.nextAlertID = 7

	loop := New(fs, &clock.Frozen{At: now}, testRouter(fs), nil, nil, nil, 4, time.Second)
	loop.Sweep(context.Background())

	if fs.services[1].Down {
		t.Error("expected service marked recovered (down=false)")
	}
	if len(fs.closedAlerts) != 1 || fs.closedAlerts[0] != 7 {
		t.Errorf("expected alert 7 closed, got %+v", fs.closedAlerts)
	}
}

func TestSweepContinuesPastASingleServiceFailure(t *testing.T) {
	fs := newFakeStore()
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	fs.services[1] = store.Service{ID: 1, ServiceName: "broken-svc", Active: true, Threshold: 3}
	fs.failLastHeartbeat[1] = true
	fs.services[2] = store.Service{ID: 2, ServiceName: "healthy-svc", Active: true, Threshold: 3}
	fs.lastHeartbeat[2] = now
	fs.heartbeatCounts[2] = 0

	loop := New(fs, &clock.Frozen{At: now}, testRouter(fs), nil, nil, nil, 4, time.Second)
	loop.Sweep(context.Background())

	if len(fs.createdAlerts) != 1 || fs.createdAlerts[0].ServiceID != 2 {
		t.Errorf("expected the healthy service to still be evaluated despite the other's failure, got %+v", fs.createdAlerts)
	}
}

func TestSweepDeliversToRegisteredWebhooksOnAlertOpen(t *testing.T) {
	fs := newFakeStore()
	fs.services[1] = store.Service{ID: 1, ServiceName: "checkout-api", Active: true, Threshold: 3, AlertIntervalMin: 5}
	fs.lastHeartbeat[1] = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fs.heartbeatCounts[1] = 0
	fs.webhooks = append(fs.webhooks, store.Webhook{ID: 1, URL: "http://169.254.169.254/blocked", Enabled: true})

	deliverer := webhookdelivery.New(fs, urlvalidator.New(""))
	loop := New(fs, &clock.Frozen{At: time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)}, testRouter(fs), nil, nil, nil, 4, time.Second).
		WithWebhooks(deliverer)
	loop.Sweep(context.Background())

	if len(fs.deliveries) != 1 {
		t.Fatalf("expected one webhook delivery attempt recorded, got %d", len(fs.deliveries))
	}
}

func TestSweepHealthyServiceTakesNoAction(t *testing.T) {
	fs := newFakeStore()
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	fs.services[1] = store.Service{ID: 1, ServiceName: "checkout-api", Active: true, Threshold: 3}
	fs.lastHeartbeat[1] = now
	fs.heartbeatCounts[1] = 5

	loop := New(fs, &clock.Frozen{At: now}, testRouter(fs), nil, nil, nil, 4, time.Second)
	loop.Sweep(context.Background())

	if len(fs.createdAlerts) != 0 || len(fs.patches) != 0 {
		t.Errorf("expected no mutation for a healthy service, got alerts=%+v patches=%+v", fs.createdAlerts, fs.patches)
	}
}
