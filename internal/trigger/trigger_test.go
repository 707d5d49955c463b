package trigger

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/medicops/medic/internal/circuitbreaker"
	"github.com/medicops/medic/internal/clock"
	"github.com/medicops/medic/internal/playbook"
	"github.com/medicops/medic/internal/playbook/executors"
	"github.com/medicops/medic/internal/secrets"
	"github.com/medicops/medic/internal/store"
	"github.com/medicops/medic/internal/urlvalidator"
)

const webhookYAML = `
name: restart-service
approval: none
steps:
  - name: call-hook
    type: webhook
    url: %s
    method: POST
    success_codes: [200]
`

type fakeStore struct {
	store.Store
	mu          sync.Mutex
	triggers    []store.PlaybookTrigger
	playbooks   map[int64]store.Playbook
	executions  map[int64]store.PlaybookExecution
	execCount   int
	nextExecID  int64
}

func (f *fakeStore) ListPlaybookTriggers(ctx context.Context) ([]store.PlaybookTrigger, error) {
	return f.triggers, nil
}

func (f *fakeStore) GetPlaybook(ctx context.Context, id int64) (store.Playbook, bool, error) {
	pb, ok := f.playbooks[id]
	return pb, ok, nil
}

func (f *fakeStore) CountExecutionsSince(ctx context.Context, serviceID int64, since time.Time) (int, error) {
	return f.execCount, nil
}

func (f *fakeStore) CreateExecution(ctx context.Context, exec store.PlaybookExecution) (store.PlaybookExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextExecID++
	exec.ID = f.nextExecID
	if f.executions == nil {
		f.executions = make(map[int64]store.PlaybookExecution)
	}
	f.executions[exec.ID] = exec
	return exec, nil
}

func (f *fakeStore) UpdateExecution(ctx context.Context, exec store.PlaybookExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions[exec.ID] = exec
	return nil
}

func (f *fakeStore) UpsertStepResult(ctx context.Context, sr store.StepResult) (store.StepResult, error) {
	return sr, nil
}

func testEvaluator(t *testing.T, fs *fakeStore) *Evaluator {
	t.Helper()
	manager, err := secrets.NewManager("MDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDA=", fs)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	deps := executors.NewDeps(fs, urlvalidator.New("127.0.0.1"), manager, nil)
	engine := playbook.New(fs, clock.Real{}, manager, deps)
	breaker := circuitbreaker.New(fs, clock.Real{})
	return New(fs, breaker, engine)
}

func TestEvaluateStartsMostSpecificMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fs := &fakeStore{
		triggers: []store.PlaybookTrigger{
			{ID: 1, PlaybookID: 10, ServicePattern: "worker-*", ConsecutiveFailures: 1},
			{ID: 2, PlaybookID: 20, ServicePattern: "worker-*", ConsecutiveFailures: 3},
		},
		playbooks: map[int64]store.Playbook{
			20: {ID: 20, Name: "restart-service", YAMLContent: sprintfYAML(server.URL)},
		},
	}
	ev := testEvaluator(t, fs)

	result, err := ev.Evaluate(context.Background(), 1, "worker-prod-01", 3, nil, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.Triggered || result.PlaybookID != 20 {
		t.Fatalf("expected the 3-failure trigger to win, got %+v", result)
	}
	if result.Status != StatusRunning {
		t.Errorf("status = %s, want running", result.Status)
	}
}

func TestEvaluateNoMatchReturnsNoMatch(t *testing.T) {
	fs := &fakeStore{triggers: []store.PlaybookTrigger{
		{ID: 1, PlaybookID: 10, ServicePattern: "worker-*", ConsecutiveFailures: 5},
	}}
	ev := testEvaluator(t, fs)

	result, err := ev.Evaluate(context.Background(), 1, "checkout-api", 2, nil, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Triggered || result.Status != StatusNoMatch {
		t.Errorf("expected no_match, got %+v", result)
	}
}

func TestEvaluateCircuitBreakerOpenSkipsStart(t *testing.T) {
	fs := &fakeStore{
		triggers: []store.PlaybookTrigger{{ID: 1, PlaybookID: 10, ServicePattern: "worker-*", ConsecutiveFailures: 1}},
		playbooks: map[int64]store.Playbook{
			10: {ID: 10, Name: "restart-service", YAMLContent: sprintfYAML("https://example.invalid")},
		},
		execCount: circuitbreaker.DefaultThreshold,
	}
	ev := testEvaluator(t, fs)

	result, err := ev.Evaluate(context.Background(), 1, "worker-prod-01", 1, nil, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Triggered || result.Status != StatusCircuitBreakerOpen {
		t.Errorf("expected circuit_breaker_open, got %+v", result)
	}
}

func TestEvaluateRequiresThresholdMet(t *testing.T) {
	fs := &fakeStore{triggers: []store.PlaybookTrigger{
		{ID: 1, PlaybookID: 10, ServicePattern: "worker-*", ConsecutiveFailures: 5},
	}}
	ev := testEvaluator(t, fs)

	result, err := ev.Evaluate(context.Background(), 1, "worker-prod-01", 2, nil, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Triggered {
		t.Error("expected no trigger: consecutive_failures threshold not yet met")
	}
}

func sprintfYAML(url string) string {
	return fmt.Sprintf(webhookYAML, url)
}
