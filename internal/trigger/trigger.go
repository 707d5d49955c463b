// Package trigger matches an alerting service against configured
// PlaybookTrigger rows and starts the most specific matching playbook,
// subject to circuit-breaker admission (spec.md §4.4, grounded on
// original_source/Medic/Core/playbook_alert_integration.py).
package trigger

import (
	"context"
	"fmt"
	"path"

	"github.com/medicops/medic/internal/circuitbreaker"
	"github.com/medicops/medic/internal/playbook"
	"github.com/medicops/medic/internal/store"
)

// Status values surfaced on a Result, mirroring the teacher's
// PlaybookTriggerResult.status strings.
const (
	StatusNoMatch            = "no_match"
	StatusCircuitBreakerOpen = "circuit_breaker_open"
	StatusError              = "error"
	StatusRunning            = "running"
	StatusPendingApproval    = "pending_approval"
)

// Result reports the outcome of evaluating triggers for an alerting
// service.
type Result struct {
	Triggered    bool
	Execution    *store.PlaybookExecution
	PlaybookID   int64
	PlaybookName string
	TriggerID    int64
	Status       string
	Message      string
}

// Evaluator matches PlaybookTrigger rows and starts playbook executions.
type Evaluator struct {
	store   store.Store
	breaker *circuitbreaker.Breaker
	engine  *playbook.Engine
}

// New builds an Evaluator.
func New(st store.Store, breaker *circuitbreaker.Breaker, engine *playbook.Engine) *Evaluator {
	return &Evaluator{store: st, breaker: breaker, engine: engine}
}

// Evaluate checks whether any PlaybookTrigger matches serviceName at the
// given consecutiveFailures count and, if so, starts that playbook's
// execution (admission permitting). Exactly one trigger is ever acted on
// per call — the most specific match, picked per spec.md §4.4 as the
// largest consecutive_failures, ties broken by lowest trigger id.
func (e *Evaluator) Evaluate(ctx context.Context, serviceID int64, serviceName string, consecutiveFailures int, alertID *int64, alertContext map[string]string) (Result, error) {
	triggers, err := e.store.ListPlaybookTriggers(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate triggers: %w", err)
	}

	matched, ok := selectMostSpecific(triggers, serviceName, consecutiveFailures)
	if !ok {
		return Result{Status: StatusNoMatch, Message: fmt.Sprintf("no playbook trigger matched for %q", serviceName)}, nil
	}

	pb, found, err := e.store.GetPlaybook(ctx, matched.PlaybookID)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate triggers: %w", err)
	}
	if !found {
		return Result{
			TriggerID: matched.ID, PlaybookID: matched.PlaybookID,
			Status: StatusError, Message: fmt.Sprintf("failed to load playbook %d", matched.PlaybookID),
		}, nil
	}

	def, err := playbook.Parse(pb.YAMLContent)
	if err != nil {
		return Result{
			TriggerID: matched.ID, PlaybookID: pb.ID, PlaybookName: pb.Name,
			Status: StatusError, Message: fmt.Sprintf("failed to parse playbook %d: %v", pb.ID, err),
		}, nil
	}

	allowed, err := e.breaker.Allow(ctx, serviceID)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate triggers: circuit breaker check: %w", err)
	}
	if !allowed {
		return Result{
			TriggerID: matched.ID, PlaybookID: pb.ID, PlaybookName: pb.Name,
			Status: StatusCircuitBreakerOpen, Message: fmt.Sprintf("circuit breaker open for service %d", serviceID),
		}, nil
	}

	triggerID := matched.ID
	exec, err := e.engine.Start(ctx, pb, def, &serviceID, serviceName, alertContext, alertID, consecutiveFailures, &triggerID)
	if err != nil {
		return Result{
			TriggerID: matched.ID, PlaybookID: pb.ID, PlaybookName: pb.Name,
			Status: StatusError, Message: fmt.Sprintf("failed to start playbook execution: %v", err),
		}, nil
	}

	status, message := describe(exec, pb, def)
	return Result{
		Triggered: true, Execution: &exec,
		PlaybookID: pb.ID, PlaybookName: pb.Name, TriggerID: matched.ID,
		Status: status, Message: message,
	}, nil
}

// selectMostSpecific filters triggers to those whose service_pattern
// matches name and whose consecutive_failures threshold has been met
// (threshold <= failures), then returns the most specific: largest
// consecutive_failures, ties broken by lowest id.
func selectMostSpecific(triggers []store.PlaybookTrigger, name string, failures int) (store.PlaybookTrigger, bool) {
	var best store.PlaybookTrigger
	found := false

	for _, t := range triggers {
		if t.ConsecutiveFailures > failures {
			continue
		}
		if !patternMatches(t.ServicePattern, name) {
			continue
		}
		if !found {
			best, found = t, true
			continue
		}
		if t.ConsecutiveFailures > best.ConsecutiveFailures {
			best = t
		} else if t.ConsecutiveFailures == best.ConsecutiveFailures && t.ID < best.ID {
			best = t
		}
	}
	return best, found
}

// patternMatches reports whether a service_pattern matches name. Patterns
// are shell globs (path.Match semantics: `*` and `?` wildcards, `[...]`
// character classes) — the form used throughout the teacher's own trigger
// fixtures (e.g. "worker-*"). An exact literal match always succeeds
// regardless of glob metacharacters.
func patternMatches(pattern, name string) bool {
	if pattern == name {
		return true
	}
	matched, err := path.Match(pattern, name)
	return err == nil && matched
}

// describe derives the human-readable status/message pair for a freshly
// started execution, mirroring the teacher's trigger_playbook_for_alert.
func describe(exec store.PlaybookExecution, pb store.Playbook, def playbook.Definition) (string, string) {
	switch exec.Status {
	case store.ExecutionRunning, store.ExecutionCompleted, store.ExecutionFailed, store.ExecutionWaiting:
		return StatusRunning, fmt.Sprintf("playbook %q started immediately (approval=none)", pb.Name)
	case store.ExecutionPendingApproval:
		if def.Approval.Mode == playbook.ApprovalTimeout {
			return StatusPendingApproval, fmt.Sprintf("playbook %q awaiting approval (auto-approve in %dm)", pb.Name, def.Approval.TimeoutMinutes)
		}
		return StatusPendingApproval, fmt.Sprintf("playbook %q awaiting approval", pb.Name)
	default:
		return string(exec.Status), fmt.Sprintf("playbook %q status: %s", pb.Name, exec.Status)
	}
}
