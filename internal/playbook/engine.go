package playbook

import (
	"context"
	"fmt"
	"time"

	"github.com/medicops/medic/internal/clock"
	"github.com/medicops/medic/internal/playbook/executors"
	"github.com/medicops/medic/internal/secrets"
	"github.com/medicops/medic/internal/store"
)

// Engine drives PlaybookExecution rows through their state machine,
// persisting after every step so a process restart can resume any active
// execution (spec.md §4.3's "persist after every step" invariant).
type Engine struct {
	store          store.Store
	clock          clock.Clock
	secretsManager *secrets.Manager
	depsTemplate   executors.Deps // Store/Validator/HTTPClient shared across runs; Secrets* filled in per-run
}

// New builds an Engine. The urlvalidator.Validator and secrets.Manager are
// shared across executions; each run gets its own secrets.Cache so resolved
// plaintext never outlives a single execution.
func New(st store.Store, c clock.Clock, secretsManager *secrets.Manager, deps executors.Deps) *Engine {
	return &Engine{store: st, clock: c, secretsManager: secretsManager, depsTemplate: deps}
}

// Start creates a new PlaybookExecution for pb/def, choosing its initial
// status from the playbook's approval mode: "none" goes straight to
// running and is driven to completion immediately; "required" and
// "timeout:Nm" both start pending_approval (the timeout case is advanced
// later by CheckApprovalTimeouts — approval-by-timeout is a scheduled
// transition, never an immediate one).
func (e *Engine) Start(ctx context.Context, pb store.Playbook, def Definition, serviceID *int64, serviceName string, alertContext map[string]string, alertID *int64, consecutiveFailures int, triggerID *int64) (store.PlaybookExecution, error) {
	svcID := int64(0)
	if serviceID != nil {
		svcID = *serviceID
	}
	ctxData := BuildContext(alertContext, svcID, serviceName, pb.Name, alertID, consecutiveFailures, triggerID)

	status := store.ExecutionRunning
	if def.Approval.Mode != ApprovalNone {
		status = store.ExecutionPendingApproval
	}

	exec, err := e.store.CreateExecution(ctx, store.PlaybookExecution{
		PlaybookID:  pb.ID,
		ServiceID:   serviceID,
		Status:      status,
		CurrentStep: 0,
		Context:     ctxData,
	})
	if err != nil {
		return store.PlaybookExecution{}, err
	}

	exec.Context = WithExecutionID(exec.Context, exec.ID)
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return store.PlaybookExecution{}, err
	}

	if exec.Status == store.ExecutionRunning {
		return e.Run(ctx, exec, def)
	}
	return exec, nil
}

// Approve transitions a pending_approval execution to running and drives it
// (manual approval path).
func (e *Engine) Approve(ctx context.Context, exec store.PlaybookExecution, def Definition) (store.PlaybookExecution, error) {
	if exec.Status != store.ExecutionPendingApproval {
		return exec, fmt.Errorf("execution %d is not pending approval (status=%s)", exec.ID, exec.Status)
	}
	exec.Status = store.ExecutionRunning
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return exec, err
	}
	return e.Run(ctx, exec, def)
}

// Cancel moves any active or pending_approval execution to cancelled.
func (e *Engine) Cancel(ctx context.Context, exec store.PlaybookExecution) (store.PlaybookExecution, error) {
	if exec.Status.IsTerminal() {
		return exec, nil
	}
	exec.Status = store.ExecutionCancelled
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return exec, err
	}
	return exec, nil
}

// CheckApprovalTimeouts advances every pending_approval execution whose
// playbook uses "timeout:Nm" and whose timeout has elapsed into running,
// then drives it. createdAt is supplied by the caller since
// PlaybookExecution does not track approval-specific timestamps separately
// from CreatedAt.
func (e *Engine) CheckApprovalTimeouts(ctx context.Context, pending []store.PlaybookExecution, defs map[int64]Definition) ([]store.PlaybookExecution, error) {
	var advanced []store.PlaybookExecution
	for _, exec := range pending {
		if exec.Status != store.ExecutionPendingApproval {
			continue
		}
		def, ok := defs[exec.PlaybookID]
		if !ok || def.Approval.Mode != ApprovalTimeout {
			continue
		}
		deadline := exec.CreatedAt.Add(approvalTimeoutDuration(def))
		if e.clock.Now().Before(deadline) {
			continue
		}
		result, err := e.Approve(ctx, exec, def)
		if err != nil {
			return advanced, err
		}
		advanced = append(advanced, result)
	}
	return advanced, nil
}

func approvalTimeoutDuration(def Definition) time.Duration {
	return time.Duration(def.Approval.TimeoutMinutes) * time.Minute
}

// Resume re-checks a waiting execution's resume_at and, once elapsed,
// marks the Wait step completed and continues execution.
func (e *Engine) Resume(ctx context.Context, exec store.PlaybookExecution, def Definition) (store.PlaybookExecution, error) {
	if exec.Status != store.ExecutionWaiting {
		return exec, nil
	}
	if exec.ResumeAt == nil || e.clock.Now().Before(*exec.ResumeAt) {
		return exec, nil
	}

	if _, err := e.store.UpsertStepResult(ctx, store.StepResult{
		ExecutionID: exec.ID,
		StepName:    def.Steps[exec.CurrentStep].Name,
		StepIndex:   exec.CurrentStep,
		Status:      store.StepCompleted,
		Output:      fmt.Sprintf("waited %ds", def.Steps[exec.CurrentStep].DurationSeconds),
	}); err != nil {
		return exec, err
	}

	exec.CurrentStep++
	exec.ResumeAt = nil
	exec.Status = store.ExecutionRunning
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return exec, err
	}
	return e.Run(ctx, exec, def)
}

// Run drives exec forward from its current step until it reaches a
// terminal state, a wait boundary, or exhausts def.Steps, persisting the
// execution row after every single step so a crash mid-run loses no more
// than the in-flight step.
func (e *Engine) Run(ctx context.Context, exec store.PlaybookExecution, def Definition) (store.PlaybookExecution, error) {
	cache := secrets.NewCache(e.secretsManager)
	deps := e.depsTemplate
	deps.SecretsManager = e.secretsManager
	deps.SecretsCache = cache

	for exec.Status == store.ExecutionRunning {
		if exec.CurrentStep >= len(def.Steps) {
			exec.Status = store.ExecutionCompleted
			if err := e.store.UpdateExecution(ctx, exec); err != nil {
				return exec, err
			}
			break
		}

		step := def.Steps[exec.CurrentStep]
		input := e.stepInput(step, exec)

		if _, err := e.store.UpsertStepResult(ctx, store.StepResult{
			ExecutionID: exec.ID,
			StepName:    step.Name,
			StepIndex:   exec.CurrentStep,
			Status:      store.StepRunning,
		}); err != nil {
			return exec, err
		}

		if step.Kind == StepWait {
			resumeAt := executors.WaitResumeAt(e.clock, input)
			exec.Status = store.ExecutionWaiting
			exec.ResumeAt = &resumeAt
			if err := e.store.UpdateExecution(ctx, exec); err != nil {
				return exec, err
			}
			break
		}

		outcome := e.dispatch(ctx, deps, step, input)

		if _, err := e.store.UpsertStepResult(ctx, store.StepResult{
			ExecutionID:  exec.ID,
			StepName:     step.Name,
			StepIndex:    exec.CurrentStep,
			Status:       outcome.Status,
			Output:       outcome.Output,
			ErrorMessage: outcome.ErrorMessage,
		}); err != nil {
			return exec, err
		}

		if outcome.Status == store.StepFailed {
			exec.Status = store.ExecutionFailed
			if err := e.store.UpdateExecution(ctx, exec); err != nil {
				return exec, err
			}
			break
		}

		exec.CurrentStep++
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			return exec, err
		}
	}

	return exec, nil
}

func (e *Engine) dispatch(ctx context.Context, deps executors.Deps, step Step, input executors.StepInput) executors.Outcome {
	switch step.Kind {
	case StepWebhook:
		return executors.Webhook(ctx, deps, input)
	case StepScript:
		return executors.Script(ctx, deps, input)
	case StepCondition:
		return executors.Condition(ctx, deps, e.clock, input)
	default:
		return executors.Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("unsupported step kind: %s", step.Kind)}
	}
}

func (e *Engine) stepInput(step Step, exec store.PlaybookExecution) executors.StepInput {
	return executors.StepInput{
		Name:             step.Name,
		ExecutionContext: exec.Context,
		Parameters:       step.Parameters,
		URL:              step.URL,
		Method:           step.Method,
		Headers:          step.Headers,
		Body:             step.Body,
		SuccessCodes:     step.SuccessCodes,
		TimeoutSeconds:   step.TimeoutSeconds,
		ScriptName:       step.ScriptName,
		DurationSeconds:  step.DurationSeconds,
		ConditionType:    step.ConditionType,
		OnFailure:        string(step.OnFailure),
		ServiceID:        exec.ServiceID,
	}
}
