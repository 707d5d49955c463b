package executors

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/medicops/medic/internal/clock"
	"github.com/medicops/medic/internal/store"
)

const (
	defaultConditionTimeout = 300 * time.Second
	conditionPollInterval   = 5 * time.Second
)

// Condition runs a Condition step: polls the configured check every
// conditionPollInterval until it is satisfied or the timeout elapses, then
// applies on_failure (fail/continue/escalate) to a timeout (spec.md §4.3,
// grounded on the teacher's condition executor).
func Condition(ctx context.Context, deps Deps, c clock.Clock, step StepInput) Outcome {
	if step.ServiceID == nil {
		return Outcome{Status: store.StepFailed, ErrorMessage: "no service_id available for condition check"}
	}

	timeout := defaultConditionTimeout
	if step.TimeoutSeconds > 0 {
		timeout = time.Duration(step.TimeoutSeconds) * time.Second
	}

	start := c.Now()
	deadline := start.Add(timeout)

	var lastMessage string
	for {
		met, message, err := evaluateCondition(ctx, deps, c, step, start)
		lastMessage = message
		if err != nil {
			return Outcome{Status: store.StepFailed, ErrorMessage: err.Error()}
		}
		if met {
			elapsed := c.Now().Sub(start)
			return Outcome{
				Status: store.StepCompleted,
				Output: fmt.Sprintf("Condition %q met after %s\n%s", step.ConditionType, elapsed, lastMessage),
			}
		}

		remaining := deadline.Sub(c.Now())
		if remaining <= 0 {
			break
		}
		wait := conditionPollInterval
		if remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return Outcome{Status: store.StepFailed, ErrorMessage: "condition check cancelled"}
		case <-time.After(wait):
		}
	}

	elapsed := c.Now().Sub(start)
	timeoutMsg := fmt.Sprintf("condition %q timed out after %s: %s", step.ConditionType, elapsed, lastMessage)

	switch step.OnFailure {
	case "continue":
		return Outcome{Status: store.StepCompleted, Output: timeoutMsg + " (continuing due to on_failure=continue)"}
	case "escalate":
		return Outcome{Status: store.StepFailed, ErrorMessage: timeoutMsg, Escalate: true}
	default:
		return Outcome{Status: store.StepFailed, ErrorMessage: timeoutMsg}
	}
}

func evaluateCondition(ctx context.Context, deps Deps, c clock.Clock, step StepInput, since time.Time) (bool, string, error) {
	switch step.ConditionType {
	case "heartbeat_received":
		return checkHeartbeatReceived(ctx, deps, *step.ServiceID, since, step.Parameters)
	default:
		return false, "", fmt.Errorf("unknown condition type: %s", step.ConditionType)
	}
}

func checkHeartbeatReceived(ctx context.Context, deps Deps, serviceID int64, since time.Time, parameters map[string]string) (bool, string, error) {
	minCount := 1
	if raw, ok := parameters["min_count"]; ok {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			minCount = parsed
		}
	}

	var (
		count int
		err   error
	)
	if status, ok := parameters["status"]; ok && status != "" {
		count, err = deps.Store.CountHeartbeatsSinceWithStatus(ctx, serviceID, since, store.HeartbeatStatus(status))
	} else {
		count, err = deps.Store.CountHeartbeatsSince(ctx, serviceID, since)
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to query heartbeat events: %w", err)
	}

	if count >= minCount {
		return true, fmt.Sprintf("heartbeat received: %d heartbeat(s) since %s", count, since.Format(time.RFC3339)), nil
	}
	return false, fmt.Sprintf("waiting for heartbeat: %d/%d received since %s", count, minCount, since.Format(time.RFC3339)), nil
}
