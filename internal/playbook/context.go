package playbook

import (
	"fmt"

	"github.com/medicops/medic/internal/store"
)

// Standard context binding keys (spec.md §3 "execution context"). BuildContext
// always sets SERVICE_ID, SERVICE_NAME, PLAYBOOK_NAME and CONSECUTIVE_FAILURES
// over whatever the originating alert contributed; ALERT_ID and TRIGGER_ID
// only when those ids are given; EXECUTION_ID is added by WithExecutionID.
const (
	BindingServiceName         = "SERVICE_NAME"
	BindingServiceID           = "SERVICE_ID"
	BindingAlertID             = "ALERT_ID"
	BindingExecutionID         = "EXECUTION_ID"
	BindingPlaybookName        = "PLAYBOOK_NAME"
	BindingConsecutiveFailures = "CONSECUTIVE_FAILURES"
	BindingTriggerID           = "TRIGGER_ID"
)

// BuildContext merges the standard bindings over a copy of alertContext,
// producing the map persisted on the PlaybookExecution row and substituted
// into every step (spec.md §3, §4.3). executionID is 0 before the execution
// row is first created; call WithExecutionID once the real id is known.
func BuildContext(alertContext map[string]string, serviceID int64, serviceName, playbookName string, alertID *int64, consecutiveFailures int, triggerID *int64) store.ExecutionContextData {
	ctx := make(store.ExecutionContextData, len(alertContext)+6)
	for k, v := range alertContext {
		ctx[k] = v
	}
	ctx[BindingServiceID] = fmt.Sprintf("%d", serviceID)
	ctx[BindingServiceName] = serviceName
	ctx[BindingPlaybookName] = playbookName
	ctx[BindingConsecutiveFailures] = fmt.Sprintf("%d", consecutiveFailures)
	if alertID != nil {
		ctx[BindingAlertID] = fmt.Sprintf("%d", *alertID)
	}
	if triggerID != nil {
		ctx[BindingTriggerID] = fmt.Sprintf("%d", *triggerID)
	}
	return ctx
}

// WithExecutionID returns a copy of ctx with the EXECUTION_ID binding set,
// used once CreateExecution has assigned a real id.
func WithExecutionID(ctx store.ExecutionContextData, executionID int64) store.ExecutionContextData {
	out := make(store.ExecutionContextData, len(ctx)+1)
	for k, v := range ctx {
		out[k] = v
	}
	out[BindingExecutionID] = fmt.Sprintf("%d", executionID)
	return out
}
