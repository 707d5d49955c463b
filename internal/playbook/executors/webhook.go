package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/medicops/medic/internal/playbook/varsubst"
	"github.com/medicops/medic/internal/store"
)

const defaultWebhookTimeout = 30 * time.Second

// Webhook runs a Webhook step: substitutes ${VAR} then ${secrets.NAME} into
// the URL, headers, and body, validates the resolved URL against SSRF
// rules, issues the HTTP request, and truncates the captured response
// (spec.md §4.3, grounded on the teacher's webhook executor).
func Webhook(ctx context.Context, deps Deps, step StepInput) Outcome {
	url, err := substituteAndResolveSecrets(ctx, deps, step.URL, step.ExecutionContext, nil)
	if err != nil {
		return Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("variable/secret substitution failed: %v", err)}
	}

	headers := make(map[string]string, len(step.Headers))
	for k, v := range step.Headers {
		resolved, err := substituteAndResolveSecrets(ctx, deps, v, step.ExecutionContext, nil)
		if err != nil {
			return Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("variable/secret substitution failed: %v", err)}
		}
		headers[k] = resolved
	}

	body, err := substituteBody(ctx, deps, step.Body, step.ExecutionContext)
	if err != nil {
		return Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("variable/secret substitution failed: %v", err)}
	}

	if err := deps.Validator.Validate(ctx, url); err != nil {
		return Outcome{Status: store.StepFailed, ErrorMessage: "invalid webhook URL"}
	}

	timeout := defaultWebhookTimeout
	if step.TimeoutSeconds > 0 {
		timeout = time.Duration(step.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("failed to encode request body: %v", err)}
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(reqCtx, step.Method, url, bodyReader)
	if err != nil {
		return Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := deps.HTTPClient.Do(req)
	if err != nil {
		return Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("request timed out or failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodyBytes+1))
	responseBody := string(raw)
	if len(responseBody) > MaxResponseBodyBytes {
		responseBody = responseBody[:MaxResponseBodyBytes] + "...[truncated]"
	}

	output := fmt.Sprintf("HTTP %s %s\nStatus: %d\nResponse: %s", step.Method, url, resp.StatusCode, responseBody)

	if successCodeMatches(resp.StatusCode, step.SuccessCodes) {
		return Outcome{Status: store.StepCompleted, Output: output}
	}
	return Outcome{
		Status:       store.StepFailed,
		Output:       output,
		ErrorMessage: fmt.Sprintf("unexpected status code %d, expected one of %v", resp.StatusCode, step.SuccessCodes),
	}
}

func successCodeMatches(code int, successCodes []int) bool {
	for _, c := range successCodes {
		if c == code {
			return true
		}
	}
	return false
}

// substituteAndResolveSecrets applies ${VAR} substitution from context and
// parameters, then ${secrets.NAME} substitution via deps.
func substituteAndResolveSecrets(ctx context.Context, deps Deps, value string, context_ map[string]string, parameters map[string]string) (string, error) {
	withVars := varsubst.String(value, context_, parameters)
	return deps.substituteSecrets(ctx, withVars)
}

func substituteBody(ctx context.Context, deps Deps, body map[string]interface{}, context_ map[string]string) (map[string]interface{}, error) {
	if body == nil {
		return nil, nil
	}
	withVars := varsubst.Substitute(body, context_, nil).(map[string]interface{})
	return resolveSecretsDeep(ctx, deps, withVars)
}

func resolveSecretsDeep(ctx context.Context, deps Deps, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return deps.substituteSecrets(ctx, v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			resolved, err := resolveSecretsDeep(ctx, deps, item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := resolveSecretsDeep(ctx, deps, item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// StepInput is the subset of a parsed step plus its execution context an
// executor needs, independent of the playbook package's Step type to avoid
// an import cycle (engine.go in package playbook builds one per dispatch).
type StepInput struct {
	Name             string
	ExecutionContext map[string]string
	Parameters       map[string]string

	// Webhook
	URL            string
	Method         string
	Headers        map[string]string
	Body           map[string]interface{}
	SuccessCodes   []int
	TimeoutSeconds int

	// Script
	ScriptName string

	// Wait
	DurationSeconds int

	// Condition
	ConditionType string
	OnFailure     string // "fail", "continue", "escalate"

	// ServiceID is used by the Condition executor's heartbeat check.
	ServiceID *int64
}
