package playbook

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/medicops/medic/infrastructure/errors"
)

// ParseError reports a playbook YAML grammar violation, naming the
// offending field the way the original parser's messages do.
type ParseError struct {
	Field   string
	Message string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("field %q: %s", e.Field, e.Message)
}

var timeoutPattern = regexp.MustCompile(`^(\d+)(s|m|h)?$`)

func parseDuration(raw string) (int, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return 0, fmt.Errorf("duration cannot be empty")
	}
	m := timeoutPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("invalid duration format: %q (expected a number with optional s/m/h suffix)", raw)
	}
	value, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %q", raw)
	}
	switch m[2] {
	case "", "s":
		return value, nil
	case "m":
		return value * 60, nil
	case "h":
		return value * 3600, nil
	default:
		return 0, fmt.Errorf("unknown duration unit in %q", raw)
	}
}

var approvalTimeoutPattern = regexp.MustCompile(`^timeout:(\d+)m$`)

func parseApproval(raw string) (Approval, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch {
	case raw == "" || raw == ApprovalNone:
		return Approval{Mode: ApprovalNone}, nil
	case raw == ApprovalRequired:
		return Approval{Mode: ApprovalRequired}, nil
	case strings.HasPrefix(raw, "timeout:"):
		m := approvalTimeoutPattern.FindStringSubmatch(raw)
		if m == nil {
			return Approval{}, fmt.Errorf("invalid timeout format: %q (expected 'timeout:Xm')", raw)
		}
		minutes, _ := strconv.Atoi(m[1])
		if minutes <= 0 {
			return Approval{}, fmt.Errorf("approval timeout must be a positive number of minutes")
		}
		return Approval{Mode: ApprovalTimeout, TimeoutMinutes: minutes}, nil
	default:
		return Approval{}, fmt.Errorf("invalid approval setting: %q (must be 'none', 'required', or 'timeout:Xm')", raw)
	}
}

// yamlStep is the raw, untyped form every step decodes into before
// dispatching on its "type" tag.
type yamlStep struct {
	Name          string                 `yaml:"name"`
	Type          string                 `yaml:"type"`
	URL           string                 `yaml:"url"`
	Method        string                 `yaml:"method"`
	Headers       map[string]string      `yaml:"headers"`
	Body          map[string]interface{} `yaml:"body"`
	SuccessCodes  []int                  `yaml:"success_codes"`
	Timeout       string                 `yaml:"timeout"`
	Script        string                 `yaml:"script"`
	ScriptName    string                 `yaml:"script_name"`
	Parameters    map[string]string      `yaml:"parameters"`
	Duration      string                 `yaml:"duration"`
	Check         string                 `yaml:"check"`
	OnFailure     string                 `yaml:"on_failure"`
}

type yamlPlaybook struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Approval    string     `yaml:"approval"`
	Version     int        `yaml:"version"`
	Steps       []yamlStep `yaml:"steps"`
}

var validMethods = map[string]bool{"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true}

func parseWebhookStep(y yamlStep) (Step, error) {
	if y.URL == "" {
		return Step{}, &ParseError{Field: "url", Message: "webhook URL is required"}
	}
	if !strings.HasPrefix(y.URL, "http://") && !strings.HasPrefix(y.URL, "https://") && !strings.HasPrefix(y.URL, "${") {
		return Step{}, &ParseError{Field: "url", Message: "URL must start with http://, https://, or be a variable"}
	}

	method := strings.ToUpper(y.Method)
	if method == "" {
		method = "POST"
	}
	if !validMethods[method] {
		return Step{}, &ParseError{Field: "method", Message: fmt.Sprintf("invalid HTTP method: %s", method)}
	}

	successCodes := y.SuccessCodes
	if len(successCodes) == 0 {
		successCodes = append([]int{}, DefaultWebhookSuccessCodes...)
	}

	timeoutRaw := y.Timeout
	if timeoutRaw == "" {
		timeoutRaw = "30s"
	}
	timeoutSeconds, err := parseDuration(timeoutRaw)
	if err != nil {
		return Step{}, &ParseError{Field: "timeout", Message: err.Error()}
	}

	return Step{
		Name:           y.Name,
		Kind:           StepWebhook,
		URL:            y.URL,
		Method:         method,
		Headers:        y.Headers,
		Body:           y.Body,
		SuccessCodes:   successCodes,
		TimeoutSeconds: timeoutSeconds,
	}, nil
}

func parseScriptStep(y yamlStep) (Step, error) {
	scriptName := y.Script
	if scriptName == "" {
		scriptName = y.ScriptName
	}
	if scriptName == "" {
		return Step{}, &ParseError{Field: "script", Message: "script name is required (use the 'script' field)"}
	}

	// An absent timeout stays 0 so the executor falls back to the script's
	// own default and then DefaultScriptTimeoutSeconds.
	timeoutSeconds := 0
	if y.Timeout != "" {
		parsed, err := parseDuration(y.Timeout)
		if err != nil {
			return Step{}, &ParseError{Field: "timeout", Message: err.Error()}
		}
		timeoutSeconds = parsed
	}

	return Step{
		Name:           y.Name,
		Kind:           StepScript,
		ScriptName:     scriptName,
		Parameters:     y.Parameters,
		TimeoutSeconds: timeoutSeconds,
	}, nil
}

func parseWaitStep(y yamlStep) (Step, error) {
	if y.Duration == "" {
		return Step{}, &ParseError{Field: "duration", Message: "wait duration is required (e.g. '30s', '5m')"}
	}
	durationSeconds, err := parseDuration(y.Duration)
	if err != nil {
		return Step{}, &ParseError{Field: "duration", Message: err.Error()}
	}
	if durationSeconds <= 0 {
		return Step{}, &ParseError{Field: "duration", Message: "wait duration must be positive"}
	}

	return Step{
		Name:            y.Name,
		Kind:            StepWait,
		DurationSeconds: durationSeconds,
	}, nil
}

var validConditionTypes = map[string]bool{"heartbeat_received": true}
var validOnFailure = map[string]OnFailure{"fail": OnFailureFail, "continue": OnFailureContinue, "escalate": OnFailureEscalate}

func parseConditionStep(y yamlStep) (Step, error) {
	check := strings.ToLower(y.Check)
	if check == "" {
		return Step{}, &ParseError{Field: "check", Message: "condition check type is required (e.g. 'heartbeat_received')"}
	}
	if !validConditionTypes[check] {
		return Step{}, &ParseError{Field: "check", Message: fmt.Sprintf("invalid condition type: %s", check)}
	}

	timeoutRaw := y.Timeout
	if timeoutRaw == "" {
		timeoutRaw = "5m"
	}
	timeoutSeconds, err := parseDuration(timeoutRaw)
	if err != nil {
		return Step{}, &ParseError{Field: "timeout", Message: err.Error()}
	}

	onFailureRaw := strings.ToLower(y.OnFailure)
	if onFailureRaw == "" {
		onFailureRaw = "fail"
	}
	onFailure, ok := validOnFailure[onFailureRaw]
	if !ok {
		return Step{}, &ParseError{Field: "on_failure", Message: fmt.Sprintf("invalid on_failure action: %s", onFailureRaw)}
	}

	return Step{
		Name:           y.Name,
		Kind:           StepCondition,
		ConditionType:  check,
		TimeoutSeconds: timeoutSeconds,
		OnFailure:      onFailure,
		Parameters:     y.Parameters,
	}, nil
}

func parseStep(index int, y yamlStep) (Step, error) {
	if y.Name == "" {
		return Step{}, &ParseError{Field: "name", Message: fmt.Sprintf("step %d: name is required", index+1)}
	}
	if y.Type == "" {
		return Step{}, &ParseError{Field: "type", Message: fmt.Sprintf("step %d (%s): type is required", index+1, y.Name)}
	}

	var (
		step Step
		err  error
	)
	switch StepKind(strings.ToLower(y.Type)) {
	case StepWebhook:
		step, err = parseWebhookStep(y)
	case StepScript:
		step, err = parseScriptStep(y)
	case StepWait:
		step, err = parseWaitStep(y)
	case StepCondition:
		step, err = parseConditionStep(y)
	default:
		return Step{}, &ParseError{Field: "type", Message: fmt.Sprintf("invalid step type: %s", y.Type)}
	}
	if err != nil {
		return Step{}, fmt.Errorf("step %d: %w", index+1, err)
	}
	return step, nil
}

// Parse decodes a playbook YAML document into a Definition, enforcing the
// same grammar as the original parser: required name/steps, per-step-type
// required fields, duration strings in s/m/h, an approval mode of
// none/required/timeout:Xm, and unique step names.
func Parse(yamlContent string) (Definition, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return Definition{}, errors.ValidationField("yaml_content", "playbook YAML content cannot be empty")
	}

	var raw yamlPlaybook
	if err := yaml.Unmarshal([]byte(yamlContent), &raw); err != nil {
		return Definition{}, errors.ValidationField("yaml_content", fmt.Sprintf("invalid YAML syntax: %v", err))
	}

	if raw.Name == "" {
		return Definition{}, errors.ValidationField("name", "playbook name is required")
	}
	if len(raw.Steps) == 0 {
		return Definition{}, errors.ValidationField("steps", "playbook must have at least one step")
	}

	steps := make([]Step, 0, len(raw.Steps))
	seen := make(map[string]bool, len(raw.Steps))
	for i, y := range raw.Steps {
		step, err := parseStep(i, y)
		if err != nil {
			return Definition{}, errors.ValidationField("steps", err.Error())
		}
		if seen[step.Name] {
			return Definition{}, errors.ValidationField("steps", fmt.Sprintf("duplicate step name: %q", step.Name))
		}
		seen[step.Name] = true
		steps = append(steps, step)
	}

	approval, err := parseApproval(raw.Approval)
	if err != nil {
		return Definition{}, errors.ValidationField("approval", err.Error())
	}

	return Definition{Approval: approval, Steps: steps}, nil
}
