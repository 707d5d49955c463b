package executors

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/medicops/medic/internal/playbook/varsubst"
	"github.com/medicops/medic/internal/store"
)

const defaultScriptTimeout = 30 * time.Second

// Script runs a Script step: looks up a pre-registered script by name
// (arbitrary script content is never accepted from the playbook itself),
// substitutes ${VAR}/${secrets.NAME} into its content, and executes it with
// an allowlisted environment and resource limits (spec.md §4.3, grounded
// on the teacher's script executor).
func Script(ctx context.Context, deps Deps, step StepInput) Outcome {
	script, found, err := deps.Store.GetRegisteredScript(ctx, step.ScriptName)
	if err != nil {
		return Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("failed to look up registered script: %v", err)}
	}
	if !found {
		return Outcome{
			Status:       store.StepFailed,
			ErrorMessage: fmt.Sprintf("script %q not found in registered scripts; only pre-registered scripts can be executed", step.ScriptName),
		}
	}

	merged := make(map[string]string, len(step.ExecutionContext)+len(step.Parameters))
	for k, v := range step.ExecutionContext {
		merged[k] = v
	}
	for k, v := range step.Parameters {
		merged[k] = v
	}
	withVars := varsubst.String(script.Content, merged, nil)
	content, err := deps.substituteSecrets(ctx, withVars)
	if err != nil {
		return Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("variable/secret substitution failed: %v", err)}
	}

	var interpreterCmd []string
	var suffix string
	switch script.Interpreter {
	case "python":
		interpreterCmd = []string{"python3", "-u"}
		suffix = ".py"
	case "bash":
		interpreterCmd = []string{"bash", "-e"}
		suffix = ".sh"
	default:
		return Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("unsupported interpreter: %s", script.Interpreter)}
	}

	timeout := defaultScriptTimeout
	switch {
	case step.TimeoutSeconds > 0:
		timeout = time.Duration(step.TimeoutSeconds) * time.Second
	case script.DefaultTimeoutSeconds > 0:
		timeout = time.Duration(script.DefaultTimeoutSeconds) * time.Second
	}

	tmp, err := os.CreateTemp("", "medic-script-*"+suffix)
	if err != nil {
		return Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("failed to create script file: %v", err)}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("failed to write script file: %v", err)}
	}
	tmp.Close()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullCmd := append(append([]string{}, interpreterCmd...), tmp.Name())
	cmd := exec.CommandContext(runCtx, "bash", "-c", rlimitWrapper(fullCmd, int(timeout.Seconds())))
	cmd.Env = scriptEnv(step)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("script execution timed out after %s", timeout)}
	}

	combined := stdout.String()
	if stderr.Len() > 0 {
		combined += "\n[STDERR]\n" + stderr.String()
	}
	if len(combined) > MaxScriptOutputBytes {
		combined = combined[:MaxScriptOutputBytes] + "\n...[output truncated]"
	}

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return Outcome{Status: store.StepFailed, ErrorMessage: fmt.Sprintf("script execution failed: %v", runErr)}
	}

	output := fmt.Sprintf("Script: %s\nInterpreter: %s\nExit code: %d\nOutput:\n%s", script.Name, script.Interpreter, exitCode, combined)

	if exitCode == 0 {
		return Outcome{Status: store.StepCompleted, Output: output}
	}
	return Outcome{Status: store.StepFailed, Output: output, ErrorMessage: fmt.Sprintf("script exited with code %d", exitCode)}
}

// rlimitWrapper builds a `bash -c` command line that applies best-effort
// virtual-memory and CPU-time rlimits via the shell's ulimit builtin before
// exec'ing the interpreter. os/exec has no preexec_fn equivalent to set
// rlimits on the child directly, so this is the portable substitute; ulimit
// failures (e.g. a platform that rejects -v) are suppressed rather than
// aborting the run.
func rlimitWrapper(cmdArgs []string, cpuSeconds int) string {
	memKB := MaxScriptMemoryBytes / 1024
	quoted := make([]string, len(cmdArgs))
	for i, a := range cmdArgs {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return fmt.Sprintf("ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec %s",
		memKB, cpuSeconds, strings.Join(quoted, " "))
}

// scriptEnv builds the allowlisted environment a script subprocess runs
// with: base system vars, any MEDIC_ADDITIONAL_SCRIPT_ENV_VARS extension,
// and the explicit MEDIC_* execution bindings. No other parent process
// environment variable, and no secret, is ever propagated.
func scriptEnv(step StepInput) []string {
	allowed := make(map[string]bool, len(AllowedScriptEnvVars))
	for _, name := range AllowedScriptEnvVars {
		allowed[name] = true
	}
	if extra := os.Getenv("MEDIC_ADDITIONAL_SCRIPT_ENV_VARS"); extra != "" {
		for _, name := range strings.Split(extra, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				allowed[name] = true
			}
		}
	}

	env := make([]string, 0, len(allowed)+4)
	for name := range allowed {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}

	env = append(env, "MEDIC_EXECUTION_ID="+step.ExecutionContext["EXECUTION_ID"])
	env = append(env, "MEDIC_PLAYBOOK_ID="+step.ExecutionContext["PLAYBOOK_ID"])
	serviceID := ""
	if step.ServiceID != nil {
		serviceID = fmt.Sprintf("%d", *step.ServiceID)
	}
	env = append(env, "MEDIC_SERVICE_ID="+serviceID)
	return env
}
