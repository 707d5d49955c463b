// Package executors implements the four playbook step types (webhook,
// script, wait, condition), each grounded on the matching module under
// original_source/Medic/Core/playbook/executors in the teacher's idiom
// (spec.md §4.3).
package executors

import (
	"context"
	"net/http"
	"time"

	"github.com/medicops/medic/internal/secrets"
	"github.com/medicops/medic/internal/store"
	"github.com/medicops/medic/internal/urlvalidator"
)

// MaxResponseBodyBytes is the webhook response-body truncation limit.
const MaxResponseBodyBytes = 4096

// MaxScriptOutputBytes is the script stdout+stderr truncation limit.
const MaxScriptOutputBytes = 8192

// MaxScriptMemoryBytes is the virtual-memory rlimit applied to script
// subprocesses.
const MaxScriptMemoryBytes = 256 * 1024 * 1024

// AllowedScriptEnvVars is the base allowlist of parent environment
// variables propagated to script subprocesses. MEDIC_ADDITIONAL_SCRIPT_ENV_VARS
// (comma-separated) may extend it at runtime.
var AllowedScriptEnvVars = []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TZ"}

// Deps bundles the external collaborators every executor needs.
type Deps struct {
	Store          store.Store
	Validator      *urlvalidator.Validator
	SecretsManager *secrets.Manager
	SecretsCache   *secrets.Cache
	HTTPClient     *http.Client
}

// NewDeps builds a Deps with a sane default HTTP client.
func NewDeps(st store.Store, validator *urlvalidator.Validator, manager *secrets.Manager, secretsCache *secrets.Cache) Deps {
	return Deps{
		Store:          st,
		Validator:      validator,
		SecretsManager: manager,
		SecretsCache:   secretsCache,
		HTTPClient:     &http.Client{},
	}
}

// substituteSecrets resolves ${secrets.NAME} in s using the per-execution cache.
func (d Deps) substituteSecrets(ctx context.Context, s string) (string, error) {
	return d.SecretsManager.Substitute(ctx, s, d.SecretsCache)
}

// Outcome is the result of running one step, independent of its kind.
type Outcome struct {
	Status       store.StepStatus
	Output       string
	ErrorMessage string
	// Escalate is set when a Condition step timed out with on_failure=escalate,
	// signalling the caller to trigger an escalation alongside the failure.
	Escalate bool
	// ResumeAt is not set by any executor; the engine computes a Wait step's
	// resume time with WaitResumeAt.
	ResumeAt time.Time
}
