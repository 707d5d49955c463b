package executors

import (
	"time"

	"github.com/medicops/medic/internal/clock"
)

// WaitResumeAt computes the time a Wait step should resume at, given the
// step's configured duration. The engine persists this on the execution
// row (status=waiting) rather than sleeping inline, so a process restart
// can resume the wait correctly (spec.md §4.3).
func WaitResumeAt(c clock.Clock, step StepInput) time.Time {
	return c.Now().Add(time.Duration(step.DurationSeconds) * time.Second)
}
