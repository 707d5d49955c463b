// Package maintenance evaluates whether a point in time falls inside a
// one-time or cron-recurring maintenance window (spec.md §4.7).
package maintenance

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/medicops/medic/internal/clock"
	"github.com/medicops/medic/internal/store"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// maxOccurrenceScan bounds the forward walk used to locate the most recent
// cron occurrence at or before t, so a misconfigured expression can never
// spin the evaluator forever.
const maxOccurrenceScan = 100000

// InWindow reports whether t falls inside window, per spec.md §4.7.
// Recurring windows are evaluated against the cron expression stored in
// window.Recurrence, anchored at window.StartTime and reusing
// (window.EndTime - window.StartTime) as the occurrence duration.
func InWindow(window store.MaintenanceWindow, t time.Time) (bool, error) {
	t = t.UTC()

	if window.Recurrence == "" {
		return !t.Before(window.StartTime) && t.Before(window.EndTime), nil
	}

	schedule, err := parser.Parse(window.Recurrence)
	if err != nil {
		return false, err
	}

	loc := clock.LoadLocation(window.Timezone)
	duration := window.EndTime.Sub(window.StartTime)

	prev, err := previousOccurrence(schedule, window.StartTime.In(loc), t.In(loc))
	if err != nil {
		return false, err
	}
	if prev.IsZero() {
		return false, nil
	}

	recurringEnd := prev.Add(duration)
	return !t.Before(prev) && t.Before(recurringEnd), nil
}

// previousOccurrence finds the latest cron activation time <= target,
// starting the forward walk from anchor. cron.Schedule only exposes Next,
// so the previous occurrence is found by repeated forward stepping, which
// correctly handles DST transitions and leap days because every step is
// computed by the cron library itself against wall-clock time in loc.
func previousOccurrence(schedule cron.Schedule, anchor, target time.Time) (time.Time, error) {
	if target.Before(anchor) {
		return time.Time{}, nil
	}

	var (
		prev    time.Time
		current = anchor.Add(-time.Second)
	)
	for i := 0; i < maxOccurrenceScan; i++ {
		next := schedule.Next(current)
		if next.After(target) {
			return prev, nil
		}
		prev = next
		current = next
	}
	return prev, nil
}

// Applicable returns the subset of windows that apply to serviceID and
// contain t (spec.md §4.7's service-applicability rule plus §4.7's window
// evaluation).
func Applicable(windows []store.MaintenanceWindow, serviceID int64, t time.Time) ([]store.MaintenanceWindow, error) {
	var matched []store.MaintenanceWindow
	for _, w := range windows {
		if !w.Applies(serviceID) {
			continue
		}
		in, err := InWindow(w, t)
		if err != nil {
			return nil, err
		}
		if in {
			matched = append(matched, w)
		}
	}
	return matched, nil
}

// AnyApplicable reports whether at least one window in windows suppresses
// alerting for serviceID at t.
func AnyApplicable(windows []store.MaintenanceWindow, serviceID int64, t time.Time) (bool, error) {
	matched, err := Applicable(windows, serviceID, t)
	if err != nil {
		return false, err
	}
	return len(matched) > 0, nil
}
