// Package alertrouter fans an alert payload out to a service's notification
// targets, honoring priority order, schedule filters, and execution mode,
// with a legacy team→Slack fallback when no targets are configured
// (spec.md §4.2).
package alertrouter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/medicops/medic/internal/notify"
	"github.com/medicops/medic/internal/store"
)

// Mode selects how targets are walked.
type Mode string

const (
	// ModeNotifyAll sends to every selected target, collecting all results.
	ModeNotifyAll Mode = "notify_all"
	// ModeNotifyUntilSuccess stops at the first successful delivery.
	ModeNotifyUntilSuccess Mode = "notify_until_success"
)

// WorkingHours classifies a point in time as during or after hours, the
// "external collaborator" spec.md §4.2 delegates schedule classification to.
type WorkingHours interface {
	Classify(t time.Time) store.NotificationPeriod
}

// BusinessHours is the default WorkingHours: Monday-Friday, [StartHour,
// EndHour) local to Location counts as during_hours, everything else is
// after_hours.
type BusinessHours struct {
	Location  *time.Location
	StartHour int
	EndHour   int
}

// NewBusinessHours builds a 9-to-17 Monday-Friday classifier in loc.
func NewBusinessHours(loc *time.Location) BusinessHours {
	return BusinessHours{Location: loc, StartHour: 9, EndHour: 17}
}

// Classify implements WorkingHours.
func (b BusinessHours) Classify(t time.Time) store.NotificationPeriod {
	local := t.In(b.Location)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return store.PeriodAfterHours
	}
	if local.Hour() >= b.StartHour && local.Hour() < b.EndHour {
		return store.PeriodDuringHours
	}
	return store.PeriodAfterHours
}

// Result records the outcome of routing to one target. DedupKey is only
// ever populated for a successful store.NotificationPagerDuty delivery.
type Result struct {
	TargetID     int64
	Type         store.NotificationType
	Success      bool
	ErrorMessage string
	DedupKey     string
}

// Results is the full outcome of a Route call.
type Results []Result

// AllSucceeded reports whether every target succeeded.
func (r Results) AllSucceeded() bool {
	for _, res := range r {
		if !res.Success {
			return false
		}
	}
	return true
}

// AnySucceeded reports whether at least one target succeeded.
func (r Results) AnySucceeded() bool {
	for _, res := range r {
		if res.Success {
			return true
		}
	}
	return false
}

// Partition splits results into successful and failed.
func (r Results) Partition() (succeeded, failed Results) {
	for _, res := range r {
		if res.Success {
			succeeded = append(succeeded, res)
		} else {
			failed = append(failed, res)
		}
	}
	return succeeded, failed
}

// Router fans an alert out to a service's notification targets.
type Router struct {
	store               store.Store
	sender              notify.Sender
	resolver            notify.Resolver
	workingHours        WorkingHours
	defaultSlackChannel string
}

// New builds a Router. defaultSlackChannel is the environment default used
// by the legacy team→Slack fallback when a team has no channel configured.
func New(st store.Store, sender notify.Sender, wh WorkingHours, defaultSlackChannel string) *Router {
	return &Router{store: st, sender: sender, workingHours: wh, defaultSlackChannel: defaultSlackChannel}
}

// WithResolver attaches the PagerDuty resolve call used by Resolve.
// Optional: a Router built without one simply can't resolve dedup keys,
// matching how noopSender-backed router tests exercise Route without it.
func (r *Router) WithResolver(resolver notify.Resolver) *Router {
	r.resolver = resolver
	return r
}

// Route sends payload to serviceID's enabled notification targets, ordered
// by priority ascending, using mode. When withSchedule is true, targets are
// additionally filtered to period=always or the current working-hours
// classification.
func (r *Router) Route(ctx context.Context, serviceID int64, payload map[string]interface{}, mode Mode, withSchedule bool) (Results, error) {
	targets, err := r.store.ListNotificationTargets(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	if withSchedule {
		current := r.workingHours.Classify(time.Now())
		filtered := targets[:0]
		for _, t := range targets {
			if t.Period == store.PeriodAlways || t.Period == current {
				filtered = append(filtered, t)
			}
		}
		targets = filtered
	}

	sort.SliceStable(targets, func(i, j int) bool { return targets[i].Priority < targets[j].Priority })

	if len(targets) == 0 {
		return r.legacyFallback(ctx, serviceID, payload)
	}

	switch mode {
	case ModeNotifyUntilSuccess:
		return r.routeUntilSuccess(ctx, targets, payload), nil
	default:
		return r.routeAll(ctx, targets, payload), nil
	}
}

func (r *Router) routeAll(ctx context.Context, targets []store.NotificationTarget, payload map[string]interface{}) Results {
	results := make(Results, 0, len(targets))
	for _, target := range targets {
		results = append(results, r.sendOne(ctx, target, payload))
	}
	return results
}

func (r *Router) routeUntilSuccess(ctx context.Context, targets []store.NotificationTarget, payload map[string]interface{}) Results {
	var results Results
	for _, target := range targets {
		res := r.sendOne(ctx, target, payload)
		results = append(results, res)
		if res.Success {
			break
		}
	}
	return results
}

func (r *Router) sendOne(ctx context.Context, target store.NotificationTarget, payload map[string]interface{}) Result {
	result := Result{TargetID: target.ID, Type: target.Type}
	if !target.Enabled {
		result.ErrorMessage = "disabled"
		return result
	}

	success, dedupKey, err := func() (success bool, dedupKey string, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				success, dedupKey, err = false, "", errAsPanic(rec)
			}
		}()
		return r.sender(ctx, target, payload)
	}()

	result.Success = success
	result.DedupKey = dedupKey
	if err != nil {
		result.ErrorMessage = err.Error()
	}
	return result
}

// Resolve issues a PagerDuty resolve for dedupKey against every enabled
// PagerDuty target configured for serviceID (spec.md §4.1: "if
// external_reference_id is non-empty, issue a PagerDuty resolve for that
// key"). A Router with no WithResolver attached, or a service with no
// PagerDuty target, is a no-op.
func (r *Router) Resolve(ctx context.Context, serviceID int64, dedupKey string) error {
	if r.resolver == nil || dedupKey == "" {
		return nil
	}

	targets, err := r.store.ListNotificationTargets(ctx, serviceID)
	if err != nil {
		return err
	}

	for _, target := range targets {
		if target.Type != store.NotificationPagerDuty || !target.Enabled {
			continue
		}
		if _, err := r.resolver(ctx, target, dedupKey); err != nil {
			return err
		}
	}
	return nil
}

func errAsPanic(rec interface{}) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return fmt.Errorf("notification sender panicked: %v", rec)
}

// legacyFallback routes by the service's team_id → team Slack channel →
// environment default, used only when no NotificationTarget rows exist
// (spec.md §4.2).
func (r *Router) legacyFallback(ctx context.Context, serviceID int64, payload map[string]interface{}) (Results, error) {
	svc, found, err := r.store.GetServiceByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	channel := r.defaultSlackChannel
	if found && svc.TeamID != nil {
		team, teamFound, err := r.store.GetTeam(ctx, *svc.TeamID)
		if err != nil {
			return nil, err
		}
		if teamFound && team.SlackChannelID != "" {
			channel = team.SlackChannelID
		}
	}

	target := store.NotificationTarget{
		Type:    store.NotificationSlack,
		Enabled: true,
		Config:  map[string]string{"channel_id": channel},
	}
	return Results{r.sendOne(ctx, target, payload)}, nil
}
