// Package monitor runs the recurring heartbeat sweep described in
// spec.md §4.1: every tick, every active, non-"fakeservice" service is
// checked against its heartbeat count and transitioned through
// openOrContinueAlert / closeAlert, grounded on the teacher's
// ticker-driven scheduler idiom (packages/com.r3e.services.automation's
// Scheduler.tick) generalized from a single-job poll to a fanned-out,
// keyed-lock service sweep (spec.md §5).
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medicops/medic/infrastructure/logging"
	"github.com/medicops/medic/internal/alertrouter"
	"github.com/medicops/medic/internal/clock"
	"github.com/medicops/medic/internal/jobrun"
	"github.com/medicops/medic/internal/maintenance"
	"github.com/medicops/medic/internal/store"
	"github.com/medicops/medic/internal/trigger"
	"github.com/medicops/medic/internal/webhookdelivery"
)

// ticksPerDayDivisor bounds the 24-hour mute auto-expiry formula to the same
// (deliberately preserved) arithmetic as the re-notification cadence: both
// are expressed in "sweep ticks", not wall-clock units (spec.md §9 flags
// this as an as-observed quirk, not a defect to fix).
const ticksPerDayDivisor = 1440 / 15

// Loop drives the recurring heartbeat sweep.
type Loop struct {
	store    store.Store
	clock    clock.Clock
	router   *alertrouter.Router
	triggers *trigger.Evaluator
	jobs     *jobrun.Tracker
	webhooks *webhookdelivery.Deliverer
	log      *logging.Logger
	pool     *pool
	interval time.Duration
}

// New builds a Loop. workers bounds sweep fan-out concurrency.
func New(st store.Store, c clock.Clock, router *alertrouter.Router, triggers *trigger.Evaluator, jobs *jobrun.Tracker, log *logging.Logger, workers int, interval time.Duration) *Loop {
	if log == nil {
		log = logging.NewFromEnv("monitor")
	}
	return &Loop{
		store: st, clock: c, router: router, triggers: triggers, jobs: jobs,
		log: log, pool: newPool(workers), interval: interval,
	}
}

// WithWebhooks attaches the generic webhook-subscription fan-out so every
// alert open/close also reaches whatever internal/webhookdelivery.Webhook
// rows are registered for the service (or globally), independent of the
// per-service NotificationTarget routing done via AlertRouter. Optional:
// a Loop built without it simply skips this channel, matching how the
// fakeStore-backed monitor_test.go exercises the sweep without a Deliverer.
func (l *Loop) WithWebhooks(d *webhookdelivery.Deliverer) *Loop {
	l.webhooks = d
	return l
}

// Run blocks, sweeping every interval until ctx is cancelled. An immediate
// sweep fires before the first tick so a freshly started process doesn't
// wait a full interval to notice services already down.
func (l *Loop) Run(ctx context.Context) {
	l.Sweep(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(ctx)
		}
	}
}

// Sweep evaluates every active, monitorable service once, then checks for
// stale (hung) job runs. A single service's failure is logged and does not
// interrupt the rest of the sweep (spec.md §4.1's failure-isolation rule).
func (l *Loop) Sweep(ctx context.Context) {
	services, err := l.store.ListActiveMonitorableServices(ctx)
	if err != nil {
		l.log.WithError(err).Error("sweep: failed to list monitorable services")
		return
	}

	var wg sync.WaitGroup
	serviceNames := make(map[int64]string, len(services))
	for _, svc := range services {
		serviceNames[svc.ID] = svc.ServiceName

		wg.Add(1)
		go func(svc store.Service) {
			defer wg.Done()
			l.pool.acquire()
			defer l.pool.release()

			lock := l.pool.serviceLock(svc.ID)
			lock.Lock()
			defer lock.Unlock()

			if err := l.evaluateService(ctx, svc); err != nil {
				l.log.WithFields(logrus.Fields{"service_id": svc.ID}).WithError(err).Warn("sweep: service evaluation failed")
			}
		}(svc)
	}
	wg.Wait()

	l.checkStaleRuns(ctx, serviceNames)
}

// evaluateService implements spec.md §4.1 steps 1-5 for a single service.
func (l *Loop) evaluateService(ctx context.Context, svc store.Service) error {
	now := l.clock.Now()

	lastSeen, hasHeartbeat, err := l.store.LastHeartbeatTime(ctx, svc.ID)
	if err != nil {
		return fmt.Errorf("last heartbeat time: %w", err)
	}

	since := now.Add(-time.Duration(svc.AlertIntervalMin) * time.Minute)
	count, err := l.store.CountHeartbeatsSince(ctx, svc.ID, since)
	if err != nil {
		return fmt.Errorf("count heartbeats: %w", err)
	}

	if hasHeartbeat && svc.GracePeriodSeconds > 0 {
		elapsed := now.Sub(lastSeen)
		graceWindow := time.Duration(svc.AlertIntervalMin)*time.Minute + time.Duration(svc.GracePeriodSeconds)*time.Second
		if elapsed < graceWindow {
			l.log.WithFields(logrus.Fields{"service_id": svc.ID}).Debug("grace period active; skipping")
			return nil
		}
	}

	switch {
	case count < svc.Threshold:
		return l.openOrContinueAlert(ctx, svc, lastSeen, now)
	case count >= svc.Threshold && svc.Down:
		return l.closeAlert(ctx, svc, now)
	default:
		return nil
	}
}

// openOrContinueAlert implements spec.md §4.1's openOrContinueAlert.
func (l *Loop) openOrContinueAlert(ctx context.Context, svc store.Service, lastSeen, now time.Time) error {
	down := true
	if _, err := l.store.UpdateService(ctx, svc.ID, store.ServicePatch{Down: &down}); err != nil {
		return fmt.Errorf("mark service down: %w", err)
	}

	windows, err := l.store.ListMaintenanceWindows(ctx)
	if err != nil {
		return fmt.Errorf("list maintenance windows: %w", err)
	}
	suppressed, err := maintenance.AnyApplicable(windows, svc.ID, now)
	if err != nil {
		return fmt.Errorf("evaluate maintenance windows: %w", err)
	}

	payload := map[string]interface{}{
		"service":   svc.ServiceName,
		"last_seen": lastSeen,
		"team_id":   svc.TeamID,
		"priority":  svc.Priority,
		"runbook":   svc.Runbook,
	}

	existing, found, err := l.store.GetActiveAlert(ctx, svc.ID)
	if err != nil {
		return fmt.Errorf("get active alert: %w", err)
	}

	if !found {
		alert, err := l.store.CreateAlert(ctx, store.Alert{ServiceID: svc.ID, Active: true, AlertCycle: 1, CreatedDate: now})
		if err != nil {
			return fmt.Errorf("create alert: %w", err)
		}

		if !svc.Muted && !suppressed {
			results, err := l.router.Route(ctx, svc.ID, payload, alertrouter.ModeNotifyAll, true)
			if err != nil {
				l.log.WithFields(logrus.Fields{"service_id": svc.ID}).WithError(err).Warn("alert router failed")
			}
			l.persistDedupKey(ctx, alert.ID, results)
			l.deliverWebhooks(ctx, svc.ID, payload)
		}

		if l.triggers != nil {
			alertID := alert.ID
			result, err := l.triggers.Evaluate(ctx, svc.ID, svc.ServiceName, alert.AlertCycle, &alertID, nil)
			if err != nil {
				l.log.WithFields(logrus.Fields{"service_id": svc.ID}).WithError(err).Warn("trigger evaluation failed")
			} else if result.Triggered {
				l.log.WithFields(logrus.Fields{"service_id": svc.ID, "playbook_id": result.PlaybookID}).Info("playbook trigger started")
			}
		}
		return nil
	}

	updated, err := l.store.IncrementAlertCycle(ctx, existing.ID)
	if err != nil {
		return fmt.Errorf("increment alert cycle: %w", err)
	}

	ticksPerInterval := svc.AlertIntervalMin * 60 / 15
	if ticksPerInterval > 0 && updated.AlertCycle%ticksPerInterval == 0 {
		if !svc.Muted && !suppressed {
			if _, err := l.router.Route(ctx, svc.ID, payload, alertrouter.ModeNotifyAll, true); err != nil {
				l.log.WithFields(logrus.Fields{"service_id": svc.ID}).WithError(err).Warn("alert router failed")
			}
		}
	}

	if svc.Muted && updated.AlertCycle%ticksPerDayDivisor == 0 {
		unmuted := false
		if _, err := l.store.UpdateService(ctx, svc.ID, store.ServicePatch{Muted: &unmuted}); err != nil {
			return fmt.Errorf("auto-unmute service: %w", err)
		}
	}

	return nil
}

// closeAlert implements spec.md §4.1's closeAlert.
func (l *Loop) closeAlert(ctx context.Context, svc store.Service, now time.Time) error {
	down, muted := false, false
	if _, err := l.store.UpdateService(ctx, svc.ID, store.ServicePatch{Down: &down, Muted: &muted}); err != nil {
		return fmt.Errorf("mark service recovered: %w", err)
	}

	if alert, found, err := l.store.GetActiveAlert(ctx, svc.ID); err != nil {
		return fmt.Errorf("get active alert: %w", err)
	} else if found {
		if err := l.store.CloseAlert(ctx, alert.ID, now); err != nil {
			return fmt.Errorf("close alert: %w", err)
		}
		if alert.ExternalReferenceID != nil && *alert.ExternalReferenceID != "" {
			if err := l.router.Resolve(ctx, svc.ID, *alert.ExternalReferenceID); err != nil {
				l.log.WithFields(logrus.Fields{"service_id": svc.ID, "alert_id": alert.ID}).WithError(err).Warn("pagerduty resolve failed")
			}
		}
	}

	payload := map[string]interface{}{
		"service":  svc.ServiceName,
		"recovery": true,
	}
	if _, err := l.router.Route(ctx, svc.ID, payload, alertrouter.ModeNotifyAll, true); err != nil {
		l.log.WithFields(logrus.Fields{"service_id": svc.ID}).WithError(err).Warn("recovery notification failed")
	}
	l.deliverWebhooks(ctx, svc.ID, payload)

	return nil
}

// persistDedupKey writes the first PagerDuty dedup key found among results
// to the alert's external_reference_id, per spec.md §4.1's "if the routed
// PagerDuty-type target returns a dedup key, persist it to
// external_reference_id". A routing failure or a target set with no
// PagerDuty delivery leaves the alert's reference untouched.
func (l *Loop) persistDedupKey(ctx context.Context, alertID int64, results alertrouter.Results) {
	for _, res := range results {
		if res.DedupKey == "" {
			continue
		}
		if err := l.store.SetAlertExternalReference(ctx, alertID, res.DedupKey); err != nil {
			l.log.WithFields(logrus.Fields{"alert_id": alertID}).WithError(err).Warn("persist pagerduty dedup key failed")
		}
		return
	}
}

// deliverWebhooks fans payload out to every enabled Webhook subscription
// for svcID (service-scoped plus global ones), asynchronously, matching
// spec.md §4.6's deliver_to_all fire-and-forget contract. A nil Deliverer
// (the default for Loops built without WithWebhooks) is a no-op.
func (l *Loop) deliverWebhooks(ctx context.Context, svcID int64, payload map[string]interface{}) {
	if l.webhooks == nil {
		return
	}
	if _, err := l.webhooks.DeliverToAll(ctx, svcID, payload); err != nil {
		l.log.WithFields(logrus.Fields{"service_id": svcID}).WithError(err).Warn("webhook delivery failed")
	}
}

// checkStaleRuns routes jobrun.DurationAlert signals (duration-threshold
// breaches and hung runs) into the same alert-notification path as a
// heartbeat-based alert, per spec.md §4.10's "the caller routes it to the
// alert pipeline".
func (l *Loop) checkStaleRuns(ctx context.Context, serviceNames map[int64]string) {
	if l.jobs == nil {
		return
	}
	alerts, err := l.jobs.CheckStaleRuns(ctx, serviceNames)
	if err != nil {
		l.log.WithError(err).Warn("stale job run check failed")
		return
	}
	for _, alert := range alerts {
		payload := map[string]interface{}{
			"service":         alert.ServiceName,
			"run_id":          alert.RunID,
			"alert_type":      alert.AlertType,
			"duration_ms":     alert.DurationMs,
			"max_duration_ms": alert.MaxDurationMs,
		}
		if _, err := l.router.Route(ctx, alert.ServiceID, payload, alertrouter.ModeNotifyAll, true); err != nil {
			l.log.WithFields(logrus.Fields{"service_id": alert.ServiceID, "run_id": alert.RunID}).WithError(err).Warn("job duration alert routing failed")
		}
	}
}
