// Package notify provides the default outbound notification senders (Slack,
// PagerDuty, generic webhook) used by internal/alertrouter, plus the
// request-pacing and retry machinery they share (spec.md §4.2).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/medicops/medic/infrastructure/resilience"
	"github.com/medicops/medic/internal/store"
)

// Result is the outcome of sending to one target.
type Result struct {
	TargetID     int64
	Type         store.NotificationType
	Success      bool
	ErrorMessage string
}

// Sender sends payload to target, returning success and, for a PagerDuty
// target that accepted the trigger, the dedup key PagerDuty generated for
// it (empty for every other target type). A sender must never panic; the
// alert router catches all errors and treats them as failure for that
// target.
type Sender func(ctx context.Context, target store.NotificationTarget, payload map[string]interface{}) (success bool, dedupKey string, err error)

// Resolver issues a PagerDuty resolve for a previously triggered dedup key.
// Only meaningful for store.NotificationPagerDuty targets; the alert router
// never calls it for any other target type.
type Resolver func(ctx context.Context, target store.NotificationTarget, dedupKey string) (bool, error)

// URLValidator is the subset of *urlvalidator.Validator the sender needs;
// an interface so tests can substitute a stub without exercising the real
// SSRF network checks.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// DefaultSender is the production Sender: per-type config validation, a
// paced+retried HTTP call, and SSRF validation for webhook URLs.
type DefaultSender struct {
	client    *http.Client
	validator URLValidator
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
}

// NewDefaultSender builds a DefaultSender. ratePerSecond bounds outbound
// calls to third-party notification services, distinct from the inbound
// sliding-window limiter in internal/ratelimit.
func NewDefaultSender(validator URLValidator, ratePerSecond float64) *DefaultSender {
	return &DefaultSender{
		client:    &http.Client{Timeout: 10 * time.Second},
		validator: validator,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		retry:     resilience.DefaultRetryConfig(),
	}
}

// Send implements Sender, dispatching by target.Type.
func (s *DefaultSender) Send(ctx context.Context, target store.NotificationTarget, payload map[string]interface{}) (bool, string, error) {
	if !target.Enabled {
		return false, "", fmt.Errorf("disabled")
	}

	switch target.Type {
	case store.NotificationSlack:
		ok, err := s.sendSlack(ctx, target, payload)
		return ok, "", err
	case store.NotificationPagerDuty:
		return s.sendPagerDuty(ctx, target, payload)
	case store.NotificationWebhook:
		ok, err := s.sendWebhook(ctx, target, payload)
		return ok, "", err
	default:
		return false, "", fmt.Errorf("unknown notification target type %q", target.Type)
	}
}

// Resolve implements Resolver for PagerDuty targets, issuing an
// event_action=resolve call for dedupKey.
func (s *DefaultSender) Resolve(ctx context.Context, target store.NotificationTarget, dedupKey string) (bool, error) {
	serviceKey, ok := target.Config["service_key"]
	if !ok || serviceKey == "" {
		return false, fmt.Errorf("pagerduty target missing service_key")
	}
	body := map[string]interface{}{"routing_key": serviceKey, "event_action": "resolve", "dedup_key": dedupKey}
	ok, _, err := s.postJSON(ctx, "https://events.pagerduty.com/v2/enqueue", body, "")
	return ok, err
}

func (s *DefaultSender) sendSlack(ctx context.Context, target store.NotificationTarget, payload map[string]interface{}) (bool, error) {
	channelID, ok := target.Config["channel_id"]
	if !ok || channelID == "" {
		return false, fmt.Errorf("slack target missing channel_id")
	}
	body := map[string]interface{}{"channel": channelID, "payload": payload}
	ok, _, err := s.postJSON(ctx, "https://slack.com/api/chat.postMessage", body, target.Config["token"])
	return ok, err
}

func (s *DefaultSender) sendPagerDuty(ctx context.Context, target store.NotificationTarget, payload map[string]interface{}) (bool, string, error) {
	serviceKey, ok := target.Config["service_key"]
	if !ok || serviceKey == "" {
		return false, "", fmt.Errorf("pagerduty target missing service_key")
	}
	body := map[string]interface{}{"routing_key": serviceKey, "event_action": "trigger", "payload": payload}
	return s.postJSON(ctx, "https://events.pagerduty.com/v2/enqueue", body, "")
}

func (s *DefaultSender) sendWebhook(ctx context.Context, target store.NotificationTarget, payload map[string]interface{}) (bool, error) {
	url, ok := target.Config["url"]
	if !ok || url == "" {
		return false, fmt.Errorf("webhook target missing url")
	}
	if err := s.validator.Validate(ctx, url); err != nil {
		return false, err
	}
	ok2, _, err := s.postJSON(ctx, url, payload, "")
	return ok2, err
}

// postJSON POSTs body to url and reports success plus, when the response
// carries a top-level "dedup_key" string (PagerDuty's Events API v2 returns
// the dedup key it assigned a trigger), that key. Every other caller
// simply discards the second return value.
func (s *DefaultSender) postJSON(ctx context.Context, url string, body interface{}, bearerToken string) (bool, string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return false, "", err
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return false, "", err
	}

	success := false
	var dedupKey string
	err = resilience.Retry(ctx, s.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if bearerToken != "" {
			req.Header.Set("Authorization", "Bearer "+bearerToken)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			success = true
			var decoded struct {
				DedupKey string `json:"dedup_key"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil {
				dedupKey = decoded.DedupKey
			}
			return nil
		}
		return fmt.Errorf("notification target returned status %d", resp.StatusCode)
	})
	if err != nil {
		return false, "", err
	}
	return success, dedupKey, nil
}
