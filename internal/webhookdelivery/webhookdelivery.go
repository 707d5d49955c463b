// Package webhookdelivery drives the attempt/retry/persistence timeline for
// a single configured Webhook, and the parallel deliver_to_all fan-out
// across every enabled webhook for a service (spec.md §4.6).
package webhookdelivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/medicops/medic/internal/store"
	"github.com/medicops/medic/internal/urlvalidator"
)

// MaxAttempts is the maximum number of delivery attempts per webhook.
const MaxAttempts = 3

// RetryDelays are the sleep durations between attempts, indexed by
// min(attempt-1, len-1).
var RetryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}

const deliveryTimeout = 30 * time.Second

// Result is the outcome of delivering to one webhook.
type Result struct {
	WebhookID    int64
	Success      bool
	Error        string
}

// Deliverer performs webhook deliveries against a store and validator.
type Deliverer struct {
	store     store.Store
	validator *urlvalidator.Validator
	client    *http.Client
	sleep     func(time.Duration)
}

// New builds a Deliverer.
func New(st store.Store, validator *urlvalidator.Validator) *Deliverer {
	return &Deliverer{
		store:     st,
		validator: validator,
		client:    &http.Client{Timeout: deliveryTimeout},
		sleep:     time.Sleep,
	}
}

// Deliver runs the full attempt/retry timeline against one webhook,
// persisting the delivery row after every attempt (spec.md §4.6).
func (d *Deliverer) Deliver(ctx context.Context, webhook store.Webhook, payload map[string]interface{}) Result {
	if !webhook.Enabled {
		return Result{WebhookID: webhook.ID, Success: false, Error: "disabled"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{WebhookID: webhook.ID, Success: false, Error: err.Error()}
	}

	delivery, err := d.store.CreateDelivery(ctx, store.WebhookDelivery{
		WebhookID: webhook.ID,
		Payload:   body,
		Status:    store.DeliveryPending,
	})
	if err != nil {
		return Result{WebhookID: webhook.ID, Success: false, Error: err.Error()}
	}

	var lastErr string
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		delivery.Attempts = attempt

		if err := d.validator.Validate(ctx, webhook.URL); err != nil {
			lastErr = err.Error()
			delivery.Status = store.DeliveryFailed
			d.persist(ctx, delivery, nil, lastErr)
			return Result{WebhookID: webhook.ID, Success: false, Error: lastErr}
		}

		statusCode, respBody, err := d.post(ctx, webhook, body)
		if err == nil && statusCode >= 200 && statusCode < 300 {
			delivery.Status = store.DeliverySuccess
			d.persist(ctx, delivery, &statusCode, respBody)
			return Result{WebhookID: webhook.ID, Success: true}
		}

		if err != nil {
			lastErr = err.Error()
		} else {
			lastErr = fmt.Sprintf("status %d", statusCode)
		}

		if attempt < MaxAttempts {
			delivery.Status = store.DeliveryRetrying
			d.persist(ctx, delivery, statusCodePtr(statusCode), respBody)
			d.sleep(RetryDelays[min(attempt-1, len(RetryDelays)-1)])
			continue
		}

		delivery.Status = store.DeliveryFailed
		d.persist(ctx, delivery, statusCodePtr(statusCode), respBody)
	}

	return Result{WebhookID: webhook.ID, Success: false, Error: lastErr}
}

func statusCodePtr(code int) *int {
	if code == 0 {
		return nil
	}
	return &code
}

func (d *Deliverer) persist(ctx context.Context, delivery store.WebhookDelivery, statusCode *int, responseBody string) {
	delivery.ResponseCode = statusCode
	delivery.ResponseBody = responseBody
	_ = d.store.UpdateDelivery(ctx, delivery)
}

func (d *Deliverer) post(ctx context.Context, webhook store.Webhook, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range webhook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	buf := make([]byte, store.MaxResponseBodyBytes)
	n, _ := resp.Body.Read(buf)
	return resp.StatusCode, string(buf[:n]), nil
}

// DeliverToAll runs Deliver for every enabled webhook scoped to serviceID in
// parallel, collecting results keyed by webhook id.
func (d *Deliverer) DeliverToAll(ctx context.Context, serviceID int64, payload map[string]interface{}) ([]Result, error) {
	webhooks, err := d.store.ListEnabledWebhooks(ctx, &serviceID)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(webhooks))
	var wg sync.WaitGroup
	for i, webhook := range webhooks {
		wg.Add(1)
		go func(i int, webhook store.Webhook) {
			defer wg.Done()
			results[i] = d.Deliver(ctx, webhook, payload)
		}(i, webhook)
	}
	wg.Wait()
	return results, nil
}

// DeliverAsync starts delivery in the background and returns immediately;
// the persistence timeline is identical to the synchronous path.
func (d *Deliverer) DeliverAsync(ctx context.Context, webhook store.Webhook, payload map[string]interface{}) {
	go d.Deliver(ctx, webhook, payload)
}
