// Package circuitbreaker implements the stateless playbook-execution
// admission gate described in spec.md §4.4. Unlike a classic Closed/Open/
// HalfOpen breaker, state lives entirely in the store: admission is decided
// by counting executions started for a service in the trailing window.
package circuitbreaker

import (
	"context"
	"time"

	"github.com/medicops/medic/internal/clock"
	"github.com/medicops/medic/internal/store"
)

// DefaultThreshold and DefaultWindow are spec.md §4.4's defaults.
const (
	DefaultThreshold = 5
	DefaultWindow    = time.Hour
)

// Breaker evaluates circuit-breaker admission for a service.
type Breaker struct {
	store     store.Store
	clock     clock.Clock
	threshold int
	window    time.Duration
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold overrides the default trip threshold.
func WithThreshold(n int) Option {
	return func(b *Breaker) { b.threshold = n }
}

// WithWindow overrides the default lookback window.
func WithWindow(d time.Duration) Option {
	return func(b *Breaker) { b.window = d }
}

// New builds a Breaker backed by st, reading the current time from c.
func New(st store.Store, c clock.Clock, opts ...Option) *Breaker {
	b := &Breaker{store: st, clock: c, threshold: DefaultThreshold, window: DefaultWindow}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a new playbook execution may start for serviceID.
// It performs no in-memory bookkeeping; every call is a fresh store read.
func (b *Breaker) Allow(ctx context.Context, serviceID int64) (bool, error) {
	since := b.clock.Now().Add(-b.window)
	count, err := b.store.CountExecutionsSince(ctx, serviceID, since)
	if err != nil {
		return false, err
	}
	return count < b.threshold, nil
}
