// Package ratelimit implements the sliding-window admission control used at
// the HTTP boundary (spec.md §4.5). Unlike the teacher's token-bucket
// limiter, this keeps a trimmed timestamp list per bucket so the limit
// applies over a true rolling window rather than a refill rate.
package ratelimit

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Class is a rate-limit bucket class.
type Class string

const (
	ClassHeartbeat  Class = "heartbeat"
	ClassManagement Class = "management"
)

// DefaultLimits are the per-class requests-per-window defaults (spec.md §4.5).
var DefaultLimits = map[Class]int{
	ClassHeartbeat:  100,
	ClassManagement: 20,
}

// DefaultWindow is the sliding window size.
const DefaultWindow = 60 * time.Second

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type bucket struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// Limiter is a sliding-window rate limiter keyed by (key, class). Per-key
// overrides replace the class default's limit for that key.
type Limiter struct {
	window   time.Duration
	limits   map[Class]int
	overrides map[string]int
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow overrides the default 60s window.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithClassLimit overrides a class's default per-window limit.
func WithClassLimit(class Class, limit int) Option {
	return func(l *Limiter) { l.limits[class] = limit }
}

// WithKeyOverride sets a per-key limit that takes priority over the class
// default (spec.md §4.5 "Per-key overrides supported").
func WithKeyOverride(key string, limit int) Option {
	return func(l *Limiter) { l.overrides[key] = limit }
}

// WithClock substitutes the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New builds a Limiter with spec.md §4.5 defaults, applying opts in order.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		window:    DefaultWindow,
		limits:    map[Class]int{ClassHeartbeat: DefaultLimits[ClassHeartbeat], ClassManagement: DefaultLimits[ClassManagement]},
		overrides: make(map[string]int),
		now:       time.Now,
		buckets:   make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) limitFor(key string, class Class) int {
	l.mu.Lock()
	limit, ok := l.overrides[key]
	l.mu.Unlock()
	if ok {
		return limit
	}
	return l.limits[class]
}

// SetOverride registers or replaces a per-key limit at runtime, taking
// priority over the class default for that key. Used when an API key
// carrying its own rate_limit_override is authenticated, since API keys
// are created after the Limiter is constructed (spec.md §4.5).
func (l *Limiter) SetOverride(key string, limit int) {
	l.mu.Lock()
	l.overrides[key] = limit
	l.mu.Unlock()
}

func (l *Limiter) bucketFor(key string, class Class) *bucket {
	bucketKey := string(class) + ":" + key
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[bucketKey]
	if !ok {
		b = &bucket{}
		l.buckets[bucketKey] = b
	}
	return b
}

// Check applies the trim-then-append sliding-window algorithm to (key,
// class) and returns whether the request is admitted.
func (l *Limiter) Check(key string, class Class) Decision {
	limit := l.limitFor(key, class)
	b := l.bucketFor(key, class)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := b.timestamps[:0]
	for _, ts := range b.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.timestamps = kept

	if len(b.timestamps) < limit {
		b.timestamps = append(b.timestamps, now)
		oldest := b.timestamps[0]
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - len(b.timestamps),
			ResetAt:   oldest.Add(l.window),
		}
	}

	oldest := b.timestamps[0]
	retryAfter := time.Duration(math.Ceil(oldest.Add(l.window).Sub(now).Seconds())) * time.Second
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    oldest.Add(l.window),
		RetryAfter: retryAfter,
	}
}

// bypassPrefixes are path prefixes exempt from rate limiting (spec.md §4.5).
var bypassPrefixes = []string{"/health", "/v1/healthcheck", "/metrics", "/docs"}

// Bypassed reports whether path is exempt from rate limiting.
func Bypassed(path string) bool {
	for _, prefix := range bypassPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// heartbeatPrefixes classify a request path as the heartbeat class.
var heartbeatPrefixes = []string{"/heartbeat", "/v1/heartbeat", "/v2/heartbeat"}

// ClassifyPath auto-classifies a request path into heartbeat or management,
// per spec.md §4.5's prefix rule.
func ClassifyPath(path string) Class {
	for _, prefix := range heartbeatPrefixes {
		if strings.HasPrefix(path, prefix) {
			return ClassHeartbeat
		}
	}
	return ClassManagement
}

// IdentifierFromAPIKey returns the rate-limit identifier for an
// authenticated caller.
func IdentifierFromAPIKey(apiKeyID string) string {
	return apiKeyID
}

// IdentifierFromIP returns the rate-limit identifier for an unauthenticated
// caller, per spec.md §4.5's `ip:<remote_addr>` fallback.
func IdentifierFromIP(remoteAddr string) string {
	return "ip:" + remoteAddr
}
