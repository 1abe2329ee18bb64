// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package auth

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation names throttled operations. Each operation carries its own
// limit policy.
type Operation string

// Throttled operations.
const (
	OpLogin          Operation = "login"
	OpPasswordChange Operation = "password_change"
	OpExport         Operation = "export"
)

// LimitPolicy configures throttling for one operation. A zero LockDuration
// means the operation never locks: once the window is saturated, checks are
// denied until the window itself elapses.
type LimitPolicy struct {
	MaxAttempts  int
	Window       time.Duration
	LockDuration time.Duration
}

// DefaultCleanupInterval is the interval at which the background goroutine
// runs to remove stale attempt records.
const DefaultCleanupInterval = 5 * time.Minute

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Enabled toggles rate limiting globally. When false, Check always
	// allows and Increment/Reset are no-ops.
	Enabled bool

	// Policies maps each operation to its limit policy. Defaults to
	// DefaultPolicies() if nil.
	Policies map[Operation]LimitPolicy

	// CleanupInterval is the interval at which background cleanup runs.
	// Defaults to DefaultCleanupInterval if zero.
	CleanupInterval time.Duration

	// Clock overrides the time source. Nil means time.Now.
	Clock func() time.Time
}

// DefaultPolicies returns the standard limit table.
func DefaultPolicies() map[Operation]LimitPolicy {
	return map[Operation]LimitPolicy{
		OpLogin:          {MaxAttempts: 5, Window: 15 * time.Minute, LockDuration: 15 * time.Minute},
		OpPasswordChange: {MaxAttempts: 5, Window: time.Hour, LockDuration: time.Hour},
		OpExport:         {MaxAttempts: 5, Window: 24 * time.Hour, LockDuration: 0},
	}
}

// RateLimitDecision is the result of a rate limit check.
type RateLimitDecision struct {
	// Allowed is true if the attempt may proceed.
	Allowed bool

	// Remaining is the number of attempts left before lockout. Only
	// meaningful when Allowed is true.
	Remaining int

	// RetryAfter is the time until the subject may try again. Only
	// meaningful when Allowed is false.
	RetryAfter time.Duration
}

// RateLimitStatus is the record state after an Increment.
type RateLimitStatus struct {
	// Count is the attempt count inside the current window, capped at the
	// policy maximum.
	Count int

	// Locked is true if the record is in the locked state.
	Locked bool

	// JustLocked is true if this increment performed the transition into
	// the locked state. Callers use it to emit a single lockout event.
	JustLocked bool

	// RetryAfter is the remaining lock duration when Locked.
	RetryAfter time.Duration
}

// limitKey identifies one tracked (subject, operation) pair.
type limitKey struct {
	subject string
	op      Operation
}

// attemptRecord tracks failed attempts for a single key. The sliding window
// starts at firstAt; lockedUntil is zero until the count reaches the policy
// maximum for a locking operation.
type attemptRecord struct {
	count       int
	firstAt     time.Time
	lastAt      time.Time
	lockedUntil time.Time
}

// RateLimiter tracks failed attempts per (subject, operation) in a sliding
// window and locks subjects out once the configured maximum is reached.
// All state is process-local and guarded by a single mutex; operations are
// O(1), so the coarse lock is acceptable. It is safe for concurrent use.
//
// The RateLimiter runs a background goroutine to periodically remove stale
// records. Call Close() to stop the goroutine and release resources.
type RateLimiter struct {
	mu       sync.Mutex
	records  map[limitKey]*attemptRecord
	policies map[Operation]LimitPolicy
	enabled  bool
	clock    func() time.Time

	// Background cleanup
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Metrics (nil if no registry provided)
	recordGauge   prometheus.Gauge
	lockoutsTotal prometheus.Counter
}

// NewRateLimiter creates a new rate limiter with the given configuration.
// It starts a background goroutine for cleanup. Call Close() to stop it.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return newRateLimiter(cfg, nil)
}

// NewRateLimiterWithRegistry creates a new rate limiter and registers its
// record gauge and lockout counter with the provided Prometheus registry.
// It starts a background goroutine for cleanup. Call Close() to stop it.
func NewRateLimiterWithRegistry(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	return newRateLimiter(cfg, reg)
}

func newRateLimiter(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	policies := cfg.Policies
	if policies == nil {
		policies = DefaultPolicies()
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	rl := &RateLimiter{
		records:  make(map[limitKey]*attemptRecord),
		policies: policies,
		enabled:  cfg.Enabled,
		clock:    clock,
		stopChan: make(chan struct{}),
	}

	if reg != nil {
		rl.recordGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "casevault_ratelimiter_records",
			Help: "Current number of tracked rate limiter records",
		})
		rl.lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casevault_ratelimiter_lockouts_total",
			Help: "Total number of lockout transitions",
		})
		reg.MustRegister(rl.recordGauge)
		reg.MustRegister(rl.lockoutsTotal)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cleanupInterval)

	return rl
}

// Check evaluates whether an attempt for the given subject and operation is
// allowed. A denied check never consumes an attempt.
func (rl *RateLimiter) Check(subject string, op Operation) RateLimitDecision {
	policy := rl.policy(op)

	if !rl.enabled {
		return RateLimitDecision{Allowed: true, Remaining: policy.MaxAttempts}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	key := limitKey{subject: subject, op: op}

	rec, ok := rl.records[key]
	if !ok {
		return RateLimitDecision{Allowed: true, Remaining: policy.MaxAttempts}
	}

	// An unexpired lock always wins: the subject stays rejected for the
	// full lock duration without consuming an attempt.
	if !rec.lockedUntil.IsZero() {
		if now.Before(rec.lockedUntil) {
			return RateLimitDecision{Allowed: false, RetryAfter: rec.lockedUntil.Sub(now)}
		}
		// Lock elapsed: the record resets as if fresh.
		delete(rl.records, key)
		return RateLimitDecision{Allowed: true, Remaining: policy.MaxAttempts}
	}

	// A fully elapsed window resets the record.
	if now.Sub(rec.firstAt) >= policy.Window {
		delete(rl.records, key)
		return RateLimitDecision{Allowed: true, Remaining: policy.MaxAttempts}
	}

	// Saturated no-lock operation: deny until the window elapses.
	if rec.count >= policy.MaxAttempts {
		return RateLimitDecision{Allowed: false, RetryAfter: rec.firstAt.Add(policy.Window).Sub(now)}
	}

	return RateLimitDecision{Allowed: true, Remaining: policy.MaxAttempts - rec.count}
}

// Increment records a failed attempt, advancing or resetting the sliding
// window as needed. The count never exceeds the policy maximum and an
// existing lock expiry is never re-armed by further attempts.
func (rl *RateLimiter) Increment(subject string, op Operation) RateLimitStatus {
	policy := rl.policy(op)

	if !rl.enabled {
		return RateLimitStatus{}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	key := limitKey{subject: subject, op: op}

	rec, ok := rl.records[key]
	if ok && !rec.lockedUntil.IsZero() {
		if now.Before(rec.lockedUntil) {
			// Already locked; the count stays capped and the expiry is
			// never re-armed by continued hammering.
			rec.lastAt = now
			return RateLimitStatus{Count: rec.count, Locked: true, RetryAfter: rec.lockedUntil.Sub(now)}
		}
		// Lock elapsed: start fresh.
		ok = false
	}

	if !ok || now.Sub(rec.firstAt) >= policy.Window {
		rec = &attemptRecord{firstAt: now}
		rl.records[key] = rec
		rl.updateGauge()
	}

	rec.lastAt = now
	if rec.count < policy.MaxAttempts {
		rec.count++
	}

	status := RateLimitStatus{Count: rec.count}

	// The lock transition also applies to a fresh record, so a
	// MaxAttempts of one locks on the first failure.
	if rec.count >= policy.MaxAttempts && policy.LockDuration > 0 {
		rec.lockedUntil = now.Add(policy.LockDuration)
		status.Locked = true
		status.JustLocked = true
		status.RetryAfter = policy.LockDuration
		if rl.lockoutsTotal != nil {
			rl.lockoutsTotal.Inc()
		}
	}

	return status
}

// Reset deletes the tracking record for the given subject and operation.
// Called after a verified success; clears both the count and any lock.
func (rl *RateLimiter) Reset(subject string, op Operation) {
	if !rl.enabled {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.records, limitKey{subject: subject, op: op})
	rl.updateGauge()
}

// CleanupExpired removes records whose lock (if any) has elapsed and whose
// last attempt is older than the longest configured window. Returns the
// number of records removed. This is called automatically by the background
// goroutine, but can also be called manually.
func (rl *RateLimiter) CleanupExpired() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	maxWindow := rl.longestWindow()

	removed := 0
	for key, rec := range rl.records {
		if !rec.lockedUntil.IsZero() && now.Before(rec.lockedUntil) {
			continue
		}
		if now.Sub(rec.lastAt) > maxWindow {
			delete(rl.records, key)
			removed++
		}
	}

	rl.updateGauge()
	return removed
}

// RecordCount returns the number of tracked records. Useful for testing and
// monitoring.
func (rl *RateLimiter) RecordCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.records)
}

// Close stops the background cleanup goroutine and releases resources.
// It blocks until the goroutine has stopped.
func (rl *RateLimiter) Close() {
	close(rl.stopChan)
	rl.wg.Wait()
}

// policy returns the limit policy for an operation, falling back to the
// login policy for unknown operations.
func (rl *RateLimiter) policy(op Operation) LimitPolicy {
	if p, ok := rl.policies[op]; ok {
		return p
	}
	return rl.policies[OpLogin]
}

// longestWindow returns the longest configured window across all policies.
// Callers must hold rl.mu.
func (rl *RateLimiter) longestWindow() time.Duration {
	var longest time.Duration
	for _, p := range rl.policies {
		if p.Window > longest {
			longest = p.Window
		}
	}
	return longest
}

// updateGauge refreshes the record gauge. Callers must hold rl.mu.
func (rl *RateLimiter) updateGauge() {
	if rl.recordGauge != nil {
		rl.recordGauge.Set(float64(len(rl.records)))
	}
}

// cleanupLoop runs periodic cleanup in the background.
func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.CleanupExpired()
		}
	}
}
