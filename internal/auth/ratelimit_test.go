// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package auth_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/casevault/casevault/internal/auth"
)

// fakeClock is a manually advanced time source for deterministic window and
// lockout tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, clock *fakeClock) *auth.RateLimiter {
	t.Helper()
	rl := auth.NewRateLimiter(auth.RateLimiterConfig{
		Enabled: true,
		Clock:   clock.Now,
	})
	t.Cleanup(rl.Close)
	return rl
}

func TestRateLimiter_Check(t *testing.T) {
	t.Run("unknown subject is allowed with full budget", func(t *testing.T) {
		rl := newTestLimiter(t, newFakeClock())

		d := rl.Check("alice", auth.OpLogin)
		assert.True(t, d.Allowed)
		assert.Equal(t, 5, d.Remaining)
	})

	t.Run("check never consumes an attempt", func(t *testing.T) {
		rl := newTestLimiter(t, newFakeClock())

		for range 10 {
			d := rl.Check("alice", auth.OpLogin)
			assert.True(t, d.Allowed)
			assert.Equal(t, 5, d.Remaining)
		}
	})

	t.Run("remaining decreases with each increment", func(t *testing.T) {
		rl := newTestLimiter(t, newFakeClock())

		rl.Increment("alice", auth.OpLogin)
		rl.Increment("alice", auth.OpLogin)

		d := rl.Check("alice", auth.OpLogin)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3, d.Remaining)
	})

	t.Run("subjects and operations are tracked independently", func(t *testing.T) {
		rl := newTestLimiter(t, newFakeClock())

		for range 5 {
			rl.Increment("alice", auth.OpLogin)
		}

		assert.False(t, rl.Check("alice", auth.OpLogin).Allowed)
		assert.True(t, rl.Check("bob", auth.OpLogin).Allowed)
		assert.True(t, rl.Check("alice", auth.OpPasswordChange).Allowed)
	})
}

func TestRateLimiter_Lockout(t *testing.T) {
	t.Run("max attempts engages the lock", func(t *testing.T) {
		rl := newTestLimiter(t, newFakeClock())

		var status auth.RateLimitStatus
		for i := range 5 {
			status = rl.Increment("alice", auth.OpLogin)
			assert.Equal(t, i+1, status.Count)
		}

		assert.True(t, status.Locked)
		assert.True(t, status.JustLocked)
		assert.Equal(t, 15*time.Minute, status.RetryAfter)

		d := rl.Check("alice", auth.OpLogin)
		assert.False(t, d.Allowed)
		assert.Equal(t, 15*time.Minute, d.RetryAfter)
	})

	t.Run("just locked fires exactly once", func(t *testing.T) {
		rl := newTestLimiter(t, newFakeClock())

		justLocked := 0
		for range 8 {
			if rl.Increment("alice", auth.OpLogin).JustLocked {
				justLocked++
			}
		}
		assert.Equal(t, 1, justLocked)
	})

	t.Run("attempts during the lock never re-arm it", func(t *testing.T) {
		clock := newFakeClock()
		rl := newTestLimiter(t, clock)

		for range 5 {
			rl.Increment("alice", auth.OpLogin)
		}

		// Hammering at the 10 minute mark must not extend the expiry.
		clock.Advance(10 * time.Minute)
		status := rl.Increment("alice", auth.OpLogin)
		assert.True(t, status.Locked)
		assert.False(t, status.JustLocked)
		assert.Equal(t, 5, status.Count)
		assert.Equal(t, 5*time.Minute, status.RetryAfter)

		clock.Advance(5*time.Minute + time.Second)
		assert.True(t, rl.Check("alice", auth.OpLogin).Allowed)
	})

	t.Run("elapsed lock resets the record", func(t *testing.T) {
		clock := newFakeClock()
		rl := newTestLimiter(t, clock)

		for range 5 {
			rl.Increment("alice", auth.OpLogin)
		}
		clock.Advance(16 * time.Minute)

		d := rl.Check("alice", auth.OpLogin)
		assert.True(t, d.Allowed)
		assert.Equal(t, 5, d.Remaining)

		status := rl.Increment("alice", auth.OpLogin)
		assert.Equal(t, 1, status.Count)
		assert.False(t, status.Locked)
	})

	t.Run("count stays capped at the maximum", func(t *testing.T) {
		clock := newFakeClock()
		rl := newTestLimiter(t, clock)

		for range 20 {
			status := rl.Increment("alice", auth.OpLogin)
			assert.LessOrEqual(t, status.Count, 5)
		}
	})

	t.Run("single attempt policy locks on the first failure", func(t *testing.T) {
		clock := newFakeClock()
		rl := auth.NewRateLimiter(auth.RateLimiterConfig{
			Enabled: true,
			Clock:   clock.Now,
			Policies: map[auth.Operation]auth.LimitPolicy{
				auth.OpLogin: {MaxAttempts: 1, Window: 15 * time.Minute, LockDuration: time.Hour},
			},
		})
		t.Cleanup(rl.Close)

		status := rl.Increment("alice", auth.OpLogin)
		assert.Equal(t, 1, status.Count)
		assert.True(t, status.Locked)
		assert.True(t, status.JustLocked)
		assert.Equal(t, time.Hour, status.RetryAfter)

		d := rl.Check("alice", auth.OpLogin)
		assert.False(t, d.Allowed)
		assert.Equal(t, time.Hour, d.RetryAfter)
	})

	t.Run("lock holds even after the window elapses", func(t *testing.T) {
		clock := newFakeClock()
		rl := auth.NewRateLimiter(auth.RateLimiterConfig{
			Enabled: true,
			Clock:   clock.Now,
			Policies: map[auth.Operation]auth.LimitPolicy{
				auth.OpLogin: {MaxAttempts: 3, Window: time.Minute, LockDuration: time.Hour},
			},
		})
		t.Cleanup(rl.Close)

		for range 3 {
			rl.Increment("alice", auth.OpLogin)
		}

		// The 1 minute window has long elapsed, but the hour lock has not.
		clock.Advance(30 * time.Minute)
		d := rl.Check("alice", auth.OpLogin)
		assert.False(t, d.Allowed)
		assert.Equal(t, 30*time.Minute, d.RetryAfter)
	})
}

func TestRateLimiter_Window(t *testing.T) {
	t.Run("attempts inside the window accumulate", func(t *testing.T) {
		clock := newFakeClock()
		rl := newTestLimiter(t, clock)

		rl.Increment("alice", auth.OpLogin)
		clock.Advance(5 * time.Minute)
		status := rl.Increment("alice", auth.OpLogin)
		assert.Equal(t, 2, status.Count)
	})

	t.Run("elapsed window starts a fresh record", func(t *testing.T) {
		clock := newFakeClock()
		rl := newTestLimiter(t, clock)

		for range 4 {
			rl.Increment("alice", auth.OpLogin)
		}
		clock.Advance(15 * time.Minute)

		status := rl.Increment("alice", auth.OpLogin)
		assert.Equal(t, 1, status.Count)
		assert.False(t, status.Locked)
	})
}

func TestRateLimiter_NoLockOperation(t *testing.T) {
	t.Run("saturated export denies until the window elapses", func(t *testing.T) {
		clock := newFakeClock()
		rl := newTestLimiter(t, clock)

		var status auth.RateLimitStatus
		for range 5 {
			status = rl.Increment("u1", auth.OpExport)
		}
		assert.False(t, status.Locked)
		assert.False(t, status.JustLocked)

		d := rl.Check("u1", auth.OpExport)
		assert.False(t, d.Allowed)
		assert.Equal(t, 24*time.Hour, d.RetryAfter)

		clock.Advance(24*time.Hour + time.Second)
		assert.True(t, rl.Check("u1", auth.OpExport).Allowed)
	})
}

func TestRateLimiter_Reset(t *testing.T) {
	t.Run("reset clears the count", func(t *testing.T) {
		rl := newTestLimiter(t, newFakeClock())

		rl.Increment("alice", auth.OpLogin)
		rl.Increment("alice", auth.OpLogin)
		rl.Reset("alice", auth.OpLogin)

		d := rl.Check("alice", auth.OpLogin)
		assert.True(t, d.Allowed)
		assert.Equal(t, 5, d.Remaining)
	})

	t.Run("reset clears an active lock", func(t *testing.T) {
		rl := newTestLimiter(t, newFakeClock())

		for range 5 {
			rl.Increment("alice", auth.OpLogin)
		}
		require.False(t, rl.Check("alice", auth.OpLogin).Allowed)

		rl.Reset("alice", auth.OpLogin)
		assert.True(t, rl.Check("alice", auth.OpLogin).Allowed)
	})

	t.Run("reset only touches the given operation", func(t *testing.T) {
		rl := newTestLimiter(t, newFakeClock())

		rl.Increment("alice", auth.OpLogin)
		rl.Increment("alice", auth.OpPasswordChange)
		rl.Reset("alice", auth.OpLogin)

		assert.Equal(t, 5, rl.Check("alice", auth.OpLogin).Remaining)
		assert.Equal(t, 4, rl.Check("alice", auth.OpPasswordChange).Remaining)
	})
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := auth.NewRateLimiter(auth.RateLimiterConfig{Enabled: false})
	t.Cleanup(rl.Close)

	t.Run("check always allows", func(t *testing.T) {
		for range 10 {
			rl.Increment("alice", auth.OpLogin)
		}
		assert.True(t, rl.Check("alice", auth.OpLogin).Allowed)
	})

	t.Run("increment records nothing", func(t *testing.T) {
		status := rl.Increment("bob", auth.OpLogin)
		assert.Zero(t, status.Count)
		assert.Equal(t, 0, rl.RecordCount())
	})
}

func TestRateLimiter_CleanupExpired(t *testing.T) {
	t.Run("removes stale records and keeps fresh ones", func(t *testing.T) {
		clock := newFakeClock()
		rl := newTestLimiter(t, clock)

		rl.Increment("stale", auth.OpLogin)
		clock.Advance(25 * time.Hour) // past the longest window (export, 24h)
		rl.Increment("fresh", auth.OpLogin)

		removed := rl.CleanupExpired()
		assert.Equal(t, 1, removed)
		assert.Equal(t, 1, rl.RecordCount())
	})

	t.Run("locked records survive cleanup", func(t *testing.T) {
		clock := newFakeClock()
		rl := auth.NewRateLimiter(auth.RateLimiterConfig{
			Enabled: true,
			Clock:   clock.Now,
			Policies: map[auth.Operation]auth.LimitPolicy{
				auth.OpLogin: {MaxAttempts: 1, Window: time.Minute, LockDuration: 48 * time.Hour},
			},
		})
		t.Cleanup(rl.Close)

		rl.Increment("alice", auth.OpLogin)
		clock.Advance(2 * time.Hour)

		removed := rl.CleanupExpired()
		assert.Equal(t, 0, removed)
		assert.False(t, rl.Check("alice", auth.OpLogin).Allowed)
	})
}

func TestRateLimiter_DefaultPolicies(t *testing.T) {
	policies := auth.DefaultPolicies()

	assert.Equal(t, auth.LimitPolicy{MaxAttempts: 5, Window: 15 * time.Minute, LockDuration: 15 * time.Minute}, policies[auth.OpLogin])
	assert.Equal(t, auth.LimitPolicy{MaxAttempts: 5, Window: time.Hour, LockDuration: time.Hour}, policies[auth.OpPasswordChange])
	assert.Equal(t, auth.LimitPolicy{MaxAttempts: 5, Window: 24 * time.Hour, LockDuration: 0}, policies[auth.OpExport])
}

func TestRateLimiter_Close(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := auth.NewRateLimiter(auth.RateLimiterConfig{
		Enabled:         true,
		CleanupInterval: 10 * time.Millisecond,
	})
	time.Sleep(30 * time.Millisecond)
	rl.Close()
}

func TestRateLimiter_Concurrency(t *testing.T) {
	rl := newTestLimiter(t, newFakeClock())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				rl.Check("shared", auth.OpLogin)
				rl.Increment("shared", auth.OpLogin)
			}
		}()
	}
	wg.Wait()

	// 400 increments against a budget of 5: locked, count capped.
	d := rl.Check("shared", auth.OpLogin)
	assert.False(t, d.Allowed)
}
