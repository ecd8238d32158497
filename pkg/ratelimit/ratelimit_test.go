package ratelimit_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
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

func TestLimiterCheck(t *testing.T) {
	t.Parallel()

	t.Run("denies the attempt after max within the window", func(t *testing.T) {
		clock := newFakeClock()
		l := ratelimit.New(ratelimit.WithClock(clock.Now))

		for i := range 3 {
			res := l.Check("password-reset:alice@example.com", 3, time.Hour)
			require.True(t, res.Allowed, "attempt %d should be allowed", i+1)
			require.Equal(t, 3-(i+1), res.Remaining)
		}

		res := l.Check("password-reset:alice@example.com", 3, time.Hour)
		require.False(t, res.Allowed)
		require.Equal(t, 0, res.Remaining)
		require.Equal(t, clock.Now().Add(time.Hour), res.ResetAt)
	})

	t.Run("denied attempts do not extend the window", func(t *testing.T) {
		clock := newFakeClock()
		l := ratelimit.New(ratelimit.WithClock(clock.Now))
		start := clock.Now()

		l.Check("k", 1, time.Minute)
		clock.Advance(30 * time.Second)
		res := l.Check("k", 1, time.Minute)
		require.False(t, res.Allowed)
		require.Equal(t, start.Add(time.Minute), res.ResetAt)

		clock.Advance(29 * time.Second)
		res = l.Check("k", 1, time.Minute)
		require.False(t, res.Allowed)
		require.Equal(t, start.Add(time.Minute), res.ResetAt)
	})

	t.Run("allows again once resetAt has passed", func(t *testing.T) {
		clock := newFakeClock()
		l := ratelimit.New(ratelimit.WithClock(clock.Now))

		for range 2 {
			l.Check("k", 2, time.Minute)
		}
		require.False(t, l.Check("k", 2, time.Minute).Allowed)

		clock.Advance(time.Minute)
		res := l.Check("k", 2, time.Minute)
		require.True(t, res.Allowed)
		require.Equal(t, 1, res.Remaining)
		require.Equal(t, clock.Now().Add(time.Minute), res.ResetAt)
	})

	t.Run("identifiers are independent", func(t *testing.T) {
		l := ratelimit.New()

		require.True(t, l.Check("a", 1, time.Minute).Allowed)
		require.False(t, l.Check("a", 1, time.Minute).Allowed)
		require.True(t, l.Check("b", 1, time.Minute).Allowed)
	})

	t.Run("non-positive max always denies", func(t *testing.T) {
		l := ratelimit.New()
		require.False(t, l.Check("k", 0, time.Minute).Allowed)
	})
}

func TestLimiterReset(t *testing.T) {
	t.Parallel()

	l := ratelimit.New()
	require.True(t, l.Check("login:alice", 1, time.Hour).Allowed)
	require.False(t, l.Check("login:alice", 1, time.Hour).Allowed)

	l.Reset("login:alice")
	require.True(t, l.Check("login:alice", 1, time.Hour).Allowed)

	// Resetting an unknown identifier is a no-op.
	l.Reset("unknown")
}

func TestLimiterSweep(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := ratelimit.New(ratelimit.WithClock(clock.Now))

	l.Check("short", 5, time.Minute)
	l.Check("long", 5, time.Hour)
	require.Equal(t, 2, l.Len())

	clock.Advance(2 * time.Minute)
	require.Equal(t, 1, l.Sweep())
	require.Equal(t, 1, l.Len())

	// The swept identifier starts a fresh window.
	res := l.Check("short", 5, time.Minute)
	require.True(t, res.Allowed)
	require.Equal(t, 4, res.Remaining)
}

func TestLimiterConcurrentCheck(t *testing.T) {
	t.Parallel()

	l := ratelimit.New()

	const (
		workers  = 16
		attempts = 50
		budget   = 100
	)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range attempts {
				if l.Check("shared", budget, time.Hour).Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(budget), allowed.Load())
}

func TestLimiterConcurrentSweep(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := ratelimit.New(ratelimit.WithClock(clock.Now))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 200 {
				l.Check(fmt.Sprintf("id-%d-%d", i, j%10), 1000, time.Millisecond)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 50 {
			clock.Advance(time.Millisecond)
			l.Sweep()
		}
	}()

	wg.Wait()
	<-done

	clock.Advance(time.Second)
	l.Sweep()
	require.Equal(t, 0, l.Len())
}

func TestResultRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.Equal(t, time.Second, ratelimit.Result{ResetAt: now}.RetryAfter(now))
	require.Equal(t, 2*time.Second, ratelimit.Result{ResetAt: now.Add(1500 * time.Millisecond)}.RetryAfter(now))
	require.Equal(t, time.Hour, ratelimit.Result{ResetAt: now.Add(time.Hour)}.RetryAfter(now))
}
