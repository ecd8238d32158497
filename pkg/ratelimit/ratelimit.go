// Package ratelimit implements an in-process fixed-window attempt counter
// keyed by an arbitrary identifier (an email, an IP, or a composite key).
package ratelimit

import (
	"sync"
	"time"
)

// Result is the outcome of a single Check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller has to wait before the window
// resets, rounded up to a whole second and never below one second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return (d + time.Second - time.Nanosecond).Truncate(time.Second)
}

// Policy bundles the attempt budget for one class of identifier.
type Policy struct {
	Max    int
	Window time.Duration
}

// Limiter counts attempts per identifier in fixed, non-overlapping windows.
//
// Each identifier owns its own record and mutex, so checks for unrelated
// identifiers never contend with each other.
type Limiter struct {
	records sync.Map // map[string]*record
	now     func() time.Time
}

type record struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
	dead    bool // set once the record has been removed from the map
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns an empty Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records one attempt for id and reports whether it is within budget.
//
// The first attempt opens a window ending at now+window. Attempts inside the
// window count against max; once the budget is spent the call is denied with
// the original ResetAt, so denied attempts never extend the window. The
// first attempt at or after ResetAt starts a fresh window.
func (l *Limiter) Check(id string, max int, window time.Duration) Result {
	for {
		v, _ := l.records.LoadOrStore(id, &record{})
		rec := v.(*record)

		rec.mu.Lock()
		if rec.dead {
			// Lost a race with Sweep or Reset; the map holds (or will
			// hold) a fresh record.
			rec.mu.Unlock()
			continue
		}

		now := l.now()
		if rec.count == 0 || !now.Before(rec.resetAt) {
			rec.count = 0
			rec.resetAt = now.Add(window)
		}

		if max <= 0 || rec.count >= max {
			res := Result{Allowed: false, Remaining: 0, ResetAt: rec.resetAt}
			rec.mu.Unlock()
			return res
		}

		rec.count++
		res := Result{Allowed: true, Remaining: max - rec.count, ResetAt: rec.resetAt}
		rec.mu.Unlock()
		return res
	}
}

// Reset forgets every attempt recorded for id.
func (l *Limiter) Reset(id string) {
	v, ok := l.records.LoadAndDelete(id)
	if !ok {
		return
	}
	rec := v.(*record)
	rec.mu.Lock()
	rec.dead = true
	rec.mu.Unlock()
}

// Sweep deletes records whose window has elapsed and returns how many were
// removed. Expired records are harmless (the next Check rolls them over),
// so sweeping only bounds memory.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0

	l.records.Range(func(key, value any) bool {
		rec := value.(*record)

		rec.mu.Lock()
		if !rec.dead && !now.Before(rec.resetAt) {
			rec.dead = true
			l.records.CompareAndDelete(key, rec)
			removed++
		}
		rec.mu.Unlock()
		return true
	})

	return removed
}

// Len returns the number of tracked identifiers.
func (l *Limiter) Len() int {
	n := 0
	l.records.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
