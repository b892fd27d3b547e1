package ratelimit

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-call-guard/policy"
)

type window struct {
	start    time.Time
	lastSeen time.Time
	count    int
}

// FixedWindow counts attempts per key in consecutive, non-overlapping windows.
// It admits up to 2×Limit calls around a window boundary.
//
// The check-reset-increment sequence for a key runs inside a single
// MapOf.Compute call, so it is atomic per key while different keys only
// share a bucket lock.
type FixedWindow struct {
	windows *xsync.MapOf[string, window]
	opts    options
}

var _ Limiter = (*FixedWindow)(nil)

// NewFixedWindow creates an empty fixed window limiter.
func NewFixedWindow(opts ...Option) *FixedWindow {
	return &FixedWindow{
		windows: xsync.NewMapOf[string, window](),
		opts:    buildOptions(opts),
	}
}

// Admit counts the call against key. A window that has run for at least
// p.Window is restarted at now before the call is counted, so the call that
// triggers a reset is the first of the new window. Rejected calls keep their
// increment: the counter tracks attempts, not admissions.
func (l *FixedWindow) Admit(key string, p policy.ThrottlePolicy) Decision {
	now := l.opts.clock.Now()

	var current window
	l.windows.Compute(key, func(old window, loaded bool) (window, bool) {
		if !loaded || now.Sub(old.start) >= p.Window {
			old = window{start: now}
		}
		old.count++
		old.lastSeen = now
		current = old
		return old, false
	})

	d := Decision{
		Allowed: current.count <= p.Limit,
		Count:   current.count,
		Limit:   p.Limit,
		ResetAt: current.start.Add(p.Window),
	}
	if d.Allowed {
		d.Remaining = p.Limit - current.count
		return d
	}

	d.RetryAfter = d.ResetAt.Sub(now)
	if d.RetryAfter < 0 {
		d.RetryAfter = 0
	}
	l.opts.logger.Warn("rate limit exceeded",
		"key", key,
		"count", current.count,
		"limit", p.Limit,
	)
	return d
}

// Len reports how many keys currently hold a window.
func (l *FixedWindow) Len() int {
	return l.windows.Size()
}

// Sweep drops windows that have not seen a request for at least idle and
// returns how many were removed.
func (l *FixedWindow) Sweep(idle time.Duration) int {
	now := l.opts.clock.Now()

	var candidates []string
	l.windows.Range(func(key string, w window) bool {
		if now.Sub(w.lastSeen) >= idle {
			candidates = append(candidates, key)
		}
		return true
	})

	removed := 0
	for _, key := range candidates {
		l.windows.Compute(key, func(old window, loaded bool) (window, bool) {
			if !loaded {
				return old, true
			}
			if now.Sub(old.lastSeen) >= idle {
				removed++
				return old, true
			}
			return old, false
		})
	}
	return removed
}
