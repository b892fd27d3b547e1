package ratelimit

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	"github.com/goliatone/go-call-guard/policy"
)

type bucket struct {
	lim      *rate.Limiter
	limit    int
	window   time.Duration
	lastSeen atomic.Int64
}

func (b *bucket) idleFor(now time.Time) time.Duration {
	return time.Duration(now.UnixNano() - b.lastSeen.Load())
}

// TokenBucket is a smoother alternative to FixedWindow behind the same
// contract. Tokens refill at Limit per Window and the bucket holds at most
// Limit tokens, so it never admits a 2×Limit burst at a window boundary.
// Count and ResetAt in its decisions are approximations derived from the
// token level.
type TokenBucket struct {
	buckets *xsync.MapOf[string, *bucket]
	opts    options
}

var _ Limiter = (*TokenBucket)(nil)

// NewTokenBucket creates an empty token bucket limiter.
func NewTokenBucket(opts ...Option) *TokenBucket {
	return &TokenBucket{
		buckets: xsync.NewMapOf[string, *bucket](),
		opts:    buildOptions(opts),
	}
}

// Admit takes one token from the bucket for key.
func (l *TokenBucket) Admit(key string, p policy.ThrottlePolicy) Decision {
	now := l.opts.clock.Now()
	if p.Limit < 1 || p.Window <= 0 {
		return Decision{Limit: p.Limit}
	}

	b, _ := l.buckets.Compute(key, func(old *bucket, loaded bool) (*bucket, bool) {
		if loaded && old.limit == p.Limit && old.window == p.Window {
			old.lastSeen.Store(now.UnixNano())
			return old, false
		}
		every := p.Window / time.Duration(p.Limit)
		fresh := &bucket{
			lim:    rate.NewLimiter(rate.Every(every), p.Limit),
			limit:  p.Limit,
			window: p.Window,
		}
		fresh.lastSeen.Store(now.UnixNano())
		return fresh, false
	})

	allowed := b.lim.AllowN(now, 1)
	tokens := b.lim.TokensAt(now)
	interval := p.Window / time.Duration(p.Limit)

	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   allowed,
		Count:     p.Limit - remaining,
		Limit:     p.Limit,
		Remaining: remaining,
		ResetAt:   now.Add(time.Duration((float64(p.Limit) - tokens) * float64(interval))),
	}
	if allowed {
		return d
	}

	d.RetryAfter = time.Duration((1 - tokens) * float64(interval))
	l.opts.logger.Warn("rate limit exceeded",
		"key", key,
		"tokens", tokens,
		"limit", p.Limit,
	)
	return d
}

// Len reports how many keys currently hold a bucket.
func (l *TokenBucket) Len() int {
	return l.buckets.Size()
}

// Sweep drops buckets that have not been used for at least idle.
func (l *TokenBucket) Sweep(idle time.Duration) int {
	now := l.opts.clock.Now()

	var candidates []string
	l.buckets.Range(func(key string, b *bucket) bool {
		if b.idleFor(now) >= idle {
			candidates = append(candidates, key)
		}
		return true
	})

	removed := 0
	for _, key := range candidates {
		l.buckets.Compute(key, func(old *bucket, loaded bool) (*bucket, bool) {
			if !loaded {
				return old, true
			}
			if old.idleFor(now) >= idle {
				removed++
				return old, true
			}
			return old, false
		})
	}
	return removed
}
