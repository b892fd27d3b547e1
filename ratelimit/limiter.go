package ratelimit

import (
	"log/slog"
	"time"

	"github.com/goliatone/go-call-guard/clock"
	"github.com/goliatone/go-call-guard/policy"
)

// Limiter decides whether a call identified by key is admitted under p.
// Implementations must make the decision for a single key atomic across
// concurrent callers, and must not serialize unrelated keys behind one lock.
type Limiter interface {
	Admit(key string, p policy.ThrottlePolicy) Decision
}

// Decision is the outcome of a single Admit call.
type Decision struct {
	Allowed bool

	// Count is the number of attempts observed in the current window,
	// including this one. Rejected attempts are counted too.
	Count int
	Limit int

	// Remaining is how many more calls the current window admits.
	Remaining int

	// ResetAt is when the current window ends.
	ResetAt time.Time

	// RetryAfter is a hint for rejected callers. Zero when allowed.
	RetryAfter time.Duration
}

// Option configures a limiter.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *slog.Logger
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger used to report rejections.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:  clock.System(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
