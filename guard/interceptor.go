package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/goliatone/go-call-guard/clock"
	"github.com/goliatone/go-call-guard/keys"
	"github.com/goliatone/go-call-guard/ratelimit"
	"github.com/goliatone/go-call-guard/resultcache"
	"github.com/goliatone/go-call-guard/stats"
)

// CallFn is the protected operation.
type CallFn = resultcache.ComputeFn

// Interceptor applies the throttle and cache policies of an operation around
// a call. It holds no mutable state; all of it lives in the limiter and cache.
type Interceptor struct {
	limiter  ratelimit.Limiter
	cache    resultcache.Cache
	keys     *keys.Builder
	registry *Registry
	recorder stats.Recorder
	clock    clock.Clock
	logger   *slog.Logger
}

type Option func(*Interceptor)

func WithLimiter(l ratelimit.Limiter) Option {
	return func(i *Interceptor) {
		if l != nil {
			i.limiter = l
		}
	}
}

func WithCache(c resultcache.Cache) Option {
	return func(i *Interceptor) {
		if c != nil {
			i.cache = c
		}
	}
}

func WithKeyBuilder(b *keys.Builder) Option {
	return func(i *Interceptor) {
		if b != nil {
			i.keys = b
		}
	}
}

func WithRegistry(r *Registry) Option {
	return func(i *Interceptor) {
		if r != nil {
			i.registry = r
		}
	}
}

func WithRecorder(r stats.Recorder) Option {
	return func(i *Interceptor) {
		if r != nil {
			i.recorder = r
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(i *Interceptor) {
		if c != nil {
			i.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(i *Interceptor) {
		if l != nil {
			i.logger = l
		}
	}
}

// New returns an Interceptor. Unset collaborators default to a fixed-window
// limiter, the in-memory cache, an empty registry and no stats.
func New(opts ...Option) *Interceptor {
	i := &Interceptor{
		keys:     keys.NewBuilder(),
		registry: NewRegistry(),
		recorder: stats.Nop{},
		clock:    clock.System(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.limiter == nil {
		i.limiter = ratelimit.NewFixedWindow(ratelimit.WithClock(i.clock), ratelimit.WithLogger(i.logger))
	}
	if i.cache == nil {
		i.cache = resultcache.NewMemory(resultcache.WithClock(i.clock), resultcache.WithLogger(i.logger))
	}
	return i
}

func (i *Interceptor) Registry() *Registry {
	return i.registry
}

// Call runs the registered operation id. Unknown ids pass straight through
// to call.
func (i *Interceptor) Call(ctx context.Context, id string, call CallFn, args ...any) (any, error) {
	op, ok := i.registry.Lookup(id)
	if !ok {
		if call == nil {
			return nil, resultcache.ErrNilCompute
		}
		i.logger.Debug("operation not registered, calling through", "operation", id)
		return call(ctx)
	}
	return i.Invoke(ctx, op, call, args...)
}

// Invoke applies op's policies around call. The throttle is checked first: a
// rejected call returns *RateLimitExceeded and neither the cache nor call runs.
// args feed the cache key.
func (i *Interceptor) Invoke(ctx context.Context, op Operation, call CallFn, args ...any) (any, error) {
	if call == nil {
		return nil, resultcache.ErrNilCompute
	}

	if op.Throttle != nil {
		key := i.keys.RateKey(ctx, op.ID, *op.Throttle)
		d := i.limiter.Admit(key, *op.Throttle)
		if !d.Allowed {
			i.record(ctx, op.ID, key, stats.OutcomeRejected)
			return nil, &RateLimitExceeded{
				Operation:  op.ID,
				Key:        key,
				Message:    op.Throttle.RejectionMessage(),
				Limit:      d.Limit,
				RetryAfter: d.RetryAfter,
			}
		}
		i.record(ctx, op.ID, key, stats.OutcomeAllowed)
	}

	if op.Cache == nil || !op.Cache.Enabled() {
		return call(ctx)
	}

	key := i.keys.CacheKey(ctx, op.ID, *op.Cache, args...)
	var computed atomic.Bool
	v, err := i.cache.GetOrCompute(ctx, key, *op.Cache, func(ctx context.Context) (any, error) {
		computed.Store(true)
		return call(ctx)
	})
	if computed.Load() {
		i.record(ctx, op.ID, key, stats.OutcomeMiss)
	} else if err == nil {
		i.record(ctx, op.ID, key, stats.OutcomeHit)
	}
	return v, err
}

// Invalidate drops the cached result of a registered operation for args.
func (i *Interceptor) Invalidate(ctx context.Context, id string, args ...any) error {
	op, ok := i.registry.Lookup(id)
	if !ok || op.Cache == nil {
		return nil
	}
	return i.cache.Invalidate(ctx, i.keys.CacheKey(ctx, op.ID, *op.Cache, args...))
}

// InvalidateNamespace drops every cached key under namespace.
func (i *Interceptor) InvalidateNamespace(ctx context.Context, namespace string) (int, error) {
	pi, ok := i.cache.(resultcache.PrefixInvalidator)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrPrefixInvalidationUnsupported, i.cache)
	}
	return pi.InvalidatePrefix(ctx, namespace+":")
}

func (i *Interceptor) record(ctx context.Context, op, key string, outcome stats.Outcome) {
	ev := stats.Event{Operation: op, Key: key, Outcome: outcome, At: i.clock.Now()}
	if err := i.recorder.Record(ctx, ev); err != nil {
		i.logger.Debug("stats record failed", "operation", op, "outcome", outcome, "error", err)
	}
}

// Invoke is a type-safe wrapper around Interceptor.Invoke.
func Invoke[T any](ctx context.Context, i *Interceptor, op Operation, fn func(ctx context.Context) (T, error), args ...any) (T, error) {
	return typed[T](op.ID, func(call CallFn) (any, error) {
		return i.Invoke(ctx, op, call, args...)
	}, fn)
}

// Call is a type-safe wrapper around Interceptor.Call.
func Call[T any](ctx context.Context, i *Interceptor, id string, fn func(ctx context.Context) (T, error), args ...any) (T, error) {
	return typed[T](id, func(call CallFn) (any, error) {
		return i.Call(ctx, id, call, args...)
	}, fn)
}

func typed[T any](id string, run func(CallFn) (any, error), fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if fn == nil {
		return zero, resultcache.ErrNilCompute
	}
	result, err := run(func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	v, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: operation %q returned %T", resultcache.ErrTypeMismatch, id, result)
	}
	return v, nil
}
