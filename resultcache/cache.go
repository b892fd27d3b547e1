package resultcache

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/goliatone/go-call-guard/policy"
)

var (
	// ErrComputePanicked is delivered to waiters of a computation that panicked.
	ErrComputePanicked = errors.New("resultcache: computation panicked")

	// ErrNilCompute is returned when GetOrCompute is called without a compute function.
	ErrNilCompute = errors.New("resultcache: compute function is nil")

	// ErrTypeMismatch is returned by the typed helper when a cached value has
	// a different type than requested, usually two operations sharing a key.
	ErrTypeMismatch = errors.New("resultcache: cached value type mismatch")
)

// ComputeFn produces the value to cache. It receives the context of the
// caller that triggered the computation.
type ComputeFn func(ctx context.Context) (any, error)

// Cache is the read-through contract the interceptor relies on.
//
// GetOrCompute returns the fresh cached value for key when there is one, and
// otherwise runs compute at most once per key across concurrent callers.
// Absent results (nil, nil pointers, nil maps or slices) are handed back to
// the callers but never stored.
type Cache interface {
	GetOrCompute(ctx context.Context, key string, p policy.CachePolicy, compute ComputeFn) (any, error)
	Invalidate(ctx context.Context, key string) error
}

// PrefixInvalidator is implemented by caches that can drop every key sharing
// a prefix, typically a namespace.
type PrefixInvalidator interface {
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)
}

// GetOrCompute is a type-safe wrapper around Cache.GetOrCompute.
func GetOrCompute[T any](ctx context.Context, c Cache, key string, p policy.CachePolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := c.GetOrCompute(ctx, key, p, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: key %q holds %T", ErrTypeMismatch, key, result)
	}
	return typed, nil
}

// IsAbsent reports whether v represents "no result": a nil interface or a
// nil pointer, map, slice, channel, func or interface value.
func IsAbsent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
