// Package resultcache stores the most recent successful result of an operation
// per key for a time-to-live, and guarantees a single computation per key when
// the cache is cold.
//
// # Overview
//
// The package exports the Cache contract and its default in-process
// implementation, Memory:
//
//   - Cache: read-through GetOrCompute plus Invalidate
//   - PrefixInvalidator: optional bulk invalidation by key prefix
//   - GetOrCompute: a generic helper returning typed values
//   - Memory: single-flight engine keyed by string
//
// # Basic Usage
//
//	c := resultcache.NewMemory()
//	p, _ := policy.NewCachePolicy(900, policy.WithNamespace("careFacility"))
//
//	facility, err := resultcache.GetOrCompute(ctx, c, "careFacility:42", p,
//		func(ctx context.Context) (Facility, error) {
//			return facilities.Find(ctx, 42)
//		})
//
// # Single-flight
//
// Each key moves through EMPTY -> COMPUTING -> READY. The first caller that
// finds a key empty or expired becomes the owner of a flight and runs compute
// with its own context. Concurrent callers find the flight and block on its
// completion channel; they never start a computation of their own. When the
// flight ends every waiter receives the same value or the same error.
//
// A waiter can give up through its own context. That does not cancel the
// flight. Cancelling the owner's context does: compute sees the cancellation
// and every waiter receives the resulting error.
//
// # What is not cached
//
//   - errors: a failed computation leaves the key empty, so the next call retries
//   - absent results: nil, nil pointers, nil maps and slices are returned but not stored
//   - anything under a policy with a zero TTL: compute runs on every call
//
// With WithStaleOnError a failed refresh returns the previous value instead of
// the error and leaves it expired, so the next call tries again.
//
// # Memory growth
//
// Expired entries are replaced lazily on access and are never evicted on their
// own. Purge and StartJanitor drop idle entries for unbounded key spaces.
//
// # See Also
//
// internal/cacheinfra provides a sturdyc-backed Cache for deployments that
// want capacity-bound sharded storage instead.
package resultcache
