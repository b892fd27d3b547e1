// Package guard wraps service operations with declarative throttling and
// result caching.
//
// Operations are registered with explicit policies instead of annotations:
//
//	throttle, _ := policy.NewThrottlePolicy(10, 60)
//	cache, _ := policy.NewCachePolicy(900, policy.WithNamespace("careFacility"))
//
//	reg := guard.NewRegistry().MustRegister(
//		guard.Operation{ID: "facility.search", Throttle: &throttle},
//		guard.Operation{ID: "facility.get", Cache: &cache},
//	)
//	g := guard.New(guard.WithRegistry(reg))
//
//	facility, err := guard.Call(keys.WithCaller(ctx, clientIP), g, "facility.get",
//		func(ctx context.Context) (*Facility, error) {
//			return facilities.Find(ctx, id)
//		}, id)
//
// # Order of evaluation
//
// When an operation carries both policies the throttle runs first, so a
// rejected caller never observes cached data. A rejection is terminal and
// surfaces as *RateLimitExceeded, which matches ErrRateLimited. Errors from
// the call itself pass through unchanged.
//
// # Scope
//
// Counters and cached values live in the configured ratelimit.Limiter and
// resultcache.Cache. With the default in-process backends every instance of
// a service enforces its own budget.
package guard
