// Package hertzguard adapts the guard to hertz handlers with the same
// contract as httpguard.
package hertzguard

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/goliatone/go-call-guard/guard"
	"github.com/goliatone/go-call-guard/keys"
	"github.com/goliatone/go-call-guard/transport/errmap"
	"github.com/goliatone/go-call-guard/transport/httpguard"
)

type options struct {
	caller func(c *app.RequestContext) string
}

type Option func(*options)

// WithCallerFunc replaces ClientIP as the caller identity source.
func WithCallerFunc(fn func(c *app.RequestContext) string) Option {
	return func(o *options) {
		if fn != nil {
			o.caller = fn
		}
	}
}

// ClientIP applies the httpguard proxy header chain and falls back to
// hertz's own resolution.
func ClientIP(c *app.RequestContext) string {
	return httpguard.ClientIPFromHeaders(func(name string) string {
		return string(c.GetHeader(name))
	}, c.ClientIP())
}

// Middleware throttles the rest of the handler chain under the registered
// operation id. An empty id uses the matched route.
func Middleware(g *guard.Interceptor, operation string, opts ...Option) app.HandlerFunc {
	o := options{caller: ClientIP}
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx context.Context, c *app.RequestContext) {
		id := operation
		if id == "" {
			id = c.FullPath()
		}

		op, ok := g.Registry().Lookup(id)
		if !ok || op.Throttle == nil {
			c.Next(ctx)
			return
		}

		if _, found := keys.CallerFromContext(ctx); !found {
			ctx = keys.WithCaller(ctx, o.caller(c))
		}

		_, err := g.Invoke(ctx, guard.Operation{ID: op.ID, Throttle: op.Throttle}, func(ctx context.Context) (any, error) {
			c.Next(ctx)
			return nil, nil
		})
		if err == nil {
			return
		}

		if v, ok := errmap.RetryAfterHeader(err); ok {
			c.Header("Retry-After", v)
		}
		if rle, ok := guard.AsRateLimitExceeded(err); ok {
			c.Header("X-RateLimit-Limit", strconv.Itoa(rle.Limit))
		}
		status, body := errmap.Render(err)
		c.AbortWithStatusJSON(status, body)
	}
}
