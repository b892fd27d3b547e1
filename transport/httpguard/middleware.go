// Package httpguard adapts the guard to net/http handlers. Only throttle
// policies apply at this boundary: responses are streamed to the client and
// are never cached.
package httpguard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goliatone/go-call-guard/guard"
	"github.com/goliatone/go-call-guard/keys"
	"github.com/goliatone/go-call-guard/transport/errmap"
)

type options struct {
	caller func(*http.Request) string
	logger *slog.Logger
}

type Option func(*options)

// WithCallerFunc replaces ClientIP as the caller identity source.
func WithCallerFunc(fn func(*http.Request) string) Option {
	return func(o *options) {
		if fn != nil {
			o.caller = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Middleware throttles next under the registered operation id. An empty id
// uses the matched ServeMux pattern. Requests for unregistered operations
// pass through; an identity already on the request context is kept.
func Middleware(g *guard.Interceptor, operation string, opts ...Option) func(http.Handler) http.Handler {
	o := options{caller: ClientIP, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := operation
			if id == "" {
				id = r.Pattern
			}

			op, ok := g.Registry().Lookup(id)
			if !ok || op.Throttle == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			if _, found := keys.CallerFromContext(ctx); !found {
				ctx = keys.WithCaller(ctx, o.caller(r))
			}

			_, err := g.Invoke(ctx, guard.Operation{ID: op.ID, Throttle: op.Throttle}, func(ctx context.Context) (any, error) {
				next.ServeHTTP(w, r.WithContext(ctx))
				return nil, nil
			})
			if err != nil {
				WriteError(w, err, o.logger)
			}
		})
	}
}

// WriteError writes err as a JSON problem. Rejections carry Retry-After and
// X-RateLimit-Limit headers.
func WriteError(w http.ResponseWriter, err error, logger *slog.Logger) {
	if v, ok := errmap.RetryAfterHeader(err); ok {
		w.Header().Set("Retry-After", v)
	}
	if rle, ok := guard.AsRateLimitExceeded(err); ok {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rle.Limit))
	}

	status, body := errmap.Render(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil && logger != nil {
		logger.Debug("writing error response failed", "error", encErr)
	}
}
