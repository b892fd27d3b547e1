package keys

import (
	"context"
	"strings"
)

type callerContextKey struct{}

// WithCaller attaches the identity of the caller to ctx. Blank identities
// are ignored.
func WithCaller(ctx context.Context, caller string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return ctx
	}
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the caller identity stored by WithCaller.
func CallerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	caller, ok := ctx.Value(callerContextKey{}).(string)
	return caller, ok && caller != ""
}

// CallerResolver finds the identity of whoever is making a call.
type CallerResolver interface {
	ResolveCaller(ctx context.Context) (string, bool)
}

// CallerResolverFunc adapts a function to CallerResolver.
type CallerResolverFunc func(ctx context.Context) (string, bool)

func (f CallerResolverFunc) ResolveCaller(ctx context.Context) (string, bool) {
	return f(ctx)
}

// ContextResolver reads the identity set with WithCaller.
var ContextResolver CallerResolver = CallerResolverFunc(CallerFromContext)
