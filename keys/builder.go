package keys

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/goliatone/go-call-guard/policy"
)

// DefaultMaxKeyLength bounds cache keys before they are compacted.
const DefaultMaxKeyLength = 200

// hashSuffixLen is len("#") plus 16 hex digits.
const hashSuffixLen = 17

// Builder derives rate-limit and cache keys for operations.
type Builder struct {
	serializer KeySerializer
	resolver   CallerResolver
	maxLen     int
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithSerializer replaces the argument serializer.
func WithSerializer(s KeySerializer) BuilderOption {
	return func(b *Builder) {
		if s != nil {
			b.serializer = s
		}
	}
}

// WithResolver replaces the caller identity source.
func WithResolver(r CallerResolver) BuilderOption {
	return func(b *Builder) {
		if r != nil {
			b.resolver = r
		}
	}
}

// WithMaxKeyLength sets the length above which cache keys are compacted.
// Zero or negative disables compaction.
func WithMaxKeyLength(n int) BuilderOption {
	return func(b *Builder) { b.maxLen = n }
}

// NewBuilder returns a Builder reading callers from the context.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		serializer: NewSerializer(),
		resolver:   ContextResolver,
		maxLen:     DefaultMaxKeyLength,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RateKey returns the key a throttle policy counts under: "op:caller" for
// per-caller policies with a known caller, "op" otherwise.
func (b *Builder) RateKey(ctx context.Context, operation string, p policy.ThrottlePolicy) string {
	if !p.PerCaller {
		return operation
	}
	caller, ok := b.resolver.ResolveCaller(ctx)
	if !ok {
		return operation
	}
	return operation + ":" + caller
}

// CacheKey returns the key a cache policy stores under. A static Key replaces
// the operation and its arguments. Namespace is prepended and, for per-caller
// policies, the caller is appended.
func (b *Builder) CacheKey(ctx context.Context, operation string, p policy.CachePolicy, args ...any) string {
	key := p.Key
	if key == "" {
		key = b.serializer.SerializeKey(operation, args...)
	}
	if p.Namespace != "" {
		key = p.Namespace + ":" + key
	}
	if p.PerCaller {
		if caller, ok := b.resolver.ResolveCaller(ctx); ok {
			key += ":" + caller
		}
	}
	return b.compact(key)
}

// compact keeps the head of long keys and replaces the rest with a hash of
// the whole key, so namespace prefixes survive.
func (b *Builder) compact(key string) string {
	if b.maxLen <= 0 || len(key) <= b.maxLen {
		return key
	}
	cut := b.maxLen - hashSuffixLen
	if cut < 0 {
		cut = 0
	}
	return fmt.Sprintf("%s#%016x", key[:cut], xxhash.Sum64String(key))
}
