// Package policy holds the declarative throttling and caching policies that are
// attached to operation registrations. Policies are immutable values and are
// validated when they are built, never at call time.
package policy

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ErrInvalidPolicy is wrapped by every policy validation failure.
var ErrInvalidPolicy = errors.New("invalid policy")

// DefaultRejectionMessage is surfaced when a ThrottlePolicy has no message.
const DefaultRejectionMessage = "request limit exceeded, please retry later"

const (
	DefaultRequests      = 100
	DefaultWindowSeconds = 60
	DefaultTTLSeconds    = 3600
)

// ThrottlePolicy bounds how many calls an operation admits per fixed window.
type ThrottlePolicy struct {
	// Limit is the number of admitted requests per window.
	Limit int `json:"limit"`

	// Window is the length of a counting window. Whole seconds, at least one.
	Window time.Duration `json:"window"`

	// PerCaller splits the budget by caller identity instead of sharing one
	// budget between every caller of the operation.
	PerCaller bool `json:"per_caller"`

	// Message is surfaced to the caller on rejection.
	Message string `json:"message"`
}

// ThrottleOption customizes a ThrottlePolicy built by NewThrottlePolicy.
type ThrottleOption func(*ThrottlePolicy)

// WithPerCaller sets whether the budget is scoped per caller identity.
func WithPerCaller(perCaller bool) ThrottleOption {
	return func(p *ThrottlePolicy) { p.PerCaller = perCaller }
}

// WithMessage sets the rejection message.
func WithMessage(msg string) ThrottleOption {
	return func(p *ThrottlePolicy) { p.Message = msg }
}

// NewThrottlePolicy builds and validates a policy admitting requests calls per
// windowSeconds. Policies are caller scoped unless told otherwise.
func NewThrottlePolicy(requests, windowSeconds int, opts ...ThrottleOption) (ThrottlePolicy, error) {
	p := ThrottlePolicy{
		Limit:     requests,
		Window:    time.Duration(windowSeconds) * time.Second,
		PerCaller: true,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.Validate(); err != nil {
		return ThrottlePolicy{}, err
	}
	return p, nil
}

// DefaultThrottlePolicy returns 100 requests per 60 seconds, scoped per caller.
func DefaultThrottlePolicy() ThrottlePolicy {
	return ThrottlePolicy{
		Limit:     DefaultRequests,
		Window:    DefaultWindowSeconds * time.Second,
		PerCaller: true,
		Message:   DefaultRejectionMessage,
	}
}

// Validate checks the policy bounds.
func (p ThrottlePolicy) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Limit, validation.Required, validation.Min(1)),
		validation.Field(&p.Window, validation.Required, validation.Min(time.Second)),
	)
	if err != nil {
		return fmt.Errorf("%w: throttle: %w", ErrInvalidPolicy, err)
	}
	return nil
}

// RejectionMessage returns Message or the default one.
func (p ThrottlePolicy) RejectionMessage() string {
	if p.Message == "" {
		return DefaultRejectionMessage
	}
	return p.Message
}

// CachePolicy controls how long an operation result is reused.
type CachePolicy struct {
	// TTL is how long a computed value stays fresh. Zero disables caching.
	TTL time.Duration `json:"ttl"`

	// Key is a static key override. When set, arguments are not part of the key.
	Key string `json:"key"`

	// Namespace prefixes the key, grouping related operations.
	Namespace string `json:"namespace"`

	// PerCaller isolates cached values per caller identity.
	PerCaller bool `json:"per_caller"`
}

// CacheOption customizes a CachePolicy built by NewCachePolicy.
type CacheOption func(*CachePolicy)

// WithStaticKey overrides the derived cache key.
func WithStaticKey(key string) CacheOption {
	return func(p *CachePolicy) { p.Key = key }
}

// WithNamespace prefixes cache keys with ns.
func WithNamespace(ns string) CacheOption {
	return func(p *CachePolicy) { p.Namespace = ns }
}

// WithCallerScope isolates cached values per caller identity.
func WithCallerScope() CacheOption {
	return func(p *CachePolicy) { p.PerCaller = true }
}

// NewCachePolicy builds and validates a policy caching results for ttlSeconds.
// A ttlSeconds of zero yields a policy that always computes.
func NewCachePolicy(ttlSeconds int, opts ...CacheOption) (CachePolicy, error) {
	p := CachePolicy{TTL: time.Duration(ttlSeconds) * time.Second}
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.Validate(); err != nil {
		return CachePolicy{}, err
	}
	return p, nil
}

// DefaultCachePolicy returns a one hour shared cache policy.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{TTL: DefaultTTLSeconds * time.Second}
}

// Validate checks the policy bounds. A zero TTL is valid and disables caching.
func (p CachePolicy) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.TTL, validation.Min(time.Second)),
	)
	if err != nil {
		return fmt.Errorf("%w: cache: %w", ErrInvalidPolicy, err)
	}
	return nil
}

// Enabled reports whether results should be cached at all.
func (p CachePolicy) Enabled() bool {
	return p.TTL > 0
}
