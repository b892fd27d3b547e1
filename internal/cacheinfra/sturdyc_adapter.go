package cacheinfra

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"

	"github.com/goliatone/go-call-guard/policy"
	"github.com/goliatone/go-call-guard/resultcache"
)

// Config holds the configuration for the sturdyc cache adapter.
// TTLs are not part of it: they come from the CachePolicy of each call.
type Config struct {
	// Capacity defines the maximum number of entries each TTL class can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Must be greater than 0. Default: 256
	NumShards int

	// EvictionPercentage specifies what percentage of entries to evict
	// when a client reaches its capacity. Must be between 1-100.
	// Default: 10
	EvictionPercentage int

	// EarlyRefresh configures sturdyc early refreshes. Nil disables them,
	// which keeps expiry semantics identical to the in-memory cache.
	EarlyRefresh *EarlyRefreshConfig

	// EvictionInterval sets how often sturdyc checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// EarlyRefreshConfig configures early refresh behavior.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the optional parts of Config to sturdyc options.
// Capacity, NumShards and EvictionPercentage go to sturdyc.New directly.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EarlyRefresh != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			c.EarlyRefresh.MinAsyncRefreshTime,
			c.EarlyRefresh.MaxAsyncRefreshTime,
			c.EarlyRefresh.SyncRefreshTime,
			c.EarlyRefresh.RetryBaseDelay,
		))
	}

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EarlyRefresh != nil {
		if c.EarlyRefresh.MinAsyncRefreshTime < 0 {
			return &ConfigError{Field: "EarlyRefresh.MinAsyncRefreshTime", Message: "must be non-negative"}
		}
		if c.EarlyRefresh.MaxAsyncRefreshTime < 0 {
			return &ConfigError{Field: "EarlyRefresh.MaxAsyncRefreshTime", Message: "must be non-negative"}
		}
		if c.EarlyRefresh.SyncRefreshTime < 0 {
			return &ConfigError{Field: "EarlyRefresh.SyncRefreshTime", Message: "must be non-negative"}
		}
		if c.EarlyRefresh.RetryBaseDelay < 0 {
			return &ConfigError{Field: "EarlyRefresh.RetryBaseDelay", Message: "must be non-negative"}
		}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// errNoValue carries an absent result through sturdyc without it being stored.
var errNoValue = errors.New("cacheinfra: computation returned no value")

// SturdycCache implements resultcache.Cache on top of sturdyc clients.
// sturdyc fixes the TTL per client, so one client is kept per distinct
// policy TTL. Concurrent misses for a key are de-duplicated by sturdyc.
//
// Stale-on-error is not supported: a failed refresh always reports its error.
type SturdycCache struct {
	cfg     Config
	opts    []sturdyc.Option
	clients *xsync.MapOf[time.Duration, *sturdyc.Client[any]]
	logger  *slog.Logger
}

var (
	_ resultcache.Cache             = (*SturdycCache)(nil)
	_ resultcache.PrefixInvalidator = (*SturdycCache)(nil)
)

// NewSturdycCache validates cfg and returns an empty cache.
func NewSturdycCache(cfg Config, logger *slog.Logger) (*SturdycCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SturdycCache{
		cfg:     cfg,
		opts:    cfg.ToSturdycOptions(),
		clients: xsync.NewMapOf[time.Duration, *sturdyc.Client[any]](),
		logger:  logger,
	}, nil
}

func (s *SturdycCache) client(ttl time.Duration) *sturdyc.Client[any] {
	c, _ := s.clients.LoadOrCompute(ttl, func() *sturdyc.Client[any] {
		return sturdyc.New[any](
			s.cfg.Capacity,
			s.cfg.NumShards,
			ttl,
			s.cfg.EvictionPercentage,
			s.opts...,
		)
	})
	return c
}

// GetOrCompute implements resultcache.Cache.
func (s *SturdycCache) GetOrCompute(ctx context.Context, key string, p policy.CachePolicy, compute resultcache.ComputeFn) (any, error) {
	if compute == nil {
		return nil, resultcache.ErrNilCompute
	}
	if !p.Enabled() {
		return compute(ctx)
	}

	v, err := s.client(p.TTL).GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		s.logger.Debug("cache miss, computing", "key", key, "backend", "sturdyc")
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if resultcache.IsAbsent(v) {
			return nil, errNoValue
		}
		return v, nil
	})
	if errors.Is(err, errNoValue) {
		return nil, nil
	}
	if err != nil {
		s.logger.Warn("computation failed", "key", key, "backend", "sturdyc", "error", err)
		return nil, err
	}
	return v, nil
}

// Invalidate removes key from every TTL class.
func (s *SturdycCache) Invalidate(_ context.Context, key string) error {
	s.clients.Range(func(_ time.Duration, c *sturdyc.Client[any]) bool {
		c.Delete(key)
		return true
	})
	return nil
}

// InvalidatePrefix removes every key starting with prefix and reports how many
// were dropped.
func (s *SturdycCache) InvalidatePrefix(_ context.Context, prefix string) (int, error) {
	removed := 0
	s.clients.Range(func(_ time.Duration, c *sturdyc.Client[any]) bool {
		for _, key := range c.ScanKeys() {
			if strings.HasPrefix(key, prefix) {
				c.Delete(key)
				removed++
			}
		}
		return true
	})
	return removed, nil
}
