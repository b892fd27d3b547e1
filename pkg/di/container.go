// Package di is the composition root: it builds the limiter, cache, stats
// recorder, key builder, registry and interceptor from a config.Config.
package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-call-guard/clock"
	"github.com/goliatone/go-call-guard/config"
	"github.com/goliatone/go-call-guard/guard"
	"github.com/goliatone/go-call-guard/internal/cacheinfra"
	"github.com/goliatone/go-call-guard/keys"
	"github.com/goliatone/go-call-guard/ratelimit"
	"github.com/goliatone/go-call-guard/resultcache"
	"github.com/goliatone/go-call-guard/stats"
	"github.com/goliatone/go-call-guard/transport/hertzguard"
	"github.com/goliatone/go-call-guard/transport/httpguard"
)

// Container owns one instance of every guard component. Its lifetime is the
// process's; main creates it, calls Start and finally Close.
type Container struct {
	config   config.Config
	clock    clock.Clock
	logger   *slog.Logger
	redis    redis.UniversalClient
	ownRedis bool

	limiter  ratelimit.Limiter
	cache    resultcache.Cache
	recorder stats.Recorder
	keys     *keys.Builder
	registry *guard.Registry
	guard    *guard.Interceptor
}

type Option func(*Container)

func WithClock(c clock.Clock) Option {
	return func(ct *Container) {
		if c != nil {
			ct.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(ct *Container) {
		if l != nil {
			ct.logger = l
		}
	}
}

// WithRedisClient supplies the client for the redis stats backend. The
// container does not close clients it did not create.
func WithRedisClient(rdb redis.UniversalClient) Option {
	return func(ct *Container) { ct.redis = rdb }
}

// NewContainer validates cfg and wires the components it selects. The
// operations section is registered eagerly.
func NewContainer(cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		config: cfg,
		clock:  clock.System(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.limiter = c.newLimiter()

	cache, err := c.newCache()
	if err != nil {
		return nil, err
	}
	c.cache = cache
	c.recorder = c.newRecorder()

	c.keys = keys.NewBuilder(keys.WithMaxKeyLength(cfg.Cache.MaxKeyLength))

	c.registry = guard.NewRegistry()
	ops, err := cfg.GuardOperations()
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		if err := c.registry.Register(op); err != nil {
			return nil, err
		}
	}

	c.guard = guard.New(
		guard.WithLimiter(c.limiter),
		guard.WithCache(c.cache),
		guard.WithKeyBuilder(c.keys),
		guard.WithRegistry(c.registry),
		guard.WithRecorder(c.recorder),
		guard.WithClock(c.clock),
		guard.WithLogger(c.logger),
	)
	return c, nil
}

// NewContainerWithDefaults builds a container from config.Default.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(config.Default(), opts...)
}

func (c *Container) newLimiter() ratelimit.Limiter {
	opts := []ratelimit.Option{ratelimit.WithClock(c.clock), ratelimit.WithLogger(c.logger)}
	if c.config.RateLimit.Algorithm == config.AlgorithmTokenBucket {
		return ratelimit.NewTokenBucket(opts...)
	}
	return ratelimit.NewFixedWindow(opts...)
}

func (c *Container) newCache() (resultcache.Cache, error) {
	if c.config.Cache.Backend == config.CacheBackendSturdyc {
		sc := c.config.Cache.Sturdyc
		cache, err := cacheinfra.NewSturdycCache(cacheinfra.Config{
			Capacity:           sc.Capacity,
			NumShards:          sc.Shards,
			EvictionPercentage: sc.EvictionPercentage,
			EvictionInterval:   sc.EvictionInterval,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("sturdyc cache: %w", err)
		}
		return cache, nil
	}

	opts := []resultcache.Option{resultcache.WithClock(c.clock), resultcache.WithLogger(c.logger)}
	if c.config.Cache.StaleOnError {
		opts = append(opts, resultcache.WithStaleOnError())
	}
	return resultcache.NewMemory(opts...), nil
}

func (c *Container) newRecorder() stats.Recorder {
	switch c.config.Stats.Backend {
	case config.StatsBackendRedis:
		if c.redis == nil {
			c.redis = redis.NewClient(&redis.Options{
				Addr:     c.config.Redis.Addr,
				Password: c.config.Redis.Password,
				DB:       c.config.Redis.DB,
			})
			c.ownRedis = true
		}
		return stats.NewRedis(c.redis,
			stats.WithRedisPrefix(c.config.Stats.Prefix),
			stats.WithRedisTTL(c.config.Stats.TTL),
			stats.WithRedisTrackKeys(c.config.Stats.TrackKeys),
		)
	case config.StatsBackendMemory:
		return stats.NewMemory()
	default:
		return stats.Nop{}
	}
}

// Start launches the janitors enabled in the config. They stop with ctx.
func (c *Container) Start(ctx context.Context) {
	rl := c.config.RateLimit
	if s, ok := c.limiter.(ratelimit.Sweeper); ok && rl.SweepInterval > 0 {
		ratelimit.StartJanitor(ctx, s, rl.SweepInterval, rl.IdleTTL, c.logger)
	}
	if m, ok := c.cache.(*resultcache.Memory); ok && c.config.Cache.PurgeInterval > 0 {
		m.StartJanitor(ctx, c.config.Cache.PurgeInterval, c.config.Cache.PurgeGrace)
	}

	c.logger.Info("call guard started",
		"rate_algorithm", rl.Algorithm,
		"cache_backend", c.config.Cache.Backend,
		"stats_backend", c.config.Stats.Backend,
		"operations", len(c.registry.Operations()),
	)
}

// Close releases the redis client when the container created it.
func (c *Container) Close() error {
	if c.ownRedis && c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func (c *Container) Guard() *guard.Interceptor { return c.guard }
func (c *Container) Registry() *guard.Registry { return c.registry }
func (c *Container) Limiter() ratelimit.Limiter { return c.limiter }
func (c *Container) Cache() resultcache.Cache { return c.cache }
func (c *Container) Recorder() stats.Recorder { return c.recorder }
func (c *Container) KeyBuilder() *keys.Builder { return c.keys }
func (c *Container) Logger() *slog.Logger { return c.logger }
func (c *Container) Config() config.Config { return c.config }

// HTTPMiddleware returns a net/http middleware throttling operation.
func (c *Container) HTTPMiddleware(operation string, opts ...httpguard.Option) func(http.Handler) http.Handler {
	return httpguard.Middleware(c.guard, operation, append([]httpguard.Option{httpguard.WithLogger(c.logger)}, opts...)...)
}

// HertzMiddleware returns a hertz middleware throttling operation.
func (c *Container) HertzMiddleware(operation string, opts ...hertzguard.Option) app.HandlerFunc {
	return hertzguard.Middleware(c.guard, operation, opts...)
}
