// Package config loads the guard configuration from YAML, applies
// environment overrides and validates it.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

const (
	AlgorithmFixedWindow = "fixed_window"
	AlgorithmTokenBucket = "token_bucket"

	CacheBackendMemory  = "memory"
	CacheBackendSturdyc = "sturdyc"

	StatsBackendNone   = "none"
	StatsBackendMemory = "memory"
	StatsBackendRedis  = "redis"
)

// Environment variables read by ApplyEnv.
const (
	EnvRateAlgorithm = "GUARD_RATE_ALGORITHM"
	EnvCacheBackend  = "GUARD_CACHE_BACKEND"
	EnvStatsBackend  = "GUARD_STATS_BACKEND"
	EnvRedisAddr     = "GUARD_REDIS_ADDR"
)

type Config struct {
	RateLimit  RateLimitConfig            `yaml:"rate_limit"`
	Cache      CacheConfig                `yaml:"cache"`
	Stats      StatsConfig                `yaml:"stats"`
	Redis      RedisConfig                `yaml:"redis"`
	Operations map[string]OperationConfig `yaml:"operations"`
}

type RateLimitConfig struct {
	Algorithm string `yaml:"algorithm"`

	// SweepInterval runs the idle-key janitor when positive.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
}

type CacheConfig struct {
	Backend      string `yaml:"backend"`
	StaleOnError bool   `yaml:"stale_on_error"`
	// MaxKeyLength compacts longer cache keys. Zero disables compaction.
	MaxKeyLength int    `yaml:"max_key_length"`

	// PurgeInterval runs the expired-entry janitor of the memory backend when positive.
	PurgeInterval time.Duration `yaml:"purge_interval"`
	PurgeGrace    time.Duration `yaml:"purge_grace"`
	Sturdyc       SturdycConfig `yaml:"sturdyc"`
}

type SturdycConfig struct {
	Capacity           int           `yaml:"capacity"`
	Shards             int           `yaml:"shards"`
	EvictionPercentage int           `yaml:"eviction_percentage"`
	EvictionInterval   time.Duration `yaml:"eviction_interval"`
}

type StatsConfig struct {
	Backend   string        `yaml:"backend"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
	TrackKeys bool          `yaml:"track_keys"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		RateLimit: RateLimitConfig{
			Algorithm: AlgorithmFixedWindow,
			IdleTTL:   15 * time.Minute,
		},
		Cache: CacheConfig{
			Backend:      CacheBackendMemory,
			MaxKeyLength: 200,
			PurgeGrace:   time.Minute,
			Sturdyc: SturdycConfig{
				Capacity:           10000,
				Shards:             256,
				EvictionPercentage: 10,
			},
		},
		Stats: StatsConfig{
			Backend: StatsBackendMemory,
			Prefix:  "callguard:stats",
			TTL:     24 * time.Hour,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Operations: map[string]OperationConfig{},
	}
}

// Parse decodes YAML on top of Default. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("parse config: multiple YAML documents are not supported")
		}
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Operations == nil {
		cfg.Operations = map[string]OperationConfig{}
	}
	return cfg, nil
}

// Load reads, parses, applies environment overrides to and validates a
// config file. An empty path loads the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides backend selection from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvRateAlgorithm, &c.RateLimit.Algorithm)
	set(EnvCacheBackend, &c.Cache.Backend)
	set(EnvStatsBackend, &c.Stats.Backend)
	set(EnvRedisAddr, &c.Redis.Addr)
}

// Validate checks every section and builds each operation's policies once.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.RateLimit),
		validation.Field(&c.Cache),
		validation.Field(&c.Stats),
		validation.Field(&c.Redis, validation.Skip.When(c.Stats.Backend != StatsBackendRedis)),
	)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.GuardOperations(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Algorithm, validation.Required, validation.In(AlgorithmFixedWindow, AlgorithmTokenBucket)),
		validation.Field(&r.SweepInterval, validation.Min(time.Duration(0))),
		validation.Field(&r.IdleTTL, validation.When(r.SweepInterval > 0, validation.Required, validation.Min(time.Second))),
	)
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(CacheBackendMemory, CacheBackendSturdyc)),
		validation.Field(&c.StaleOnError, validation.When(c.Backend == CacheBackendSturdyc,
			validation.Empty.Error("is not supported by the sturdyc backend"))),
		validation.Field(&c.MaxKeyLength, validation.Min(32)),
		validation.Field(&c.PurgeInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.PurgeGrace, validation.Min(time.Duration(0))),
		validation.Field(&c.Sturdyc, validation.Skip.When(c.Backend != CacheBackendSturdyc)),
	)
}

func (s SturdycConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&s.Shards, validation.Required, validation.Min(1)),
		validation.Field(&s.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

func (s StatsConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Backend, validation.Required, validation.In(StatsBackendNone, StatsBackendMemory, StatsBackendRedis)),
		validation.Field(&s.TTL, validation.Min(time.Duration(0))),
	)
}

func (r RedisConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Addr, validation.Required),
		validation.Field(&r.DB, validation.Min(0)),
	)
}
