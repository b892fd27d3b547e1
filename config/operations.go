package config

import (
	"fmt"
	"sort"

	"github.com/goliatone/go-call-guard/guard"
	"github.com/goliatone/go-call-guard/policy"
)

// OperationConfig declares the policies of one operation. Either section may
// be omitted.
type OperationConfig struct {
	Throttle *ThrottleConfig    `yaml:"throttle"`
	Cache    *CachePolicyConfig `yaml:"cache"`
}

// ThrottleConfig mirrors policy.ThrottlePolicy in seconds. PerUser defaults
// to true when omitted.
type ThrottleConfig struct {
	Requests      int    `yaml:"requests"`
	WindowSeconds int    `yaml:"window_seconds"`
	PerUser       *bool  `yaml:"per_user"`
	Message       string `yaml:"message"`
}

// CachePolicyConfig mirrors policy.CachePolicy in seconds.
type CachePolicyConfig struct {
	TTLSeconds int    `yaml:"ttl_seconds"`
	Key        string `yaml:"key"`
	Namespace  string `yaml:"namespace"`
	PerCaller  bool   `yaml:"per_caller"`
}

func (t ThrottleConfig) Policy() (policy.ThrottlePolicy, error) {
	var opts []policy.ThrottleOption
	if t.PerUser != nil {
		opts = append(opts, policy.WithPerCaller(*t.PerUser))
	}
	if t.Message != "" {
		opts = append(opts, policy.WithMessage(t.Message))
	}
	return policy.NewThrottlePolicy(t.Requests, t.WindowSeconds, opts...)
}

func (c CachePolicyConfig) Policy() (policy.CachePolicy, error) {
	var opts []policy.CacheOption
	if c.Key != "" {
		opts = append(opts, policy.WithStaticKey(c.Key))
	}
	if c.Namespace != "" {
		opts = append(opts, policy.WithNamespace(c.Namespace))
	}
	if c.PerCaller {
		opts = append(opts, policy.WithCallerScope())
	}
	return policy.NewCachePolicy(c.TTLSeconds, opts...)
}

// GuardOperations converts the operations section, sorted by id.
func (c Config) GuardOperations() ([]guard.Operation, error) {
	ids := make([]string, 0, len(c.Operations))
	for id := range c.Operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ops := make([]guard.Operation, 0, len(ids))
	for _, id := range ids {
		oc := c.Operations[id]
		op := guard.Operation{ID: id}

		if oc.Throttle != nil {
			p, err := oc.Throttle.Policy()
			if err != nil {
				return nil, fmt.Errorf("operation %q: %w", id, err)
			}
			op.Throttle = &p
		}
		if oc.Cache != nil {
			p, err := oc.Cache.Policy()
			if err != nil {
				return nil, fmt.Errorf("operation %q: %w", id, err)
			}
			op.Cache = &p
		}
		ops = append(ops, op)
	}
	return ops, nil
}
