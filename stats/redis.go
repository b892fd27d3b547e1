package stats

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis increments hash counters in Redis:
//
//	<prefix>:total             field <outcome>
//	<prefix>:minute:<yyyymmddhhmm>  field <outcome>, expires after ttl
//	<prefix>:op                field <operation>:<outcome>
//	<prefix>:key:<key>         field <outcome>, only WithRedisTrackKeys
type Redis struct {
	rdb       redis.UniversalClient
	prefix    string
	ttl       time.Duration
	trackKeys bool
	now       func() time.Time
}

var _ Recorder = (*Redis)(nil)

type RedisOption func(*Redis)

func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if p := strings.Trim(prefix, ":"); p != "" {
			r.prefix = p
		}
	}
}

// WithRedisTTL sets the expiry of per-minute and per-key hashes. Totals
// never expire.
func WithRedisTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// WithRedisTrackKeys also counts per rate or cache key. Mind the cardinality.
func WithRedisTrackKeys(track bool) RedisOption {
	return func(r *Redis) { r.trackKeys = track }
}

func NewRedis(rdb redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:    rdb,
		prefix: "callguard:stats",
		ttl:    24 * time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Record(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = r.now()
	}
	field := string(ev.Outcome)

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.prefix+":total", field, 1)

	minuteKey := r.prefix + ":minute:" + at.UTC().Format("200601021504")
	pipe.HIncrBy(ctx, minuteKey, field, 1)
	if r.ttl > 0 {
		pipe.Expire(ctx, minuteKey, r.ttl)
	}

	if op := strings.TrimSpace(ev.Operation); op != "" {
		pipe.HIncrBy(ctx, r.prefix+":op", op+":"+field, 1)
	}

	if k := strings.TrimSpace(ev.Key); r.trackKeys && k != "" {
		keyKey := r.prefix + ":key:" + k
		pipe.HIncrBy(ctx, keyKey, field, 1)
		if r.ttl > 0 {
			pipe.Expire(ctx, keyKey, r.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
