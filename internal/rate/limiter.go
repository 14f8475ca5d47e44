package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitLua increments the counter and starts the window on the first hit.
// KEYS[1] = counter key
// ARGV[1] = window (ms)
//
// Returns {count, remaining window ms}.
var hitLua = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Limiter implements fixed-window counters and cooldown keys on Redis.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a rate [Limiter] backed by the given Redis client. Every key it
// touches is namespaced under prefix.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "wrl"
	}
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (l *Limiter) key(key string) string {
	return l.prefix + ":" + key
}

// Hit records one event in key's window and returns the new count with the
// time left in the window.
func (l *Limiter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := hitLua.Run(ctx, l.redis, []string{l.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("%w: unexpected lua result", ErrRedisUnavailable)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// Check reports whether key has reached max events in its current window
// without recording a new one. A limited key returns [ErrRateLimited] and the
// time until the window resets.
func (l *Limiter) Check(ctx context.Context, key string, max int) (time.Duration, error) {
	if max <= 0 {
		return 0, nil
	}
	k := l.key(key)
	count, err := l.redis.Get(ctx, k).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < int64(max) {
		return 0, nil
	}

	ttl, err := l.redis.PTTL(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return ttl, ErrRateLimited
}

// Count returns the current count of key. Missing keys count as zero.
func (l *Limiter) Count(ctx context.Context, key string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Acquire claims a cooldown for key. When the cooldown is already held it
// returns [ErrRateLimited] with the remaining time.
func (l *Limiter) Acquire(ctx context.Context, key string, cooldown time.Duration) (time.Duration, error) {
	if cooldown <= 0 {
		return 0, nil
	}
	k := l.key(key)
	ok, err := l.redis.SetNX(ctx, k, 1, cooldown).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ok {
		return 0, nil
	}

	ttl, err := l.redis.PTTL(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		ttl = cooldown
	}
	return ttl, ErrRateLimited
}

// Reset clears the given keys.
func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = l.key(key)
	}
	if err := l.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
