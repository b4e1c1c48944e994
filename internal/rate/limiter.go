package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is one fixed-window budget: at most Max hits per Window. A zero Max
// disables the rule.
type Rule struct {
	Max    int
	Window time.Duration
}

// Limiter enforces fixed-window budgets over Redis counters. Each call to
// Take consumes one unit in the key's current window.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a [Limiter] backed by the given Redis client. All keys are
// namespaced under prefix.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Take consumes one unit of the rule's budget for key. It returns
// ErrRateLimited once the window's counter exceeds the rule's Max; the
// request that observes the excess is the first one denied.
func (l *Limiter) Take(ctx context.Context, key string, rule Rule) error {
	if rule.Max <= 0 {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, l.prefix+key, rule.Window)
	if err != nil {
		return err
	}
	if count > int64(rule.Max) {
		return ErrRateLimited
	}

	return nil
}

// Reset clears the counters for the given keys. Used by tests and by
// operator tooling; the engine itself lets windows lapse.
func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = l.prefix + k
	}

	if err := l.redis.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
