package stepauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var errStepUpRedisUnavailable = errors.New("step-up limiter redis unavailable")

// stepupLimiter tracks sustained proof failures per session. Unlike the
// fixed-window request limiters, every failure restarts the window, so only
// genuine quiet time clears the counter.
type stepupLimiter struct {
	redis  redis.UniversalClient
	cfg    StepUpConfig
	prefix string
}

func newStepUpLimiter(redisClient redis.UniversalClient, cfg StepUpConfig) *stepupLimiter {
	return &stepupLimiter{
		redis:  redisClient,
		cfg:    cfg,
		prefix: cfg.RedisPrefix,
	}
}

func (l *stepupLimiter) key(primaryID string) string {
	return l.prefix + primaryID
}

// RecordFailure counts one failed proof against the session and reports
// whether the revocation threshold was reached. The failure that reaches
// the threshold clears the counter; the caller revokes the session.
func (l *stepupLimiter) RecordFailure(ctx context.Context, primaryID string) (bool, error) {
	key := l.key(primaryID)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errStepUpRedisUnavailable, err)
	}

	// Sliding lifetime: each failure pushes expiry out again.
	if err := l.redis.Expire(ctx, key, l.cfg.FailureWindow).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", errStepUpRedisUnavailable, err)
	}

	if count >= int64(l.cfg.MaxFailedAttempts) {
		if err := l.redis.Del(ctx, key).Err(); err != nil {
			return true, fmt.Errorf("%w: %v", errStepUpRedisUnavailable, err)
		}
		return true, nil
	}

	return false, nil
}

// Reset clears the failure counter, called after a successful proof.
func (l *stepupLimiter) Reset(ctx context.Context, primaryID string) error {
	if err := l.redis.Del(ctx, l.key(primaryID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errStepUpRedisUnavailable, err)
	}
	return nil
}
