package rate

import "errors"

var (
	// ErrRateLimited means the key's fixed-window budget is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("rate limiter backend unavailable")
)
