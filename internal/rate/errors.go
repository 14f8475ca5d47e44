package rate

import "errors"

var (
	// ErrRateLimited is returned when a window or cooldown is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport failures of the counter backend.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
