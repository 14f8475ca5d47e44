package limiters

import (
	"errors"
	"fmt"
	"time"

	"github.com/waanverse/waanauth/internal/rate"
)

// ErrLimited is matched by every [*Throttled] error.
var ErrLimited = rate.ErrRateLimited

// ErrUnavailable wraps backend failures of any limiter.
var ErrUnavailable = rate.ErrRedisUnavailable

// Throttled reports a rejected call and how long the caller should wait.
type Throttled struct {
	RetryAfter time.Duration
}

func (e *Throttled) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *Throttled) Unwrap() error {
	return ErrLimited
}

func throttled(retryAfter time.Duration, err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		return &Throttled{RetryAfter: retryAfter}
	}
	return err
}
