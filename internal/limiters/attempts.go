package limiters

import (
	"context"
	"time"

	"github.com/waanverse/waanauth/internal/rate"
)

// AttemptLimiter caps failures of one action per key within a window.
type AttemptLimiter struct {
	limiter *rate.Limiter
	scope   string
	max     int
	window  time.Duration
}

// NewAttemptLimiter returns a limiter allowing max failures per window.
// A non-positive max disables it.
func NewAttemptLimiter(limiter *rate.Limiter, scope string, max int, window time.Duration) *AttemptLimiter {
	return &AttemptLimiter{limiter: limiter, scope: scope, max: max, window: window}
}

func (l *AttemptLimiter) key(key string) string {
	return l.scope + ":" + normalize(key)
}

// Check rejects key once its failure budget is spent.
func (l *AttemptLimiter) Check(ctx context.Context, key string) error {
	if l == nil || l.max <= 0 {
		return nil
	}
	wait, err := l.limiter.Check(ctx, l.key(key), l.max)
	if err != nil {
		return throttled(wait, err)
	}
	return nil
}

// RecordFailure counts one failure for key.
func (l *AttemptLimiter) RecordFailure(ctx context.Context, key string) error {
	if l == nil || l.max <= 0 {
		return nil
	}
	_, _, err := l.limiter.Hit(ctx, l.key(key), l.window)
	return err
}

// Reset clears the failures of key.
func (l *AttemptLimiter) Reset(ctx context.Context, key string) error {
	if l == nil || l.max <= 0 {
		return nil
	}
	return l.limiter.Reset(ctx, l.key(key))
}
