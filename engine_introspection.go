package waanauth

import (
	"context"
	"time"
)

// HealthStatus is the result of an on-demand backend check.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// Health pings the session registry's Redis.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	latency, err := e.sessions.Ping(ctx)
	if err != nil {
		e.warn("health check failed", err)
		return HealthStatus{}
	}
	return HealthStatus{RedisAvailable: true, RedisLatency: latency}
}

// ActiveSessionCount returns how many of identityID's retained sessions are
// still active.
func (e *Engine) ActiveSessionCount(ctx context.Context, identityID string) (int, error) {
	list, err := e.ListSessions(ctx, identityID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range list {
		if s.IsActive {
			n++
		}
	}
	return n, nil
}
