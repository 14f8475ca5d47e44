package limiters

import (
	"context"
	"strings"
	"time"

	"github.com/waanverse/waanauth/internal/rate"
)

// LoginConfig holds configuration for the failed-login limiter.
type LoginConfig struct {
	Enabled bool
	// MaxAttempts is the number of failures tolerated per window.
	MaxAttempts int
	Window      time.Duration
	// MaxIdentifierAttempts caps failures per identifier regardless of IP.
	// Zero disables the identifier-only bucket.
	MaxIdentifierAttempts int
}

// LoginLimiter throttles credential guessing. Only failures are counted;
// a successful login clears both buckets.
type LoginLimiter struct {
	limiter *rate.Limiter
	config  LoginConfig
}

// NewLoginLimiter creates a new login limiter.
func NewLoginLimiter(limiter *rate.Limiter, cfg LoginConfig) *LoginLimiter {
	return &LoginLimiter{limiter: limiter, config: cfg}
}

func loginPairKey(identifier, ip string) string {
	return "login:" + normalize(identifier) + "|" + ip
}

func loginIdentifierKey(identifier string) string {
	return "login:" + normalize(identifier)
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Check returns a [*Throttled] error when identifier (from ip) has exhausted
// its failure budget.
func (l *LoginLimiter) Check(ctx context.Context, identifier, ip string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	if wait, err := l.limiter.Check(ctx, loginPairKey(identifier, ip), l.config.MaxAttempts); err != nil {
		return throttled(wait, err)
	}
	if l.config.MaxIdentifierAttempts > 0 {
		if wait, err := l.limiter.Check(ctx, loginIdentifierKey(identifier), l.config.MaxIdentifierAttempts); err != nil {
			return throttled(wait, err)
		}
	}
	return nil
}

// RecordFailure counts one failed attempt.
func (l *LoginLimiter) RecordFailure(ctx context.Context, identifier, ip string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	if _, _, err := l.limiter.Hit(ctx, loginPairKey(identifier, ip), l.config.Window); err != nil {
		return err
	}
	if l.config.MaxIdentifierAttempts > 0 {
		if _, _, err := l.limiter.Hit(ctx, loginIdentifierKey(identifier), l.config.Window); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the failure counters after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, identifier, ip string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	return l.limiter.Reset(ctx, loginPairKey(identifier, ip), loginIdentifierKey(identifier))
}

// SignupConfig holds configuration for the signup limiter.
type SignupConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

// SignupLimiter caps signup attempts per client IP.
type SignupLimiter struct {
	limiter *rate.Limiter
	config  SignupConfig
}

// NewSignupLimiter creates a new signup limiter.
func NewSignupLimiter(limiter *rate.Limiter, cfg SignupConfig) *SignupLimiter {
	return &SignupLimiter{limiter: limiter, config: cfg}
}

// Enforce counts a signup attempt from ip and rejects it once the window is
// exhausted. Requests without an IP are not counted.
func (l *SignupLimiter) Enforce(ctx context.Context, ip string) error {
	if l == nil || !l.config.Enabled || ip == "" {
		return nil
	}
	count, wait, err := l.limiter.Hit(ctx, "signup:"+ip, l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxAttempts) {
		return &Throttled{RetryAfter: wait}
	}
	return nil
}

// CooldownLimiter allows one action per key per cooldown.
type CooldownLimiter struct {
	limiter  *rate.Limiter
	scope    string
	cooldown time.Duration
}

// NewCooldownLimiter creates a limiter whose keys live under scope.
func NewCooldownLimiter(limiter *rate.Limiter, scope string, cooldown time.Duration) *CooldownLimiter {
	return &CooldownLimiter{limiter: limiter, scope: scope, cooldown: cooldown}
}

// Acquire claims the cooldown for key or returns a [*Throttled] error.
func (l *CooldownLimiter) Acquire(ctx context.Context, key string) error {
	if l == nil || l.cooldown <= 0 {
		return nil
	}
	wait, err := l.limiter.Acquire(ctx, l.scope+":"+normalize(key), l.cooldown)
	if err != nil {
		return throttled(wait, err)
	}
	return nil
}

// Release drops the cooldown for key, used when the guarded action failed
// before anything was sent.
func (l *CooldownLimiter) Release(ctx context.Context, key string) error {
	if l == nil || l.cooldown <= 0 {
		return nil
	}
	return l.limiter.Reset(ctx, l.scope+":"+normalize(key))
}
