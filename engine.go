package waanauth

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/waanverse/waanauth/dispatch"
	"github.com/waanverse/waanauth/internal/audit"
	"github.com/waanverse/waanauth/internal/flows"
	"github.com/waanverse/waanauth/internal/limiters"
	"github.com/waanverse/waanauth/internal/rate"
	"github.com/waanverse/waanauth/internal/secretbox"
	"github.com/waanverse/waanauth/internal/stores"
	"github.com/waanverse/waanauth/jwt"
	"github.com/waanverse/waanauth/mfa"
	"github.com/waanverse/waanauth/password"
	"github.com/waanverse/waanauth/session"
)

// AuditEvent and AuditSink expose the audit relay to hosts.
type (
	AuditEvent = audit.Event
	AuditSink  = audit.Sink
)

// Engine is the authentication engine. It is safe for concurrent use once
// built; all configuration is fixed at [Builder.Build].
type Engine struct {
	config Config
	logger *zap.Logger

	identities IdentityStore
	mfaStore   MFAStore
	resets     ResetTokenStore
	devices    DeviceStore

	sessions      *session.Store
	codes         *stores.CodeStore
	challenges    *stores.MFAChallengeStore
	rateLimiter   *rate.Limiter
	loginLimiter  *limiters.LoginLimiter
	signupLimiter *limiters.SignupLimiter
	resetCooldown *limiters.CooldownLimiter
	resetAttempts *limiters.AttemptLimiter

	hasher   *password.Hasher
	policy   password.Policy
	jwt      *jwt.Manager
	totp     *mfa.TOTP
	box      *secretbox.Box
	validate *validator.Validate

	dispatcher *dispatch.Dispatcher
	audit      *audit.Dispatcher
	metrics    *Metrics

	flows flows.Deps
	now   func() time.Time
}

// Close drains the message and audit queues.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.dispatcher.Close()
	e.audit.Close()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Logger returns the engine logger, for transports that share it.
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// DispatchStats reports dropped and failed outbound messages.
func (e *Engine) DispatchStats() (dropped, failed uint64) {
	return e.dispatcher.Dropped(), e.dispatcher.Failed()
}

func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) metricIncInt(id int) {
	e.metrics.Inc(MetricID(id))
}

func (e *Engine) warn(msg string, err error) {
	e.logger.Warn(msg, zap.Error(err))
}

func (e *Engine) emitAudit(ctx context.Context, event string, success bool, identityID string, err error, meta map[string]string) {
	if e.audit == nil {
		return
	}
	ev := audit.Event{
		Timestamp:  e.now().UTC(),
		Type:       event,
		IdentityID: identityID,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Success:    success,
		Metadata:   meta,
	}
	if err != nil {
		ev.Error = errorCode(err)
	}
	e.audit.Emit(ctx, ev)
}

func (e *Engine) send(ctx context.Context, msg dispatch.Message) {
	if !e.dispatcher.Dispatch(ctx, msg) {
		e.logger.Warn("outbound message not queued",
			zap.String("kind", string(msg.Kind)),
			zap.String("identity_id", msg.IdentityID),
		)
	}
}

// errorCode reduces an error to a stable audit code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInactiveAccount):
		return "inactive_account"
	case errors.Is(err, ErrTooManyRequests):
		return "too_many_requests"
	case errors.Is(err, ErrCodeInvalid):
		return "code_invalid"
	case errors.Is(err, ErrCodeExpired):
		return "code_expired"
	case errors.Is(err, ErrMFAInvalidCode):
		return "mfa_invalid_code"
	case errors.Is(err, ErrReusedRefreshToken):
		return "refresh_reused"
	case errors.Is(err, ErrDeviceBindingRejected):
		return "device_rejected"
	case errors.Is(err, ErrIdentityNotFound):
		return "identity_not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// mapLimiterError converts limiter failures to engine errors.
func mapLimiterError(err error) error {
	if err == nil {
		return nil
	}
	var th *limiters.Throttled
	if errors.As(err, &th) {
		return &ThrottleError{RetryAfter: th.RetryAfter}
	}
	return unavailable(err)
}

func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrRevoked):
		return ErrSessionRevoked
	case errors.Is(err, session.ErrRefreshReused):
		return ErrReusedRefreshToken
	default:
		return unavailable(err)
	}
}

func mapTokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrBadSignature):
		return ErrTokenBadSignature
	default:
		return ErrTokenMalformed
	}
}

func mapCodeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrCodeExpired):
		return ErrCodeExpired
	case errors.Is(err, stores.ErrCodeNotFound),
		errors.Is(err, stores.ErrCodeMismatch),
		errors.Is(err, stores.ErrCodeAttemptsExceeded):
		return ErrCodeInvalid
	default:
		return unavailable(err)
	}
}
