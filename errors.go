package waanauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for any failed credential check. It
	// never distinguishes an unknown identifier from a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactiveAccount is returned when the credential is valid but the
	// identity has not been activated or was disabled.
	ErrInactiveAccount = errors.New("account inactive")
	// ErrInvalidPassword is returned when a re-authentication password check fails.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrPasswordPolicy wraps password policy violations.
	ErrPasswordPolicy = errors.New("password policy violation")

	ErrCodeInvalid = errors.New("verification code invalid")
	ErrCodeExpired = errors.New("verification code expired")
	// ErrTooManyRequests is matched by every [*ThrottleError].
	ErrTooManyRequests = errors.New("too many requests")

	ErrTokenMalformed      = errors.New("token malformed")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenBadSignature   = errors.New("token signature invalid")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrReusedRefreshToken is returned when a consumed refresh token is
	// presented again. The session it belonged to is revoked.
	ErrReusedRefreshToken = errors.New("refresh token reused")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRevoked  = errors.New("session revoked")
	// ErrDeviceBindingRejected is returned by [Engine.Authenticate] when an
	// enforced device attribute differs from the one recorded at login.
	ErrDeviceBindingRejected = errors.New("device binding rejected")

	ErrMFARequired = errors.New("mfa required")
	// ErrMFAInvalidCode covers wrong TOTP codes, replayed steps and unknown
	// recovery codes.
	ErrMFAInvalidCode      = errors.New("mfa code invalid")
	ErrMFANotActive        = errors.New("mfa not active")
	ErrMFAAlreadyActive    = errors.New("mfa already active")
	ErrMFAChallengeInvalid = errors.New("mfa challenge invalid or expired")

	ErrSignupDisabled     = errors.New("signup disabled")
	ErrIdentifierReserved = errors.New("identifier reserved")
	// ErrIdentifierTaken is returned by [IdentityStore.Create] on conflict.
	// Transports should not reveal which identifier collided.
	ErrIdentifierTaken = errors.New("identifier already in use")
	ErrInvalidRequest  = errors.New("invalid request")

	// ErrIdentityNotFound is returned by store lookups that find nothing.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrUnavailable wraps backend (Redis, database, dispatcher) failures.
	ErrUnavailable = errors.New("auth backend unavailable")
	// ErrEngineNotReady is returned when a required dependency was not configured.
	ErrEngineNotReady = errors.New("engine not ready")
)

// ThrottleError reports a throttled call together with the time until the
// caller may retry.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *ThrottleError) Unwrap() error {
	return ErrTooManyRequests
}

// RetryAfter extracts the retry hint of a throttled error.
func RetryAfter(err error) (time.Duration, bool) {
	var te *ThrottleError
	if errors.As(err, &te) {
		return te.RetryAfter, true
	}
	return 0, false
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
