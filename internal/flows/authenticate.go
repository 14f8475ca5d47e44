package flows

import (
	"context"
	"errors"
	"time"

	"github.com/waanverse/waanauth/jwt"
	"github.com/waanverse/waanauth/session"
)

// AuthenticateErrors carries host-level sentinel errors for authentication.
type AuthenticateErrors struct {
	SessionNotFound error
	SessionRevoked  error
	Unavailable     error
}

// AuthenticateDeps captures per-request authentication dependencies.
type AuthenticateDeps struct {
	Now func() time.Time

	ParseAccess func(token string) (*jwt.Claims, error)
	GetSession  func(ctx context.Context, sessionID string) (*session.Session, error)
	Touch       func(ctx context.Context, identityID, sessionID string) error
	// MapTokenError translates jwt package errors to host errors.
	MapTokenError func(error) error

	Observe func(time.Duration)
	Warn    func(msg string, err error)

	DeviceBinding DeviceBindingDeps

	Errors AuthenticateErrors
}

// AuthenticateResult is the verified caller of a request.
type AuthenticateResult struct {
	Claims  *jwt.Claims
	Session *session.Session
}

// RunAuthenticate verifies an access token, requires its session to be
// active and applies the device binding policy. Session reads are never
// cached, so a revocation is visible to the next request.
func RunAuthenticate(ctx context.Context, token string, deps AuthenticateDeps) (*AuthenticateResult, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Warn == nil {
		deps.Warn = func(string, error) {}
	}
	start := deps.Now()
	if deps.Observe != nil {
		defer func() { deps.Observe(deps.Now().Sub(start)) }()
	}

	claims, err := deps.ParseAccess(token)
	if err != nil {
		if deps.MapTokenError != nil {
			return nil, deps.MapTokenError(err)
		}
		return nil, err
	}

	sess, err := deps.GetSession(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, deps.Errors.SessionNotFound
		}
		return nil, errors.Join(deps.Errors.Unavailable, err)
	}
	if sess.IdentityID != claims.Subject {
		return nil, deps.Errors.SessionNotFound
	}
	if !sess.IsActive {
		return nil, deps.Errors.SessionRevoked
	}
	if err := RunValidateDeviceBinding(ctx, DeviceBindingSession{
		SessionID:  sess.ID,
		IdentityID: sess.IdentityID,
		DeviceID:   sess.DeviceID,
		UserAgent:  sess.UserAgent,
		IPAddress:  sess.IPAddress,
	}, deps.DeviceBinding); err != nil {
		return nil, err
	}

	if deps.Touch != nil {
		if err := deps.Touch(ctx, sess.IdentityID, sess.ID); err != nil {
			deps.Warn("session touch failed", err)
		}
	}
	return &AuthenticateResult{Claims: claims, Session: sess}, nil
}
