package waanauth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/waanverse/waanauth/internal/flows"
	"github.com/waanverse/waanauth/jwt"
	"github.com/waanverse/waanauth/session"
)

// IssueTokens mints an access and refresh token bound to sessionID. It does
// not touch the session registry; two calls return two independent pairs.
func (e *Engine) IssueTokens(identityID, sessionID string) (*TokenPair, error) {
	if identityID == "" || sessionID == "" {
		return nil, ErrInvalidRequest
	}
	now := e.now()

	access, accessClaims, err := e.jwt.Issue(identityID, sessionID, jwt.TypeAccess, now)
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := e.jwt.Issue(identityID, sessionID, jwt.TypeRefresh, now)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
		SessionID:        sessionID,
	}, nil
}

// VerifyToken checks the signature, expiry and type of an access token. It
// does not consult the session registry; use [Engine.Authenticate] for that.
func (e *Engine) VerifyToken(token string) (*jwt.Claims, error) {
	claims, err := e.parseAccess(token)
	if err != nil {
		return nil, mapTokenError(err)
	}
	return claims, nil
}

func (e *Engine) parseAccess(token string) (*jwt.Claims, error) {
	return e.jwt.Parse(strings.TrimSpace(token), jwt.TypeAccess)
}

func (e *Engine) parseRefresh(token string) (*jwt.Claims, error) {
	return e.jwt.Parse(strings.TrimSpace(token), jwt.TypeRefresh)
}

// Authenticate validates an access token and requires its session to still
// be active, then records the use. Revocation takes effect on the next call.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	res, err := flows.RunAuthenticate(ctx, accessToken, e.flows.Authenticate)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		return nil, err
	}
	e.metricInc(MetricAuthenticateSuccess)
	return &Principal{
		IdentityID: res.Claims.Subject,
		SessionID:  res.Claims.SID,
		Claims:     res.Claims,
		Session:    res.Session,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. With
// JWT.RotateRefreshTokens a new refresh token is returned as well and the
// presented one is spent; presenting a spent token revokes the session and
// returns [ErrReusedRefreshToken]. Without rotation, TokenPair.RefreshToken
// is the presented token.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrInvalidRefreshToken
	}

	res := flows.RunRefresh(ctx, refreshToken, e.flows.Refresh)
	switch res.Failure {
	case flows.RefreshFailureNone:
	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricSessionRevoked)
		e.logger.Warn("refresh token reuse detected",
			zap.String("identity_id", res.IdentityID),
			zap.String("session_id", res.SessionID),
		)
		e.emitAudit(ctx, auditEventRefreshReuse, false, res.IdentityID, ErrReusedRefreshToken,
			map[string]string{"session_id": res.SessionID})
		return nil, ErrReusedRefreshToken
	case flows.RefreshFailureBackend:
		e.metricInc(MetricRefreshFailure)
		return nil, unavailable(res.Err)
	case flows.RefreshFailureIssueAccess, flows.RefreshFailureIssueRefresh:
		e.metricInc(MetricRefreshFailure)
		e.logger.Error("token issue failed", zap.Error(res.Err))
		return nil, res.Err
	default:
		e.metricInc(MetricRefreshFailure)
		return nil, ErrInvalidRefreshToken
	}

	e.metricInc(MetricRefreshSuccess)
	pair := &TokenPair{
		AccessToken:     res.AccessToken,
		AccessExpiresAt: res.AccessClaims.ExpiresAt.Time,
		SessionID:       res.SessionID,
	}
	if res.RefreshClaims != nil {
		pair.RefreshToken = res.RefreshToken
		pair.RefreshExpiresAt = res.RefreshClaims.ExpiresAt.Time
	} else {
		pair.RefreshToken = strings.TrimSpace(refreshToken)
		if claims, err := e.parseRefresh(refreshToken); err == nil && claims.ExpiresAt != nil {
			pair.RefreshExpiresAt = claims.ExpiresAt.Time
		}
	}
	return pair, nil
}

// Logout revokes one session. An unknown session is not an error.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidRequest
	}
	sess, getErr := e.sessions.Get(ctx, sessionID)
	err := e.sessions.Revoke(ctx, sessionID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return mapSessionError(err)
	}

	identityID := ""
	if getErr == nil && sess != nil {
		identityID = sess.IdentityID
	}
	if err == nil {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventLogout, true, identityID, nil, map[string]string{"session_id": sessionID})
	return nil
}

// LogoutToken revokes the session named by a refresh or access token. The
// signature must verify but an expired token is accepted, so a client whose
// access token lapsed can still end its session.
func (e *Engine) LogoutToken(ctx context.Context, token string) error {
	claims, err := e.jwt.ParseIgnoringExpiry(strings.TrimSpace(token))
	if err != nil {
		return mapTokenError(err)
	}
	return e.Logout(ctx, claims.SID)
}
