package waanauth

import (
	"context"
	"errors"
)

// ListSessions returns the retained sessions of identityID, active and
// revoked, most recently used first.
func (e *Engine) ListSessions(ctx context.Context, identityID string) ([]Session, error) {
	if identityID == "" {
		return nil, ErrInvalidRequest
	}
	list, err := e.sessions.List(ctx, identityID)
	if err != nil {
		return nil, unavailable(err)
	}
	return list, nil
}

// SessionActive reports whether sessionID exists and is not revoked. The
// registry is read directly, so revocations are visible immediately.
func (e *Engine) SessionActive(ctx context.Context, sessionID string) (*Session, bool, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		mapped := mapSessionError(err)
		if errors.Is(mapped, ErrSessionNotFound) {
			return nil, false, nil
		}
		return nil, false, mapped
	}
	return sess, sess.IsActive, nil
}

// RevokeSession revokes sessionID when it belongs to identityID. Sessions of
// other identities are reported as [ErrSessionNotFound].
func (e *Engine) RevokeSession(ctx context.Context, identityID, sessionID string) error {
	if err := e.sessions.RevokeOwned(ctx, identityID, sessionID); err != nil {
		return mapSessionError(err)
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventLogout, true, identityID, nil, map[string]string{"session_id": sessionID})
	return nil
}

// RevokeAllSessions revokes every active session of identityID and returns
// the count.
func (e *Engine) RevokeAllSessions(ctx context.Context, identityID string) (int, error) {
	if identityID == "" {
		return 0, ErrInvalidRequest
	}
	n, err := e.sessions.RevokeAll(ctx, identityID)
	if err != nil {
		return 0, unavailable(err)
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, identityID, nil, nil)
	return n, nil
}

// GetIdentity loads an identity by id.
func (e *Engine) GetIdentity(ctx context.Context, identityID string) (*Identity, error) {
	identity, err := e.identities.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, unavailable(err)
	}
	return identity, nil
}
