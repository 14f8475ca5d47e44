package flows

import (
	"context"
	"errors"
	"time"

	"github.com/waanverse/waanauth/jwt"
	"github.com/waanverse/waanauth/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureExpired
	RefreshFailureReuse
	RefreshFailureSessionNotFound
	RefreshFailureSessionRevoked
	RefreshFailureBackend
	RefreshFailureIssueAccess
	RefreshFailureIssueRefresh
)

// RefreshResult carries either the issued tokens or failure metadata.
type RefreshResult struct {
	Failure      RefreshFailureKind
	Err          error
	IdentityID   string
	SessionID    string
	AccessToken  string
	AccessClaims *jwt.Claims
	// RefreshToken is empty when rotation is disabled; the presented token
	// stays valid.
	RefreshToken  string
	RefreshClaims *jwt.Claims
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Rotate bool
	Now    func() time.Time

	ParseRefresh func(token string) (*jwt.Claims, error)
	// ConsumeRefresh checks the session and, when jti is non-empty, marks
	// it consumed.
	ConsumeRefresh func(ctx context.Context, identityID, sessionID, jti string) error
	Issue          func(subject, sessionID string, typ jwt.TokenType, now time.Time) (string, *jwt.Claims, error)
}

// RunRefresh validates a refresh token against its session and mints new
// tokens. With rotation every refresh token is single-use.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		failure := RefreshFailureDecode
		if errors.Is(err, jwt.ErrExpired) {
			failure = RefreshFailureExpired
		}
		return RefreshResult{Failure: failure, Err: err}
	}

	identityID := claims.Subject
	sessionID := claims.SID
	jti := ""
	if deps.Rotate {
		jti = claims.ID
	}

	if err := deps.ConsumeRefresh(ctx, identityID, sessionID, jti); err != nil {
		result := RefreshResult{
			Err:        err,
			IdentityID: identityID,
			SessionID:  sessionID,
		}
		switch {
		case errors.Is(err, session.ErrRefreshReused):
			result.Failure = RefreshFailureReuse
		case errors.Is(err, session.ErrRevoked):
			result.Failure = RefreshFailureSessionRevoked
		case errors.Is(err, session.ErrNotFound):
			result.Failure = RefreshFailureSessionNotFound
		default:
			result.Failure = RefreshFailureBackend
		}
		return result
	}

	now := deps.Now()
	access, accessClaims, err := deps.Issue(identityID, sessionID, jwt.TypeAccess, now)
	if err != nil {
		return RefreshResult{
			Failure:    RefreshFailureIssueAccess,
			Err:        err,
			IdentityID: identityID,
			SessionID:  sessionID,
		}
	}

	result := RefreshResult{
		Failure:      RefreshFailureNone,
		IdentityID:   identityID,
		SessionID:    sessionID,
		AccessToken:  access,
		AccessClaims: accessClaims,
	}
	if !deps.Rotate {
		return result
	}

	refresh, refreshClaims, err := deps.Issue(identityID, sessionID, jwt.TypeRefresh, now)
	if err != nil {
		return RefreshResult{
			Failure:    RefreshFailureIssueRefresh,
			Err:        err,
			IdentityID: identityID,
			SessionID:  sessionID,
		}
	}
	result.RefreshToken = refresh
	result.RefreshClaims = refreshClaims
	return result
}
