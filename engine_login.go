package waanauth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/waanverse/waanauth/dispatch"
	"github.com/waanverse/waanauth/internal"
	"github.com/waanverse/waanauth/internal/flows"
	"github.com/waanverse/waanauth/session"
)

// Login authenticates a password. When the identity has MFA active the
// result carries an MFA challenge id instead of tokens.
//
// Client metadata is read from ctx; see [WithClientIP], [WithUserAgent],
// [WithPlatform] and [WithDeviceID].
func (e *Engine) Login(ctx context.Context, identifier, pw string) (*LoginResult, error) {
	if strings.TrimSpace(identifier) == "" || pw == "" {
		return nil, ErrInvalidCredentials
	}
	outcome, err := flows.RunLogin(ctx, identifier, pw, e.flows.Login)
	if err != nil {
		return nil, err
	}
	return e.completeOutcome(ctx, outcome)
}

// RequestLoginCode sends a passwordless login code to the identity behind
// identifier. Unknown identifiers succeed without sending anything.
func (e *Engine) RequestLoginCode(ctx context.Context, identifier string) error {
	if !e.config.Login.AllowLoginCode {
		return ErrEngineNotReady
	}
	identity, method, err := e.lookupIdentity(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil
		}
		return err
	}
	if !identity.IsActive {
		return nil
	}

	target, channel := codeDestination(identity, method)
	if target == "" {
		return nil
	}
	if _, err := e.issueAndSend(ctx, CodePurposeLogin, dispatch.KindLoginCode, channel, target, identity.ID); err != nil {
		return err
	}
	e.metricInc(MetricLoginCodeIssued)
	return nil
}

// LoginWithCode redeems a passwordless login code. MFA gating applies as
// for [Engine.Login].
func (e *Engine) LoginWithCode(ctx context.Context, identifier, code string) (*LoginResult, error) {
	if !e.config.Login.AllowLoginCode {
		return nil, ErrEngineNotReady
	}
	outcome, err := flows.RunLogin(ctx, identifier, code, e.flows.CodeLogin)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginCodeRedeemed)
	return e.completeOutcome(ctx, outcome)
}

// CompleteMFALogin redeems an MFA challenge with a TOTP or recovery code and
// finishes the login.
func (e *Engine) CompleteMFALogin(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if !e.config.MFA.Enabled {
		return nil, ErrMFAChallengeInvalid
	}
	outcome, err := flows.RunConfirmMFA(ctx, challengeID, code, e.flows.ConfirmMFA)
	if err != nil {
		return nil, err
	}
	if outcome.DeviceID != "" {
		ctx = WithDeviceID(ctx, outcome.DeviceID)
	}
	return e.completeOutcome(ctx, outcome)
}

func (e *Engine) completeOutcome(ctx context.Context, outcome *flows.LoginOutcome) (*LoginResult, error) {
	identity, err := e.identities.GetByID(ctx, outcome.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, unavailable(err)
	}

	method := LoginMethod(outcome.Method)
	if outcome.MFARequired {
		return &LoginResult{
			Identity:     identity,
			Method:       method,
			MFARequired:  true,
			MFAChallenge: outcome.MFAChallenge,
		}, nil
	}
	if !identity.IsActive {
		return nil, ErrInactiveAccount
	}
	return e.finishLogin(ctx, identity, method)
}

// finishLogin creates the session and tokens of a fully authenticated
// identity. Device persistence, last-login and the alert are best effort.
func (e *Engine) finishLogin(ctx context.Context, identity *Identity, method LoginMethod) (*LoginResult, error) {
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)
	platform := platformFromContext(ctx)

	deviceID := deviceIDFromContext(ctx)
	if deviceID == "" {
		deviceID = internal.NewDeviceID(identity.ID, platform, userAgent)
	}

	sess, err := e.sessions.Create(ctx, identity.ID, session.Metadata{
		UserAgent:   userAgent,
		IPAddress:   ip,
		DeviceID:    deviceID,
		LoginMethod: string(method),
	})
	if err != nil {
		return nil, unavailable(err)
	}
	e.metricInc(MetricSessionCreated)

	tokens, err := e.IssueTokens(identity.ID, sess.ID)
	if err != nil {
		if revokeErr := e.sessions.Revoke(ctx, sess.ID); revokeErr != nil {
			e.warn("orphan session not revoked", revokeErr)
		}
		return nil, err
	}

	now := e.now()
	if e.devices != nil {
		err := e.devices.SaveDevice(ctx, &Device{
			DeviceID:   deviceID,
			IdentityID: identity.ID,
			IPAddress:  ip,
			UserAgent:  userAgent,
			Platform:   platform,
			CreatedAt:  now,
		})
		if err != nil {
			e.warn("device not stored", err)
		}
	}
	if err := e.identities.UpdateLastLogin(ctx, identity.ID, now); err != nil {
		e.warn("last login not updated", err)
	} else {
		identity.LastLogin = now
	}

	if e.config.Dispatch.LoginAlerts {
		to, channel := codeDestination(identity, method)
		if to != "" {
			e.send(ctx, dispatch.Message{
				Kind:       dispatch.KindLoginAlert,
				Channel:    channel,
				To:         to,
				IdentityID: identity.ID,
				Metadata: map[string]string{
					"ip":         ip,
					"user_agent": userAgent,
					"device_id":  deviceID,
					"method":     string(method),
				},
			})
		}
	}

	e.logger.Debug("login completed",
		zap.String("identity_id", identity.ID),
		zap.String("session_id", sess.ID),
		zap.String("method", string(method)),
	)
	return &LoginResult{
		Identity: identity,
		Method:   method,
		Tokens:   tokens,
		DeviceID: deviceID,
	}, nil
}
