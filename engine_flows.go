package waanauth

import (
	"context"
	"time"

	"github.com/waanverse/waanauth/dispatch"
	"github.com/waanverse/waanauth/internal"
	"github.com/waanverse/waanauth/internal/flows"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginRateLimited     = "login_rate_limited"
	auditEventMFARequired          = "mfa_required"
	auditEventMFASuccess           = "mfa_success"
	auditEventMFAFailure           = "mfa_failure"
	auditEventMFAAttemptsExceeded  = "mfa_attempts_exceeded"
	auditEventMFAActivated         = "mfa_activated"
	auditEventMFADeactivated       = "mfa_deactivated"
	auditEventRecoveryCodeUsed     = "recovery_code_used"
	auditEventRecoveryCodesRenewed = "recovery_codes_regenerated"
	auditEventRefreshReuse         = "refresh_reuse_detected"
	auditEventLogout               = "logout"
	auditEventLogoutAll            = "logout_all"
	auditEventSignup               = "signup"
	auditEventEmailVerified        = "email_verified"
	auditEventPhoneVerified        = "phone_verified"
	auditEventPasswordResetRequest = "password_reset_request"
	auditEventPasswordResetConfirm = "password_reset_confirm"

	auditEventDeviceAnomalyDetected = "device_anomaly_detected"
	auditEventDeviceBindingRejected = "device_binding_rejected"
	auditEventAccountStatusChange   = "account_status_change"
)

func (e *Engine) loginErrors() flows.LoginErrors {
	return flows.LoginErrors{
		EngineNotReady:      ErrEngineNotReady,
		InvalidCredentials:  ErrInvalidCredentials,
		InactiveAccount:     ErrInactiveAccount,
		MFAInvalidCode:      ErrMFAInvalidCode,
		MFAChallengeInvalid: ErrMFAChallengeInvalid,
		Unavailable:         ErrUnavailable,
	}
}

func (e *Engine) loginMetrics() flows.LoginMetrics {
	return flows.LoginMetrics{
		LoginSuccess:          int(MetricLoginSuccess),
		LoginFailure:          int(MetricLoginFailure),
		LoginRateLimited:      int(MetricLoginRateLimited),
		LoginInactive:         int(MetricLoginInactive),
		MFALoginRequired:      int(MetricMFALoginRequired),
		MFALoginSuccess:       int(MetricMFALoginSuccess),
		MFALoginFailure:       int(MetricMFALoginFailure),
		MFAChallengeExhausted: int(MetricMFAChallengeExhausted),
	}
}

func (e *Engine) loginEvents() flows.LoginEvents {
	return flows.LoginEvents{
		LoginSuccess:        auditEventLoginSuccess,
		LoginFailure:        auditEventLoginFailure,
		LoginRateLimited:    auditEventLoginRateLimited,
		MFARequired:         auditEventMFARequired,
		MFASuccess:          auditEventMFASuccess,
		MFAFailure:          auditEventMFAFailure,
		MFAAttemptsExceeded: auditEventMFAAttemptsExceeded,
	}
}

func (e *Engine) buildFlowDeps() flows.Deps {
	mfaGate := flows.MFAGateDeps{
		Enabled:        e.config.MFA.Enabled,
		MFAActive:      e.mfaActive,
		NewChallengeID: internal.NewOpaqueID,
		SaveChallenge:  e.challenges.Save,
		ChallengeTTL:   e.config.MFA.ChallengeTTL,
	}

	login := flows.LoginDeps{
		ClientIPFromContext: clientIPFromContext,
		DeviceIDFromContext: deviceIDFromContext,
		Now:                 e.clock,
		CheckLoginRate: func(ctx context.Context, identifier, ip string) error {
			return mapLimiterError(e.loginLimiter.Check(ctx, identifier, ip))
		},
		RecordLoginFailure: e.loginLimiter.RecordFailure,
		ResetLoginRate:     e.loginLimiter.Reset,
		Verify: func(ctx context.Context, identifier, secret string) (string, string, error) {
			identity, method, err := e.VerifyPassword(ctx, identifier, secret)
			if err != nil {
				return "", "", err
			}
			return identity.ID, string(method), nil
		},
		MFA:       mfaGate,
		MetricInc: e.metricIncInt,
		EmitAudit: e.emitAudit,
		Warn:      e.warn,
		Metrics:   e.loginMetrics(),
		Events:    e.loginEvents(),
		Errors:    e.loginErrors(),
	}

	codeLogin := login
	codeLogin.Verify = func(ctx context.Context, identifier, code string) (string, string, error) {
		identity, err := e.VerifyLoginCode(ctx, identifier, code)
		if err != nil {
			return "", "", err
		}
		return identity.ID, string(LoginMethodLoginCode), nil
	}
	// Code guesses are bounded by the code's own attempt counter.
	codeLogin.RecordLoginFailure = nil
	codeLogin.Errors.InvalidCredentials = ErrCodeInvalid

	return flows.Deps{
		Login:     login,
		CodeLogin: codeLogin,
		ConfirmMFA: flows.MFAConfirmDeps{
			MaxAttempts:     e.config.MFA.MaxLoginAttempts,
			GetChallenge:    e.challenges.Get,
			DeleteChallenge: e.challenges.Delete,
			RecordFailure:   e.challenges.RecordFailure,
			VerifyCode:      e.VerifyMFA,
			MetricInc:       e.metricIncInt,
			EmitAudit:       e.emitAudit,
			Warn:            e.warn,
			Metrics:         e.loginMetrics(),
			Events:          e.loginEvents(),
			Errors:          e.loginErrors(),
		},
		Refresh: flows.RefreshDeps{
			Rotate:         e.config.JWT.RotateRefreshTokens,
			Now:            e.clock,
			ParseRefresh:   e.parseRefresh,
			ConsumeRefresh: e.sessions.ConsumeRefresh,
			Issue:          e.jwt.Issue,
		},
		Authenticate: flows.AuthenticateDeps{
			Now:           e.clock,
			ParseAccess:   e.parseAccess,
			GetSession:    e.sessions.Get,
			Touch:         e.sessions.Touch,
			MapTokenError: mapTokenError,
			Observe: func(d time.Duration) {
				e.metrics.Observe(MetricAuthenticateLatency, d)
			},
			Warn:          e.warn,
			DeviceBinding: e.deviceBindingDeps(),
			Errors: flows.AuthenticateErrors{
				SessionNotFound: ErrSessionNotFound,
				SessionRevoked:  ErrSessionRevoked,
				Unavailable:     ErrUnavailable,
			},
		},
		PasswordReset: e.passwordResetDeps(),
	}
}

func (e *Engine) clock() time.Time {
	return e.now()
}

func (e *Engine) passwordResetDeps() flows.PasswordResetDeps {
	return flows.PasswordResetDeps{
		CodeExpiry:     e.config.PasswordReset.CodeExpiry,
		RevokeSessions: e.config.PasswordReset.RevokeSessions,
		Now:            e.clock,
		Lookup:         e.resetTarget,
		AcquireCooldown: func(ctx context.Context, identityID string) error {
			return mapLimiterError(e.resetCooldown.Acquire(ctx, identityID))
		},
		ReleaseCooldown: e.resetCooldown.Release,
		NewCode: func() (string, error) {
			return internal.NewCode(e.config.PasswordReset.CodeLength, internal.DigitAlphabet)
		},
		HashCode: internal.HashCode,
		CreateToken: func(ctx context.Context, identityID, codeHash string, now time.Time) error {
			id, err := newID()
			if err != nil {
				return err
			}
			err = e.resets.CreateResetToken(ctx, &ResetToken{
				ID:         id,
				IdentityID: identityID,
				CodeHash:   codeHash,
				CreatedAt:  now,
			})
			if err != nil {
				return unavailable(err)
			}
			return nil
		},
		SendCode: func(ctx context.Context, target *flows.ResetTarget, code string, expiresAt time.Time) {
			e.send(ctx, dispatch.Message{
				Kind:       dispatch.KindPasswordReset,
				Channel:    dispatch.Channel(target.Channel),
				To:         target.To,
				IdentityID: target.IdentityID,
				Code:       code,
				ExpiresAt:  expiresAt,
			})
		},
		CheckAttempts: func(ctx context.Context, identityID string) error {
			return mapLimiterError(e.resetAttempts.Check(ctx, identityID))
		},
		RecordFailure: e.resetAttempts.RecordFailure,
		ResetAttempts: e.resetAttempts.Reset,
		ValidatePolicy: func(pw string, inputs ...string) error {
			return e.checkPolicy(pw, inputs...)
		},
		ConsumeToken: func(ctx context.Context, identityID, codeHash string, notBefore time.Time) (bool, error) {
			ok, err := e.resets.ConsumeResetToken(ctx, identityID, codeHash, notBefore)
			if err != nil {
				return false, unavailable(err)
			}
			return ok, nil
		},
		HashPassword: e.hasher.Hash,
		UpdatePassword: func(ctx context.Context, identityID, hash string) error {
			if err := e.identities.UpdatePasswordHash(ctx, identityID, hash); err != nil {
				return unavailable(err)
			}
			return nil
		},
		RevokeAll: e.sessions.RevokeAll,
		NotifyChanged: func(ctx context.Context, target *flows.ResetTarget) {
			if !e.config.Dispatch.PasswordChangedNotice {
				return
			}
			e.send(ctx, dispatch.Message{
				Kind:       dispatch.KindPasswordChanged,
				Channel:    dispatch.Channel(target.Channel),
				To:         target.To,
				IdentityID: target.IdentityID,
			})
		},
		MetricInc: e.metricIncInt,
		EmitAudit: e.emitAudit,
		Warn:      e.warn,
		Metrics: flows.PasswordResetMetrics{
			Request:        int(MetricPasswordResetRequest),
			ConfirmSuccess: int(MetricPasswordResetConfirmSuccess),
			ConfirmFailure: int(MetricPasswordResetConfirmFailure),
		},
		Events: flows.PasswordResetEvents{
			Request: auditEventPasswordResetRequest,
			Confirm: auditEventPasswordResetConfirm,
		},
		Errors: flows.PasswordResetErrors{
			EngineNotReady:   ErrEngineNotReady,
			IdentityNotFound: ErrIdentityNotFound,
			CodeInvalid:      ErrCodeInvalid,
			Unavailable:      ErrUnavailable,
		},
	}
}
