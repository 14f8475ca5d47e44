package flows

import (
	"context"
	"errors"
	"time"

	"github.com/waanverse/waanauth/internal/stores"
)

// LoginOutcome is the flow-local result of a first or second factor step.
// When MFARequired is set the caller must not issue tokens.
type LoginOutcome struct {
	IdentityID   string
	Method       string
	DeviceID     string
	MFARequired  bool
	MFAChallenge string
}

// LoginMetrics carries metric IDs needed by login/mfa flows.
type LoginMetrics struct {
	LoginSuccess          int
	LoginFailure          int
	LoginRateLimited      int
	LoginInactive         int
	MFALoginRequired      int
	MFALoginSuccess       int
	MFALoginFailure       int
	MFAChallengeExhausted int
}

// LoginEvents carries audit event names used by login/mfa flows.
type LoginEvents struct {
	LoginSuccess        string
	LoginFailure        string
	LoginRateLimited    string
	MFARequired         string
	MFASuccess          string
	MFAFailure          string
	MFAAttemptsExceeded string
}

// LoginErrors carries host-level sentinel errors used by login/mfa flows.
type LoginErrors struct {
	EngineNotReady      error
	InvalidCredentials  error
	InactiveAccount     error
	MFAInvalidCode      error
	MFAChallengeInvalid error
	Unavailable         error
}

// MFAGateDeps decides whether a verified first factor needs a second one.
type MFAGateDeps struct {
	Enabled        bool
	MFAActive      func(ctx context.Context, identityID string) (bool, error)
	NewChallengeID func() (string, error)
	SaveChallenge  func(ctx context.Context, id string, rec *stores.MFAChallenge, ttl time.Duration) error
	ChallengeTTL   time.Duration
}

// LoginDeps captures password and login-code flow dependencies.
type LoginDeps struct {
	ClientIPFromContext func(context.Context) string
	DeviceIDFromContext func(context.Context) string
	Now                 func() time.Time

	CheckLoginRate     func(ctx context.Context, identifier, ip string) error
	RecordLoginFailure func(ctx context.Context, identifier, ip string) error
	ResetLoginRate     func(ctx context.Context, identifier, ip string) error

	// Verify checks the first factor and returns the identity id and the
	// login method it resolved to.
	Verify func(ctx context.Context, identifier, secret string) (string, string, error)

	MFA MFAGateDeps

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, identityID string, err error, meta map[string]string)
	Warn      func(msg string, err error)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

func (d *LoginDeps) defaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.MetricInc == nil {
		d.MetricInc = func(int) {}
	}
	if d.EmitAudit == nil {
		d.EmitAudit = func(context.Context, string, bool, string, error, map[string]string) {}
	}
	if d.Warn == nil {
		d.Warn = func(string, error) {}
	}
	if d.ClientIPFromContext == nil {
		d.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if d.DeviceIDFromContext == nil {
		d.DeviceIDFromContext = func(context.Context) string { return "" }
	}
}

// RunLogin verifies a first factor (password or login code) under the login
// throttle and gates the result behind MFA when the identity has it active.
func RunLogin(ctx context.Context, identifier, secret string, deps LoginDeps) (*LoginOutcome, error) {
	deps.defaults()
	if deps.Verify == nil {
		return nil, deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, identifier, ip); err != nil {
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, "", err, map[string]string{
				"identifier": identifier,
			})
			return nil, err
		}
	}

	identityID, method, err := deps.Verify(ctx, identifier, secret)
	if err != nil {
		switch {
		case errors.Is(err, deps.Errors.InactiveAccount):
			deps.MetricInc(deps.Metrics.LoginInactive)
		case isCredentialFailure(err, deps.Errors):
			if deps.RecordLoginFailure != nil {
				if recErr := deps.RecordLoginFailure(ctx, identifier, ip); recErr != nil {
					deps.Warn("login failure not recorded", recErr)
				}
			}
			deps.MetricInc(deps.Metrics.LoginFailure)
		}
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, identityID, err, map[string]string{
			"identifier": identifier,
		})
		return nil, err
	}

	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, identifier, ip); err != nil {
			deps.Warn("login throttle reset failed", err)
		}
	}

	outcome := &LoginOutcome{
		IdentityID: identityID,
		Method:     method,
		DeviceID:   deps.DeviceIDFromContext(ctx),
	}
	if err := gateMFA(ctx, outcome, deps); err != nil {
		return nil, err
	}
	if !outcome.MFARequired {
		deps.MetricInc(deps.Metrics.LoginSuccess)
		deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, identityID, nil, map[string]string{
			"method": method,
		})
	}
	return outcome, nil
}

func isCredentialFailure(err error, errs LoginErrors) bool {
	if errors.Is(err, errs.InvalidCredentials) {
		return true
	}
	return errs.MFAInvalidCode != nil && errors.Is(err, errs.MFAInvalidCode)
}

func gateMFA(ctx context.Context, outcome *LoginOutcome, deps LoginDeps) error {
	if !deps.MFA.Enabled || deps.MFA.MFAActive == nil {
		return nil
	}
	active, err := deps.MFA.MFAActive(ctx, outcome.IdentityID)
	if err != nil {
		return err
	}
	if !active {
		return nil
	}
	if deps.MFA.NewChallengeID == nil || deps.MFA.SaveChallenge == nil {
		return deps.Errors.EngineNotReady
	}

	id, err := deps.MFA.NewChallengeID()
	if err != nil {
		return err
	}
	record := &stores.MFAChallenge{
		IdentityID:  outcome.IdentityID,
		LoginMethod: outcome.Method,
		DeviceID:    outcome.DeviceID,
		ExpiresAt:   deps.Now().Add(deps.MFA.ChallengeTTL).Unix(),
	}
	if err := deps.MFA.SaveChallenge(ctx, id, record, deps.MFA.ChallengeTTL); err != nil {
		return errors.Join(deps.Errors.Unavailable, err)
	}

	outcome.MFARequired = true
	outcome.MFAChallenge = id
	deps.MetricInc(deps.Metrics.MFALoginRequired)
	deps.EmitAudit(ctx, deps.Events.MFARequired, true, outcome.IdentityID, nil, nil)
	return nil
}

// MFAConfirmDeps captures the second-factor step dependencies.
type MFAConfirmDeps struct {
	MaxAttempts int

	GetChallenge    func(ctx context.Context, id string) (*stores.MFAChallenge, error)
	DeleteChallenge func(ctx context.Context, id string) (bool, error)
	RecordFailure   func(ctx context.Context, id string, maxAttempts int) (bool, error)
	// VerifyCode checks a TOTP or recovery code for the identity.
	VerifyCode func(ctx context.Context, identityID, code string) error

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, identityID string, err error, meta map[string]string)
	Warn      func(msg string, err error)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunConfirmMFA redeems an MFA-pending challenge. Wrong codes count against
// the challenge, which is deleted once MaxAttempts is reached. A successful
// code deletes the challenge; only the caller that deleted it succeeds.
func RunConfirmMFA(ctx context.Context, challengeID, code string, deps MFAConfirmDeps) (*LoginOutcome, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, map[string]string) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, error) {}
	}
	if deps.GetChallenge == nil || deps.DeleteChallenge == nil || deps.VerifyCode == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if challengeID == "" {
		return nil, deps.Errors.MFAChallengeInvalid
	}

	challenge, err := deps.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, stores.ErrMFAChallengeNotFound) || errors.Is(err, stores.ErrMFAChallengeExpired) {
			return nil, deps.Errors.MFAChallengeInvalid
		}
		return nil, errors.Join(deps.Errors.Unavailable, err)
	}

	if err := deps.VerifyCode(ctx, challenge.IdentityID, code); err != nil {
		if !errors.Is(err, deps.Errors.MFAInvalidCode) {
			return nil, err
		}
		deps.MetricInc(deps.Metrics.MFALoginFailure)
		deps.EmitAudit(ctx, deps.Events.MFAFailure, false, challenge.IdentityID, err, nil)
		if deps.RecordFailure != nil {
			exceeded, recErr := deps.RecordFailure(ctx, challengeID, deps.MaxAttempts)
			switch {
			case recErr != nil && !errors.Is(recErr, stores.ErrMFAChallengeNotFound):
				deps.Warn("mfa challenge failure not recorded", recErr)
			case exceeded:
				deps.MetricInc(deps.Metrics.MFAChallengeExhausted)
				deps.EmitAudit(ctx, deps.Events.MFAAttemptsExceeded, false, challenge.IdentityID, err, nil)
			}
		}
		return nil, err
	}

	deleted, err := deps.DeleteChallenge(ctx, challengeID)
	if err != nil {
		return nil, errors.Join(deps.Errors.Unavailable, err)
	}
	if !deleted {
		return nil, deps.Errors.MFAChallengeInvalid
	}

	deps.MetricInc(deps.Metrics.MFALoginSuccess)
	deps.EmitAudit(ctx, deps.Events.MFASuccess, true, challenge.IdentityID, nil, map[string]string{
		"method": challenge.LoginMethod,
	})
	return &LoginOutcome{
		IdentityID: challenge.IdentityID,
		Method:     challenge.LoginMethod,
		DeviceID:   challenge.DeviceID,
	}, nil
}
