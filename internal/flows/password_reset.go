package flows

import (
	"context"
	"errors"
	"time"
)

// ResetTarget is the identity a reset applies to and where its code goes.
type ResetTarget struct {
	IdentityID string
	To         string
	Channel    string
	// Inputs are penalised by the password strength check.
	Inputs []string
}

// PasswordResetMetrics carries metric IDs used by the reset flows.
type PasswordResetMetrics struct {
	Request        int
	ConfirmSuccess int
	ConfirmFailure int
}

// PasswordResetEvents carries audit event names used by the reset flows.
type PasswordResetEvents struct {
	Request string
	Confirm string
}

// PasswordResetErrors carries host-level sentinel errors for the reset flows.
type PasswordResetErrors struct {
	EngineNotReady   error
	IdentityNotFound error
	CodeInvalid      error
	Unavailable      error
}

// PasswordResetDeps captures request and confirm dependencies.
type PasswordResetDeps struct {
	CodeExpiry     time.Duration
	RevokeSessions bool
	Now            func() time.Time

	Lookup func(ctx context.Context, identifier string) (*ResetTarget, error)

	AcquireCooldown func(ctx context.Context, identityID string) error
	ReleaseCooldown func(ctx context.Context, identityID string) error
	NewCode         func() (string, error)
	HashCode        func(code string) string
	CreateToken     func(ctx context.Context, identityID, codeHash string, now time.Time) error
	SendCode        func(ctx context.Context, target *ResetTarget, code string, expiresAt time.Time)

	CheckAttempts  func(ctx context.Context, identityID string) error
	RecordFailure  func(ctx context.Context, identityID string) error
	ResetAttempts  func(ctx context.Context, identityID string) error
	ValidatePolicy func(password string, inputs ...string) error
	ConsumeToken   func(ctx context.Context, identityID, codeHash string, notBefore time.Time) (bool, error)
	HashPassword   func(password string) (string, error)
	UpdatePassword func(ctx context.Context, identityID, passwordHash string) error
	RevokeAll      func(ctx context.Context, identityID string) (int, error)
	NotifyChanged  func(ctx context.Context, target *ResetTarget)

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, identityID string, err error, meta map[string]string)
	Warn      func(msg string, err error)

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

func (d *PasswordResetDeps) defaults() {
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
}

// RunRequestPasswordReset creates a reset token and sends its code. Unknown
// identifiers succeed silently.
func RunRequestPasswordReset(ctx context.Context, identifier string, deps PasswordResetDeps) error {
	deps.defaults()
	if deps.Lookup == nil || deps.NewCode == nil || deps.HashCode == nil || deps.CreateToken == nil {
		return deps.Errors.EngineNotReady
	}

	target, err := deps.Lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			return nil
		}
		return err
	}

	if deps.AcquireCooldown != nil {
		if err := deps.AcquireCooldown(ctx, target.IdentityID); err != nil {
			return err
		}
	}
	release := func() {
		if deps.ReleaseCooldown == nil {
			return
		}
		if err := deps.ReleaseCooldown(ctx, target.IdentityID); err != nil {
			deps.Warn("reset cooldown release failed", err)
		}
	}

	code, err := deps.NewCode()
	if err != nil {
		release()
		return err
	}
	now := deps.Now()
	if err := deps.CreateToken(ctx, target.IdentityID, deps.HashCode(code), now); err != nil {
		release()
		return err
	}

	if deps.SendCode != nil {
		deps.SendCode(ctx, target, code, now.Add(deps.CodeExpiry))
	}
	deps.MetricInc(deps.Metrics.Request)
	deps.EmitAudit(ctx, deps.Events.Request, true, target.IdentityID, nil, map[string]string{
		"channel": target.Channel,
	})
	return nil
}

// RunConfirmPasswordReset consumes a reset code and sets a new password.
// The policy is checked before the code is consumed so a rejected password
// does not burn the code.
func RunConfirmPasswordReset(ctx context.Context, identifier, code, newPassword string, deps PasswordResetDeps) error {
	deps.defaults()
	if deps.Lookup == nil || deps.HashCode == nil || deps.ConsumeToken == nil ||
		deps.HashPassword == nil || deps.UpdatePassword == nil {
		return deps.Errors.EngineNotReady
	}

	target, err := deps.Lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			deps.MetricInc(deps.Metrics.ConfirmFailure)
			return deps.Errors.CodeInvalid
		}
		return err
	}

	if deps.CheckAttempts != nil {
		if err := deps.CheckAttempts(ctx, target.IdentityID); err != nil {
			deps.MetricInc(deps.Metrics.ConfirmFailure)
			return err
		}
	}
	if deps.ValidatePolicy != nil {
		if err := deps.ValidatePolicy(newPassword, target.Inputs...); err != nil {
			return err
		}
	}

	now := deps.Now()
	ok, err := deps.ConsumeToken(ctx, target.IdentityID, deps.HashCode(code), now.Add(-deps.CodeExpiry))
	if err != nil {
		return err
	}
	if !ok {
		if deps.RecordFailure != nil {
			if err := deps.RecordFailure(ctx, target.IdentityID); err != nil {
				deps.Warn("reset failure not recorded", err)
			}
		}
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, target.IdentityID, deps.Errors.CodeInvalid, nil)
		return deps.Errors.CodeInvalid
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := deps.UpdatePassword(ctx, target.IdentityID, hash); err != nil {
		return err
	}
	if deps.ResetAttempts != nil {
		if err := deps.ResetAttempts(ctx, target.IdentityID); err != nil {
			deps.Warn("reset attempt counter not cleared", err)
		}
	}

	if deps.RevokeSessions && deps.RevokeAll != nil {
		if _, err := deps.RevokeAll(ctx, target.IdentityID); err != nil {
			return errors.Join(deps.Errors.Unavailable, err)
		}
	}
	if deps.NotifyChanged != nil {
		deps.NotifyChanged(ctx, target)
	}

	deps.MetricInc(deps.Metrics.ConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.Confirm, true, target.IdentityID, nil, nil)
	return nil
}
