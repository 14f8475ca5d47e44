package waanauth

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/waanverse/waanauth/mfa"
)

func (e *Engine) mfaReady() error {
	if !e.config.MFA.Enabled || e.mfaStore == nil || e.totp == nil || e.box == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) mfaActive(ctx context.Context, identityID string) (bool, error) {
	if e.mfaStore == nil {
		return false, nil
	}
	rec, err := e.mfaStore.GetMFA(ctx, identityID)
	if err != nil {
		return false, unavailable(err)
	}
	return rec != nil && rec.Activated, nil
}

func (e *Engine) loadMFA(ctx context.Context, identityID string) (*MFARecord, error) {
	rec, err := e.mfaStore.GetMFA(ctx, identityID)
	if err != nil {
		return nil, unavailable(err)
	}
	return rec, nil
}

func (e *Engine) activeMFA(ctx context.Context, identityID string) (*MFARecord, error) {
	rec, err := e.loadMFA(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.Activated || rec.Secret == "" {
		return nil, ErrMFANotActive
	}
	return rec, nil
}

// BeginMFAEnrollment generates a new TOTP secret for identityID and stores
// it pending activation, replacing any earlier pending secret.
func (e *Engine) BeginMFAEnrollment(ctx context.Context, identityID string) (*MFAEnrollment, error) {
	if err := e.mfaReady(); err != nil {
		return nil, err
	}
	rec, err := e.loadMFA(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Activated {
		return nil, ErrMFAAlreadyActive
	}

	identity, err := e.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	account := identity.Username
	if identity.Email != "" {
		account = identity.Email
	}

	enrollment, err := e.totp.Enroll(account)
	if err != nil {
		return nil, err
	}
	sealed, err := e.box.Seal([]byte(enrollment.Secret), []byte(identityID))
	if err != nil {
		return nil, err
	}
	if err := e.mfaStore.SaveMFA(ctx, &MFARecord{
		IdentityID: identityID,
		Secret:     sealed,
	}); err != nil {
		return nil, unavailable(err)
	}

	e.metricInc(MetricMFAEnrollmentStarted)
	return &MFAEnrollment{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		QRPNG:           enrollment.QRPNG,
	}, nil
}

// ActivateMFA confirms a pending enrollment with a TOTP code and returns the
// recovery codes. They are not retrievable afterwards.
func (e *Engine) ActivateMFA(ctx context.Context, identityID, code string) ([]string, error) {
	if err := e.mfaReady(); err != nil {
		return nil, err
	}
	rec, err := e.loadMFA(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Secret == "" {
		return nil, ErrMFANotActive
	}
	if rec.Activated {
		return nil, ErrMFAAlreadyActive
	}

	secret, err := e.openSecret(rec)
	if err != nil {
		return nil, err
	}
	now := e.now()
	ok, step, err := e.totp.Verify(secret, code, rec.LastUsedStep, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMFAInvalidCode
	}

	plain, hashes, err := mfa.GenerateRecoveryCodes(e.config.MFA.RecoveryCodeCount)
	if err != nil {
		return nil, err
	}
	rec.Activated = true
	rec.ActivatedAt = now.UTC()
	rec.RecoveryCodes = hashes
	rec.LastUsedStep = step
	if err := e.mfaStore.SaveMFA(ctx, rec); err != nil {
		return nil, unavailable(err)
	}

	e.metricInc(MetricMFAActivated)
	e.emitAudit(ctx, auditEventMFAActivated, true, identityID, nil, nil)
	return plain, nil
}

// VerifyMFA checks a TOTP code, or failing that a recovery code, for an
// identity with MFA active. TOTP steps cannot be replayed and recovery codes
// are single-use.
func (e *Engine) VerifyMFA(ctx context.Context, identityID, code string) error {
	if err := e.mfaReady(); err != nil {
		return err
	}
	rec, err := e.activeMFA(ctx, identityID)
	if err != nil {
		return err
	}

	code = strings.TrimSpace(code)
	ok, err := e.verifyTOTP(ctx, rec, code)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if mfa.LooksLikeRecoveryCode(code) {
		used, err := e.mfaStore.ConsumeRecoveryCode(ctx, identityID, mfa.HashRecoveryCode(code))
		if err != nil {
			return unavailable(err)
		}
		if used {
			e.metricInc(MetricRecoveryCodeUsed)
			e.emitAudit(ctx, auditEventRecoveryCodeUsed, true, identityID, nil, nil)
			return nil
		}
	}
	return ErrMFAInvalidCode
}

// verifyTOTP checks code against rec and advances the stored step. A step
// already advanced by a concurrent caller counts as a miss.
func (e *Engine) verifyTOTP(ctx context.Context, rec *MFARecord, code string) (bool, error) {
	if len(code) != e.config.MFA.Digits {
		return false, nil
	}
	secret, err := e.openSecret(rec)
	if err != nil {
		return false, err
	}
	ok, step, err := e.totp.Verify(secret, code, rec.LastUsedStep, e.now())
	if err != nil || !ok {
		return false, err
	}
	advanced, err := e.mfaStore.UpdateLastUsedStep(ctx, rec.IdentityID, step)
	if err != nil {
		return false, unavailable(err)
	}
	if !advanced {
		return false, nil
	}
	rec.LastUsedStep = step
	return true, nil
}

func (e *Engine) openSecret(rec *MFARecord) (string, error) {
	secret, err := e.box.Open(rec.Secret, []byte(rec.IdentityID))
	if err != nil {
		e.logger.Error("mfa secret unreadable",
			zap.String("identity_id", rec.IdentityID),
			zap.Error(err),
		)
		return "", unavailable(err)
	}
	return string(secret), nil
}

// DeactivateMFA removes the second factor after re-checking the password and
// a current TOTP or recovery code.
func (e *Engine) DeactivateMFA(ctx context.Context, identityID, pw, code string) error {
	if err := e.mfaReady(); err != nil {
		return err
	}
	identity, err := e.GetIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	ok, _, err := e.hasher.Verify(pw, identity.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidPassword
	}
	if err := e.VerifyMFA(ctx, identityID, code); err != nil {
		return err
	}

	if err := e.mfaStore.DeleteMFA(ctx, identityID); err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricMFADeactivated)
	e.emitAudit(ctx, auditEventMFADeactivated, true, identityID, nil, nil)
	return nil
}

// RegenerateRecoveryCodes replaces every recovery code. A current TOTP code
// is required; recovery codes are not accepted here.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, identityID, code string) ([]string, error) {
	if err := e.mfaReady(); err != nil {
		return nil, err
	}
	rec, err := e.activeMFA(ctx, identityID)
	if err != nil {
		return nil, err
	}
	ok, err := e.verifyTOTP(ctx, rec, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMFAInvalidCode
	}

	plain, hashes, err := mfa.GenerateRecoveryCodes(e.config.MFA.RecoveryCodeCount)
	if err != nil {
		return nil, err
	}
	rec.RecoveryCodes = hashes
	if err := e.mfaStore.SaveMFA(ctx, rec); err != nil {
		return nil, unavailable(err)
	}
	e.metricInc(MetricRecoveryCodesRegenerated)
	e.emitAudit(ctx, auditEventRecoveryCodesRenewed, true, identityID, nil, nil)
	return plain, nil
}

// MFAStatus reports whether a second factor is active for identityID and how
// many recovery codes remain. An identity that never enrolled gets a zero
// status, not an error.
func (e *Engine) MFAStatus(ctx context.Context, identityID string) (*MFAStatus, error) {
	if err := e.mfaReady(); err != nil {
		return nil, err
	}
	rec, err := e.loadMFA(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.Activated {
		return &MFAStatus{}, nil
	}
	return &MFAStatus{
		Activated:              true,
		ActivatedAt:            rec.ActivatedAt,
		RecoveryCodesRemaining: len(rec.RecoveryCodes),
	}, nil
}
