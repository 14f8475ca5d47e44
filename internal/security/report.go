package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	MinScore    int
}

// Report is a read-only view of the protections an engine runs with.
// Warnings lists settings an operator should review before production.
type Report struct {
	ProductionMode         bool
	SigningMethod          string
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	Argon2                 PasswordReport
	RefreshRotationEnabled bool
	MFAEnabled             bool
	RecoveryCodeCount      int
	LoginThrottleActive    bool
	SignupLimitActive      bool
	PasswordResetActive    bool
	ResetRevokesSessions   bool
	SecureCookies          bool
	TrustedProxies         int
	Warnings               []string
}

type ReportInput struct {
	ProductionMode         bool
	SigningMethod          string
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	Password               PasswordReport
	RotateRefreshTokens    bool
	MFAEnabled             bool
	RecoveryCodeCount      int
	LoginThrottle          bool
	LoginMaxAttempts       int
	LoginWindow            time.Duration
	SignupEnabled          bool
	SignupMaxAttemptsPerIP int
	PasswordResetEnabled   bool
	ResetRevokesSessions   bool
	SecureCookies          bool
	TrustedProxies         int
}

func BuildReport(input ReportInput) Report {
	r := Report{
		ProductionMode:         input.ProductionMode,
		SigningMethod:          input.SigningMethod,
		AccessTTL:              input.AccessTTL,
		RefreshTTL:             input.RefreshTTL,
		Argon2:                 input.Password,
		RefreshRotationEnabled: input.RotateRefreshTokens,
		MFAEnabled:             input.MFAEnabled,
		LoginThrottleActive:    input.LoginThrottle && input.LoginMaxAttempts > 0 && input.LoginWindow > 0,
		SignupLimitActive:      input.SignupEnabled && input.SignupMaxAttemptsPerIP > 0,
		PasswordResetActive:    input.PasswordResetEnabled,
		ResetRevokesSessions:   input.PasswordResetEnabled && input.ResetRevokesSessions,
		SecureCookies:          input.SecureCookies,
		TrustedProxies:         input.TrustedProxies,
	}
	if input.MFAEnabled {
		r.RecoveryCodeCount = input.RecoveryCodeCount
	}

	if !r.RefreshRotationEnabled {
		r.Warnings = append(r.Warnings, "refresh tokens are reusable until expiry")
	}
	if !r.LoginThrottleActive {
		r.Warnings = append(r.Warnings, "login throttling is disabled")
	}
	if input.SignupEnabled && !r.SignupLimitActive {
		r.Warnings = append(r.Warnings, "signup has no per-IP limit")
	}
	if !r.SecureCookies {
		r.Warnings = append(r.Warnings, "cookies are sent without the Secure flag")
	}
	if r.PasswordResetActive && !r.ResetRevokesSessions {
		r.Warnings = append(r.Warnings, "password reset leaves existing sessions active")
	}
	if input.Password.MinScore < 2 {
		r.Warnings = append(r.Warnings, "weak passwords are accepted")
	}
	if input.AccessTTL > time.Hour {
		r.Warnings = append(r.Warnings, "access tokens live longer than one hour")
	}
	return r
}
