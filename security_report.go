package waanauth

import "github.com/waanverse/waanauth/internal/security"

// SecurityReport summarises the protections the engine runs with.
type SecurityReport = security.Report

// SecurityReport derives the report from the engine configuration.
func (e *Engine) SecurityReport() SecurityReport {
	c := e.config
	return security.BuildReport(security.ReportInput{
		ProductionMode: c.Security.ProductionMode,
		SigningMethod:  c.JWT.SigningMethod,
		AccessTTL:      c.JWT.AccessTTL,
		RefreshTTL:     c.JWT.RefreshTTL,
		Password: security.PasswordReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
			MinLength:   c.Password.MinLength,
			MinScore:    c.Password.MinScore,
		},
		RotateRefreshTokens:    c.JWT.RotateRefreshTokens,
		MFAEnabled:             c.MFA.Enabled,
		RecoveryCodeCount:      c.MFA.RecoveryCodeCount,
		LoginThrottle:          c.Login.Throttle,
		LoginMaxAttempts:       c.Login.MaxAttempts,
		LoginWindow:            c.Login.Window,
		SignupEnabled:          c.Signup.Enabled,
		SignupMaxAttemptsPerIP: c.Signup.MaxAttemptsPerIP,
		PasswordResetEnabled:   c.PasswordReset.Enabled,
		ResetRevokesSessions:   c.PasswordReset.RevokeSessions,
		SecureCookies:          c.Cookies.Secure,
		TrustedProxies:         len(c.Security.TrustedProxies),
	})
}
