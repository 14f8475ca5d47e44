package internaldefs

import (
	"github.com/waanverse/waanauth"
)

type CounterDef struct {
	ID   waanauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   waanauth.MetricID
	Name string
	Help string
}

// CounterDefs is shared by every exporter so metric names stay identical
// across backends.
var CounterDefs = []CounterDef{
	{ID: waanauth.MetricLoginSuccess, Name: "waanauth_login_success_total", Help: "Successful logins."},
	{ID: waanauth.MetricLoginFailure, Name: "waanauth_login_failure_total", Help: "Failed logins."},
	{ID: waanauth.MetricLoginRateLimited, Name: "waanauth_login_rate_limited_total", Help: "Logins rejected by the attempt limiter."},
	{ID: waanauth.MetricLoginInactive, Name: "waanauth_login_inactive_total", Help: "Logins rejected for inactive identities."},
	{ID: waanauth.MetricLoginCodeIssued, Name: "waanauth_login_code_issued_total", Help: "One-time login codes issued."},
	{ID: waanauth.MetricLoginCodeRedeemed, Name: "waanauth_login_code_redeemed_total", Help: "One-time login codes redeemed."},
	{ID: waanauth.MetricMFALoginRequired, Name: "waanauth_mfa_login_required_total", Help: "Logins paused for a second factor."},
	{ID: waanauth.MetricMFALoginSuccess, Name: "waanauth_mfa_login_success_total", Help: "Completed MFA logins."},
	{ID: waanauth.MetricMFALoginFailure, Name: "waanauth_mfa_login_failure_total", Help: "Failed MFA login confirmations."},
	{ID: waanauth.MetricMFAChallengeExhausted, Name: "waanauth_mfa_challenge_exhausted_total", Help: "MFA challenges discarded after too many failures."},
	{ID: waanauth.MetricRecoveryCodeUsed, Name: "waanauth_recovery_code_used_total", Help: "Recovery codes consumed."},
	{ID: waanauth.MetricCodeIssued, Name: "waanauth_code_issued_total", Help: "Verification codes issued."},
	{ID: waanauth.MetricCodeThrottled, Name: "waanauth_code_throttled_total", Help: "Code issues rejected by the resend cooldown."},
	{ID: waanauth.MetricCodeVerified, Name: "waanauth_code_verified_total", Help: "Verification codes accepted."},
	{ID: waanauth.MetricCodeInvalid, Name: "waanauth_code_invalid_total", Help: "Verification codes rejected."},
	{ID: waanauth.MetricCodeExpired, Name: "waanauth_code_expired_total", Help: "Verification codes presented after expiry."},
	{ID: waanauth.MetricSessionCreated, Name: "waanauth_session_created_total", Help: "Sessions created."},
	{ID: waanauth.MetricSessionRevoked, Name: "waanauth_session_revoked_total", Help: "Sessions revoked."},
	{ID: waanauth.MetricLogoutAll, Name: "waanauth_logout_all_total", Help: "Revoke-all operations."},
	{ID: waanauth.MetricRefreshSuccess, Name: "waanauth_refresh_success_total", Help: "Successful refreshes."},
	{ID: waanauth.MetricRefreshFailure, Name: "waanauth_refresh_failure_total", Help: "Failed refreshes."},
	{ID: waanauth.MetricRefreshReuseDetected, Name: "waanauth_refresh_reuse_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: waanauth.MetricAuthenticateSuccess, Name: "waanauth_authenticate_success_total", Help: "Accepted access tokens."},
	{ID: waanauth.MetricAuthenticateFailure, Name: "waanauth_authenticate_failure_total", Help: "Rejected access tokens."},
	{ID: waanauth.MetricSignupSuccess, Name: "waanauth_signup_success_total", Help: "Identities registered."},
	{ID: waanauth.MetricSignupRejected, Name: "waanauth_signup_rejected_total", Help: "Signups rejected by validation or uniqueness."},
	{ID: waanauth.MetricSignupRateLimited, Name: "waanauth_signup_rate_limited_total", Help: "Signups rejected by the per-IP limiter."},
	{ID: waanauth.MetricEmailVerified, Name: "waanauth_email_verified_total", Help: "Email addresses verified."},
	{ID: waanauth.MetricPhoneVerified, Name: "waanauth_phone_verified_total", Help: "Phone numbers verified."},
	{ID: waanauth.MetricPasswordResetRequest, Name: "waanauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: waanauth.MetricPasswordResetConfirmSuccess, Name: "waanauth_password_reset_confirm_success_total", Help: "Completed password resets."},
	{ID: waanauth.MetricPasswordResetConfirmFailure, Name: "waanauth_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
	{ID: waanauth.MetricMFAEnrollmentStarted, Name: "waanauth_mfa_enrollment_started_total", Help: "TOTP enrollments started."},
	{ID: waanauth.MetricMFAActivated, Name: "waanauth_mfa_activated_total", Help: "TOTP enrollments activated."},
	{ID: waanauth.MetricMFADeactivated, Name: "waanauth_mfa_deactivated_total", Help: "TOTP enrollments removed."},
	{ID: waanauth.MetricRecoveryCodesRegenerated, Name: "waanauth_recovery_codes_regenerated_total", Help: "Recovery code regenerations."},
	{ID: waanauth.MetricPasswordRehashed, Name: "waanauth_password_rehashed_total", Help: "Stored hashes upgraded on login."},
	{ID: waanauth.MetricDeviceIDMismatch, Name: "waanauth_device_id_mismatch_total", Help: "Requests whose device id differs from the session."},
	{ID: waanauth.MetricDeviceUAMismatch, Name: "waanauth_device_ua_mismatch_total", Help: "Requests whose user agent differs from the session."},
	{ID: waanauth.MetricDeviceIPMismatch, Name: "waanauth_device_ip_mismatch_total", Help: "Requests whose client IP differs from the session."},
	{ID: waanauth.MetricDeviceRejected, Name: "waanauth_device_rejected_total", Help: "Requests rejected by device binding."},
	{ID: waanauth.MetricAccountDisabled, Name: "waanauth_account_disabled_total", Help: "Identities disabled."},
	{ID: waanauth.MetricAccountEnabled, Name: "waanauth_account_enabled_total", Help: "Identities re-enabled."},
}

var HistogramDefs = []HistogramDef{
	{ID: waanauth.MetricAuthenticateLatency, Name: "waanauth_authenticate_latency_seconds", Help: "Access token authentication latency."},
}

// HistogramBounds are the finite upper bounds of the engine's latency
// buckets, in seconds. The eighth bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket for backends without labels.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine's eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
