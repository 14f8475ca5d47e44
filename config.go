package waanauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/waanverse/waanauth/mfa"
)

/*
====================================
ROOT CONFIG
====================================
*/

// Config is the complete engine configuration. Start from [DefaultConfig]
// and override what differs; [Builder.Build] validates it.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	DeviceBinding DeviceBindingConfig
	Codes         CodesConfig
	PasswordReset PasswordResetConfig
	MFA           MFAConfig
	Password      PasswordConfig
	Signup        SignupConfig
	Login         LoginConfig
	Cookies       CookiesConfig
	Dispatch      DispatchConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Security      SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing. Keys are PEM encoded; Ed25519 keys may
// also be raw bytes. Only asymmetric methods are accepted.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519", "es256" or "rs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	// VerifyKeys holds retired public keys by kid during key rotation.
	VerifyKeys map[string][]byte
	// RotateRefreshTokens issues a new refresh token on every refresh and
	// makes each refresh token single-use.
	RotateRefreshTokens bool
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	// RedisPrefix starts every session key. On Redis Cluster use a hash tag
	// such as "{was}" so the registry's scripts stay within one slot.
	RedisPrefix string
	// Retention bounds how long a session record is kept. Zero means the
	// refresh token lifetime.
	Retention time.Duration
}

/*
====================================
DEVICE BINDING CONFIG
====================================
*/

// DeviceBindingConfig compares each authenticated request with the client
// recorded at login. Detect flags audit a change; Enforce flags reject the
// request with [ErrDeviceBindingRejected]. An enforced attribute missing on
// either side counts as a mismatch.
type DeviceBindingConfig struct {
	Enabled               bool
	EnforceDeviceID       bool
	DetectDeviceChange    bool
	EnforceUserAgent      bool
	DetectUserAgentChange bool
	EnforceIP             bool
	DetectIPChange        bool
	// AnomalyWindow suppresses repeated reports for one session.
	AnomalyWindow time.Duration
}

func (c DeviceBindingConfig) any() bool {
	return c.EnforceDeviceID || c.DetectDeviceChange ||
		c.EnforceUserAgent || c.DetectUserAgentChange ||
		c.EnforceIP || c.DetectIPChange
}

/*
====================================
VERIFICATION CODE CONFIG
====================================
*/

// CodesConfig controls email, phone and login codes.
type CodesConfig struct {
	RedisPrefix    string
	Length         int
	Alphabet       string
	Expiry         time.Duration
	ResendCooldown time.Duration
	// MaxAttempts is the number of wrong guesses after which the code is
	// discarded.
	MaxAttempts int
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

type PasswordResetConfig struct {
	Enabled    bool
	CodeLength int
	CodeExpiry time.Duration
	// Cooldown is the minimum time between two reset requests of one identity.
	Cooldown time.Duration
	// MaxConfirmAttempts caps wrong codes per identity within CodeExpiry.
	MaxConfirmAttempts int
	RevokeSessions     bool
}

/*
====================================
MFA CONFIG
====================================
*/

type MFAConfig struct {
	Enabled   bool
	Issuer    string
	Digits    int
	Period    time.Duration
	Skew      int
	Algorithm string
	QRSize    int
	// EncryptionKey seals TOTP secrets at rest. At least 32 bytes.
	EncryptionKey     []byte
	RecoveryCodeCount int
	RedisPrefix       string
	ChallengeTTL      time.Duration
	MaxLoginAttempts  int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters and the new-password policy.
type PasswordConfig struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	MinLength        int
	// MinScore is the minimum zxcvbn score (0-4) of new passwords.
	MinScore       int
	UpgradeOnLogin bool
}

/*
====================================
SIGNUP CONFIG
====================================
*/

type SignupConfig struct {
	Enabled           bool
	AllowPhone        bool
	UsernameMinLength int
	ReservedUsernames []string
	// MaxAttemptsPerIP caps signups from one client IP per Window. Zero
	// disables the limit.
	MaxAttemptsPerIP int
	Window           time.Duration
}

/*
====================================
LOGIN CONFIG
====================================
*/

type LoginConfig struct {
	Throttle              bool
	MaxAttempts           int
	Window                time.Duration
	MaxIdentifierAttempts int
	// AllowLoginCode enables passwordless login codes.
	AllowLoginCode bool
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookiesConfig is consumed by HTTP transports.
type CookiesConfig struct {
	AccessName   string
	RefreshName  string
	DeviceName   string
	MFAName      string
	Domain       string
	Path         string
	Secure       bool
	HTTPOnly     bool
	SameSite     http.SameSite
	DeviceMaxAge time.Duration
}

/*
====================================
DISPATCH CONFIG
====================================
*/

type DispatchConfig struct {
	BufferSize  int
	DropIfFull  bool
	SendTimeout time.Duration
	// LoginAlerts sends a notice after every full authentication.
	LoginAlerts bool
	// PasswordChangedNotice sends a notice after a password reset.
	PasswordChangedNotice bool
}

/*
====================================
AUDIT CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

type SecurityConfig struct {
	// ProductionMode enforces secure cookies and full MFA key material.
	ProductionMode  bool
	RateLimitPrefix string
	// TrustedProxies lists proxy addresses (IPs or CIDRs) whose
	// CF-Connecting-IP and X-Forwarded-For headers are honoured.
	TrustedProxies []string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a development-friendly configuration. Key material
// must still be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:           15 * time.Minute,
			RefreshTTL:          14 * 24 * time.Hour,
			SigningMethod:       "ed25519",
			Issuer:              "waanauth",
			Leeway:              30 * time.Second,
			RotateRefreshTokens: true,
		},
		Session: SessionConfig{
			RedisPrefix: "was",
		},
		DeviceBinding: DeviceBindingConfig{
			Enabled:       false,
			AnomalyWindow: time.Minute,
		},
		Codes: CodesConfig{
			RedisPrefix:    "wvc",
			Length:         6,
			Alphabet:       "0123456789",
			Expiry:         10 * time.Minute,
			ResendCooldown: 60 * time.Second,
			MaxAttempts:    5,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:            true,
			CodeLength:         6,
			CodeExpiry:         10 * time.Minute,
			Cooldown:           5 * time.Minute,
			MaxConfirmAttempts: 5,
			RevokeSessions:     true,
		},
		MFA: MFAConfig{
			Enabled:           true,
			Issuer:            "waanauth",
			Digits:            6,
			Period:            30 * time.Second,
			Skew:              1,
			Algorithm:         "SHA1",
			QRSize:            256,
			RecoveryCodeCount: 10,
			RedisPrefix:       "wmc",
			ChallengeTTL:      2 * time.Minute,
			MaxLoginAttempts:  5,
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
			MinLength:        8,
			MinScore:         2,
			UpgradeOnLogin:   true,
		},
		Signup: SignupConfig{
			Enabled:           true,
			AllowPhone:        true,
			UsernameMinLength: 4,
			ReservedUsernames: []string{"admin", "administrator", "root", "system"},
			MaxAttemptsPerIP:  10,
			Window:            time.Hour,
		},
		Login: LoginConfig{
			Throttle:              true,
			MaxAttempts:           5,
			Window:                15 * time.Minute,
			MaxIdentifierAttempts: 20,
			AllowLoginCode:        true,
		},
		Cookies: CookiesConfig{
			AccessName:   "access_token",
			RefreshName:  "refresh_token",
			DeviceName:   "device_id",
			MFAName:      "mfa_pending",
			Path:         "/",
			Secure:       true,
			HTTPOnly:     true,
			SameSite:     http.SameSiteStrictMode,
			DeviceMaxAge: 365 * 24 * time.Hour,
		},
		Dispatch: DispatchConfig{
			BufferSize:            1024,
			DropIfFull:            true,
			SendTimeout:           10 * time.Second,
			LoginAlerts:           true,
			PasswordChangedNotice: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			ProductionMode:  false,
			RateLimitPrefix: "wrl",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	out.MFA.EncryptionKey = cloneBytes(cfg.MFA.EncryptionKey)
	out.Signup.ReservedUsernames = append([]string(nil), cfg.Signup.ReservedUsernames...)
	out.Security.TrustedProxies = append([]string(nil), cfg.Security.TrustedProxies...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must exceed AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519", "es256", "rs256":
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if len(c.JWT.PrivateKey) == 0 && len(c.JWT.PublicKey) == 0 {
		return errors.New("JWT requires PrivateKey or PublicKey")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.Retention < 0 {
		return errors.New("Session Retention must be >= 0")
	}

	// Device binding
	if c.DeviceBinding.Enabled {
		if !c.DeviceBinding.any() {
			return errors.New("DeviceBinding requires at least one Enforce or Detect flag")
		}
		if c.DeviceBinding.AnomalyWindow <= 0 {
			return errors.New("DeviceBinding AnomalyWindow must be > 0")
		}
	}

	// Codes
	if c.Codes.Length < 6 || c.Codes.Length > 12 {
		return errors.New("Codes Length must be between 6 and 12")
	}
	if len(c.Codes.Alphabet) < 2 {
		return errors.New("Codes Alphabet must have at least 2 symbols")
	}
	if c.Codes.Expiry <= 0 {
		return errors.New("Codes Expiry must be > 0")
	}
	if c.Codes.ResendCooldown < 0 {
		return errors.New("Codes ResendCooldown must be >= 0")
	}
	if c.Codes.MaxAttempts <= 0 {
		return errors.New("Codes MaxAttempts must be > 0")
	}
	if c.Codes.RedisPrefix == "" {
		return errors.New("Codes RedisPrefix must not be empty")
	}

	// Password reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.CodeLength < 6 || c.PasswordReset.CodeLength > 12 {
			return errors.New("PasswordReset CodeLength must be between 6 and 12")
		}
		if c.PasswordReset.CodeExpiry <= 0 {
			return errors.New("PasswordReset CodeExpiry must be > 0")
		}
		if c.PasswordReset.Cooldown < 0 {
			return errors.New("PasswordReset Cooldown must be >= 0")
		}
		if c.PasswordReset.MaxConfirmAttempts <= 0 {
			return errors.New("PasswordReset MaxConfirmAttempts must be > 0")
		}
	}

	// MFA
	if c.MFA.Enabled {
		if strings.TrimSpace(c.MFA.Issuer) == "" {
			return errors.New("MFA Issuer must not be empty")
		}
		if c.MFA.Digits < 6 || c.MFA.Digits > 8 {
			return errors.New("MFA Digits must be between 6 and 8")
		}
		if c.MFA.Skew < 0 || c.MFA.Skew > 3 {
			return errors.New("MFA Skew must be between 0 and 3")
		}
		if c.MFA.RecoveryCodeCount < mfa.MinRecoveryCodes || c.MFA.RecoveryCodeCount > mfa.MaxRecoveryCodes {
			return fmt.Errorf("MFA RecoveryCodeCount must be between %d and %d", mfa.MinRecoveryCodes, mfa.MaxRecoveryCodes)
		}
		if len(c.MFA.EncryptionKey) < 32 {
			return errors.New("MFA EncryptionKey must be at least 32 bytes")
		}
		if c.MFA.ChallengeTTL <= 0 {
			return errors.New("MFA ChallengeTTL must be > 0")
		}
		if c.MFA.MaxLoginAttempts <= 0 {
			return errors.New("MFA MaxLoginAttempts must be > 0")
		}
	}

	// Password
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MinScore < 0 || c.Password.MinScore > 4 {
		return errors.New("Password MinScore must be between 0 and 4")
	}
	if c.Password.MaxPasswordBytes > 0 && c.Password.MaxPasswordBytes < c.Password.MinLength {
		return errors.New("Password MaxPasswordBytes must be >= MinLength")
	}

	// Signup
	if c.Signup.Enabled {
		if c.Signup.UsernameMinLength < 1 {
			return errors.New("Signup UsernameMinLength must be >= 1")
		}
		if c.Signup.MaxAttemptsPerIP > 0 && c.Signup.Window <= 0 {
			return errors.New("Signup Window must be > 0 when MaxAttemptsPerIP is set")
		}
	}

	// Login
	if c.Login.Throttle {
		if c.Login.MaxAttempts <= 0 {
			return errors.New("Login MaxAttempts must be > 0")
		}
		if c.Login.Window <= 0 {
			return errors.New("Login Window must be > 0")
		}
		if c.Login.MaxIdentifierAttempts < 0 {
			return errors.New("Login MaxIdentifierAttempts must be >= 0")
		}
	}

	// Cookies
	if c.Cookies.AccessName == "" || c.Cookies.RefreshName == "" ||
		c.Cookies.DeviceName == "" || c.Cookies.MFAName == "" {
		return errors.New("Cookies names must not be empty")
	}
	if c.Cookies.SameSite == http.SameSiteNoneMode && !c.Cookies.Secure {
		return errors.New("Cookies SameSite=None requires Secure")
	}

	// Dispatch
	if c.Dispatch.BufferSize <= 0 {
		return errors.New("Dispatch BufferSize must be > 0")
	}
	if c.Dispatch.SendTimeout < 0 {
		return errors.New("Dispatch SendTimeout must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Security
	if c.Security.RateLimitPrefix == "" {
		return errors.New("Security RateLimitPrefix must not be empty")
	}
	if c.Security.ProductionMode {
		if !c.Cookies.Secure {
			return errors.New("ProductionMode requires secure cookies")
		}
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ProductionMode requires a JWT PrivateKey")
		}
	}

	return nil
}
