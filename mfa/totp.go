package mfa

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"image/png"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Config controls TOTP parameters shared by enrollment and verification.
type Config struct {
	Issuer    string
	Digits    int
	Period    time.Duration
	Skew      int
	Algorithm string
	QRSize    int
}

// Enrollment is the material handed to a user when they start MFA setup.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
	QRPNG           []byte
}

// TOTP issues and verifies time-based codes.
type TOTP struct {
	config    Config
	algorithm otp.Algorithm
}

// NewTOTP validates cfg and returns a [TOTP].
func NewTOTP(cfg Config) (*TOTP, error) {
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Digits < 6 || cfg.Digits > 8 {
		return nil, errors.New("mfa: digits must be between 6 and 8")
	}
	if cfg.Period == 0 {
		cfg.Period = 30 * time.Second
	}
	if cfg.Period < time.Second || cfg.Period%time.Second != 0 {
		return nil, errors.New("mfa: period must be a whole number of seconds")
	}
	if cfg.Skew < 0 || cfg.Skew > 3 {
		return nil, errors.New("mfa: skew must be between 0 and 3")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("mfa: issuer required")
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 256
	}

	var alg otp.Algorithm
	switch strings.ToUpper(cfg.Algorithm) {
	case "", "SHA1":
		alg = otp.AlgorithmSHA1
	case "SHA256":
		alg = otp.AlgorithmSHA256
	case "SHA512":
		alg = otp.AlgorithmSHA512
	default:
		return nil, errors.New("mfa: unsupported totp algorithm")
	}

	return &TOTP{config: cfg, algorithm: alg}, nil
}

func (t *TOTP) period() uint {
	return uint(t.config.Period / time.Second)
}

// Enroll generates a fresh secret for account along with its otpauth URI and
// a QR code of that URI.
func (t *TOTP) Enroll(account string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.config.Issuer,
		AccountName: account,
		Period:      t.period(),
		SecretSize:  20,
		Digits:      otp.Digits(t.config.Digits),
		Algorithm:   t.algorithm,
	})
	if err != nil {
		return nil, err
	}

	img, err := qr.Encode(key.URL(), qr.M, qr.Auto)
	if err != nil {
		return nil, err
	}
	img, err = barcode.Scale(img, t.config.QRSize, t.config.QRSize)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRPNG:           buf.Bytes(),
	}, nil
}

// Code returns the code for secret at now. It is used by tests and by
// operators validating clock drift.
func (t *TOTP) Code(secret string, now time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, now, t.opts())
}

// Verify checks code against secret within the configured skew and returns
// the matched time step. Steps at or below lastStep are rejected so a code
// cannot be replayed inside its validity window.
func (t *TOTP) Verify(secret, code string, lastStep int64, now time.Time) (bool, int64, error) {
	code = strings.TrimSpace(code)
	if len(code) != t.config.Digits || !isDigits(code) {
		return false, 0, nil
	}
	if secret == "" {
		return false, 0, errors.New("mfa: empty totp secret")
	}

	period := int64(t.period())
	base := now.Unix() / period
	for step := -t.config.Skew; step <= t.config.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 || counter <= lastStep {
			continue
		}
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(counter*period, 0), t.opts())
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

func (t *TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    t.period(),
		Digits:    otp.Digits(t.config.Digits),
		Algorithm: t.algorithm,
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
