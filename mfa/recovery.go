package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

const (
	// RecoveryCodeLength is the number of digits in a recovery code.
	RecoveryCodeLength = 7
	MinRecoveryCodes   = 5
	MaxRecoveryCodes   = 20
)

// GenerateRecoveryCodes returns n plaintext codes and their digests in the
// same order. Plaintext must be shown once and discarded.
func GenerateRecoveryCodes(n int) ([]string, []string, error) {
	if n < MinRecoveryCodes || n > MaxRecoveryCodes {
		return nil, nil, errors.New("mfa: recovery code count out of range")
	}

	limit := big.NewInt(10_000_000)
	seen := make(map[string]struct{}, n)
	plain := make([]string, 0, n)
	hashes := make([]string, 0, n)
	for len(plain) < n {
		v, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return nil, nil, err
		}
		code := leftPad(v.String(), RecoveryCodeLength)
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		plain = append(plain, code)
		hashes = append(hashes, HashRecoveryCode(code))
	}
	return plain, hashes, nil
}

// HashRecoveryCode returns the stored digest for code. Separators and
// surrounding whitespace are ignored.
func HashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(NormalizeRecoveryCode(code)))
	return hex.EncodeToString(sum[:])
}

// NormalizeRecoveryCode strips whitespace and dashes.
func NormalizeRecoveryCode(code string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, strings.TrimSpace(code))
}

// LooksLikeRecoveryCode reports whether code has the recovery code shape,
// letting callers skip TOTP verification for it.
func LooksLikeRecoveryCode(code string) bool {
	code = NormalizeRecoveryCode(code)
	return len(code) == RecoveryCodeLength && isDigits(code)
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}
