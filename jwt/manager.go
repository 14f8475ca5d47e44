package jwt

import (
	"crypto"
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod names an asymmetric signing algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodES256 signs with ECDSA P-256 / SHA-256.
	MethodES256 SigningMethod = "es256"
	// MethodRS256 signs with RSASSA-PKCS1-v1_5 / SHA-256.
	MethodRS256 SigningMethod = "rs256"
)

// TokenType distinguishes access tokens from refresh tokens. It is carried in
// the "typ" claim so a refresh token can never be presented as an access token.
type TokenType string

const (
	// TypeAccess marks short-lived request tokens.
	TypeAccess TokenType = "access"
	// TypeRefresh marks long-lived rotation tokens.
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrExpired is returned when the exp claim is in the past.
	ErrExpired = errors.New("token expired")
	// ErrMalformed is returned for undecodable tokens and invalid claim sets.
	ErrMalformed = errors.New("token malformed")
	// ErrBadSignature is returned when the signature, algorithm or key id does not verify.
	ErrBadSignature = errors.New("token signature invalid")
	// ErrWrongType is returned when the typ claim does not match the expected type.
	ErrWrongType = errors.New("token type mismatch")
)

// Config holds the key material and validation rules of a [Manager].
//
// PrivateKey and PublicKey accept PEM blocks. Ed25519 keys may also be given
// as raw key bytes. When only PrivateKey is set the public half is derived.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Manager issues and verifies signed access/refresh tokens.
type Manager struct {
	config     Config
	method     jwt.SigningMethod
	signKey    crypto.Signer
	verifyKey  crypto.PublicKey
	verifyKeys map[string]crypto.PublicKey
}

// Claims is the claim set shared by access and refresh tokens.
// Subject carries the identity id, ID the token id (jti).
type Claims struct {
	SID  string    `json:"sid"`
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and parses its key material once.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg}
	switch cfg.SigningMethod {
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
	case MethodES256:
		m.method = jwt.SigningMethodES256
	case MethodRS256:
		m.method = jwt.SigningMethodRS256
	default:
		return nil, errors.New("unsupported signing method")
	}

	if len(cfg.PrivateKey) > 0 {
		signer, err := parsePrivateKey(cfg.SigningMethod, cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		m.signKey = signer
		m.verifyKey = signer.Public()
	}
	if len(cfg.PublicKey) > 0 {
		pub, err := parsePublicKey(cfg.SigningMethod, cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		m.verifyKey = pub
	}
	if len(cfg.VerifyKeys) > 0 {
		m.verifyKeys = make(map[string]crypto.PublicKey, len(cfg.VerifyKeys))
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			pub, err := parsePublicKey(cfg.SigningMethod, key)
			if err != nil {
				return nil, fmt.Errorf("invalid verify key for kid %q: %w", kid, err)
			}
			m.verifyKeys[kid] = pub
		}
		if cfg.KeyID != "" && m.verifyKey != nil {
			if _, ok := m.verifyKeys[cfg.KeyID]; !ok {
				m.verifyKeys[cfg.KeyID] = m.verifyKey
			}
		}
	}
	if m.verifyKey == nil && len(m.verifyKeys) == 0 {
		return nil, errors.New("public key or verify key set required")
	}

	return m, nil
}

// CanSign reports whether a private key is configured.
func (m *Manager) CanSign() bool {
	return m != nil && m.signKey != nil
}

// TTL returns the configured lifetime for typ.
func (m *Manager) TTL(typ TokenType) time.Duration {
	if typ == TypeRefresh {
		return m.config.RefreshTTL
	}
	return m.config.AccessTTL
}

// Issue signs a new token of type typ for subject bound to sessionID.
// Every call produces a fresh jti, so repeated calls yield independent tokens.
func (m *Manager) Issue(subject, sessionID string, typ TokenType, now time.Time) (string, *Claims, error) {
	if m.signKey == nil {
		return "", nil, errors.New("signing key not configured")
	}
	if subject == "" || sessionID == "" {
		return "", nil, errors.New("subject and session id required")
	}

	claims := &Claims{
		SID:  sessionID,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.TTL(typ))),
			Issuer:    m.config.Issuer,
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Parse verifies signature, expiry and issued-at of tokenStr and checks that
// its typ claim equals want. Failures wrap exactly one of [ErrExpired],
// [ErrMalformed], [ErrBadSignature] or [ErrWrongType].
func (m *Manager) Parse(tokenStr string, want TokenType) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, m.keyFunc)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(time.Now().Add(m.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrMalformed)
	}
	if claims.Subject == "" || claims.SID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub, sid or jti", ErrMalformed)
	}
	if claims.Type != want {
		return nil, ErrWrongType
	}

	return claims, nil
}

// ParseIgnoringExpiry verifies the signature, issuer and audience of an
// access or refresh token but accepts it after exp. Use it only to locate a
// session for revocation.
func (m *Manager) ParseIgnoringExpiry(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, m.keyFunc)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	if m.config.Issuer != "" && claims.Issuer != m.config.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrMalformed)
	}
	if m.config.Audience != "" && !slices.Contains(claims.Audience, m.config.Audience) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrMalformed)
	}
	if claims.Subject == "" || claims.SID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub, sid or jti", ErrMalformed)
	}
	if claims.Type != TypeAccess && claims.Type != TypeRefresh {
		return nil, ErrWrongType
	}
	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != m.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(m.verifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.verifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}

	if m.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return m.verifyKey, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func parsePrivateKey(method SigningMethod, key []byte) (crypto.Signer, error) {
	switch method {
	case MethodEd25519:
		if len(key) == ed25519.PrivateKeySize {
			return ed25519.PrivateKey(key), nil
		}
		parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
		if err != nil {
			return nil, errors.New("invalid ed25519 private key")
		}
		edKey, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("invalid ed25519 private key type")
		}
		return edKey, nil
	case MethodES256:
		ecKey, err := jwt.ParseECPrivateKeyFromPEM(key)
		if err != nil {
			return nil, errors.New("invalid ecdsa private key")
		}
		return ecKey, nil
	case MethodRS256:
		rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM(key)
		if err != nil {
			return nil, errors.New("invalid rsa private key")
		}
		return rsaKey, nil
	}
	return nil, errors.New("unsupported signing method")
}

func parsePublicKey(method SigningMethod, key []byte) (crypto.PublicKey, error) {
	switch method {
	case MethodEd25519:
		if len(key) == ed25519.PublicKeySize {
			return ed25519.PublicKey(key), nil
		}
		parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
		if err != nil {
			return nil, errors.New("invalid ed25519 public key")
		}
		edKey, ok := parsed.(ed25519.PublicKey)
		if !ok {
			return nil, errors.New("invalid ed25519 public key type")
		}
		return edKey, nil
	case MethodES256:
		ecKey, err := jwt.ParseECPublicKeyFromPEM(key)
		if err != nil {
			return nil, errors.New("invalid ecdsa public key")
		}
		return ecKey, nil
	case MethodRS256:
		rsaKey, err := jwt.ParseRSAPublicKeyFromPEM(key)
		if err != nil {
			return nil, errors.New("invalid rsa public key")
		}
		return rsaKey, nil
	}
	return nil, errors.New("unsupported signing method")
}
