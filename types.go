package waanauth

import (
	"context"
	"time"

	"github.com/waanverse/waanauth/jwt"
	"github.com/waanverse/waanauth/session"
)

// LoginMethod records how an identity proved itself.
type LoginMethod string

const (
	LoginMethodEmail     LoginMethod = "email"
	LoginMethodPhone     LoginMethod = "phone"
	LoginMethodUsername  LoginMethod = "username"
	LoginMethodLoginCode LoginMethod = "login_code"
)

// Identity is the account record owned by the host application.
type Identity struct {
	ID            string
	Username      string
	Email         string
	Phone         string
	PasswordHash  string
	EmailVerified bool
	PhoneVerified bool
	IsActive      bool
	LastLogin     time.Time
	CreatedAt     time.Time
}

// IdentityStore persists identities. Lookups return [ErrIdentityNotFound]
// when nothing matches; Create returns [ErrIdentifierTaken] when the
// username, email or phone is already used.
type IdentityStore interface {
	GetByID(ctx context.Context, id string) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	GetByPhone(ctx context.Context, phone string) (*Identity, error)
	GetByUsername(ctx context.Context, username string) (*Identity, error)
	Create(ctx context.Context, identity *Identity) error
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
	// MarkEmailVerified sets EmailVerified and, when activate is true, IsActive.
	MarkEmailVerified(ctx context.Context, id string, activate bool) error
	MarkPhoneVerified(ctx context.Context, id string, activate bool) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	// SetActive enables or disables login for the identity.
	SetActive(ctx context.Context, id string, active bool) error
}

// MFARecord is the stored second factor of an identity. Secret is sealed
// and never empty while Activated is true. RecoveryCodes holds digests.
type MFARecord struct {
	IdentityID    string
	Activated     bool
	ActivatedAt   time.Time
	Secret        string
	RecoveryCodes []string
	LastUsedStep  int64
}

// MFAStore persists MFA records. GetMFA returns (nil, nil) when the identity
// has no record.
type MFAStore interface {
	GetMFA(ctx context.Context, identityID string) (*MFARecord, error)
	SaveMFA(ctx context.Context, record *MFARecord) error
	DeleteMFA(ctx context.Context, identityID string) error
	// ConsumeRecoveryCode atomically removes codeHash from the record and
	// reports whether it was present.
	ConsumeRecoveryCode(ctx context.Context, identityID, codeHash string) (bool, error)
	// UpdateLastUsedStep stores step only when it is greater than the stored
	// value and reports whether it did.
	UpdateLastUsedStep(ctx context.Context, identityID string, step int64) (bool, error)
}

// ResetToken is a single-use password reset grant.
type ResetToken struct {
	ID         string
	IdentityID string
	CodeHash   string
	CreatedAt  time.Time
	IsUsed     bool
}

// ResetTokenStore persists password reset tokens.
type ResetTokenStore interface {
	// CreateResetToken marks every unused token of the identity used and
	// inserts token, atomically.
	CreateResetToken(ctx context.Context, token *ResetToken) error
	// ConsumeResetToken marks the unused token matching codeHash used when
	// it was created after notBefore and reports whether one was found.
	ConsumeResetToken(ctx context.Context, identityID, codeHash string, notBefore time.Time) (bool, error)
}

// Device is the client a session was created from.
type Device struct {
	DeviceID   string
	IdentityID string
	IPAddress  string
	UserAgent  string
	Platform   string
	CreatedAt  time.Time
}

// DeviceStore persists devices. It is optional.
type DeviceStore interface {
	SaveDevice(ctx context.Context, device *Device) error
}

// TokenPair is the result of a full authentication or a refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
}

// LoginResult is returned by the login operations. When MFARequired is set
// Tokens is nil and MFAChallenge must be redeemed with
// [Engine.CompleteMFALogin].
type LoginResult struct {
	Identity     *Identity
	Method       LoginMethod
	Tokens       *TokenPair
	DeviceID     string
	MFARequired  bool
	MFAChallenge string
}

// SignupRequest carries a new identity. Exactly one of Email or Phone is
// required.
type SignupRequest struct {
	Username string
	Email    string
	Phone    string
	Password string
}

// SignupResult is returned by [Engine.Signup].
type SignupResult struct {
	Identity *Identity
	// Channel is where the activation code was sent.
	Channel     string
	CodeExpires time.Time
}

// MFAEnrollment is the material shown to a user during MFA setup.
type MFAEnrollment struct {
	Secret          string
	ProvisioningURI string
	QRPNG           []byte
}

// MFAStatus summarises the second factor of an identity.
type MFAStatus struct {
	Activated              bool
	ActivatedAt            time.Time
	RecoveryCodesRemaining int
}

// Principal is the authenticated caller of a request.
type Principal struct {
	IdentityID string
	SessionID  string
	Claims     *jwt.Claims
	Session    *session.Session
}

// Session is re-exported so callers need not import the session package.
type Session = session.Session
