package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnsupportedHash is returned for encodings that are neither Argon2id PHC
// nor bcrypt.
var ErrUnsupportedHash = errors.New("unsupported password hash format")

// Hasher produces Argon2id hashes and verifies both Argon2id and legacy
// bcrypt hashes.
type Hasher struct {
	argon *Argon2
	dummy string
}

// NewHasher wraps an [Argon2] configured with cfg.
func NewHasher(cfg Config) (*Hasher, error) {
	argon, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	dummy, err := argon.Hash("waanauth-dummy-password")
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: argon, dummy: dummy}, nil
}

// Hash always produces an Argon2id hash.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify checks password against encodedHash. needsRehash is true when the
// hash is bcrypt or uses weaker Argon2id parameters than configured.
func (h *Hasher) Verify(password, encodedHash string) (ok bool, needsRehash bool, err error) {
	if isBcrypt(encodedHash) {
		if len(password) > 72 {
			return false, false, nil
		}
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		if err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return false, false, nil
			}
			return false, false, err
		}
		return true, true, nil
	}

	if !strings.HasPrefix(encodedHash, "$"+algorithmID+"$") {
		return false, false, ErrUnsupportedHash
	}
	ok, err = h.argon.Verify(password, encodedHash)
	if err != nil || !ok {
		return false, false, err
	}
	upgrade, err := h.argon.NeedsUpgrade(encodedHash)
	if err != nil {
		return true, false, nil
	}
	return true, upgrade, nil
}

// Dummy burns one verification worth of work. Login paths call it when the
// identifier is unknown so response timing does not reveal existence.
func (h *Hasher) Dummy(password string) {
	_, _ = h.argon.Verify(password, h.dummy)
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
