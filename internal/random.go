package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// DigitAlphabet is the default verification code alphabet.
const DigitAlphabet = "0123456789"

var sidEncoding = base64.RawURLEncoding

// SessionID is 128 bits of randomness rendered as unpadded base64url.
type SessionID [16]byte

func NewSessionID() (sid SessionID, err error) {
	_, err = rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string { return sidEncoding.EncodeToString(s[:]) }

// ParseSessionID accepts only the exact 22 character encoding produced by
// String.
func ParseSessionID(v string) (SessionID, error) {
	var sid SessionID
	if len(v) != sidEncoding.EncodedLen(len(sid)) {
		return sid, fmt.Errorf("session id must be %d characters", sidEncoding.EncodedLen(len(sid)))
	}
	n, err := sidEncoding.Decode(sid[:], []byte(v))
	if err != nil {
		return SessionID{}, err
	}
	if n != len(sid) {
		return SessionID{}, errors.New("short session id")
	}
	return sid, nil
}

// NewOpaqueID returns a random identifier with the session id format.
func NewOpaqueID() (string, error) {
	sid, err := NewSessionID()
	return sid.String(), err
}

// NewCode draws length symbols uniformly from alphabet.
func NewCode(length int, alphabet string) (string, error) {
	switch {
	case length <= 0:
		return "", errors.New("invalid code length")
	case len(alphabet) < 2:
		return "", errors.New("code alphabet too small")
	}
	size := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// HashCode returns the SHA-256 digest of a code in lowercase hex.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// NewDeviceID derives a 16 hex character device fingerprint from the identity,
// the client platform and browser, and a fresh random nonce.
func NewDeviceID(identityID, platform, browser string) string {
	h := sha256.New()
	for _, part := range []string{identityID, platform, browser, uuid.NewString()} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
