// Package secretbox encrypts MFA secrets at rest with XChaCha20-Poly1305.
// The AEAD key is derived from an operator-supplied master key with
// HKDF-SHA256, so the master key never touches ciphertext directly.
package secretbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const info = "waanauth mfa secret v1"

var (
	// ErrKeyTooShort is returned when the master key has fewer than 32 bytes.
	ErrKeyTooShort = errors.New("secretbox: master key must be at least 32 bytes")
	// ErrDecrypt is returned for tampered, truncated or foreign ciphertext.
	ErrDecrypt = errors.New("secretbox: decryption failed")
)

// Box seals and opens short secrets. It is safe for concurrent use.
type Box struct {
	key []byte
}

// New derives the AEAD key from masterKey.
func New(masterKey []byte) (*Box, error) {
	if len(masterKey) < 32 {
		return nil, ErrKeyTooShort
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return &Box{key: key}, nil
}

// Seal encrypts plaintext bound to associated data (the identity id) and
// returns base64url(nonce || ciphertext).
func (b *Box) Seal(plaintext, associated []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, plaintext, associated)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses [Box.Seal]. The associated data must match.
func (b *Box) Open(sealed string, associated []byte) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrDecrypt
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, associated)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
