package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	// DefaultMaxPasswordBytes bounds hashing cost for hostile input.
	DefaultMaxPasswordBytes = 1024
)

// Cost floor accepted both for configuration and for stored hashes.
var floor = Config{
	Memory:      8 * 1024,
	Time:        1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   16,
}

var (
	ErrEmptyPassword   = errors.New("password is empty")
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	// ErrMalformedHash wraps every PHC decoding failure.
	ErrMalformedHash = errors.New("malformed argon2id hash")
)

// Config holds Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MaxPasswordBytes caps accepted input; zero means DefaultMaxPasswordBytes.
	MaxPasswordBytes int
}

func (c Config) validate() error {
	switch {
	case c.Memory < floor.Memory:
		return fmt.Errorf("password memory must be >= %d KiB", floor.Memory)
	case c.Time < floor.Time:
		return errors.New("password time must be >= 1")
	case c.Parallelism < floor.Parallelism:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < floor.SaltLength:
		return fmt.Errorf("password salt length must be >= %d", floor.SaltLength)
	case c.KeyLength < floor.KeyLength:
		return fmt.Errorf("password key length must be >= %d", floor.KeyLength)
	}
	return nil
}

// phc is a decoded $argon2id$v=19$m=..,t=..,p=..$salt$key string.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (p phc) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		p.memory, p.time, p.parallelism,
		base64.StdEncoding.EncodeToString(p.salt),
		base64.StdEncoding.EncodeToString(p.key),
	)
}

func (p phc) derive(password string) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
}

func malformed(detail string) error {
	return fmt.Errorf("%w: %s", ErrMalformedHash, detail)
}

func parsePHC(encoded string) (phc, error) {
	var p phc
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, malformed("expected six $-separated fields")
	}
	if parts[1] != algorithmID {
		return p, malformed("unsupported algorithm " + parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, malformed("invalid version")
	}
	if version != argon2.Version {
		return p, malformed(fmt.Sprintf("unsupported version %d", version))
	}

	var m, t, par uint64
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &par); err != nil || n != 3 ||
		parts[3] != fmt.Sprintf("m=%d,t=%d,p=%d", m, t, par) {
		return p, malformed("invalid parameters")
	}
	if m < uint64(floor.Memory) || m > 1<<32-1 ||
		t < uint64(floor.Time) || t > 1<<32-1 ||
		par < uint64(floor.Parallelism) || par > 255 {
		return p, malformed("parameters out of range")
	}
	p.memory, p.time, p.parallelism = uint32(m), uint32(t), uint8(par)

	var err error
	if p.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil || len(p.salt) < int(floor.SaltLength) {
		return p, malformed("invalid salt")
	}
	if p.key, err = base64.StdEncoding.DecodeString(parts[5]); err != nil || len(p.key) == 0 {
		return p, malformed("invalid key")
	}
	return p, nil
}

// Argon2 hashes and verifies passwords as PHC-encoded Argon2id strings.
type Argon2 struct {
	config Config
}

// NewArgon2 validates cfg against the minimum cost floor.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes <= 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Argon2{config: cfg}, nil
}

func (a *Argon2) checkLength(password string) error {
	if len(password) > a.config.MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

// Hash encodes password with a fresh salt. Length and strength rules are
// enforced by [Policy], not here.
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if err := a.checkLength(password); err != nil {
		return "", err
	}

	p := phc{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        make([]byte, a.config.SaltLength),
		key:         make([]byte, a.config.KeyLength),
	}
	if _, err := rand.Read(p.salt); err != nil {
		return "", err
	}
	p.key = p.derive(password)
	return p.String(), nil
}

// Verify recomputes the key with the parameters stored in encodedHash and
// compares in constant time.
func (a *Argon2) Verify(password string, encodedHash string) (bool, error) {
	if err := a.checkLength(password); err != nil {
		return false, err
	}
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.derive(password), p.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the current config.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return p.memory < a.config.Memory ||
		p.time < a.config.Time ||
		p.parallelism < a.config.Parallelism ||
		uint32(len(p.key)) != a.config.KeyLength, nil
}
