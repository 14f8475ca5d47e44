package password

import (
	"errors"
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func mustArgon2(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	a, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return a
}

func TestArgon2RoundTrip(t *testing.T) {
	a := mustArgon2(t, testConfig())

	hash, err := a.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=2,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	if ok, err := a.Verify("P@ssw0rd-Ascii", hash); err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	if ok, err := a.Verify("wrong-password", hash); err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}

	other, _ := a.Hash("P@ssw0rd-Ascii")
	if other == hash {
		t.Fatal("expected a fresh salt per hash")
	}
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak := mustArgon2(t, testConfig())
	hash, err := weak.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	if up, err := weak.NeedsUpgrade(hash); err != nil || up {
		t.Fatalf("same parameters must not need upgrade: up=%v err=%v", up, err)
	}

	stronger := testConfig()
	stronger.Time = 3
	if up, err := mustArgon2(t, stronger).NeedsUpgrade(hash); err != nil || !up {
		t.Fatalf("expected upgrade for higher time cost: up=%v err=%v", up, err)
	}

	longer := testConfig()
	longer.KeyLength = 48
	if up, _ := mustArgon2(t, longer).NeedsUpgrade(hash); !up {
		t.Fatal("expected upgrade for a different key length")
	}
}

func TestArgon2RejectsMalformedHashes(t *testing.T) {
	a := mustArgon2(t, testConfig())
	valid, err := a.Hash("version-test")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	cases := map[string]string{
		"not phc":         "not-a-phc-hash",
		"wrong algorithm": strings.Replace(valid, "argon2id", "argon2i", 1),
		"wrong version":   strings.Replace(valid, "$v=19$", "$v=18$", 1),
		"low memory":      strings.Replace(valid, "m=8192", "m=1024", 1),
		"extra param":     strings.Replace(valid, "p=1", "p=1,x=2", 1),
		"bad salt":        strings.Replace(valid, "$"+strings.Split(valid, "$")[4]+"$", "$!!!$", 1),
	}
	for name, hash := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := a.Verify("version-test", hash); !errors.Is(err, ErrMalformedHash) {
				t.Fatalf("expected ErrMalformedHash, got %v", err)
			}
		})
	}
}

func TestArgon2LengthLimits(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPasswordBytes = 64
	a := mustArgon2(t, cfg)

	if _, err := a.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
	if _, err := a.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}

	exact := strings.Repeat("b", 64)
	hash, err := a.Hash(exact)
	if err != nil {
		t.Fatalf("expected max-length password to hash: %v", err)
	}
	if ok, err := a.Verify(exact, hash); err != nil || !ok {
		t.Fatalf("Verify failed for max-length password: ok=%v err=%v", ok, err)
	}
	if _, err := a.Verify(strings.Repeat("c", 65), hash); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected Verify to reject long input, got %v", err)
	}

	def := mustArgon2(t, testConfig())
	if _, err := def.Hash(strings.Repeat("d", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected default limit of %d bytes, got %v", DefaultMaxPasswordBytes, err)
	}
}

func TestNewArgon2EnforcesFloor(t *testing.T) {
	mutations := map[string]func(*Config){
		"memory":      func(c *Config) { c.Memory = 1024 },
		"time":        func(c *Config) { c.Time = 0 },
		"parallelism": func(c *Config) { c.Parallelism = 0 },
		"salt":        func(c *Config) { c.SaltLength = 8 },
		"key":         func(c *Config) { c.KeyLength = 8 },
	}
	for name, mutate := range mutations {
		cfg := testConfig()
		mutate(&cfg)
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("%s: expected config below floor to be rejected", name)
		}
	}
}
