package internal

import (
	"strings"
	"testing"
)

func TestNewCodeUsesAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewCode(8, "AB")
		if err != nil {
			t.Fatalf("NewCode failed: %v", err)
		}
		if len(code) != 8 || strings.Trim(code, "AB") != "" {
			t.Fatalf("unexpected code %q", code)
		}
	}
	if _, err := NewCode(0, DigitAlphabet); err == nil {
		t.Fatal("expected error for zero length")
	}
	if _, err := NewCode(6, "1"); err == nil {
		t.Fatal("expected error for single symbol alphabet")
	}
}

func TestHashCodeIsStable(t *testing.T) {
	if HashCode("123456") != HashCode("123456") || HashCode("123456") == HashCode("123457") {
		t.Fatal("HashCode must be deterministic and distinguish codes")
	}
	if len(HashCode("x")) != 64 {
		t.Fatal("expected hex sha256 digest")
	}
}

func TestNewDeviceIDIsFreshPerCall(t *testing.T) {
	a := NewDeviceID("u1", "macOS", "firefox")
	b := NewDeviceID("u1", "macOS", "firefox")
	if len(a) != 16 || a == b {
		t.Fatalf("expected distinct 16 char ids, got %q %q", a, b)
	}
}

// FuzzParseSessionID checks that parsing never panics and that every accepted
// id round-trips.
func FuzzParseSessionID(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("!!!not-base64!!!")
	f.Add("AAAAAAAAAAAAAAAAAAAAAA")
	if sid, err := NewSessionID(); err == nil {
		f.Add(sid.String())
	}

	f.Fuzz(func(t *testing.T, input string) {
		sid, err := ParseSessionID(input)
		if err != nil {
			return
		}
		again, err := ParseSessionID(sid.String())
		if err != nil {
			t.Fatalf("re-parse failed: %v", err)
		}
		if again != sid {
			t.Fatalf("round trip mismatch for %q", input)
		}
	})
}
