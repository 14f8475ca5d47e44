package mfa

import "testing"

func TestGenerateRecoveryCodes(t *testing.T) {
	plain, hashes, err := GenerateRecoveryCodes(10)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(plain) != 10 || len(hashes) != 10 {
		t.Fatalf("expected 10 codes, got %d/%d", len(plain), len(hashes))
	}

	seen := map[string]bool{}
	for i, code := range plain {
		if len(code) != RecoveryCodeLength || !LooksLikeRecoveryCode(code) {
			t.Fatalf("unexpected code shape %q", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
		if hashes[i] != HashRecoveryCode(code) {
			t.Fatalf("hash %d does not match its code", i)
		}
		if hashes[i] == code {
			t.Fatal("hash must not equal plaintext")
		}
	}
}

func TestGenerateRecoveryCodesBounds(t *testing.T) {
	for _, n := range []int{0, 4, 21} {
		if _, _, err := GenerateRecoveryCodes(n); err == nil {
			t.Fatalf("expected count %d to be rejected", n)
		}
	}
}

func TestHashRecoveryCodeNormalizes(t *testing.T) {
	if HashRecoveryCode(" 123-4567 ") != HashRecoveryCode("1234567") {
		t.Fatal("expected separators and whitespace to be ignored")
	}
	if LooksLikeRecoveryCode("123456") || LooksLikeRecoveryCode("12345ab") {
		t.Fatal("expected malformed codes to be rejected")
	}
}
