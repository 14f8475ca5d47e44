package waanauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIssueCodeThrottlesResend(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.engine.IssueCode(ctx, CodePurposeLogin, "alice@example.com", "u1")
	if err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	if len(first.Code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", first.Code)
	}

	_, err = env.engine.IssueCode(ctx, CodePurposeLogin, "alice@example.com", "u1")
	var throttle *ThrottleError
	if !errors.As(err, &throttle) || throttle.RetryAfter <= 0 {
		t.Fatalf("expected ThrottleError with retry-after, got %v", err)
	}

	id, err := env.engine.VerifyCode(ctx, CodePurposeLogin, "alice@example.com", first.Code)
	if err != nil {
		t.Fatalf("expected first code to stay live, got %v", err)
	}
	if id != "u1" {
		t.Fatalf("unexpected identity %q", id)
	}
}

func TestVerifyCodeSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	issued, err := env.engine.IssueCode(ctx, CodePurposeEmail, "alice@example.com", "u1")
	if err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	if _, err := env.engine.VerifyCode(ctx, CodePurposeEmail, "ALICE@example.com", issued.Code); err != nil {
		t.Fatalf("VerifyCode failed: %v", err)
	}
	if _, err := env.engine.VerifyCode(ctx, CodePurposeEmail, "alice@example.com", issued.Code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid on reuse, got %v", err)
	}
}

func TestVerifyCodePurposeIsolation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	issued, err := env.engine.IssueCode(ctx, CodePurposeEmail, "alice@example.com", "u1")
	if err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	if _, err := env.engine.VerifyCode(ctx, CodePurposeLogin, "alice@example.com", issued.Code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected code to be bound to its purpose, got %v", err)
	}
	if _, err := env.engine.VerifyCode(ctx, CodePurpose("bogus"), "alice@example.com", issued.Code); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for unknown purpose, got %v", err)
	}
}

func TestVerifyCodeExpired(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Codes.Expiry = 50 * time.Millisecond
	})
	ctx := context.Background()

	issued, err := env.engine.IssueCode(ctx, CodePurposeLogin, "+15550001111", "u1")
	if err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)

	if _, err := env.engine.VerifyCode(ctx, CodePurposeLogin, "+15550001111", issued.Code); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}
	key := env.engine.codes.Key("+15550001111", string(CodePurposeLogin))
	if env.rdb.Exists(ctx, key).Val() != 0 {
		t.Fatal("expected expired code to be deleted")
	}

	if _, err := env.engine.IssueCode(ctx, CodePurposeLogin, "+15550001111", "u1"); err != nil {
		t.Fatalf("expected immediate re-issue after expiry, got %v", err)
	}
}

func TestVerifyCodeAttemptsExhausted(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Codes.MaxAttempts = 3
	})
	ctx := context.Background()

	issued, err := env.engine.IssueCode(ctx, CodePurposeLogin, "alice@example.com", "u1")
	if err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	wrong := "000000"
	if wrong == issued.Code {
		wrong = "111111"
	}
	for i := 0; i < 3; i++ {
		if _, err := env.engine.VerifyCode(ctx, CodePurposeLogin, "alice@example.com", wrong); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("attempt %d: expected ErrCodeInvalid, got %v", i, err)
		}
	}
	if _, err := env.engine.VerifyCode(ctx, CodePurposeLogin, "alice@example.com", issued.Code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected code to be discarded after max attempts, got %v", err)
	}
}
