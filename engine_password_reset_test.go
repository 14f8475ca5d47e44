package waanauth

import (
	"context"
	"errors"
	"testing"

	"github.com/waanverse/waanauth/dispatch"
)

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Dispatch.PasswordChangedNotice = true
	})
	env.addIdentity(t, "u1", "alice", "alice@example.com", "", "correct-password-123")
	ctx := context.Background()
	pair := loginTokens(t, env)

	if err := env.engine.RequestPasswordReset(ctx, "alice"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	msg := env.nextMessage(t, dispatch.KindPasswordReset)
	if msg.To != "alice@example.com" || len(msg.Code) != 6 {
		t.Fatalf("unexpected reset message: %+v", msg)
	}
	if env.resets.live("u1") != 1 {
		t.Fatalf("expected one live reset token, got %d", env.resets.live("u1"))
	}

	if err := env.engine.ConfirmPasswordReset(ctx, "alice", msg.Code, "new-password-456"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	env.nextMessage(t, dispatch.KindPasswordChanged)

	if _, err := env.engine.Login(ctx, "alice", "correct-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to fail, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice", "new-password-456"); err != nil {
		t.Fatalf("expected new password to work, got %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected sessions to be revoked after reset, got %v", err)
	}

	if err := env.engine.ConfirmPasswordReset(ctx, "alice", msg.Code, "newer-password-789"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected reused reset code to fail, got %v", err)
	}
}

func TestPasswordResetUnknownIdentifierIsSilent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, "ghost@example.com", "123456", "new-password-456"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}
}

func TestPasswordResetCooldown(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "u1", "alice", "alice@example.com", "", "correct-password-123")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "alice"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	err := env.engine.RequestPasswordReset(ctx, "alice@example.com")
	if !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("expected ErrTooManyRequests within cooldown, got %v", err)
	}
	if env.resets.live("u1") != 1 {
		t.Fatalf("expected a single live reset token, got %d", env.resets.live("u1"))
	}
}

func TestPasswordResetNewRequestInvalidatesOldCode(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.PasswordReset.Cooldown = 0
	})
	env.addIdentity(t, "u1", "alice", "alice@example.com", "", "correct-password-123")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "alice"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	first := env.nextMessage(t, dispatch.KindPasswordReset)
	if err := env.engine.RequestPasswordReset(ctx, "alice"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	second := env.nextMessage(t, dispatch.KindPasswordReset)

	if env.resets.live("u1") != 1 {
		t.Fatalf("expected one live reset token, got %d", env.resets.live("u1"))
	}
	if first.Code != second.Code {
		if err := env.engine.ConfirmPasswordReset(ctx, "alice", first.Code, "new-password-456"); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("expected superseded code to fail, got %v", err)
		}
	}
	if err := env.engine.ConfirmPasswordReset(ctx, "alice", second.Code, "new-password-456"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
}

func TestPasswordResetPolicyDoesNotBurnCode(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "u1", "alice", "alice@example.com", "", "correct-password-123")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "alice"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	msg := env.nextMessage(t, dispatch.KindPasswordReset)

	if err := env.engine.ConfirmPasswordReset(ctx, "alice", msg.Code, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, "alice", msg.Code, "new-password-456"); err != nil {
		t.Fatalf("expected code to survive policy rejection, got %v", err)
	}
}

func TestPasswordResetConfirmAttemptsLimited(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.PasswordReset.MaxConfirmAttempts = 2
	})
	env.addIdentity(t, "u1", "alice", "alice@example.com", "", "correct-password-123")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "alice"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	msg := env.nextMessage(t, dispatch.KindPasswordReset)
	wrong := "000000"
	if wrong == msg.Code {
		wrong = "111111"
	}

	for i := 0; i < 2; i++ {
		if err := env.engine.ConfirmPasswordReset(ctx, "alice", wrong, "new-password-456"); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("attempt %d: expected ErrCodeInvalid, got %v", i, err)
		}
	}
	if err := env.engine.ConfirmPasswordReset(ctx, "alice", msg.Code, "new-password-456"); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("expected ErrTooManyRequests, got %v", err)
	}
}
