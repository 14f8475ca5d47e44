package waanauth

import (
	"context"
	"errors"
	"testing"

	"github.com/waanverse/waanauth/dispatch"
)

func TestLoginResolvesEveryIdentifierKind(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "u1", "alice", "alice@example.com", "+15550001111", "correct-password-123")

	cases := []struct {
		identifier string
		method     LoginMethod
	}{
		{"alice", LoginMethodUsername},
		{"Alice@Example.com", LoginMethodEmail},
		{"+1 555-000-1111", LoginMethodPhone},
	}
	for _, tc := range cases {
		t.Run(tc.identifier, func(t *testing.T) {
			res, err := env.engine.Login(context.Background(), tc.identifier, "correct-password-123")
			if err != nil {
				t.Fatalf("Login failed: %v", err)
			}
			if res.Method != tc.method {
				t.Fatalf("expected method %s, got %s", tc.method, res.Method)
			}
			if res.Tokens == nil || res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
				t.Fatal("expected token pair")
			}
			if res.Identity.ID != "u1" {
				t.Fatalf("unexpected identity %q", res.Identity.ID)
			}
		})
	}

	sessions, err := env.engine.ListSessions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != len(cases) {
		t.Fatalf("expected one session per login, got %d", len(sessions))
	}
	if env.devices.count() != len(cases) {
		t.Fatalf("expected devices to be stored, got %d", env.devices.count())
	}
	if env.identities.lastLogins != len(cases) {
		t.Fatalf("expected last login to be updated %d times, got %d", len(cases), env.identities.lastLogins)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "u1", "alice", "alice@example.com", "", "correct-password-123")
	ctx := context.Background()

	if _, err := env.engine.Login(ctx, "alice", "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "nobody", "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown identifier, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty identifier, got %v", err)
	}
}

func TestLoginInactiveIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "u1", "alice", "alice@example.com", "", "correct-password-123")
	env.identities.byID["u1"].IsActive = false

	_, err := env.engine.Login(context.Background(), "alice", "correct-password-123")
	if !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected ErrInactiveAccount, got %v", err)
	}
	if _, err := env.engine.Login(context.Background(), "alice", "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected wrong password on inactive identity to stay generic, got %v", err)
	}
}

func TestLoginThrottlesAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Login.MaxAttempts = 3
	})
	env.addIdentity(t, "u1", "alice", "alice@example.com", "", "correct-password-123")
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	for i := 0; i < 3; i++ {
		if _, err := env.engine.Login(ctx, "alice", "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	_, err := env.engine.Login(ctx, "alice", "correct-password-123")
	if !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("expected ErrTooManyRequests, got %v", err)
	}
	if wait, ok := RetryAfter(err); !ok || wait <= 0 {
		t.Fatalf("expected positive retry-after, got %v %v", wait, ok)
	}

	other := WithClientIP(context.Background(), "198.51.100.9")
	if _, err := env.engine.Login(other, "alice", "correct-password-123"); err != nil {
		t.Fatalf("expected other IP to be unaffected, got %v", err)
	}
}

func TestLoginReusesDeviceIDFromContext(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "u1", "alice", "alice@example.com", "", "correct-password-123")

	ctx := WithDeviceID(context.Background(), "device-123")
	ctx = WithUserAgent(ctx, "test-agent")
	res, err := env.engine.Login(ctx, "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.DeviceID != "device-123" {
		t.Fatalf("expected device id to be reused, got %q", res.DeviceID)
	}

	principal, err := env.engine.Authenticate(context.Background(), res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if principal.Session.DeviceID != "device-123" || principal.Session.UserAgent != "test-agent" {
		t.Fatalf("session metadata not recorded: %+v", principal.Session)
	}
}

func TestLoginAlertDispatched(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Dispatch.LoginAlerts = true
	})
	env.addIdentity(t, "u1", "alice", "alice@example.com", "", "correct-password-123")

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	if _, err := env.engine.Login(ctx, "alice", "correct-password-123"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	msg := env.nextMessage(t, dispatch.KindLoginAlert)
	if msg.To != "alice@example.com" || msg.Metadata["ip"] != "203.0.113.7" {
		t.Fatalf("unexpected alert: %+v", msg)
	}
}

func TestLoginCodeFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "u1", "alice", "alice@example.com", "", "correct-password-123")
	ctx := context.Background()

	if err := env.engine.RequestLoginCode(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestLoginCode failed: %v", err)
	}
	msg := env.nextMessage(t, dispatch.KindLoginCode)
	if msg.To != "alice@example.com" || msg.Channel != dispatch.ChannelEmail {
		t.Fatalf("unexpected message: %+v", msg)
	}

	err := env.engine.RequestLoginCode(ctx, "alice@example.com")
	if !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("expected resend within cooldown to be throttled, got %v", err)
	}

	res, err := env.engine.LoginWithCode(ctx, "alice@example.com", msg.Code)
	if err != nil {
		t.Fatalf("LoginWithCode failed: %v", err)
	}
	if res.Method != LoginMethodLoginCode || res.Tokens == nil {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := env.engine.LoginWithCode(ctx, "alice@example.com", msg.Code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected second redemption to fail with ErrCodeInvalid, got %v", err)
	}
}

func TestRequestLoginCodeUnknownIdentifierIsSilent(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.engine.RequestLoginCode(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if _, err := env.engine.LoginWithCode(context.Background(), "ghost@example.com", "123456"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}
}

func TestLoginCodeUsernameGoesToEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addIdentity(t, "u1", "alice", "alice@example.com", "+15550001111", "correct-password-123")
	ctx := context.Background()

	if err := env.engine.RequestLoginCode(ctx, "alice"); err != nil {
		t.Fatalf("RequestLoginCode failed: %v", err)
	}
	msg := env.nextMessage(t, dispatch.KindLoginCode)
	if msg.To != "alice@example.com" {
		t.Fatalf("expected email destination, got %q", msg.To)
	}

	if err := env.engine.RequestLoginCode(ctx, "+15550001111"); err != nil {
		t.Fatalf("RequestLoginCode by phone failed: %v", err)
	}
	sms := env.nextMessage(t, dispatch.KindLoginCode)
	if sms.Channel != dispatch.ChannelSMS || sms.To != "+15550001111" {
		t.Fatalf("expected sms destination, got %+v", sms)
	}
}

func TestLoginCodeDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Login.AllowLoginCode = false
	})

	if err := env.engine.RequestLoginCode(context.Background(), "alice"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
