package memory

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/waanverse/waanauth"
	"github.com/waanverse/waanauth/dispatch"
)

func TestIdentityStoreUniqueness(t *testing.T) {
	store := NewIdentityStore()
	ctx := context.Background()

	if err := store.Create(ctx, &waanauth.Identity{ID: "u1", Username: "Alice", Email: "alice@example.com"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for _, dup := range []*waanauth.Identity{
		{ID: "u2", Username: "alice", Email: "other@example.com"},
		{ID: "u3", Username: "other", Email: "ALICE@example.com"},
		{ID: "u1", Username: "third"},
	} {
		if err := store.Create(ctx, dup); !errors.Is(err, waanauth.ErrIdentifierTaken) {
			t.Fatalf("expected ErrIdentifierTaken for %+v, got %v", dup, err)
		}
	}

	got, err := store.GetByUsername(ctx, "ALICE")
	if err != nil || got.ID != "u1" {
		t.Fatalf("expected case-insensitive username lookup, got %+v %v", got, err)
	}
	if _, err := store.GetByPhone(ctx, "+15550000000"); !errors.Is(err, waanauth.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestIdentityStoreReturnsCopies(t *testing.T) {
	store := NewIdentityStore()
	ctx := context.Background()
	if err := store.Create(ctx, &waanauth.Identity{ID: "u1", Username: "alice"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "u1")
	got.IsActive = true
	again, _ := store.GetByID(ctx, "u1")
	if again.IsActive {
		t.Fatal("mutating a returned identity must not change the store")
	}

	if err := store.MarkEmailVerified(ctx, "u1", true); err != nil {
		t.Fatalf("MarkEmailVerified failed: %v", err)
	}
	again, _ = store.GetByID(ctx, "u1")
	if !again.IsActive || !again.EmailVerified {
		t.Fatalf("expected verified active identity, got %+v", again)
	}

	if err := store.SetActive(ctx, "u1", false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	again, _ = store.GetByID(ctx, "u1")
	if again.IsActive {
		t.Fatal("expected identity to be disabled")
	}
	if err := store.SetActive(ctx, "missing", true); !errors.Is(err, waanauth.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestMFAStoreRecoveryCodeConsumedOnce(t *testing.T) {
	store := NewMFAStore()
	ctx := context.Background()
	if err := store.SaveMFA(ctx, &waanauth.MFARecord{IdentityID: "u1", Activated: true, Secret: "s", RecoveryCodes: []string{"a", "b"}}); err != nil {
		t.Fatalf("SaveMFA failed: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ConsumeRecoveryCode(ctx, "u1", "a")
			if err != nil {
				t.Errorf("ConsumeRecoveryCode failed: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}

	record, _ := store.GetMFA(ctx, "u1")
	if len(record.RecoveryCodes) != 1 || record.RecoveryCodes[0] != "b" {
		t.Fatalf("unexpected remaining codes: %v", record.RecoveryCodes)
	}
}

func TestMFAStoreLastUsedStepOnlyAdvances(t *testing.T) {
	store := NewMFAStore()
	ctx := context.Background()
	_ = store.SaveMFA(ctx, &waanauth.MFARecord{IdentityID: "u1", LastUsedStep: 10})

	if ok, _ := store.UpdateLastUsedStep(ctx, "u1", 10); ok {
		t.Fatal("equal step must not advance")
	}
	if ok, _ := store.UpdateLastUsedStep(ctx, "u1", 11); !ok {
		t.Fatal("greater step must advance")
	}
	if record, _ := store.GetMFA(ctx, "missing"); record != nil {
		t.Fatalf("expected nil record, got %+v", record)
	}
}

func TestResetTokenStoreKeepsOneLiveToken(t *testing.T) {
	store := NewResetTokenStore()
	ctx := context.Background()
	now := time.Now()

	_ = store.CreateResetToken(ctx, &waanauth.ResetToken{ID: "r1", IdentityID: "u1", CodeHash: "h1", CreatedAt: now})
	_ = store.CreateResetToken(ctx, &waanauth.ResetToken{ID: "r2", IdentityID: "u1", CodeHash: "h2", CreatedAt: now})
	if store.Live("u1") != 1 {
		t.Fatalf("expected one live token, got %d", store.Live("u1"))
	}

	if ok, _ := store.ConsumeResetToken(ctx, "u1", "h1", now.Add(-time.Minute)); ok {
		t.Fatal("superseded token must not be consumable")
	}
	if ok, _ := store.ConsumeResetToken(ctx, "u1", "h2", now.Add(time.Minute)); ok {
		t.Fatal("token older than notBefore must not be consumable")
	}
	if ok, _ := store.ConsumeResetToken(ctx, "u1", "h2", now.Add(-time.Minute)); !ok {
		t.Fatal("expected live token to be consumed")
	}
	if ok, _ := store.ConsumeResetToken(ctx, "u1", "h2", now.Add(-time.Minute)); ok {
		t.Fatal("token must be single-use")
	}
}

func TestDeviceStoreKeepsFirstSeen(t *testing.T) {
	store := NewDeviceStore()
	ctx := context.Background()
	first := time.Now().Add(-time.Hour).UTC()

	_ = store.SaveDevice(ctx, &waanauth.Device{DeviceID: "d1", IdentityID: "u1", CreatedAt: first})
	_ = store.SaveDevice(ctx, &waanauth.Device{DeviceID: "d1", IdentityID: "u1", IPAddress: "203.0.113.1"})

	d, ok := store.Get("d1")
	if !ok || !d.CreatedAt.Equal(first) || d.IPAddress != "203.0.113.1" {
		t.Fatalf("unexpected device: %+v", d)
	}
}

func TestEngineOnMemoryStores(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519 key failed: %v", err)
	}
	mfaKey := make([]byte, 32)
	_, _ = rand.Read(mfaKey)

	cfg := waanauth.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.MFA.EncryptionKey = mfaKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.MinScore = 0

	identities := NewIdentityStore()
	outbox := dispatch.NewChannelSender(16)
	engine, err := waanauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(zaptest.NewLogger(t)).
		WithIdentityStore(identities).
		WithMFAStore(NewMFAStore()).
		WithResetTokenStore(NewResetTokenStore()).
		WithDeviceStore(NewDeviceStore()).
		WithSender(outbox).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	ctx := context.Background()
	res, err := engine.Signup(ctx, waanauth.SignupRequest{Username: "ivan", Email: "ivan@example.com", Password: "correct-password-123"})
	if err != nil {
		t.Fatalf("Signup failed: %v", err)
	}

	var code string
	select {
	case msg := <-outbox.Messages():
		code = msg.Code
	case <-time.After(2 * time.Second):
		t.Fatal("no verification message")
	}
	if _, err := engine.VerifyEmail(ctx, "ivan@example.com", code); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	login, err := engine.Login(ctx, "ivan@example.com", "correct-password-123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	principal, err := engine.Authenticate(ctx, login.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if principal.IdentityID != res.Identity.ID {
		t.Fatalf("unexpected principal %q", principal.IdentityID)
	}
	stored, _ := identities.GetByID(ctx, res.Identity.ID)
	if stored.LastLogin.IsZero() {
		t.Fatal("expected last login to be recorded")
	}
}
