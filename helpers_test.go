package waanauth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/waanverse/waanauth/dispatch"
	"github.com/waanverse/waanauth/internal/audit"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// testConfig returns a valid config with throwaway keys and cheap hashing.
func testConfig(t *testing.T) Config {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519 key failed: %v", err)
	}
	mfaKey := make([]byte, 32)
	if _, err := rand.Read(mfaKey); err != nil {
		t.Fatalf("mfa key failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.MFA.EncryptionKey = mfaKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.MinScore = 0
	cfg.Dispatch.LoginAlerts = false
	return cfg
}

type testEnv struct {
	engine     *Engine
	mr         *miniredis.Miniredis
	rdb        *redis.Client
	identities *fakeIdentityStore
	mfa        *fakeMFAStore
	resets     *fakeResetStore
	devices    *fakeDeviceStore
	outbox     *dispatch.ChannelSender
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	return buildTestEnv(t, mutate, nil)
}

// newAuditedTestEnv also records audit events into the returned sink.
func newAuditedTestEnv(t *testing.T, mutate func(*Config)) (*testEnv, *audit.ChannelSink) {
	t.Helper()
	sink := audit.NewChannelSink(256)
	return buildTestEnv(t, mutate, sink), sink
}

func buildTestEnv(t *testing.T, mutate func(*Config), sink AuditSink) *testEnv {
	t.Helper()

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	mr, rdb := newTestRedis(t)

	env := &testEnv{
		mr:         mr,
		rdb:        rdb,
		identities: newFakeIdentityStore(),
		mfa:        newFakeMFAStore(),
		resets:     &fakeResetStore{},
		devices:    &fakeDeviceStore{},
		outbox:     dispatch.NewChannelSender(64),
	}

	builder := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(zaptest.NewLogger(t)).
		WithIdentityStore(env.identities).
		WithMFAStore(env.mfa).
		WithResetTokenStore(env.resets).
		WithDeviceStore(env.devices).
		WithSender(env.outbox).
		WithMetricsEnabled(true)
	if sink != nil {
		builder = builder.WithAuditSink(sink)
	}
	engine, err := builder.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine
	t.Cleanup(func() {
		engine.Close()
		mr.Close()
	})
	return env
}

// addIdentity stores an active identity with password pw.
func (env *testEnv) addIdentity(t *testing.T, id, username, email, phone, pw string) *Identity {
	t.Helper()

	hash, err := env.engine.hasher.Hash(pw)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	identity := &Identity{
		ID:            id,
		Username:      username,
		Email:         email,
		Phone:         phone,
		PasswordHash:  hash,
		EmailVerified: email != "",
		PhoneVerified: phone != "",
		IsActive:      true,
	}
	if err := env.identities.Create(context.Background(), identity); err != nil {
		t.Fatalf("Create identity failed: %v", err)
	}
	return identity
}

// nextMessage waits for the next outbound message of kind.
func (env *testEnv) nextMessage(t *testing.T, kind dispatch.Kind) dispatch.Message {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-env.outbox.Messages():
			if msg.Kind == kind {
				return msg
			}
		case <-timeout:
			t.Fatalf("no %s message dispatched", kind)
			return dispatch.Message{}
		}
	}
}

type fakeIdentityStore struct {
	mu         sync.Mutex
	byID       map[string]*Identity
	lastLogins int
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{byID: map[string]*Identity{}}
}

func (s *fakeIdentityStore) find(match func(*Identity) bool) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.byID {
		if match(identity) {
			cp := *identity
			return &cp, nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (s *fakeIdentityStore) GetByID(_ context.Context, id string) (*Identity, error) {
	return s.find(func(i *Identity) bool { return i.ID == id })
}

func (s *fakeIdentityStore) GetByEmail(_ context.Context, email string) (*Identity, error) {
	return s.find(func(i *Identity) bool { return i.Email != "" && strings.EqualFold(i.Email, email) })
}

func (s *fakeIdentityStore) GetByPhone(_ context.Context, phone string) (*Identity, error) {
	return s.find(func(i *Identity) bool { return i.Phone != "" && i.Phone == phone })
}

func (s *fakeIdentityStore) GetByUsername(_ context.Context, username string) (*Identity, error) {
	return s.find(func(i *Identity) bool { return strings.EqualFold(i.Username, username) })
}

func (s *fakeIdentityStore) Create(_ context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if strings.EqualFold(existing.Username, identity.Username) ||
			(identity.Email != "" && strings.EqualFold(existing.Email, identity.Email)) ||
			(identity.Phone != "" && existing.Phone == identity.Phone) {
			return ErrIdentifierTaken
		}
	}
	cp := *identity
	s.byID[identity.ID] = &cp
	return nil
}

func (s *fakeIdentityStore) update(id string, fn func(*Identity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}
	fn(identity)
	return nil
}

func (s *fakeIdentityStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(i *Identity) { i.PasswordHash = hash })
}

func (s *fakeIdentityStore) MarkEmailVerified(_ context.Context, id string, activate bool) error {
	return s.update(id, func(i *Identity) {
		i.EmailVerified = true
		if activate {
			i.IsActive = true
		}
	})
}

func (s *fakeIdentityStore) MarkPhoneVerified(_ context.Context, id string, activate bool) error {
	return s.update(id, func(i *Identity) {
		i.PhoneVerified = true
		if activate {
			i.IsActive = true
		}
	})
}

func (s *fakeIdentityStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(i *Identity) {
		i.LastLogin = at
		s.lastLogins++
	})
}

func (s *fakeIdentityStore) SetActive(_ context.Context, id string, active bool) error {
	return s.update(id, func(i *Identity) { i.IsActive = active })
}

type fakeMFAStore struct {
	mu      sync.Mutex
	records map[string]*MFARecord
}

func newFakeMFAStore() *fakeMFAStore {
	return &fakeMFAStore{records: map[string]*MFARecord{}}
}

func (s *fakeMFAStore) GetMFA(_ context.Context, identityID string) (*MFARecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identityID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.RecoveryCodes = append([]string(nil), rec.RecoveryCodes...)
	return &cp, nil
}

func (s *fakeMFAStore) SaveMFA(_ context.Context, record *MFARecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	cp.RecoveryCodes = append([]string(nil), record.RecoveryCodes...)
	s.records[record.IdentityID] = &cp
	return nil
}

func (s *fakeMFAStore) DeleteMFA(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, identityID)
	return nil
}

func (s *fakeMFAStore) ConsumeRecoveryCode(_ context.Context, identityID, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identityID]
	if !ok {
		return false, nil
	}
	for i, h := range rec.RecoveryCodes {
		if h == codeHash {
			rec.RecoveryCodes = append(rec.RecoveryCodes[:i], rec.RecoveryCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeMFAStore) UpdateLastUsedStep(_ context.Context, identityID string, step int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identityID]
	if !ok || step <= rec.LastUsedStep {
		return false, nil
	}
	rec.LastUsedStep = step
	return true, nil
}

type fakeResetStore struct {
	mu     sync.Mutex
	tokens []*ResetToken
}

func (s *fakeResetStore) CreateResetToken(_ context.Context, token *ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tokens {
		if existing.IdentityID == token.IdentityID {
			existing.IsUsed = true
		}
	}
	cp := *token
	s.tokens = append(s.tokens, &cp)
	return nil
}

func (s *fakeResetStore) ConsumeResetToken(_ context.Context, identityID, codeHash string, notBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.IdentityID == identityID && token.CodeHash == codeHash &&
			!token.IsUsed && token.CreatedAt.After(notBefore) {
			token.IsUsed = true
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeResetStore) live(identityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, token := range s.tokens {
		if token.IdentityID == identityID && !token.IsUsed {
			n++
		}
	}
	return n
}

type fakeDeviceStore struct {
	mu      sync.Mutex
	devices []Device
}

func (s *fakeDeviceStore) SaveDevice(_ context.Context, device *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, *device)
	return nil
}

func (s *fakeDeviceStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}
