// Package memory provides mutex-guarded in-process implementations of the
// waanauth stores. They suit tests, examples and single-node development.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/waanverse/waanauth"
)

// IdentityStore keeps identities in maps keyed by id and by each identifier.
type IdentityStore struct {
	mu         sync.RWMutex
	byID       map[string]*waanauth.Identity
	byEmail    map[string]string
	byPhone    map[string]string
	byUsername map[string]string
}

// NewIdentityStore returns an empty identity store.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		byID:       make(map[string]*waanauth.Identity),
		byEmail:    make(map[string]string),
		byPhone:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

func (s *IdentityStore) GetByID(_ context.Context, id string) (*waanauth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyOf(id)
}

func (s *IdentityStore) GetByEmail(_ context.Context, email string) (*waanauth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyOf(s.byEmail[strings.ToLower(email)])
}

func (s *IdentityStore) GetByPhone(_ context.Context, phone string) (*waanauth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyOf(s.byPhone[phone])
}

func (s *IdentityStore) GetByUsername(_ context.Context, username string) (*waanauth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyOf(s.byUsername[strings.ToLower(username)])
}

func (s *IdentityStore) copyOf(id string) (*waanauth.Identity, error) {
	identity, ok := s.byID[id]
	if !ok {
		return nil, waanauth.ErrIdentityNotFound
	}
	out := *identity
	return &out, nil
}

func (s *IdentityStore) Create(_ context.Context, identity *waanauth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(identity.Username)
	email := strings.ToLower(identity.Email)
	if _, ok := s.byID[identity.ID]; ok {
		return waanauth.ErrIdentifierTaken
	}
	if _, ok := s.byUsername[username]; ok {
		return waanauth.ErrIdentifierTaken
	}
	if _, ok := s.byEmail[email]; ok && email != "" {
		return waanauth.ErrIdentifierTaken
	}
	if _, ok := s.byPhone[identity.Phone]; ok && identity.Phone != "" {
		return waanauth.ErrIdentifierTaken
	}

	stored := *identity
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	identity.CreatedAt = stored.CreatedAt
	s.byID[stored.ID] = &stored
	s.byUsername[username] = stored.ID
	if email != "" {
		s.byEmail[email] = stored.ID
	}
	if stored.Phone != "" {
		s.byPhone[stored.Phone] = stored.ID
	}
	return nil
}

func (s *IdentityStore) UpdatePasswordHash(_ context.Context, id, passwordHash string) error {
	return s.mutate(id, func(identity *waanauth.Identity) {
		identity.PasswordHash = passwordHash
	})
}

func (s *IdentityStore) MarkEmailVerified(_ context.Context, id string, activate bool) error {
	return s.mutate(id, func(identity *waanauth.Identity) {
		identity.EmailVerified = true
		if activate {
			identity.IsActive = true
		}
	})
}

func (s *IdentityStore) MarkPhoneVerified(_ context.Context, id string, activate bool) error {
	return s.mutate(id, func(identity *waanauth.Identity) {
		identity.PhoneVerified = true
		if activate {
			identity.IsActive = true
		}
	})
}

func (s *IdentityStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return s.mutate(id, func(identity *waanauth.Identity) {
		identity.LastLogin = at
	})
}

func (s *IdentityStore) SetActive(_ context.Context, id string, active bool) error {
	return s.mutate(id, func(identity *waanauth.Identity) {
		identity.IsActive = active
	})
}

func (s *IdentityStore) mutate(id string, fn func(*waanauth.Identity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return waanauth.ErrIdentityNotFound
	}
	fn(identity)
	return nil
}

// MFAStore keeps one MFA record per identity.
type MFAStore struct {
	mu      sync.Mutex
	records map[string]*waanauth.MFARecord
}

// NewMFAStore returns an empty MFA store.
func NewMFAStore() *MFAStore {
	return &MFAStore{records: make(map[string]*waanauth.MFARecord)}
}

func (s *MFAStore) GetMFA(_ context.Context, identityID string) (*waanauth.MFARecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[identityID]
	if !ok {
		return nil, nil
	}
	out := *record
	out.RecoveryCodes = slices.Clone(record.RecoveryCodes)
	return &out, nil
}

func (s *MFAStore) SaveMFA(_ context.Context, record *waanauth.MFARecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *record
	stored.RecoveryCodes = slices.Clone(record.RecoveryCodes)
	s.records[record.IdentityID] = &stored
	return nil
}

func (s *MFAStore) DeleteMFA(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, identityID)
	return nil
}

func (s *MFAStore) ConsumeRecoveryCode(_ context.Context, identityID, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[identityID]
	if !ok {
		return false, nil
	}
	i := slices.Index(record.RecoveryCodes, codeHash)
	if i < 0 {
		return false, nil
	}
	record.RecoveryCodes = slices.Delete(record.RecoveryCodes, i, i+1)
	return true, nil
}

func (s *MFAStore) UpdateLastUsedStep(_ context.Context, identityID string, step int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[identityID]
	if !ok || step <= record.LastUsedStep {
		return false, nil
	}
	record.LastUsedStep = step
	return true, nil
}

// ResetTokenStore keeps reset tokens in insertion order.
type ResetTokenStore struct {
	mu     sync.Mutex
	tokens []*waanauth.ResetToken
}

// NewResetTokenStore returns an empty reset token store.
func NewResetTokenStore() *ResetTokenStore {
	return &ResetTokenStore{}
}

func (s *ResetTokenStore) CreateResetToken(_ context.Context, token *waanauth.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.IdentityID == token.IdentityID {
			t.IsUsed = true
		}
	}
	stored := *token
	stored.IsUsed = false
	s.tokens = append(s.tokens, &stored)
	return nil
}

func (s *ResetTokenStore) ConsumeResetToken(_ context.Context, identityID, codeHash string, notBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.IdentityID != identityID || t.IsUsed || t.CodeHash != codeHash {
			continue
		}
		if t.CreatedAt.Before(notBefore) {
			continue
		}
		t.IsUsed = true
		return true, nil
	}
	return false, nil
}

// Live counts unused tokens of identityID.
func (s *ResetTokenStore) Live(identityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tokens {
		if t.IdentityID == identityID && !t.IsUsed {
			n++
		}
	}
	return n
}

// DeviceStore keeps devices by id.
type DeviceStore struct {
	mu      sync.Mutex
	devices map[string]waanauth.Device
}

// NewDeviceStore returns an empty device store.
func NewDeviceStore() *DeviceStore {
	return &DeviceStore{devices: make(map[string]waanauth.Device)}
}

func (s *DeviceStore) SaveDevice(_ context.Context, device *waanauth.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *device
	if prev, ok := s.devices[device.DeviceID]; ok {
		stored.CreatedAt = prev.CreatedAt
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.devices[device.DeviceID] = stored
	return nil
}

// Get returns a saved device.
func (s *DeviceStore) Get(deviceID string) (waanauth.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	return d, ok
}

var (
	_ waanauth.IdentityStore   = (*IdentityStore)(nil)
	_ waanauth.MFAStore        = (*MFAStore)(nil)
	_ waanauth.ResetTokenStore = (*ResetTokenStore)(nil)
	_ waanauth.DeviceStore     = (*DeviceStore)(nil)
)
