package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrMFAChallengeNotFound = errors.New("mfa challenge not found")
	ErrMFAChallengeExpired  = errors.New("mfa challenge expired")
	ErrMFAChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// challengeFailureLua counts one failed second-factor attempt.
// KEYS[1] = challenge key
// ARGV[1] = now (unix seconds)
// ARGV[2] = max attempts (0 disables the limit)
//
// Returns 0 while attempts remain, 1 when the limit was reached and the
// challenge deleted, -1 when absent and -2 when expired.
var challengeFailureLua = redis.NewScript(`
local expires = redis.call('HGET', KEYS[1], 'e')
if not expires then
  return -1
end
if tonumber(ARGV[1]) > tonumber(expires) then
  redis.call('DEL', KEYS[1])
  return -2
end
local attempts = redis.call('HINCRBY', KEYS[1], 'a', 1)
local limit = tonumber(ARGV[2])
if limit > 0 and attempts >= limit then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// MFAChallenge is the pending second-factor state created by a password or
// code login against an identity with MFA activated.
type MFAChallenge struct {
	IdentityID  string
	LoginMethod string
	DeviceID    string
	ExpiresAt   int64
	Attempts    uint16
}

// MFAChallengeStore keeps challenges as Redis hashes keyed by challenge id.
type MFAChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewMFAChallengeStore(redisClient redis.UniversalClient, prefix string) *MFAChallengeStore {
	if prefix == "" {
		prefix = "wmc"
	}
	return &MFAChallengeStore{redis: redisClient, prefix: prefix, now: time.Now}
}

func (s *MFAChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func backendErr(err error) error {
	return fmt.Errorf("%w: %v", ErrMFAChallengeBackend, err)
}

func (s *MFAChallengeStore) Save(ctx context.Context, challengeID string, record *MFAChallenge, ttl time.Duration) error {
	key := s.key(challengeID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"uid", record.IdentityID,
			"lm", record.LoginMethod,
			"dev", record.DeviceID,
			"e", record.ExpiresAt,
			"a", record.Attempts,
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return backendErr(err)
	}
	return nil
}

// Get returns the challenge without consuming it. A challenge past its
// expiry is deleted and reported as [ErrMFAChallengeExpired].
func (s *MFAChallengeStore) Get(ctx context.Context, challengeID string) (*MFAChallenge, error) {
	key := s.key(challengeID)
	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, backendErr(err)
	}
	if fields["uid"] == "" {
		return nil, ErrMFAChallengeNotFound
	}

	expires, err := strconv.ParseInt(fields["e"], 10, 64)
	if err != nil {
		return nil, backendErr(fmt.Errorf("corrupt expiry %q", fields["e"]))
	}
	attempts, _ := strconv.ParseUint(fields["a"], 10, 16)
	if s.now().Unix() > expires {
		s.redis.Del(ctx, key)
		return nil, ErrMFAChallengeExpired
	}
	return &MFAChallenge{
		IdentityID:  fields["uid"],
		LoginMethod: fields["lm"],
		DeviceID:    fields["dev"],
		ExpiresAt:   expires,
		Attempts:    uint16(attempts),
	}, nil
}

// Delete removes the challenge and reports whether it existed. Callers use
// the result to make redemption single-use under concurrency.
func (s *MFAChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, backendErr(err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter and deletes the challenge once
// maxAttempts is reached. It returns true when the challenge was deleted.
func (s *MFAChallengeStore) RecordFailure(ctx context.Context, challengeID string, maxAttempts int) (bool, error) {
	res, err := challengeFailureLua.Run(ctx, s.redis,
		[]string{s.key(challengeID)},
		s.now().Unix(),
		maxAttempts,
	).Int()
	if err != nil {
		return false, backendErr(err)
	}
	switch res {
	case -1:
		return false, ErrMFAChallengeNotFound
	case -2:
		return false, ErrMFAChallengeExpired
	}
	return res == 1, nil
}
