package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCodeNotFound         = errors.New("verification code not found")
	ErrCodeExpired          = errors.New("verification code expired")
	ErrCodeMismatch         = errors.New("verification code mismatch")
	ErrCodeAttemptsExceeded = errors.New("verification code attempts exceeded")
	ErrCodeRedisUnavailable = errors.New("verification code redis unavailable")
)

// issueCodeLua replaces the record for (target, purpose) unless a live record
// was issued within the cooldown window. The check and the write are one
// script so concurrent issuers cannot both pass the throttle.
// KEYS[1] = record key
// ARGV[1] = now (unix ms)
// ARGV[2] = cooldown (ms)
// ARGV[3] = code hash (hex)
// ARGV[4] = identity id
// ARGV[5] = expires at (unix ms)
// ARGV[6] = redis ttl (ms)
//
// Returns 0 when issued, otherwise the remaining cooldown in ms.
var issueCodeLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local created = redis.call('HGET', KEYS[1], 'c')
if created then
  local expires = tonumber(redis.call('HGET', KEYS[1], 'e') or '0')
  if expires > now then
    local wait = tonumber(created) + tonumber(ARGV[2]) - now
    if wait > 0 then
      return wait
    end
  end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'h', ARGV[3], 'uid', ARGV[4], 'c', ARGV[1], 'e', ARGV[5], 'a', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return 0
`)

// verifyCodeLua atomically checks expiry, compares the code hash, counts
// failures and deletes the record on success.
// KEYS[1] = record key
// ARGV[1] = now (unix ms)
// ARGV[2] = provided hash (hex)
// ARGV[3] = max attempts (0 disables the limit)
//
// Returns the identity id on success (empty when the code was unbound)
// error string: "not_found", "expired", "mismatch", "attempts_exceeded"
var verifyCodeLua = redis.NewScript(`
local rec = redis.call('HMGET', KEYS[1], 'h', 'e', 'uid')
if not rec[1] then
  return {err='not_found'}
end
if tonumber(ARGV[1]) > tonumber(rec[2]) then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end
if rec[1] ~= ARGV[2] then
  local attempts = redis.call('HINCRBY', KEYS[1], 'a', 1)
  local maxAttempts = tonumber(ARGV[3])
  if maxAttempts > 0 and attempts >= maxAttempts then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  return {err='mismatch'}
end
redis.call('DEL', KEYS[1])
return rec[3] or ''
`)

// CodeRecord is the persisted view of a live verification code.
type CodeRecord struct {
	IdentityID string
	CodeHash   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Attempts   int
}

// CodeStore holds at most one verification code per (target, purpose).
type CodeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewCodeStore(redisClient redis.UniversalClient, prefix string) *CodeStore {
	if prefix == "" {
		prefix = "wvc"
	}
	return &CodeStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// Key returns the record key for target and purpose. Targets are
// case-folded so "A@x.com" and "a@x.com" share one code.
func (s *CodeStore) Key(target, purpose string) string {
	return s.prefix + ":" + purpose + ":" + strings.ToLower(strings.TrimSpace(target))
}

// Issue stores codeHash for (target, purpose), replacing any prior record.
// It returns a positive wait when a live code was issued less than cooldown
// ago; nothing is written in that case.
func (s *CodeStore) Issue(
	ctx context.Context,
	target, purpose, identityID, codeHash string,
	expiry, cooldown time.Duration,
) (time.Duration, error) {
	now := s.now()
	// Keep expired records around long enough to report them as expired.
	retention := 2 * expiry
	if retention < cooldown {
		retention = cooldown
	}

	wait, err := issueCodeLua.Run(ctx, s.redis,
		[]string{s.Key(target, purpose)},
		now.UnixMilli(),
		cooldown.Milliseconds(),
		codeHash,
		identityID,
		now.Add(expiry).UnixMilli(),
		retention.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
	}
	return time.Duration(wait) * time.Millisecond, nil
}

// Verify consumes the code for (target, purpose) when codeHash matches and
// returns the identity id it was issued for.
func (s *CodeStore) Verify(
	ctx context.Context,
	target, purpose, codeHash string,
	maxAttempts int,
) (string, error) {
	identityID, err := verifyCodeLua.Run(ctx, s.redis,
		[]string{s.Key(target, purpose)},
		s.now().UnixMilli(),
		codeHash,
		maxAttempts,
	).Text()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return "", ErrCodeNotFound
		case "expired":
			return "", ErrCodeExpired
		case "mismatch":
			return "", ErrCodeMismatch
		case "attempts_exceeded":
			return "", ErrCodeAttemptsExceeded
		default:
			return "", fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
		}
	}
	return identityID, nil
}

// Get returns the live record for (target, purpose) without consuming it.
// Expired records are deleted and reported as [ErrCodeExpired].
func (s *CodeStore) Get(ctx context.Context, target, purpose string) (*CodeRecord, error) {
	key := s.Key(target, purpose)
	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
	}
	if fields["h"] == "" {
		return nil, ErrCodeNotFound
	}

	record := &CodeRecord{
		IdentityID: fields["uid"],
		CodeHash:   fields["h"],
		CreatedAt:  millis(fields["c"]),
		ExpiresAt:  millis(fields["e"]),
	}
	record.Attempts, _ = strconv.Atoi(fields["a"])

	if s.now().After(record.ExpiresAt) {
		_, _ = s.redis.Del(ctx, key).Result()
		return nil, ErrCodeExpired
	}
	return record, nil
}

// Delete removes the record for (target, purpose).
func (s *CodeStore) Delete(ctx context.Context, target, purpose string) error {
	if err := s.redis.Del(ctx, s.Key(target, purpose)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
	}
	return nil
}

func millis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
