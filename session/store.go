package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/waanverse/waanauth/internal"
)

// ErrRedisUnavailable wraps every transport-level Redis failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when a session record does not exist (or has expired).
var ErrNotFound = errors.New("session not found")

// ErrRevoked is returned by refresh consumption when the session is inactive.
var ErrRevoked = errors.New("session revoked")

// ErrRefreshReused is returned when an already consumed refresh token id is
// presented again. The session is revoked as a side effect.
var ErrRefreshReused = errors.New("refresh token reused")

const (
	refreshStatusNotFound int64 = 0
	refreshStatusRevoked  int64 = 1
	refreshStatusReused   int64 = 2
	refreshStatusOK       int64 = 3
)

// Every key a script touches is passed in KEYS so the scripts run on Redis
// Cluster when the prefix carries a hash tag.

const touchScript = `
if redis.call("HGET", KEYS[1], "active") ~= "1" then
  return 0
end
if redis.call("HGET", KEYS[1], "uid") ~= ARGV[2] then
  return 0
end
redis.call("HSET", KEYS[1], "used", ARGV[1])
redis.call("ZADD", KEYS[2], ARGV[1], ARGV[3])
return 1
`

var touchLua = redis.NewScript(touchScript)

const revokeScript = `
local uid = redis.call("HGET", KEYS[1], "uid")
if not uid then
  return 0
end
if ARGV[2] ~= "" and uid ~= ARGV[2] then
  return 0
end
if redis.call("HGET", KEYS[1], "active") == "1" then
  redis.call("HSET", KEYS[1], "active", "0", "revoked", ARGV[1])
end
return 1
`

var revokeLua = redis.NewScript(revokeScript)

const revokeAllScript = `
local revoked = 0
for i = 2, #KEYS do
  local sid = ARGV[i]
  local active = redis.call("HGET", KEYS[i], "active")
  if not active then
    redis.call("ZREM", KEYS[1], sid)
  elseif active == "1" then
    redis.call("HSET", KEYS[i], "active", "0", "revoked", ARGV[1])
    revoked = revoked + 1
  end
end
return revoked
`

var revokeAllLua = redis.NewScript(revokeAllScript)

const consumeRefreshScript = `
local active = redis.call("HGET", KEYS[1], "active")
if not active then
  return 0
end
if redis.call("HGET", KEYS[1], "uid") ~= ARGV[2] then
  return 0
end
if active ~= "1" then
  return 1
end
if ARGV[1] ~= "" then
  if redis.call("SISMEMBER", KEYS[2], ARGV[1]) == 1 then
    redis.call("HSET", KEYS[1], "active", "0", "revoked", ARGV[3])
    return 2
  end
  redis.call("SADD", KEYS[2], ARGV[1])
  redis.call("PEXPIRE", KEYS[2], ARGV[4])
end
redis.call("HSET", KEYS[1], "used", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[5])
redis.call("PEXPIRE", KEYS[3], ARGV[4])
return 3
`

var consumeRefreshLua = redis.NewScript(consumeRefreshScript)

// Store is the Redis session registry.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewStore creates a [Store]. ttl bounds how long a session record (active or
// revoked) is retained and should match the refresh token lifetime.
func NewStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "was"
	}
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &Store{
		redis:  rdb,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userKey(identityID string) string {
	return s.prefix + ":u:" + identityID
}

func (s *Store) refreshKey(sessionID string) string {
	return s.prefix + ":r:" + sessionID
}

// Create always persists a new active session. Sessions are never
// deduplicated by device; an identity may own any number of them.
func (s *Store) Create(ctx context.Context, identityID string, meta Metadata) (*Session, error) {
	if identityID == "" {
		return nil, errors.New("identity id required")
	}
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:          sid.String(),
		IdentityID:  identityID,
		UserAgent:   meta.UserAgent,
		IPAddress:   meta.IPAddress,
		DeviceID:    meta.DeviceID,
		LoginMethod: meta.LoginMethod,
		CreatedAt:   now,
		LastUsed:    now,
		IsActive:    true,
	}

	ms := now.UnixMilli()
	sessionKey := s.key(sess.ID)
	userKey := s.userKey(identityID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey,
			"uid", identityID,
			"ua", meta.UserAgent,
			"ip", meta.IPAddress,
			"dev", meta.DeviceID,
			"method", meta.LoginMethod,
			"created", ms,
			"used", ms,
			"active", "1",
		)
		pipe.PExpire(ctx, sessionKey, s.ttl)
		pipe.ZAdd(ctx, userKey, redis.Z{Score: float64(ms), Member: sess.ID})
		pipe.PExpire(ctx, userKey, s.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return sess, nil
}

// Get loads a session, active or revoked. Missing records return [ErrNotFound].
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	if !wellFormed(sessionID) {
		return nil, ErrNotFound
	}
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	sess, ok := decode(sessionID, fields)
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Touch records use of a session owned by identityID. It is informational
// only: missing, revoked or foreign sessions are ignored and never produce
// an error on their own.
func (s *Store) Touch(ctx context.Context, identityID, sessionID string) error {
	if sessionID == "" || identityID == "" {
		return nil
	}
	ms := s.now().UnixMilli()
	keys := []string{s.key(sessionID), s.userKey(identityID)}
	err := touchLua.Run(ctx, s.redis, keys, ms, identityID, sessionID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Revoke marks a session inactive. Revoking an already revoked session
// succeeds; an unknown id returns [ErrNotFound].
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	return s.revoke(ctx, sessionID, "")
}

// RevokeOwned revokes sessionID only when it belongs to identityID. A session
// owned by someone else is reported as [ErrNotFound].
func (s *Store) RevokeOwned(ctx context.Context, identityID, sessionID string) error {
	if identityID == "" {
		return ErrNotFound
	}
	return s.revoke(ctx, sessionID, identityID)
}

func (s *Store) revoke(ctx context.Context, sessionID, owner string) error {
	if !wellFormed(sessionID) {
		return ErrNotFound
	}
	res, err := revokeLua.Run(ctx, s.redis, []string{s.key(sessionID)}, s.now().UnixMilli(), owner).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAll atomically marks every active session of identityID inactive and
// returns how many were revoked.
func (s *Store) RevokeAll(ctx context.Context, identityID string) (int, error) {
	userKey := s.userKey(identityID)
	ids, err := s.redis.ZRange(ctx, userKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids)+1)
	args := make([]interface{}, 0, len(ids)+1)
	keys = append(keys, userKey)
	args = append(args, s.now().UnixMilli())
	for _, id := range ids {
		keys = append(keys, s.key(id))
		args = append(args, id)
	}
	res, err := revokeAllLua.Run(ctx, s.redis, keys, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(res), nil
}

// List returns every retained session of identityID, active and revoked,
// most recently used first. Index entries whose record expired are pruned.
func (s *Store) List(ctx context.Context, identityID string) ([]Session, error) {
	userKey := s.userKey(identityID)
	ids, err := s.redis.ZRevRange(ctx, userKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]Session, 0, len(ids))
	stale := make([]interface{}, 0)
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		sess, ok := decode(ids[i], fields)
		if !ok || sess.IdentityID != identityID {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, *sess)
	}
	if len(stale) > 0 {
		_ = s.redis.ZRem(ctx, userKey, stale...).Err()
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUsed.After(out[j].LastUsed)
	})
	return out, nil
}

// ConsumeRefresh validates that sessionID is active and owned by identityID
// before a refresh. When jti is non-empty it is recorded as consumed; a jti
// seen before revokes the session and returns [ErrRefreshReused]. On success
// the session's last use and retention are extended.
func (s *Store) ConsumeRefresh(ctx context.Context, identityID, sessionID, jti string) error {
	if !wellFormed(sessionID) {
		return errors.Join(ErrNotFound, redis.Nil)
	}
	now := s.now().UnixMilli()
	res, err := consumeRefreshLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.refreshKey(sessionID), s.userKey(identityID)},
		jti,
		identityID,
		now,
		s.ttl.Milliseconds(),
		sessionID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch res {
	case refreshStatusOK:
		return nil
	case refreshStatusRevoked:
		return ErrRevoked
	case refreshStatusReused:
		return ErrRefreshReused
	default:
		return errors.Join(ErrNotFound, redis.Nil)
	}
}

// ShouldEmitAnomaly reports whether no anomaly of kind was recorded for
// sessionID within window, and records this one.
func (s *Store) ShouldEmitAnomaly(ctx context.Context, sessionID, kind string, window time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.prefix+":a:"+sessionID+":"+kind, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}

// Ping measures one round trip to Redis.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

// wellFormed rejects ids this store could not have issued without a round trip.
func wellFormed(sessionID string) bool {
	_, err := internal.ParseSessionID(sessionID)
	return err == nil
}

func decode(sessionID string, fields map[string]string) (*Session, bool) {
	uid := fields["uid"]
	if uid == "" {
		return nil, false
	}
	sess := &Session{
		ID:          sessionID,
		IdentityID:  uid,
		UserAgent:   fields["ua"],
		IPAddress:   fields["ip"],
		DeviceID:    fields["dev"],
		LoginMethod: fields["method"],
		CreatedAt:   parseMillis(fields["created"]),
		LastUsed:    parseMillis(fields["used"]),
		RevokedAt:   parseMillis(fields["revoked"]),
		IsActive:    fields["active"] == "1",
	}
	return sess, true
}

func parseMillis(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
