package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps every Redis failure.
var ErrStoreUnavailable = errors.New("session store unavailable")

// ErrSessionNotFound is returned when no record exists for the session id.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionNotValid is returned when an operation requires a live session.
var ErrSessionNotValid = errors.New("session not valid")

// ErrSessionExpired is returned when the session is past its expiry.
var ErrSessionExpired = errors.New("session expired")

// ErrRefreshReuse is returned when the presented refresh token is not the
// session's current one. The token was either rotated away or never belonged
// to the session, so the session is invalidated before the error is returned.
var ErrRefreshReuse = errors.New("refresh token reused")

// ErrRefreshCeilingExceeded is returned when a rotation would exceed the ceiling.
// The session is invalidated before the error is returned.
var ErrRefreshCeilingExceeded = errors.New("refresh ceiling exceeded")

// ErrAccessMismatch is returned when an access token was superseded by a rotation.
var ErrAccessMismatch = errors.New("access token superseded")

const (
	fieldID          = "id"
	fieldIdentity    = "uid"
	fieldAccessHash  = "ah"
	fieldRefreshHash = "rh"
	fieldCreatedAt   = "ca"
	fieldExpiresAt   = "ea"
	fieldActivity    = "la"
	fieldRefreshes   = "rc"
	fieldCeiling     = "rmax"
	fieldActive      = "act"
	fieldSuspicious  = "sus"
	fieldIP          = "ip"
	fieldUserAgent   = "ua"
)

const (
	statusNotFound int64 = 0
	statusInactive int64 = 1
	statusExpired  int64 = 2
	statusReuse    int64 = 3
	statusCeiling  int64 = 4
	statusOK       int64 = 5
)

const extendScript = `
local key = KEYS[1]
local exp_key = KEYS[2]
local now = tonumber(ARGV[1])

if redis.call("EXISTS", key) == 0 then
  return 0
end
local fields = redis.call("HMGET", key, "act", "ea")
if fields[1] ~= "1" then
  return 1
end
if tonumber(fields[2] or "0") <= now then
  return 2
end
redis.call("HSET", key, "ea", ARGV[2], "la", ARGV[1])
redis.call("ZADD", exp_key, ARGV[2], ARGV[4])
redis.call("PEXPIREAT", key, ARGV[3])
return 5
`

var extendLua = redis.NewScript(extendScript)

const rotateScript = `
local key = KEYS[1]
local exp_key = KEYS[2]
local now = tonumber(ARGV[1])

if redis.call("EXISTS", key) == 0 then
  return {0, 0}
end
local fields = redis.call("HMGET", key, "act", "ea", "rh", "rc", "rmax")
local rc = tonumber(fields[4] or "0")
local rmax = tonumber(fields[5] or "0")

if fields[1] ~= "1" then
  return {1, rc}
end
if tonumber(fields[2] or "0") <= now then
  return {2, rc}
end
if fields[3] ~= ARGV[2] then
  redis.call("HSET", key, "act", "0", "ah", "", "rh", "")
  return {3, rc}
end
if rc >= rmax then
  redis.call("HSET", key, "act", "0", "ah", "")
  return {4, rc}
end

rc = rc + 1
redis.call("HSET", key, "ah", ARGV[3], "rh", ARGV[4], "ea", ARGV[5], "la", ARGV[1], "rc", tostring(rc))
redis.call("ZADD", exp_key, ARGV[5], ARGV[7])
redis.call("PEXPIREAT", key, ARGV[6])
return {5, rc}
`

var rotateLua = redis.NewScript(rotateScript)

const activityScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local ip = ARGV[2]
local ua = ARGV[3]

if redis.call("EXISTS", key) == 0 then
  return {0, 0}
end
local fields = redis.call("HMGET", key, "act", "ea", "ip")
if fields[1] ~= "1" then
  return {1, 0}
end
if tonumber(fields[2] or "0") <= now then
  return {2, 0}
end

local changed = 0
local stored = fields[3] or ""
if ip ~= "" and stored ~= "" and stored ~= ip then
  changed = 1
  redis.call("HSET", key, "sus", "1")
end
redis.call("HSET", key, "la", ARGV[1])
if ip ~= "" then
  redis.call("HSET", key, "ip", ip)
end
if ua ~= "" then
  redis.call("HSET", key, "ua", ua)
end
return {5, changed}
`

var activityLua = redis.NewScript(activityScript)

const markSuspiciousScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "sus", "1")
return 5
`

var markSuspiciousLua = redis.NewScript(markSuspiciousScript)

const invalidateScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
if redis.call("HGET", key, "act") ~= "1" then
  return 1
end
redis.call("HSET", key, "act", "0", "ah", "")
return 5
`

var invalidateLua = redis.NewScript(invalidateScript)

const sweepScript = `
local key = KEYS[1]
local exp_key = KEYS[2]
local now = tonumber(ARGV[1])
local sid = ARGV[2]

if redis.call("EXISTS", key) == 0 then
  redis.call("ZREM", exp_key, sid)
  return 0
end
local fields = redis.call("HMGET", key, "ea", "uid")
if tonumber(fields[1] or "0") > now then
  redis.call("ZADD", exp_key, fields[1], sid)
  return 1
end

redis.call("DEL", key)
redis.call("ZREM", exp_key, sid)
if fields[2] then
  redis.call("SREM", ARGV[3] .. fields[2], sid)
end
return 2
`

var sweepLua = redis.NewScript(sweepScript)

// RedisStore persists sessions as Redis hashes. Each session key carries a
// backstop PEXPIREAT of ExpiresAt plus the retention window so records vanish
// even if the sweeper never runs.
//
// Keys: <prefix>:s:<sid> (hash), <prefix>:u:<uid> (set of sids),
// <prefix>:exp (sorted set of sid by ExpiresAt in unix millis).
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a session store under the given key prefix.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "ac"
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisStore{redis: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *RedisStore) userPrefix() string {
	return s.prefix + ":u:"
}

func (s *RedisStore) userKey(identityID string) string {
	return s.userPrefix() + identityID
}

func (s *RedisStore) expKey() string {
	return s.prefix + ":exp"
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (s *RedisStore) backstop(expiresAt time.Time) string {
	return millis(expiresAt.Add(s.retention))
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// Save writes a complete session record and its indexes.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	key := s.key(sess.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			fieldID:          sess.ID,
			fieldIdentity:    sess.IdentityID,
			fieldAccessHash:  sess.AccessHash,
			fieldRefreshHash: sess.RefreshHash,
			fieldCreatedAt:   millis(sess.CreatedAt),
			fieldExpiresAt:   millis(sess.ExpiresAt),
			fieldActivity:    millis(sess.LastActivityAt),
			fieldRefreshes:   strconv.Itoa(sess.RefreshCount),
			fieldCeiling:     strconv.Itoa(sess.RefreshCeiling),
			fieldActive:      boolField(sess.Active),
			fieldSuspicious:  boolField(sess.Suspicious),
			fieldIP:          sess.IP,
			fieldUserAgent:   sess.UserAgent,
		})
		pipe.SAdd(ctx, s.userKey(sess.IdentityID), sess.ID)
		pipe.ZAdd(ctx, s.expKey(), redis.Z{Score: float64(sess.ExpiresAt.UnixMilli()), Member: sess.ID})
		pipe.PExpireAt(ctx, key, sess.ExpiresAt.Add(s.retention))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get loads a session record regardless of its state.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return decodeSession(fields)
}

// Extend moves ExpiresAt to next if the session is valid at now.
func (s *RedisStore) Extend(ctx context.Context, sessionID string, now, next time.Time) error {
	res, err := extendLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.expKey()},
		millis(now), millis(next), s.backstop(next), sessionID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return statusError(res)
}

// RotateRequest carries the digests for one refresh rotation.
type RotateRequest struct {
	SessionID        string
	PresentedRefresh string
	NextAccess       string
	NextRefresh      string
	Now              time.Time
	NextExpiry       time.Time
}

// Rotate atomically swaps token digests and increments the refresh counter. It
// returns the new counter value.
func (s *RedisStore) Rotate(ctx context.Context, req RotateRequest) (int, error) {
	raw, err := rotateLua.Run(ctx, s.redis,
		[]string{s.key(req.SessionID), s.expKey()},
		millis(req.Now),
		req.PresentedRefresh,
		req.NextAccess,
		req.NextRefresh,
		millis(req.NextExpiry),
		s.backstop(req.NextExpiry),
		req.SessionID,
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(raw) != 2 {
		return 0, fmt.Errorf("%w: invalid rotate script response", ErrStoreUnavailable)
	}
	return int(raw[1]), statusError(raw[0])
}

// Touch records activity at now. It reports whether ip differs from the IP
// previously stored, in which case the session is flagged suspicious.
func (s *RedisStore) Touch(ctx context.Context, sessionID string, now time.Time, client ClientInfo) (bool, error) {
	raw, err := activityLua.Run(ctx, s.redis,
		[]string{s.key(sessionID)},
		millis(now), client.IP, client.UserAgent,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(raw) != 2 {
		return false, fmt.Errorf("%w: invalid activity script response", ErrStoreUnavailable)
	}
	if err := statusError(raw[0]); err != nil {
		return false, err
	}
	return raw[1] == 1, nil
}

// MarkSuspicious sets the suspicious flag without changing any other field.
func (s *RedisStore) MarkSuspicious(ctx context.Context, sessionID string) error {
	res, err := markSuspiciousLua.Run(ctx, s.redis, []string{s.key(sessionID)}).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return statusError(res)
}

// Invalidate deactivates a session and clears its access digest. The refresh
// digest is kept. It reports whether the session was already inactive.
func (s *RedisStore) Invalidate(ctx context.Context, sessionID string) (bool, error) {
	res, err := invalidateLua.Run(ctx, s.redis, []string{s.key(sessionID)}).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	switch res {
	case statusInactive:
		return true, nil
	case statusOK:
		return false, nil
	default:
		return false, statusError(res)
	}
}

// IDsForIdentity lists every session id indexed under an identity.
func (s *RedisStore) IDsForIdentity(ctx context.Context, identityID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(identityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

// ListForIdentity loads every session indexed under an identity, most recently
// active first. Index entries whose record has gone are removed.
func (s *RedisStore) ListForIdentity(ctx context.Context, identityID string) ([]*Session, error) {
	ids, err := s.IDsForIdentity(ctx, identityID)
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]*Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		fields, cmdErr := cmd.Result()
		if cmdErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, cmdErr)
		}
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		sess, err := decodeSession(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, s.userKey(identityID), stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

// ExpiredCandidates returns up to limit session ids whose indexed expiry is at or
// before now.
func (s *RedisStore) ExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := s.redis.ZRangeByScore(ctx, s.expKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   millis(now),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

// DeleteIfExpired removes a session only if its stored expiry is still at or
// before now. A session extended since it was indexed is re-indexed instead.
func (s *RedisStore) DeleteIfExpired(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	res, err := sweepLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.expKey()},
		millis(now), sessionID, s.userPrefix(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res == 2, nil
}

// Ping checks Redis reachability.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func statusError(status int64) error {
	switch status {
	case statusOK:
		return nil
	case statusNotFound:
		return ErrSessionNotFound
	case statusInactive:
		return ErrSessionNotValid
	case statusExpired:
		return ErrSessionExpired
	case statusReuse:
		return ErrRefreshReuse
	case statusCeiling:
		return ErrRefreshCeilingExceeded
	default:
		return fmt.Errorf("%w: unknown script status %d", ErrStoreUnavailable, status)
	}
}

func decodeSession(fields map[string]string) (*Session, error) {
	parseMillis := func(name string) (time.Time, error) {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: corrupt session field %s", ErrStoreUnavailable, name)
		}
		return time.UnixMilli(v), nil
	}
	parseInt := func(name string) (int, error) {
		v, err := strconv.Atoi(fields[name])
		if err != nil {
			return 0, fmt.Errorf("%w: corrupt session field %s", ErrStoreUnavailable, name)
		}
		return v, nil
	}

	created, err := parseMillis(fieldCreatedAt)
	if err != nil {
		return nil, err
	}
	expires, err := parseMillis(fieldExpiresAt)
	if err != nil {
		return nil, err
	}
	activity, err := parseMillis(fieldActivity)
	if err != nil {
		return nil, err
	}
	count, err := parseInt(fieldRefreshes)
	if err != nil {
		return nil, err
	}
	ceiling, err := parseInt(fieldCeiling)
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:             fields[fieldID],
		IdentityID:     fields[fieldIdentity],
		AccessHash:     fields[fieldAccessHash],
		RefreshHash:    fields[fieldRefreshHash],
		CreatedAt:      created,
		ExpiresAt:      expires,
		LastActivityAt: activity,
		RefreshCount:   count,
		RefreshCeiling: ceiling,
		Active:         fields[fieldActive] == "1",
		Suspicious:     fields[fieldSuspicious] == "1",
		IP:             fields[fieldIP],
		UserAgent:      fields[fieldUserAgent],
	}, nil
}
