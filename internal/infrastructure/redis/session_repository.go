package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/potluck-hub/potluck-hub/internal/domain/session"
)

const (
	sessionPrefix   = "auth:session:"
	userIndexPrefix = "auth:user-sessions:"
	scanBatch       = 256
)

// Each session is a hash at auth:session:<token hash> that Redis expires at
// expires_at. auth:user-sessions:<user id> is a sorted set of the user's token
// hashes scored by last access in milliseconds; it may hold stale members,
// which the scripts and the sweep remove. Eviction ties on score go to the
// oldest created_at_ms.

// KEYS[1] user index, KEYS[2] new session.
// ARGV: now ms, max, token hash, score, expires ms, session prefix, field/value pairs...
var createScript = goredis.NewScript(`
local zkey = KEYS[1]
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local prefix = ARGV[6]

local members = redis.call('ZRANGE', zkey, 0, -1)
for _, m in ipairs(members) do
  local exp = redis.call('HGET', prefix .. m, 'expires_at_ms')
  if not exp or tonumber(exp) <= now then
    redis.call('ZREM', zkey, m)
  end
end

local evicted = {}
if max > 0 then
  local scored = redis.call('ZRANGE', zkey, 0, -1, 'WITHSCORES')
  local count = #scored / 2
  if count >= max then
    local ranked = {}
    for i = 1, #scored, 2 do
      local created = redis.call('HGET', prefix .. scored[i], 'created_at_ms')
      table.insert(ranked, {m = scored[i], score = tonumber(scored[i + 1]), created = tonumber(created) or 0})
    end
    table.sort(ranked, function(a, b)
      if a.score ~= b.score then
        return a.score < b.score
      end
      if a.created ~= b.created then
        return a.created < b.created
      end
      return a.m < b.m
    end)
    for i = 1, count - max + 1 do
      local m = ranked[i].m
      table.insert(evicted, m)
      table.insert(evicted, redis.call('HGETALL', prefix .. m))
      redis.call('DEL', prefix .. m)
      redis.call('ZREM', zkey, m)
    end
  end
end

local fields = {}
for i = 7, #ARGV do
  table.insert(fields, ARGV[i])
end
redis.call('HSET', KEYS[2], unpack(fields))
redis.call('PEXPIREAT', KEYS[2], ARGV[5])
redis.call('ZADD', zkey, ARGV[4], ARGV[3])
return evicted
`)

// KEYS[1] session. ARGV: last access, score, token hash, index prefix.
var touchScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'last_accessed_at', ARGV[1])
local uid = redis.call('HGET', KEYS[1], 'user_id')
if uid then
  redis.call('ZADD', ARGV[4] .. uid, 'XX', ARGV[2], ARGV[3])
end
return 1
`)

// KEYS[1] session. ARGV: index prefix, token hash.
var deleteScript = goredis.NewScript(`
local fields = redis.call('HGETALL', KEYS[1])
if #fields == 0 then
  return fields
end
for i = 1, #fields, 2 do
  if fields[i] == 'user_id' then
    redis.call('ZREM', ARGV[1] .. fields[i + 1], ARGV[2])
  end
end
redis.call('DEL', KEYS[1])
return fields
`)

// KEYS[1] user index. ARGV: session prefix.
var deleteUserScript = goredis.NewScript(`
local members = redis.call('ZRANGE', KEYS[1], 0, -1)
local n = 0
for _, m in ipairs(members) do
  n = n + redis.call('DEL', ARGV[1] .. m)
end
redis.call('DEL', KEYS[1])
return n
`)

// SessionRepository implements session.Repository on Redis.
type SessionRepository struct {
	client goredis.UniversalClient
}

func NewSessionRepository(client goredis.UniversalClient) *SessionRepository {
	return &SessionRepository{client: client}
}

func sessionKey(tokenHash string) string {
	return sessionPrefix + tokenHash
}

func userIndexKey(userID uuid.UUID) string {
	return userIndexPrefix + userID.String()
}

func (r *SessionRepository) CreateAndTrim(ctx context.Context, s *session.Session, maxPerUser int) ([]*session.Session, error) {
	args := []any{
		s.CreatedAt.UnixMilli(),
		maxPerUser,
		s.TokenHash,
		s.LastAccessedAt.UnixMilli(),
		s.ExpiresAt.UnixMilli(),
		sessionPrefix,
	}
	args = append(args, encodeSession(s)...)

	res, err := createScript.Run(ctx, r.client, []string{userIndexKey(s.UserID), sessionKey(s.TokenHash)}, args...).Slice()
	if err != nil {
		return nil, err
	}

	var evicted []*session.Session
	for i := 0; i+1 < len(res); i += 2 {
		hash, _ := res[i].(string)
		fields, err := pairs(res[i+1])
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		e, err := decodeSession(hash, fields)
		if err != nil {
			return nil, err
		}
		evicted = append(evicted, e)
	}
	return evicted, nil
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*session.Session, error) {
	fields, err := r.client.HGetAll(ctx, sessionKey(tokenHash)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	s, err := decodeSession(tokenHash, fields)
	if err != nil {
		return nil, err
	}
	if !s.IsValid(now) {
		return nil, nil
	}
	return s, nil
}

func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]*session.Session, error) {
	hashes, err := r.client.ZRevRange(ctx, userIndexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(hashes))
	for i, h := range hashes {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(h))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	var list []*session.Session
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		s, err := decodeSession(hashes[i], fields)
		if err != nil {
			return nil, err
		}
		if s.IsValid(now) {
			list = append(list, s)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].LastAccessedAt.Equal(list[j].LastAccessedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].LastAccessedAt.After(list[j].LastAccessedAt)
	})
	return list, nil
}

func (r *SessionRepository) UpdateLastAccessed(ctx context.Context, tokenHash string, at time.Time) error {
	return touchScript.Run(ctx, r.client, []string{sessionKey(tokenHash)},
		formatTime(at), at.UnixMilli(), tokenHash, userIndexPrefix).Err()
}

func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	res, err := deleteScript.Run(ctx, r.client, []string{sessionKey(tokenHash)}, userIndexPrefix, tokenHash).Result()
	if err != nil {
		return nil, err
	}
	fields, err := pairs(res)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeSession(tokenHash, fields)
}

func (r *SessionRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := deleteUserScript.Run(ctx, r.client, []string{userIndexKey(userID)}, sessionPrefix).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteExpired removes session hashes that Redis has not expired yet and
// prunes index members whose session is gone.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	deleted := 0
	iter := r.client.Scan(ctx, 0, sessionPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.HGet(ctx, key, "expires_at_ms").Result()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			return deleted, err
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms > now.UnixMilli() {
			continue
		}
		n, err := r.client.Del(ctx, key).Result()
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, r.pruneIndexes(ctx)
}

func (r *SessionRepository) pruneIndexes(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, userIndexPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		members, err := r.client.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		for _, m := range members {
			exists, err := r.client.Exists(ctx, sessionKey(m)).Result()
			if err != nil {
				return err
			}
			if exists == 0 {
				if err := r.client.ZRem(ctx, key, m).Err(); err != nil {
					return err
				}
			}
		}
	}
	return iter.Err()
}

func encodeSession(s *session.Session) []any {
	fields := []any{
		"session_id", s.SessionID.String(),
		"user_id", s.UserID.String(),
		"provider", s.Provider,
		"created_at", formatTime(s.CreatedAt),
		"last_accessed_at", formatTime(s.LastAccessedAt),
		"expires_at", formatTime(s.ExpiresAt),
		"expires_at_ms", s.ExpiresAt.UnixMilli(),
		"created_at_ms", s.CreatedAt.UnixMilli(),
	}
	if s.UserAgent != nil {
		fields = append(fields, "user_agent", *s.UserAgent)
	}
	if s.IPAddress != nil {
		fields = append(fields, "ip_address", *s.IPAddress)
	}
	return fields
}

func decodeSession(tokenHash string, f map[string]string) (*session.Session, error) {
	s := &session.Session{TokenHash: tokenHash, Provider: f["provider"]}
	var err error
	if s.SessionID, err = uuid.Parse(f["session_id"]); err != nil {
		return nil, fmt.Errorf("decode session %s: session_id: %w", tokenHash, err)
	}
	if s.UserID, err = uuid.Parse(f["user_id"]); err != nil {
		return nil, fmt.Errorf("decode session %s: user_id: %w", tokenHash, err)
	}
	for name, dst := range map[string]*time.Time{
		"created_at":       &s.CreatedAt,
		"last_accessed_at": &s.LastAccessedAt,
		"expires_at":       &s.ExpiresAt,
	} {
		if *dst, err = time.Parse(time.RFC3339Nano, f[name]); err != nil {
			return nil, fmt.Errorf("decode session %s: %s: %w", tokenHash, name, err)
		}
	}
	if v, ok := f["user_agent"]; ok {
		s.UserAgent = &v
	}
	if v, ok := f["ip_address"]; ok {
		s.IPAddress = &v
	}
	return s, nil
}

// pairs converts a flat HGETALL reply into a map.
func pairs(v any) (map[string]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected reply type %T", v)
	}
	out := make(map[string]string, len(list)/2)
	for i := 0; i+1 < len(list); i += 2 {
		k, _ := list[i].(string)
		val, _ := list[i+1].(string)
		out[k] = val
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
