package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const saveRefreshScript = `
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
local ttl = tonumber(ARGV[2])
if redis.call("PTTL", KEYS[2]) < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

const consumeRefreshScript = `
local owner = redis.call("GET", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[2])
if not owner then
  return 0
end
redis.call("DEL", KEYS[1])
if owner ~= ARGV[1] then
  return 0
end
return 1
`

var (
	saveRefreshLua    = redis.NewScript(saveRefreshScript)
	consumeRefreshLua = redis.NewScript(consumeRefreshScript)
)

// revokeAllAttempts bounds WATCH retries when tokens are saved for the same
// identity during RevokeAll.
const revokeAllAttempts = 8

// RedisStore implements Registry and Denylist on Redis. Keys:
//
//	<prefix>:rt:{<uid>}:<jti>  owner uid, expires with the refresh token
//	<prefix>:rtu:{<uid>}       set of the owner's jti values
//	<prefix>:deny:<jti>        present while the access token is revoked
//
// The {uid} hash tag keeps an identity's keys in one cluster slot, so every
// script and transaction below touches a single slot and names all of its
// keys up front.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

var (
	_ Registry = (*RedisStore)(nil)
	_ Denylist = (*RedisStore)(nil)
)

// NewRedisStore returns a RedisStore namespacing keys under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "auth"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) refreshKey(uid, jti string) string {
	return s.prefix + ":rt:{" + uid + "}:" + jti
}

func (s *RedisStore) userKey(uid string) string {
	return s.prefix + ":rtu:{" + uid + "}"
}

func (s *RedisStore) denyKey(jti string) string {
	return s.prefix + ":deny:" + jti
}

func (s *RedisStore) Save(ctx context.Context, uid, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	keys := []string{s.refreshKey(uid, jti), s.userKey(uid)}
	if err := saveRefreshLua.Run(ctx, s.redis, keys, uid, ttl.Milliseconds(), jti).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, uid, jti string) (bool, error) {
	keys := []string{s.refreshKey(uid, jti), s.userKey(uid)}
	n, err := consumeRefreshLua.Run(ctx, s.redis, keys, uid, jti).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Active(ctx context.Context, uid, jti string) (bool, error) {
	owner, err := s.redis.Get(ctx, s.refreshKey(uid, jti)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return owner == uid, nil
}

func (s *RedisStore) Revoke(ctx context.Context, uid, jti string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.refreshKey(uid, jti))
		pipe.SRem(ctx, s.userKey(uid), jti)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) RevokeAll(ctx context.Context, uid string) (int, error) {
	userKey := s.userKey(uid)
	var revoked int
	txf := func(tx *redis.Tx) error {
		ids, err := tx.SMembers(ctx, userKey).Result()
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(ids)+1)
		for _, jti := range ids {
			keys = append(keys, s.refreshKey(uid, jti))
		}
		keys = append(keys, userKey)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			return nil
		})
		revoked = len(ids)
		return err
	}

	for range revokeAllAttempts {
		err := s.redis.Watch(ctx, txf, userKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return revoked, nil
	}
	return 0, fmt.Errorf("%w: revoke all for %s kept conflicting", ErrRedisUnavailable, uid)
}

func (s *RedisStore) Deny(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.denyKey(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Denied(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.denyKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// Ping measures a round trip to Redis.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
