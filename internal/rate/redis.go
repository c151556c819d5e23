package rate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Fixed-window semantics: expiry is set only on the first hit of a window,
// or repaired if a previous PEXPIRE never landed.
const incrScript = `
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

const decrScript = `
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count > 0 then
  redis.call("DECR", KEYS[1])
end
return count
`

var (
	incrLua = redis.NewScript(incrScript)
	decrLua = redis.NewScript(decrScript)
)

// RedisBackend shares window counters across instances through Redis.
type RedisBackend struct {
	redis redis.UniversalClient
}

// NewRedisBackend returns a Backend on the given client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{redis: client}
}

func (r *RedisBackend) Incr(ctx context.Context, key string, length time.Duration) (int64, time.Duration, error) {
	res, err := incrLua.Run(ctx, r.redis, []string{key}, length.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, errors.New("unexpected rate script reply")
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

func (r *RedisBackend) Decr(ctx context.Context, key string) error {
	return decrLua.Run(ctx, r.redis, []string{key}).Err()
}
