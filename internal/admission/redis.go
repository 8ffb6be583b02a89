package admission

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript is the whole fixed-window decision in one round trip. The check
// runs before the increment, so a full window is never pushed past its
// limit; the first hit of a window creates the key with the window as its
// expiry. Returns 0 when admitted, otherwise the window's remaining
// milliseconds.
const hitScript = `local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current > 0 then
  if current + 1 > tonumber(ARGV[1]) then
    return redis.call("PTTL", KEYS[1])
  end
  redis.call("INCR", KEYS[1])
  return 0
end
redis.call("SET", KEYS[1], 1, "PX", ARGV[2])
return 0
`

var hitLua = redis.NewScript(hitScript)

// RedisCounter is the shared CounterStore used when multiple processes serve
// the same routes.
type RedisCounter struct {
	redis redis.UniversalClient
}

func NewRedisCounter(redisClient redis.UniversalClient) *RedisCounter {
	return &RedisCounter{redis: redisClient}
}

var _ CounterStore = (*RedisCounter)(nil)

func (c *RedisCounter) Hit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	res, err := hitLua.Run(ctx, c.redis, []string{key}, limit, window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, err
	}
	if res == 0 {
		return true, 0, nil
	}
	if res < 0 {
		// Key at limit but missing its expiry (PTTL -1/-2); refuse now,
		// the window will sort itself out.
		return false, 0, nil
	}
	return false, time.Duration(res) * time.Millisecond, nil
}
