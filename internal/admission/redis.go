package admission

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter tracks per-address connection counts in redis so the cap
// holds across service replicas. Counters expire as a safety net against
// leaked counts from abnormal termination.
type RedisLimiter struct {
	rdb *redis.Client
	max int
	ttl time.Duration
}

func NewRedisLimiter(rdb *redis.Client, max int, ttl time.Duration) *RedisLimiter {
	if max <= 0 {
		max = 5
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLimiter{rdb: rdb, max: max, ttl: ttl}
}

func connKey(addr string) string {
	return fmt.Sprintf("ws_connections:%s", addr)
}

// acquireScript increments only when below the limit, so a rejected
// connection mutates nothing.
var acquireScript = redis.NewScript(`
	local current = tonumber(redis.call('GET', KEYS[1]) or '0')
	if current >= tonumber(ARGV[1]) then
		return -1
	end
	current = redis.call('INCR', KEYS[1])
	redis.call('EXPIRE', KEYS[1], ARGV[2])
	return current
`)

// releaseScript decrements floored at zero and drops the key when idle.
var releaseScript = redis.NewScript(`
	local current = tonumber(redis.call('GET', KEYS[1]) or '0')
	if current <= 1 then
		redis.call('DEL', KEYS[1])
		return 0
	end
	return redis.call('DECR', KEYS[1])
`)

func (l *RedisLimiter) Acquire(ctx context.Context, addr string) error {
	n, err := acquireScript.Run(ctx, l.rdb, []string{connKey(addr)}, l.max, int(l.ttl.Seconds())).Int64()
	if err != nil {
		// Fail open: admission control protects capacity, it is not an
		// availability dependency.
		log.Printf("admission: redis acquire failed for %s: %v", addr, err)
		return nil
	}
	if n < 0 {
		return ErrLimitExceeded
	}
	return nil
}

func (l *RedisLimiter) Release(ctx context.Context, addr string) {
	if err := releaseScript.Run(ctx, l.rdb, []string{connKey(addr)}).Err(); err != nil && err != redis.Nil {
		log.Printf("admission: redis release failed for %s: %v", addr, err)
	}
}
