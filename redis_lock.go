package coordinate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisLockKeyPrefix = "coordinate:lock:"

// releaseScript deletes the lock key only if it is still owned by the
// caller, so a holder whose TTL lapsed cannot release a successor's claim.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only for the current owner.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock is a LockBackend built on Redis SET NX PX plus owner-checked
// Lua scripts for release and renewal.
type RedisLock struct {
	client redis.UniversalClient
}

// NewRedisLock creates a Redis-backed lock backend.
func NewRedisLock(client redis.UniversalClient) *RedisLock {
	return &RedisLock{client: client}
}

// TryAcquire implements the LockBackend interface.
func (r *RedisLock) TryAcquire(ctx context.Context, resource, holder string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, redisLockKeyPrefix+resource, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock for %q: %w", resource, err)
	}
	return ok, nil
}

// Release implements the LockBackend interface.
func (r *RedisLock) Release(ctx context.Context, resource, holder string) error {
	if err := releaseScript.Run(ctx, r.client, []string{redisLockKeyPrefix + resource}, holder).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock for %q: %w", resource, err)
	}
	return nil
}

// Renew implements the LockBackend interface.
func (r *RedisLock) Renew(ctx context.Context, resource, holder string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, r.client, []string{redisLockKeyPrefix + resource}, holder, ttl.Milliseconds()).Int64()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("failed to renew lock for %q: %w", resource, err)
	}
	return n == 1, nil
}
