package coordinate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockMutualExclusion(t *testing.T) {
	locks := NewMemoryLock()
	ctx := context.Background()

	ok, err := locks.TryAcquire(ctx, "wallet-42", "holder-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locks.TryAcquire(ctx, "wallet-42", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a second holder must not acquire a live lock")

	// A different resource is independent.
	ok, err = locks.TryAcquire(ctx, "wallet-43", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLockConcurrentAcquireSingleWinner(t *testing.T) {
	locks := NewMemoryLock()
	ctx := context.Background()

	const holders = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := locks.TryAcquire(ctx, "contended", string(rune('a'+n)), time.Minute)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners, "exactly one concurrent acquirer may win")
}

func TestMemoryLockExpiryReclaims(t *testing.T) {
	locks := NewMemoryLock()
	now := time.Now()
	locks.clock = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := locks.TryAcquire(ctx, "res", "crashed-holder", 50*time.Millisecond)
	require.True(t, ok)

	ok, _ = locks.TryAcquire(ctx, "res", "successor", time.Minute)
	assert.False(t, ok)

	// The holder crashes; after the TTL the resource is reclaimable.
	now = now.Add(51 * time.Millisecond)
	ok, err := locks.TryAcquire(ctx, "res", "successor", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	holder, held := locks.Holder("res")
	assert.True(t, held)
	assert.Equal(t, "successor", holder)
}

func TestMemoryLockReleaseByNonHolderIsNoOp(t *testing.T) {
	locks := NewMemoryLock()
	ctx := context.Background()

	ok, _ := locks.TryAcquire(ctx, "res", "owner", time.Minute)
	require.True(t, ok)

	require.NoError(t, locks.Release(ctx, "res", "stranger"))
	holder, held := locks.Holder("res")
	assert.True(t, held, "a stranger's release must not drop the owner's lock")
	assert.Equal(t, "owner", holder)

	require.NoError(t, locks.Release(ctx, "res", "owner"))
	_, held = locks.Holder("res")
	assert.False(t, held)

	// Releasing an absent lock never errors either.
	require.NoError(t, locks.Release(ctx, "res", "owner"))
}

func TestMemoryLockRenew(t *testing.T) {
	locks := NewMemoryLock()
	now := time.Now()
	locks.clock = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := locks.TryAcquire(ctx, "res", "owner", time.Minute)
	require.True(t, ok)

	renewed, err := locks.Renew(ctx, "res", "owner", time.Hour)
	require.NoError(t, err)
	assert.True(t, renewed)

	renewed, err = locks.Renew(ctx, "res", "stranger", time.Hour)
	require.NoError(t, err)
	assert.False(t, renewed)

	now = now.Add(2 * time.Hour)
	renewed, err = locks.Renew(ctx, "res", "owner", time.Hour)
	require.NoError(t, err)
	assert.False(t, renewed, "an expired claim cannot be renewed")
}

func TestMemoryLockReacquireByHolderExtends(t *testing.T) {
	locks := NewMemoryLock()
	ctx := context.Background()

	ok, _ := locks.TryAcquire(ctx, "res", "owner", time.Minute)
	require.True(t, ok)
	ok, err := locks.TryAcquire(ctx, "res", "owner", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "the current holder may re-acquire its own lock")
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLockMutualExclusionAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locks := NewRedisLock(client)
	ctx := context.Background()

	ok, err := locks.TryAcquire(ctx, "wallet-42", "holder-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locks.TryAcquire(ctx, "wallet-42", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = locks.TryAcquire(ctx, "wallet-42", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "an expired lock is reclaimable")
}

func TestRedisLockReleaseOnlyByOwner(t *testing.T) {
	locks := NewRedisLock(newTestRedis(t))
	ctx := context.Background()

	ok, err := locks.TryAcquire(ctx, "res", "owner", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locks.Release(ctx, "res", "stranger"))
	ok, err = locks.TryAcquire(ctx, "res", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "stranger release must not free the lock")

	require.NoError(t, locks.Release(ctx, "res", "owner"))
	ok, err = locks.TryAcquire(ctx, "res", "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockRenew(t *testing.T) {
	locks := NewRedisLock(newTestRedis(t))
	ctx := context.Background()

	ok, err := locks.TryAcquire(ctx, "res", "owner", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	renewed, err := locks.Renew(ctx, "res", "owner", time.Hour)
	require.NoError(t, err)
	assert.True(t, renewed)

	renewed, err = locks.Renew(ctx, "res", "stranger", time.Hour)
	require.NoError(t, err)
	assert.False(t, renewed)
}
