package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDistributedLockExclusive(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	a := NewDistributedLock(client, "k", "a", time.Minute)
	b := NewDistributedLock(client, "k", "b", time.Minute)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// b does not own the key, so its unlock is a no-op
	require.NoError(t, b.Unlock(ctx))
	ok, _ = b.TryLock(ctx)
	assert.False(t, ok)

	require.NoError(t, a.Unlock(ctx))
	ok, _ = b.TryLock(ctx)
	assert.True(t, ok)
}

func TestDistributedLockExpires(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	a := NewDistributedLock(client, "k", "a", time.Second)
	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	b := NewDistributedLock(client, "k", "b", time.Second)
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockerAcquireTimesOut(t *testing.T) {
	_, client := newRedis(t)
	locker := NewRedisLocker(client, "test:")
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "wallet:1", time.Minute, 0)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "wallet:1", time.Minute, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockFailed)

	release()
	release2, err := locker.Acquire(ctx, "wallet:1", time.Minute, 0)
	require.NoError(t, err)
	release2()
}

func TestRedisLockerTryAcquire(t *testing.T) {
	_, client := newRedis(t)
	locker := NewRedisLocker(client, "test:")
	ctx := context.Background()

	release, ok, err := locker.TryAcquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryAcquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	_, ok, _ = locker.TryAcquire(ctx, "sweep", time.Minute)
	assert.True(t, ok)
}

func TestLocalLockerSerializes(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "k", time.Second, 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}

func TestLocalLockerTimeoutAndDoubleRelease(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, ok, err := locker.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = locker.Acquire(ctx, "k", time.Second, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockFailed)

	release()
	release()

	_, ok, _ = locker.TryAcquire(ctx, "k", time.Second)
	assert.True(t, ok)
}
