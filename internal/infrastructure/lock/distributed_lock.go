// Package lock provides short-lived mutual exclusion across service
// instances (Redis) or within one process (LocalLocker).
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrLockFailed = errors.New("failed to acquire lock")

// Locker hands out a release func for key, or ErrLockFailed once wait
// elapses without acquiring it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (release func(), err error)
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// compare-and-delete so a holder whose lease expired cannot release the
// lock of the next holder
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock is SET key value NX PX ttl.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// RedisLocker implements Locker on top of DistributedLock.
type RedisLocker struct {
	client        *redis.Client
	prefix        string
	retryInterval time.Duration
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{
		client:        client,
		prefix:        prefix,
		retryInterval: 50 * time.Millisecond,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	l := NewDistributedLock(r.client, r.prefix+key, uuid.NewString(), ttl)
	retries := int(wait/r.retryInterval) + 1
	if err := l.Lock(ctx, r.retryInterval, retries); err != nil {
		return nil, err
	}
	return r.releaser(l), nil
}

func (r *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l := NewDistributedLock(r.client, r.prefix+key, uuid.NewString(), ttl)
	ok, err := l.TryLock(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return r.releaser(l), true, nil
}

func (r *RedisLocker) releaser(l *DistributedLock) func() {
	return func() {
		// release even if the caller's context is already done
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Unlock(ctx)
	}
}
