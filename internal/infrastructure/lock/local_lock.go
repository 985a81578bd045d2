package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker serializes keys inside one process. It ignores ttl: a lock
// is held until released. Used when Redis is disabled and in tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

func (l *LocalLocker) TryAcquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	done := make(chan struct{})
	l.held[key] = done
	return l.releaser(key, done), true, nil
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		release, ok, _ := l.TryAcquire(ctx, key, ttl)
		if ok {
			return release, nil
		}

		l.mu.Lock()
		done, busy := l.held[key]
		l.mu.Unlock()
		if !busy {
			continue
		}

		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrLockFailed
		}
	}
}

func (l *LocalLocker) releaser(key string, done chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.held[key] == done {
				delete(l.held, key)
			}
			l.mu.Unlock()
			close(done)
		})
	}
}
