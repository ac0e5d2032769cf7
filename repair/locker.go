package repair

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// StoreLocker serialises repair runs per store.
type StoreLocker interface {
	Lock(ctx context.Context, storeId int) (unlock func(), err error)
}

// LocalLocker serialises within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[int]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[int]chan struct{})}
}

func (l *LocalLocker) slot(storeId int) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[storeId]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[storeId] = s
	}
	return s
}

func (l *LocalLocker) Lock(ctx context.Context, storeId int) (func(), error) {
	s := l.slot(storeId)
	select {
	case s <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-s }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

const (
	defaultLockTTL  = 2 * time.Minute
	defaultLockWait = 30 * time.Second
)

// RedisLocker serialises across service instances.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisLocker(client *redislock.Client, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait}
}

func (l *RedisLocker) Lock(ctx context.Context, storeId int) (func(), error) {
	if l.client == nil {
		return nil, errors.New("redis lock client is nil")
	}
	obtainCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	lock, err := l.client.Obtain(obtainCtx, fmt.Sprintf("lock:integrity-repair:%d", storeId), l.ttl, &redislock.Options{
		RetryStrategy: redislock.ExponentialBackoff(10*time.Millisecond, time.Second),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("store %d repair lock busy: %w", storeId, err)
		}
		return nil, err
	}
	return func() { _ = lock.Release(context.Background()) }, nil
}
