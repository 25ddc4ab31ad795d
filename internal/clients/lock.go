package clients

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrLockBusy is returned when another holder keeps the lock past the wait budget.
var ErrLockBusy = errors.New("lock is held by another process")

// RedisLocker serializes work on a key across replicas with SET NX PX.
type RedisLocker struct {
	redis *RedisClient
	ttl   time.Duration
	wait  time.Duration
	retry time.Duration
}

func NewRedisLocker(redis *RedisClient, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{redis: redis, ttl: ttl, wait: wait, retry: 50 * time.Millisecond}
}

// Lock blocks until the lock is acquired, wait elapses or ctx is done.
// The returned func releases the lock only if this holder still owns it.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "lock:" + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.redis.SetNX(ctx, lockKey, token, l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = l.redis.DelIfEquals(ctx, lockKey, token)
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockBusy
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
