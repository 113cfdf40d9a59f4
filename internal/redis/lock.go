package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("therapist lock not acquired")
)

const lockRetryInterval = 25 * time.Millisecond

// Locker is used by the appointment service to guard critical sections per therapist
type Locker interface {
	WithTherapistLock(ctx context.Context, therapistID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisTherapistLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisTherapistLocker creates a locker that uses a per therapist Redis key.
// Acquisition is retried for up to wait before giving up.
func NewRedisTherapistLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisTherapistLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *redisTherapistLocker) WithTherapistLock(ctx context.Context, therapistID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:therapist:%s", therapistID.String())
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisTherapistLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire therapist lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisTherapistLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release therapist lock: %w", err)
	}
	return nil
}
