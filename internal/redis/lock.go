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
	ErrLockNotAcquired = errors.New("vet lock not acquired")
)

const lockRetryInterval = 25 * time.Millisecond

// Locker is used by the appointment service to guard booking critical sections per vet
type Locker interface {
	WithVetLock(ctx context.Context, vetID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisVetLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisVetLocker creates a locker that uses a per vet Redis key. Acquisition is retried
// for up to wait before giving up with ErrLockNotAcquired.
func NewRedisVetLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisVetLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func lockKey(vetID uuid.UUID) string {
	return fmt.Sprintf("lock:vet:%s", vetID.String())
}

func (l *redisVetLocker) WithVetLock(ctx context.Context, vetID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(vetID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release with a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisVetLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire vet lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Add(lockRetryInterval).Before(deadline) {
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

func (l *redisVetLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release vet lock: %w", err)
	}
	return nil
}
