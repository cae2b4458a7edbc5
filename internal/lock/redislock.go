package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotConfigured is returned by a Locker without a Redis client.
	ErrNotConfigured = errors.New("lock: redis client not configured")
	errNoCallback    = errors.New("lock: callback not provided")
)

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 50 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

// Locker serialises work across replicas with a Redis key.
type Locker struct {
	Client *redis.Client
	Prefix string
	// Retry is the poll interval while the key is held elsewhere.
	Retry time.Duration
}

// Do runs fn while holding key. It waits until the lock is free or ctx is
// done. The lock expires after ttl even if the holder never releases it.
func (l *Locker) Do(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l == nil || l.Client == nil {
		return ErrNotConfigured
	}
	if fn == nil {
		return errNoCallback
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	retry := l.Retry
	if retry <= 0 {
		retry = defaultRetry
	}
	key = l.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(retry)
	defer ticker.Stop()
	for {
		ok, err := l.Client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	defer l.release(key, token)
	return fn(ctx)
}

func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, l.Client, []string{key}, token).Err()
}
