package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// ErrLockHeld is returned when another holder owns the key.
var ErrLockHeld = errors.New("platform/cache: lock held")

// Locker hands out short-lived exclusive locks backed by redis SETNX.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

// NewLocker returns nil when client is nil; a nil Locker grants every lock.
func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client, script: redis.NewScript(lockReleaseScript)}
}

// Acquire takes key for ttl and returns the release func.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	if key == "" {
		return nil, errors.New("platform/cache: lock key is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("platform/cache: lock ttl must be positive")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		_ = l.script.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err()
	}, nil
}
