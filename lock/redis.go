package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only if it still carries our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by a single Redis instance.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	// Log receives release failures. Defaults to a no-op logger.
	Log zerolog.Logger
}

// NewRedis returns a Redis locker. ttl bounds how long a crashed holder can
// keep a key locked.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "lock"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, Log: zerolog.Nop()}
}

func (r *Redis) Acquire(ctx context.Context, key string, wait time.Duration) (Unlock, error) {
	fullKey := Key(r.prefix, key)
	token := uuid.NewString()

	err := retry(ctx, wait, func(ctx context.Context) (bool, error) {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("redis lock %s: %w", fullKey, err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.release(fullKey, token) })
	}, nil
}

// release drops fullKey if it still carries token. A failure leaves the key
// to expire with its TTL.
func (r *Redis) release(fullKey, token string) error {
	// Fresh context: the caller's may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := releaseScript.Run(ctx, r.client, []string{fullKey}, token).Err()
	if err != nil {
		r.Log.Warn().Err(err).
			Str("key", fullKey).
			Dur("ttl", r.ttl).
			Msg("Failed to release redis lock (non-fatal)")
	}
	return err
}

var _ Locker = (*Redis)(nil)
