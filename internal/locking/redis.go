package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	defaultLockTTL    = 10 * time.Second
	defaultRetryDelay = 50 * time.Millisecond
	releaseTimeout    = 2 * time.Second
	keyPrefix         = "gamification:lock:"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLocker holds keys in Redis so API and consumer processes share one lock per user.
// A holder that dies keeps the key only until the TTL expires.
type RedisLocker struct {
	client     redis.Cmdable
	ttl        time.Duration
	retryDelay time.Duration

	NewToken func() string
}

// NewRedisLocker constructs a RedisLocker; zero durations fall back to defaults.
func NewRedisLocker(client redis.Cmdable, ttl, retryDelay time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &RedisLocker{
		client:     client,
		ttl:        ttl,
		retryDelay: retryDelay,
		NewToken:   uuid.NewString,
	}
}

// Lock polls SET NX until the key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := l.NewToken()

	for {
		acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if acquired {
			return func() { l.release(redisKey, token) }, nil
		}

		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	deleted, err := l.client.Eval(ctx, releaseScript, []string{redisKey}, token).Int64()
	if err != nil {
		log.Errorf("release lock %s: %s", redisKey, err)
		return
	}
	if deleted == 0 {
		log.Warnf("lock %s expired before release", redisKey)
	}
}
