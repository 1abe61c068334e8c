package locker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 30 * time.Second
	defaultRetryWait = 50 * time.Millisecond
	keyPrefix        = "taskflow:lock:"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process talking to the same Redis.
// Locks expire after their TTL so a crashed holder cannot block a key forever.
type Redis struct {
	client    redis.UniversalClient
	logger    *slog.Logger
	ttl       time.Duration
	retryWait time.Duration
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTTL sets how long a lock survives without being released.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// WithRetryWait sets the pause between acquisition attempts.
func WithRetryWait(wait time.Duration) RedisOption {
	return func(r *Redis) {
		r.retryWait = wait
	}
}

// NewRedis creates a Redis-backed locker.
func NewRedis(client redis.UniversalClient, logger *slog.Logger, opts ...RedisOption) *Redis {
	r := &Redis{
		client:    client,
		logger:    logger.With("module", "redis_locker"),
		ttl:       defaultLockTTL,
		retryWait: defaultRetryWait,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// NewRedisFromURL parses a redis:// URL and returns a locker using it.
func NewRedisFromURL(ctx context.Context, redisURL string, logger *slog.Logger, opts ...RedisOption) (*Redis, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedis(client, logger, opts...), nil
}

// Lock polls SET NX until the key is free or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	token := uuid.New().String()
	redisKey := keyPrefix + key

	for {
		acquired, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}

		if acquired {
			return func(ctx context.Context) error {
				released, err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Int()
				if err != nil {
					return fmt.Errorf("failed to release lock %s: %w", key, err)
				}

				if released == 0 {
					r.logger.WarnContext(ctx, "lock expired before release", "key", key)
				}

				return nil
			}, nil
		}

		timer := time.NewTimer(r.retryWait)

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
