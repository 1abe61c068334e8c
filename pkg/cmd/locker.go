package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/taskflow/pkg/locker"
)

// NewLocker returns a Redis locker when redisURL is set and an in-process one otherwise.
// The returned close function releases the Redis client.
func NewLocker(ctx context.Context, redisURL string, logger *slog.Logger) (locker.Locker, func() error, error) {
	if redisURL == "" {
		return locker.NewLocal(), func() error { return nil }, nil
	}

	redisLocker, err := locker.NewRedisFromURL(ctx, redisURL, logger)
	if err != nil {
		return nil, nil, err
	}

	return redisLocker, redisLocker.Close, nil
}
