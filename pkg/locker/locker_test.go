package locker_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/taskflow/pkg/locker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	l := locker.NewLocal()
	ctx := t.Context()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock, err := l.Lock(ctx, "instance-1")
			if !assert.NoError(t, err) {
				return
			}

			current := inside.Add(1)
			if current > maxSeen.Load() {
				maxSeen.Store(current)
			}

			time.Sleep(time.Millisecond)
			inside.Add(-1)

			assert.NoError(t, unlock(ctx))
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	l := locker.NewLocal()
	ctx := t.Context()

	unlockA, err := l.Lock(ctx, "a")
	require.NoError(t, err)

	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, unlockA(ctx))
	require.NoError(t, unlockB(ctx))
}

func TestLocal_ContextCancelled(t *testing.T) {
	l := locker.NewLocal()

	unlock, err := l.Lock(t.Context(), "busy")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "busy")
	require.ErrorIs(t, err, locker.ErrNotAcquired)

	require.NoError(t, unlock(t.Context()))

	// The key is usable again after release.
	unlock, err = l.Lock(t.Context(), "busy")
	require.NoError(t, err)
	require.NoError(t, unlock(t.Context()))
}

func setupRedis(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	t.Cleanup(cancel)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return "redis://" + host + ":" + port.Port() + "/0"
}

func TestRedis_LockAndRelease(t *testing.T) {
	redisURL := setupRedis(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	l, err := locker.NewRedisFromURL(t.Context(), redisURL, logger, locker.WithRetryWait(5*time.Millisecond))
	require.NoError(t, err)

	t.Cleanup(func() { _ = l.Close() })

	unlock, err := l.Lock(t.Context(), "instance-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "instance-1")
	require.ErrorIs(t, err, locker.ErrNotAcquired)

	require.NoError(t, unlock(t.Context()))

	unlock, err = l.Lock(t.Context(), "instance-1")
	require.NoError(t, err)
	require.NoError(t, unlock(t.Context()))
}

func TestRedis_LockExpires(t *testing.T) {
	redisURL := setupRedis(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	l, err := locker.NewRedisFromURL(t.Context(), redisURL, logger,
		locker.WithTTL(100*time.Millisecond),
		locker.WithRetryWait(10*time.Millisecond),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = l.Close() })

	_, err = l.Lock(t.Context(), "abandoned")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	unlock, err := l.Lock(ctx, "abandoned")
	require.NoError(t, err)
	require.NoError(t, unlock(t.Context()))
}
