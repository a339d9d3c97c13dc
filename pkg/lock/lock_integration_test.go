//go:build integration

package lock_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dukex/cadence/pkg/lock"
	"github.com/dukex/cadence/pkg/log"
)

func setupRedis(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisLease_SingleHolder(t *testing.T) {
	ctx := t.Context()

	client, err := lock.NewRedisClient(ctx, setupRedis(t))
	require.NoError(t, err)
	defer client.Close()

	first, err := lock.NewRedisLease(client, "", time.Minute, log.Discard())
	require.NoError(t, err)
	second, err := lock.NewRedisLease(client, "", time.Minute, log.Discard())
	require.NoError(t, err)

	acquired, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, acquired, "lease is held by another instance")

	renewed, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, renewed, "holder renews its own lease")

	require.NoError(t, second.Release(ctx))

	acquired, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, acquired, "release by a non-holder is ignored")

	require.NoError(t, first.Release(ctx))

	acquired, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisLease_Expires(t *testing.T) {
	ctx := t.Context()

	client, err := lock.NewRedisClient(ctx, setupRedis(t))
	require.NoError(t, err)
	defer client.Close()

	first, err := lock.NewRedisLease(client, "lease:expiry", 200*time.Millisecond, log.Discard())
	require.NoError(t, err)
	second, err := lock.NewRedisLease(client, "lease:expiry", time.Minute, log.Discard())
	require.NoError(t, err)

	acquired, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	assert.Eventually(t, func() bool {
		acquired, err := second.Acquire(ctx)

		return err == nil && acquired
	}, 5*time.Second, 50*time.Millisecond)
}
