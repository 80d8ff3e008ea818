//go:build integration

package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/erp/payroll/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisStore_Integration(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	store := NewRedisStore[operation](client, "payroll:", "batch", time.Hour)
	other := NewRedisStore[operation](client, "payroll:", "queue", time.Hour)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	for _, op := range []operation{
		{ID: "b", Status: "QUEUED"},
		{ID: "a", Status: "RUNNING"},
		{ID: "c", Status: "QUEUED"},
	} {
		op := op
		require.NoError(t, store.Set(ctx, op.ID, &op))
	}
	require.NoError(t, other.Set(ctx, "x", &operation{ID: "x", Status: "QUEUED"}))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", got.Status)

	queued, err := store.ListByPredicate(ctx, func(o *operation) bool { return o.Status == "QUEUED" })
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, "b", queued[0].ID)
	assert.Equal(t, "c", queued[1].ID)

	ttl, err := client.TTL(ctx, "payroll:batch:a").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.NoError(t, store.Ping(ctx))
}
