package testutils

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisImage is the container image used when no local Redis is configured
const RedisImage = "redis:7-alpine"

// CreateTestRedisClient returns a client for an empty Redis database.
//
// When REDIS_TEST_ADDR is set that server is used, on DB 15 to stay clear of
// real data. Otherwise a throwaway container is started. The test is skipped
// in short mode or when neither is reachable.
func CreateTestRedisClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis test in short mode")
	}

	addr := os.Getenv("REDIS_TEST_ADDR")
	db := 15
	if addr == "" {
		addr = startRedisContainer(t)
		db = 0
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available for testing: %v", err)
	}

	// Clear the test database
	require.NoError(t, client.FlushDB(ctx).Err(), "Failed to flush test Redis database")

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})

	return client
}

func startRedisContainer(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        RedisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available for Redis container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}
