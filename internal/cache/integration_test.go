//go:build integration
// +build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a real Redis container for the integration
// suite, distinct from the miniredis-backed unit tests.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	_, err = client.Ping(ctx).Result()
	require.NoError(t, err)

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}
	return client, cleanup
}

func TestIntegration_CommonCache_RoundTripsThroughRealRedis(t *testing.T) {
	client, cleanup := setupRedisContainer(t)
	defer cleanup()

	ctx := context.Background()
	cfg := DefaultConfig()
	facade := NewRedisFacade(client, cfg, nil)
	governor := NewGovernor(GovernorConfig{BaseConcurrency: 4, Mode: ModeBalanced, MaxQueueSize: 100})
	defer governor.Close()
	cc := NewCommonCache(facade, governor, nil, cfg, nil)

	cc.Set(ctx, "quote:AAPL", map[string]interface{}{"price": 150.25}, 60)

	res, hit := cc.Get(ctx, "quote:AAPL")
	require.True(t, hit)
	assert.Contains(t, string(res.Data), "150.25")
}

func TestIntegration_CommonCache_TTLExpires(t *testing.T) {
	client, cleanup := setupRedisContainer(t)
	defer cleanup()

	ctx := context.Background()
	cfg := DefaultConfig()
	facade := NewRedisFacade(client, cfg, nil)
	governor := NewGovernor(GovernorConfig{BaseConcurrency: 4, Mode: ModeBalanced, MaxQueueSize: 100})
	defer governor.Close()
	cc := NewCommonCache(facade, governor, nil, cfg, nil)

	cc.Set(ctx, "ephemeral", "v", 1)
	_, hit := cc.Get(ctx, "ephemeral")
	require.True(t, hit)

	time.Sleep(2 * time.Second)
	_, hit = cc.Get(ctx, "ephemeral")
	assert.False(t, hit, "key should have expired in real Redis")
}

func TestIntegration_StreamCache_WarmSurvivesAcrossFacadeInstances(t *testing.T) {
	client, cleanup := setupRedisContainer(t)
	defer cleanup()

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Stream.WarmCacheTTLseconds = 60
	facade := NewRedisFacade(client, cfg, nil)
	governor := NewGovernor(GovernorConfig{BaseConcurrency: 4, Mode: ModeBalanced, MaxQueueSize: 100})
	defer governor.Close()

	writer := NewStreamCache(facade, governor, nil, cfg, nil, "stream-cache")
	require.NoError(t, writer.Set(ctx, "AAPL", []StreamDataPoint{
		{Symbol: "AAPL", Price: 100, TimestampMs: 1},
		{Symbol: "AAPL", Price: 101, TimestampMs: 2},
	}, StreamPriorityWarm))

	// A second StreamCache instance has its own empty hot tier, so this
	// only succeeds if the value actually round-tripped through Redis.
	reader := NewStreamCache(facade, governor, nil, cfg, nil, "stream-cache")
	result := reader.Get(ctx, "AAPL")
	assert.Equal(t, LevelWarm, result.CacheLevel)
	require.Len(t, result.Points, 2)
}

func TestIntegration_Orchestrator_BackgroundRefreshUpdatesRealRedis(t *testing.T) {
	client, cleanup := setupRedisContainer(t)
	defer cleanup()

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.TTL.BatchQueryTtlSeconds = 2
	cfg.Intervals.CleanupIntervalMs = 200
	cfg.GracefulShutdownTimeout = 2 * time.Second
	facade := NewRedisFacade(client, cfg, nil)
	governor := NewGovernor(GovernorConfig{BaseConcurrency: 4, Mode: ModeBalanced, MaxQueueSize: 100})
	defer governor.Close()
	common := NewCommonCache(facade, governor, nil, cfg, nil)
	orch := NewOrchestrator(common, nil, cfg, nil, 2)
	defer orch.Close()

	var version int
	req := OrchestratorRequest{
		CacheKey: "refresh:AAPL",
		Strategy: StrategyWeakTimeliness,
		FetchFn: func(ctx context.Context) ([]byte, error) {
			version++
			return []byte(`"v` + time.Now().Format("150405.000") + `"`), nil
		},
	}
	first := orch.Orchestrate(ctx, req)
	require.False(t, first.Hit)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, hit := common.Get(ctx, "refresh:AAPL")
		if hit && string(res.Data) != string(first.Data) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("expected the background scan loop to refresh the key in real Redis before it expired")
}
