package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCore(t *testing.T) (*Core, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := DefaultConfig()
	cfg.Retry.MaxRetryAttempts = 1
	cfg.Performance.MaxConcurrentOperations = 4
	cfg.Limits.MaxBatchSize = 100
	cfg.Intervals.CleanupIntervalMs = 3600000

	facade := NewRedisFacade(client, cfg, nil)
	core := NewCore(facade, cfg)
	t.Cleanup(core.Close)
	return core, s
}

func TestCore_GetStatsTracksWarmHitsAndMisses(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()

	core.Common.Set(ctx, "k1", "v1", 60)
	core.Common.Get(ctx, "k1")
	core.Common.Get(ctx, "missing")

	stats := core.GetStats()
	assert.Equal(t, int64(1), stats.WarmHits)
	assert.Equal(t, int64(1), stats.WarmMisses)
}

func TestCore_ResetStatsZeroesCounters(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()
	core.Common.Set(ctx, "k", "v", 60)
	core.Common.Get(ctx, "k")

	core.ResetStats()
	stats := core.GetStats()
	assert.Zero(t, stats.WarmHits)
	assert.Zero(t, stats.Errors)
}

func TestCore_GetStatsReportsGovernorDepthAndConcurrency(t *testing.T) {
	core, _ := newTestCore(t)
	stats := core.GetStats()
	assert.GreaterOrEqual(t, stats.GovernorConcurrency, 1)
	assert.Equal(t, 0, stats.GovernorQueueDepth)
}

func TestCore_GetHealthReflectsRedisConnectivity(t *testing.T) {
	core, s := newTestCore(t)
	health := core.GetHealth(context.Background())
	assert.True(t, health.RedisConnected)

	s.Close()
	health = core.GetHealth(context.Background())
	assert.False(t, health.RedisConnected)
}

func TestCore_PingMirrorsFacade(t *testing.T) {
	core, s := newTestCore(t)
	require.NoError(t, core.Ping(context.Background()))

	s.Close()
	assert.Error(t, core.Ping(context.Background()))
}

func TestStatsEventBus_ForwardsEventsToInner(t *testing.T) {
	var received []Event
	inner := eventBusFunc(func(e Event) { received = append(received, e) })
	bus := NewStatsEventBus(inner)

	bus.Emit(Event{MetricName: "cache_get_success", Tags: map[string]string{"layer": "hot"}})
	require.Len(t, received, 1)
	assert.Equal(t, "cache_get_success", received[0].MetricName)
}

type eventBusFunc func(Event)

func (f eventBusFunc) Emit(e Event) { f(e) }
