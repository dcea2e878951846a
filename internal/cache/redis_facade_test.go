package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFacade(t *testing.T) (*RedisFacade, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := DefaultConfig()
	cfg.Retry.MaxRetryAttempts = 1
	cfg.Performance.ConnectionTimeoutMs = 2000
	return NewRedisFacade(client, cfg, nil), s
}

func TestRedisFacade_SetExAndGet(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, f.SetEx(ctx, "k1", 60, []byte("v1")))

	got, err := f.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestRedisFacade_GetMiss(t *testing.T) {
	f, _ := newTestFacade(t)
	got, err := f.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisFacade_DelAndExists(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()
	require.NoError(t, f.SetEx(ctx, "k1", 60, []byte("v1")))

	exists, err := f.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := f.Del(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	exists, err = f.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisFacade_PttlMapping(t *testing.T) {
	f, s := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, f.SetEx(ctx, "k1", 60, []byte("v1")))
	ttl, err := f.Pttl(ctx, "k1")
	require.NoError(t, err)
	assert.InDelta(t, 60, ttl, 1)

	s.Set("nottl", "v")
	ttl, err = f.Pttl(ctx, "nottl")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().NoExpireDefaultSeconds, ttl)

	ttl, err = f.Pttl(ctx, "absent")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ttl)
}

func TestRedisFacade_MGetPreservesOrder(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()
	require.NoError(t, f.SetEx(ctx, "a", 60, []byte("1")))
	require.NoError(t, f.SetEx(ctx, "c", 60, []byte("3")))

	out, err := f.MGet(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []byte("1"), out[0])
	assert.Nil(t, out[1])
	assert.Equal(t, []byte("3"), out[2])
}

func TestRedisFacade_Pipeline(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()

	results, err := f.Pipeline(ctx, []PipelineOp{
		{Kind: "setex", Key: "p1", Val: []byte("v1"), TTL: 60},
		{Kind: "get", Key: "p1"},
		{Kind: "exists", Key: "p1"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []byte("v1"), results[1].Bytes)
	assert.Equal(t, int64(1), results[2].Int64)
}

func TestRedisFacade_ScanVisitsAllKeys(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()
	require.NoError(t, f.SetEx(ctx, "stream:a", 60, []byte("1")))
	require.NoError(t, f.SetEx(ctx, "stream:b", 60, []byte("2")))
	require.NoError(t, f.SetEx(ctx, "other:c", 60, []byte("3")))

	var seen []string
	err := f.Scan(ctx, "stream:*", 10, func(keys []string) error {
		seen = append(seen, keys...)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stream:a", "stream:b"}, seen)
}

func TestRedisFacade_Ping(t *testing.T) {
	f, s := newTestFacade(t)
	require.NoError(t, f.Ping(context.Background()))

	s.Close()
	err := f.Ping(context.Background())
	assert.Error(t, err)
}

func TestMapPttlToSeconds(t *testing.T) {
	assert.Equal(t, int64(0), mapPttlToSeconds(-2, 999))
	assert.Equal(t, int64(999), mapPttlToSeconds(-1, 999))
	assert.Equal(t, int64(5), mapPttlToSeconds(5500, 999))
	assert.Equal(t, int64(0), mapPttlToSeconds(0, 999))
}

func TestRedisFacade_UnlinkRemovesKeys(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()
	require.NoError(t, f.SetEx(ctx, "u1", 60, []byte("v")))

	require.NoError(t, f.Unlink(ctx, "u1"))
	exists, err := f.Exists(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisFacade_CallTimeoutIsBounded(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx, cancel := f.callTimeout(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, 500*time.Millisecond)
}
