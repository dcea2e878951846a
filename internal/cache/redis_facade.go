package cache

import (
	"context"
	"errors"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	applogger "github.com/marketdata-platform/smartcache/pkg/logger"
)

// RedisFacade is the typed wrapper over a Redis-protocol client described
// in spec §4.1. It never logs business data, only operation outcomes, and
// classifies every failure into the connection-error taxonomy.
type RedisFacade struct {
	client  *redis.Client
	cfg     Config
	breaker *gobreaker.CircuitBreaker[any]
	log     *applogger.Logger
}

// NewRedisFacade wraps an already-connected *redis.Client. The caller owns
// the client's lifecycle (Close).
func NewRedisFacade(client *redis.Client, cfg Config, log *applogger.Logger) *RedisFacade {
	if log == nil {
		log = applogger.NewNoop()
	}
	settings := gobreaker.Settings{
		Name:        "redis-facade",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("redis circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &RedisFacade{
		client:  client,
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		log:     log,
	}
}

// callTimeout returns a context bounded by the configured per-call Redis
// timeout (§5 "every Redis operation has a per-call timeout").
func (f *RedisFacade) callTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(f.cfg.Performance.ConnectionTimeoutMs)*time.Millisecond)
}

// withRetry runs op with exponential backoff per §7's retry policy,
// restricted to idempotent operations, gated by the circuit breaker.
func (f *RedisFacade) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := f.breaker.Execute(func() (any, error) {
		delayType := retry.FixedDelay
		if f.cfg.Retry.ExponentialBackoffEnabled {
			delayType = retry.BackOffDelay
		}
		retryErr := retry.Do(
			func() error { return fn(ctx) },
			retry.Attempts(uint(f.cfg.Retry.MaxRetryAttempts)),
			retry.Delay(time.Duration(f.cfg.Retry.BaseRetryDelayMs)*time.Millisecond),
			retry.MaxDelay(time.Duration(f.cfg.Retry.MaxRetryDelayMs)*time.Millisecond),
			retry.DelayType(delayType),
			retry.RetryIf(isRetryable),
			retry.LastErrorOnly(true),
		)
		return nil, retryErr
	})
	if err == nil {
		return nil
	}
	return classifyRedisError(op, "", err)
}

func isRetryable(err error) bool {
	if errors.Is(err, redis.Nil) {
		return false
	}
	return true
}

// Get issues a GET. redis.Nil is translated to (nil, nil) — absence is not
// an error at this layer.
func (f *RedisFacade) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := f.callTimeout(ctx)
	defer cancel()

	var result []byte
	err := f.withRetry(ctx, "Get", func(ctx context.Context) error {
		v, err := f.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			result = nil
			return nil
		}
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, classifyRedisError("Get", key, err)
	}
	return result, nil
}

// SetEx stores val at key with a ttl in seconds.
func (f *RedisFacade) SetEx(ctx context.Context, key string, ttlSeconds int, val []byte) error {
	ctx, cancel := f.callTimeout(ctx)
	defer cancel()

	err := f.withRetry(ctx, "SetEx", func(ctx context.Context) error {
		return f.client.Set(ctx, key, val, time.Duration(ttlSeconds)*time.Second).Err()
	})
	if err != nil {
		return classifyRedisError("SetEx", key, err)
	}
	return nil
}

// Del deletes one or more keys, returning the number removed.
func (f *RedisFacade) Del(ctx context.Context, keys ...string) (int64, error) {
	ctx, cancel := f.callTimeout(ctx)
	defer cancel()

	var n int64
	err := f.withRetry(ctx, "Del", func(ctx context.Context) error {
		v, err := f.client.Del(ctx, keys...).Result()
		n = v
		return err
	})
	if err != nil {
		return 0, classifyRedisError("Del", "", err)
	}
	return n, nil
}

// Exists reports whether key is present.
func (f *RedisFacade) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := f.callTimeout(ctx)
	defer cancel()

	var n int64
	err := f.withRetry(ctx, "Exists", func(ctx context.Context) error {
		v, err := f.client.Exists(ctx, key).Result()
		n = v
		return err
	})
	if err != nil {
		return false, classifyRedisError("Exists", key, err)
	}
	return n > 0, nil
}

// Ttl returns the remaining TTL in seconds, already mapped per §4.1
// (-2 -> 0, -1 -> noExpireDefault).
func (f *RedisFacade) Ttl(ctx context.Context, key string) (int64, error) {
	pttl, err := f.Pttl(ctx, key)
	if err != nil {
		return 0, err
	}
	return pttl, nil
}

// Pttl returns the key's remaining TTL mapped to whole seconds using
// mapPttlToSeconds.
func (f *RedisFacade) Pttl(ctx context.Context, key string) (int64, error) {
	ctx, cancel := f.callTimeout(ctx)
	defer cancel()

	var ms time.Duration
	err := f.withRetry(ctx, "Pttl", func(ctx context.Context) error {
		v, err := f.client.PTTL(ctx, key).Result()
		ms = v
		return err
	})
	if err != nil {
		return 0, classifyRedisError("Pttl", key, err)
	}
	return mapPttlToSeconds(pttlMillis(ms), f.cfg.NoExpireDefaultSeconds), nil
}

// MGet fetches multiple keys in one round trip, preserving order (I5).
func (f *RedisFacade) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	ctx, cancel := f.callTimeout(ctx)
	defer cancel()

	out := make([][]byte, len(keys))
	err := f.withRetry(ctx, "MGet", func(ctx context.Context) error {
		vals, err := f.client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for i, v := range vals {
			if v == nil {
				out[i] = nil
				continue
			}
			if s, ok := v.(string); ok {
				out[i] = []byte(s)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classifyRedisError("MGet", "", err)
	}
	return out, nil
}

// PipelineOp is one operation submitted through Pipeline.
type PipelineOp struct {
	Kind string // "get" | "setex" | "pttl" | "exists"
	Key  string
	Val  []byte
	TTL  int
}

// PipelineResult carries the outcome of one PipelineOp.
type PipelineResult struct {
	Bytes []byte
	Int64 int64
	Err   error
}

// Pipeline executes a batch of heterogeneous operations in a single
// round-trip, used by the Common Cache's MGet/MSet/MGetEnhanced paths.
func (f *RedisFacade) Pipeline(ctx context.Context, ops []PipelineOp) ([]PipelineResult, error) {
	ctx, cancel := f.callTimeout(ctx)
	defer cancel()

	results := make([]PipelineResult, len(ops))
	pipe := f.client.Pipeline()
	cmds := make([]redis.Cmder, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case "get":
			cmds[i] = pipe.Get(ctx, op.Key)
		case "setex":
			cmds[i] = pipe.Set(ctx, op.Key, op.Val, time.Duration(op.TTL)*time.Second)
		case "pttl":
			cmds[i] = pipe.PTTL(ctx, op.Key)
		case "exists":
			cmds[i] = pipe.Exists(ctx, op.Key)
		}
	}

	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, classifyRedisError("Pipeline", "", err)
	}

	for i, cmd := range cmds {
		switch c := cmd.(type) {
		case *redis.StringCmd:
			v, cErr := c.Bytes()
			if errors.Is(cErr, redis.Nil) {
				results[i] = PipelineResult{}
			} else {
				results[i] = PipelineResult{Bytes: v, Err: cErr}
			}
		case *redis.StatusCmd:
			_, cErr := c.Result()
			results[i] = PipelineResult{Err: cErr}
		case *redis.DurationCmd:
			v, cErr := c.Result()
			results[i] = PipelineResult{Int64: pttlMillis(v), Err: cErr}
		case *redis.IntCmd:
			v, cErr := c.Result()
			results[i] = PipelineResult{Int64: v, Err: cErr}
		}
	}
	return results, nil
}

// Scan iterates keys matching pattern, calling fn for each batch. count is
// the Redis SCAN COUNT hint.
func (f *RedisFacade) Scan(ctx context.Context, match string, count int64, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := f.client.Scan(ctx, cursor, match, count).Result()
		if err != nil {
			return classifyRedisError("Scan", match, err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Unlink asynchronously removes keys (non-blocking delete).
func (f *RedisFacade) Unlink(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := f.callTimeout(ctx)
	defer cancel()

	return f.withRetryIgnoreClassify(ctx, "Unlink", func(ctx context.Context) error {
		return f.client.Unlink(ctx, keys...).Err()
	})
}

func (f *RedisFacade) withRetryIgnoreClassify(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := f.withRetry(ctx, op, fn); err != nil {
		return err
	}
	return nil
}

// Ping verifies connectivity.
func (f *RedisFacade) Ping(ctx context.Context) error {
	ctx, cancel := f.callTimeout(ctx)
	defer cancel()
	if err := f.client.Ping(ctx).Err(); err != nil {
		return classifyRedisError("Ping", "", err)
	}
	return nil
}

// Info returns the INFO section's raw text.
func (f *RedisFacade) Info(ctx context.Context, section string) (string, error) {
	ctx, cancel := f.callTimeout(ctx)
	defer cancel()
	v, err := f.client.Info(ctx, section).Result()
	if err != nil {
		return "", classifyRedisError("Info", "", err)
	}
	return v, nil
}

// mapPttlToSeconds implements the pure TTL-mapping helper from spec §4.1
// and §4.3: -2 means absent (0s), -1 means no expiry (noExpireDefault),
// otherwise floor(ms/1000) clamped to >= 0.
// pttlMillis converts a go-redis PTTL duration to milliseconds. go-redis
// returns the -1 (no expiry) and -2 (absent) replies as raw durations
// rather than scaling them, so they are passed through unchanged.
func pttlMillis(d time.Duration) int64 {
	if d < 0 {
		return int64(d)
	}
	return d.Milliseconds()
}

func mapPttlToSeconds(pttlMs int64, noExpireDefault int64) int64 {
	switch pttlMs {
	case -2:
		return 0
	case -1:
		return noExpireDefault
	}
	if pttlMs < 0 {
		return 0
	}
	return pttlMs / 1000
}

func classifyRedisError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewCacheError(op, key, CodeConnectionTimeout, err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return NewCacheError(op, key, CodeServiceUnavailable, err)
	default:
		return NewCacheError(op, key, CodeConnectionError, err)
	}
}
