package cache

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TTLConfig groups the TTL policy options from the configuration surface.
type TTLConfig struct {
	RealTimeTtlSeconds       int
	NearRealTimeTtlSeconds   int
	BatchQueryTtlSeconds     int
	OffHoursTtlSeconds       int
	WeekendTtlSeconds        int
}

// PerformanceConfig groups resource-budget options.
type PerformanceConfig struct {
	MaxMemoryMb              int
	DefaultBatchSize         int
	MaxConcurrentOperations  int
	SlowOperationThresholdMs int
	ConnectionTimeoutMs      int
	OperationTimeoutMs       int
}

// IntervalConfig groups periodic-task intervals.
type IntervalConfig struct {
	CleanupIntervalMs          int
	HealthCheckIntervalMs      int
	MetricsCollectionIntervalMs int
	HeartbeatIntervalMs        int
}

// LimitsConfig groups hard limits enforced by the Common Cache.
type LimitsConfig struct {
	MaxKeyLength            int
	MaxValueSizeBytes        int
	MaxCacheEntries          int
	MemoryThresholdRatio     float64
	ErrorRateAlertThreshold  float64
	MaxBatchSize             int
	PipelineMaxSize          int
}

// RetryConfig groups the Redis facade's retry policy.
type RetryConfig struct {
	MaxRetryAttempts         int
	BaseRetryDelayMs         int
	RetryDelayMultiplier     float64
	MaxRetryDelayMs          int
	ExponentialBackoffEnabled bool
}

// StreamConfig groups the stream cache's own tunables.
type StreamConfig struct {
	HotCacheTTLms    int64
	WarmCacheTTLseconds int
	MaxHotCacheSize  int
	StreamBatchSize  int
}

// Config is the complete configuration surface of the Smart Caching Core,
// mirroring spec section 6 field for field.
type Config struct {
	DefaultTtlSeconds         int
	MinTtlSeconds             int
	MaxTtlSeconds             int
	CompressionEnabled        bool
	CompressionThresholdBytes int

	TTL         TTLConfig
	Performance PerformanceConfig
	Intervals   IntervalConfig
	Limits      LimitsConfig
	Retry       RetryConfig
	Stream      StreamConfig

	// NoExpireDefaultSeconds is the sentinel Pttl==-1 maps to (§4.1).
	NoExpireDefaultSeconds int64

	// GracefulShutdownTimeout bounds how long Close() drains pending work.
	GracefulShutdownTimeout time.Duration

	RedisURL string
}

// DefaultConfig returns the configuration baseline every example in the
// spec's testable properties assumes unless overridden.
func DefaultConfig() Config {
	return Config{
		DefaultTtlSeconds:         300,
		MinTtlSeconds:             1,
		MaxTtlSeconds:             86400,
		CompressionEnabled:        true,
		CompressionThresholdBytes: 1024,
		TTL: TTLConfig{
			RealTimeTtlSeconds:     5,
			NearRealTimeTtlSeconds: 30,
			BatchQueryTtlSeconds:   300,
			OffHoursTtlSeconds:     900,
			WeekendTtlSeconds:      3600,
		},
		Performance: PerformanceConfig{
			MaxMemoryMb:              512,
			DefaultBatchSize:         100,
			MaxConcurrentOperations:  10,
			SlowOperationThresholdMs: 500,
			ConnectionTimeoutMs:      2000,
			OperationTimeoutMs:       5000,
		},
		Intervals: IntervalConfig{
			CleanupIntervalMs:          60000,
			HealthCheckIntervalMs:      30000,
			MetricsCollectionIntervalMs: 15000,
			HeartbeatIntervalMs:        10000,
		},
		Limits: LimitsConfig{
			MaxKeyLength:           512,
			MaxValueSizeBytes:       10 * 1024 * 1024,
			MaxCacheEntries:         100000,
			MemoryThresholdRatio:    0.85,
			ErrorRateAlertThreshold: 0.1,
			MaxBatchSize:            500,
			PipelineMaxSize:         100,
		},
		Retry: RetryConfig{
			MaxRetryAttempts:          3,
			BaseRetryDelayMs:          50,
			RetryDelayMultiplier:      2.0,
			MaxRetryDelayMs:           2000,
			ExponentialBackoffEnabled: true,
		},
		Stream: StreamConfig{
			HotCacheTTLms:       30000,
			WarmCacheTTLseconds: 300,
			MaxHotCacheSize:     10000,
			StreamBatchSize:     50,
		},
		NoExpireDefaultSeconds:  31536000,
		GracefulShutdownTimeout: 30 * time.Second,
		RedisURL:                "redis://localhost:6379/0",
	}
}

// LoadConfigFromEnv builds a Config from environment variables, falling
// back to DefaultConfig for anything unset. Mirrors the teacher's
// getEnv/getEnvInt helper style in cmd/api/main.go.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.RedisURL = getEnv("CACHE_REDIS_URL", cfg.RedisURL)
	cfg.DefaultTtlSeconds = getEnvInt("CACHE_DEFAULT_TTL_SECONDS", cfg.DefaultTtlSeconds)
	cfg.MinTtlSeconds = getEnvInt("CACHE_MIN_TTL_SECONDS", cfg.MinTtlSeconds)
	cfg.MaxTtlSeconds = getEnvInt("CACHE_MAX_TTL_SECONDS", cfg.MaxTtlSeconds)
	cfg.CompressionEnabled = getEnvBool("CACHE_COMPRESSION_ENABLED", cfg.CompressionEnabled)
	cfg.CompressionThresholdBytes = getEnvInt("CACHE_COMPRESSION_THRESHOLD_BYTES", cfg.CompressionThresholdBytes)

	cfg.TTL.RealTimeTtlSeconds = getEnvInt("CACHE_TTL_REAL_TIME_SECONDS", cfg.TTL.RealTimeTtlSeconds)
	cfg.TTL.NearRealTimeTtlSeconds = getEnvInt("CACHE_TTL_NEAR_REAL_TIME_SECONDS", cfg.TTL.NearRealTimeTtlSeconds)
	cfg.TTL.BatchQueryTtlSeconds = getEnvInt("CACHE_TTL_BATCH_QUERY_SECONDS", cfg.TTL.BatchQueryTtlSeconds)
	cfg.TTL.OffHoursTtlSeconds = getEnvInt("CACHE_TTL_OFF_HOURS_SECONDS", cfg.TTL.OffHoursTtlSeconds)
	cfg.TTL.WeekendTtlSeconds = getEnvInt("CACHE_TTL_WEEKEND_SECONDS", cfg.TTL.WeekendTtlSeconds)

	cfg.Performance.MaxMemoryMb = getEnvInt("CACHE_MAX_MEMORY_MB", cfg.Performance.MaxMemoryMb)
	cfg.Performance.DefaultBatchSize = getEnvInt("CACHE_DEFAULT_BATCH_SIZE", cfg.Performance.DefaultBatchSize)
	cfg.Performance.MaxConcurrentOperations = getEnvInt("CACHE_MAX_CONCURRENT_OPERATIONS", cfg.Performance.MaxConcurrentOperations)
	cfg.Performance.SlowOperationThresholdMs = getEnvInt("CACHE_SLOW_OPERATION_THRESHOLD_MS", cfg.Performance.SlowOperationThresholdMs)
	cfg.Performance.ConnectionTimeoutMs = getEnvInt("CACHE_CONNECTION_TIMEOUT_MS", cfg.Performance.ConnectionTimeoutMs)
	cfg.Performance.OperationTimeoutMs = getEnvInt("CACHE_OPERATION_TIMEOUT_MS", cfg.Performance.OperationTimeoutMs)

	cfg.Limits.MaxKeyLength = getEnvInt("CACHE_MAX_KEY_LENGTH", cfg.Limits.MaxKeyLength)
	cfg.Limits.MaxValueSizeBytes = getEnvInt("CACHE_MAX_VALUE_SIZE_BYTES", cfg.Limits.MaxValueSizeBytes)
	cfg.Limits.MaxCacheEntries = getEnvInt("CACHE_MAX_CACHE_ENTRIES", cfg.Limits.MaxCacheEntries)
	cfg.Limits.MaxBatchSize = getEnvInt("CACHE_MAX_BATCH_SIZE", cfg.Limits.MaxBatchSize)
	cfg.Limits.PipelineMaxSize = getEnvInt("CACHE_PIPELINE_MAX_SIZE", cfg.Limits.PipelineMaxSize)

	cfg.Stream.MaxHotCacheSize = getEnvInt("CACHE_STREAM_MAX_HOT_CACHE_SIZE", cfg.Stream.MaxHotCacheSize)
	cfg.Stream.StreamBatchSize = getEnvInt("CACHE_STREAM_BATCH_SIZE", cfg.Stream.StreamBatchSize)
	cfg.Stream.WarmCacheTTLseconds = getEnvInt("CACHE_STREAM_WARM_TTL_SECONDS", cfg.Stream.WarmCacheTTLseconds)
	cfg.Stream.HotCacheTTLms = int64(getEnvInt("CACHE_STREAM_HOT_TTL_MS", int(cfg.Stream.HotCacheTTLms)))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the invariants startup depends on. Configuration
// failures are fatal per spec §7.
func (c Config) Validate() error {
	if c.MinTtlSeconds < 0 {
		return fmt.Errorf("cache config: minTtlSeconds must be >= 0, got %d", c.MinTtlSeconds)
	}
	if c.MaxTtlSeconds < c.MinTtlSeconds {
		return fmt.Errorf("cache config: maxTtlSeconds (%d) must be >= minTtlSeconds (%d)", c.MaxTtlSeconds, c.MinTtlSeconds)
	}
	if c.CompressionThresholdBytes < 0 {
		return fmt.Errorf("cache config: compressionThresholdBytes must be >= 0, got %d", c.CompressionThresholdBytes)
	}
	if c.Limits.MaxKeyLength <= 0 {
		return fmt.Errorf("cache config: limits.maxKeyLength must be > 0, got %d", c.Limits.MaxKeyLength)
	}
	if c.Limits.MaxBatchSize <= 0 {
		return fmt.Errorf("cache config: limits.maxBatchSize must be > 0, got %d", c.Limits.MaxBatchSize)
	}
	if c.Limits.PipelineMaxSize <= 0 {
		return fmt.Errorf("cache config: limits.pipelineMaxSize must be > 0, got %d", c.Limits.PipelineMaxSize)
	}
	if c.Performance.MaxConcurrentOperations <= 0 {
		return fmt.Errorf("cache config: performance.maxConcurrentOperations must be > 0, got %d", c.Performance.MaxConcurrentOperations)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("cache config: redisURL must not be empty")
	}
	return nil
}

// clampTtl bounds a ttl to [MinTtlSeconds, MaxTtlSeconds] per invariant I1.
func (c Config) clampTtl(ttl int) int {
	if ttl < c.MinTtlSeconds {
		return c.MinTtlSeconds
	}
	if ttl > c.MaxTtlSeconds {
		return c.MaxTtlSeconds
	}
	return ttl
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
