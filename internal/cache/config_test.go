package cache

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate_RejectsInvertedTtlRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinTtlSeconds = 100
	cfg.MaxTtlSeconds = 10
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsZeroBatchSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxBatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsEmptyRedisURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisURL = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_ClampTtl(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinTtlSeconds = 5
	cfg.MaxTtlSeconds = 100

	assert.Equal(t, 5, cfg.clampTtl(0))
	assert.Equal(t, 100, cfg.clampTtl(1000))
	assert.Equal(t, 42, cfg.clampTtl(42))
}

func TestLoadConfigFromEnv_OverridesDefaults(t *testing.T) {
	t.Setenv("CACHE_REDIS_URL", "redis://example:6379/1")
	t.Setenv("CACHE_DEFAULT_TTL_SECONDS", "60")
	t.Setenv("CACHE_MAX_BATCH_SIZE", "250")
	defer func() {
		os.Unsetenv("CACHE_REDIS_URL")
		os.Unsetenv("CACHE_DEFAULT_TTL_SECONDS")
		os.Unsetenv("CACHE_MAX_BATCH_SIZE")
	}()

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "redis://example:6379/1", cfg.RedisURL)
	assert.Equal(t, 60, cfg.DefaultTtlSeconds)
	assert.Equal(t, 250, cfg.Limits.MaxBatchSize)
}

func TestLoadConfigFromEnv_FallsBackOnInvalidInt(t *testing.T) {
	t.Setenv("CACHE_DEFAULT_TTL_SECONDS", "not-a-number")
	defer os.Unsetenv("CACHE_DEFAULT_TTL_SECONDS")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().DefaultTtlSeconds, cfg.DefaultTtlSeconds)
}

func TestLoadConfigFromEnv_RejectsInvalidResult(t *testing.T) {
	t.Setenv("CACHE_MAX_BATCH_SIZE", "0")
	defer os.Unsetenv("CACHE_MAX_BATCH_SIZE")

	_, err := LoadConfigFromEnv()
	assert.Error(t, err)
}
