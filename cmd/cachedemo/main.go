// Package main is the entry point for the smart cache demo server.
//
// @title Smart Caching Core
// @version 0.1.0
// @description Multi-tier market data caching demo: hot in-process cache,
// @description Redis-backed warm cache, singleflight-deduplicated orchestration,
// @description market-aware TTL selection, and background refresh.
//
// @host localhost:8080
// @BasePath /
//
// @tag.name Health
// @tag.description Health check and readiness endpoints
//
// @tag.name Cache
// @tag.description Orchestrated market data reads
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/marketdata-platform/smartcache/internal/cache"
	applogger "github.com/marketdata-platform/smartcache/pkg/logger"
)

func main() {
	ctx := context.Background()

	redisURL := getEnv("REDIS_URL", "redis://localhost:6379/0")
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
	} else {
		log.Println("Redis connection established")
	}

	appLogger := applogger.New()

	cfg, err := cache.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Invalid cache configuration: %v", err)
	}

	registry := prometheus.NewRegistry()
	bus := cache.NewPrometheusEventBus(registry)
	facade := cache.NewRedisFacade(redisClient, cfg, appLogger)

	governor := cache.NewGovernor(cache.GovernorConfig{
		BaseConcurrency: cfg.Performance.MaxConcurrentOperations,
		Mode:            cache.ModeAdaptive,
		MaxQueueSize:    cfg.Limits.MaxBatchSize,
		EventBus:        bus,
	})
	defer governor.Close()

	commonCache := cache.NewCommonCache(facade, governor, bus, cfg, appLogger)
	streamCache := cache.NewStreamCache(facade, governor, bus, cfg, appLogger, "stream-cache")

	marketStatus := fixedMarketStatusProvider{}
	orchestrator := cache.NewOrchestrator(commonCache, bus, cfg, appLogger, 4,
		cache.WithMarketStatusProvider(marketStatus))
	defer orchestrator.Close()

	app := fiber.New(fiber.Config{
		AppName: "Smart Caching Core v0.1.0",
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := facade.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "degraded",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	app.Get("/v1/quote/:symbol", func(c *fiber.Ctx) error {
		symbol := c.Params("symbol")
		strategy := cache.Strategy(c.Query("strategy", string(cache.StrategyMarketAware)))

		key, err := cache.BuildUnifiedCacheKey("quote", []string{symbol}, nil)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		result := orchestrator.Orchestrate(c.Context(), cache.OrchestratorRequest{
			CacheKey: key,
			Strategy: strategy,
			Symbols:  []string{symbol},
			FetchFn:  upstreamQuoteFetcher(symbol),
		})
		if result.Error != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": result.Error.Error()})
		}

		var payload interface{}
		if err := json.Unmarshal(result.Data, &payload); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		return c.JSON(fiber.Map{
			"hit":               result.Hit,
			"ttl_remaining_sec": result.TtlRemainingSeconds,
			"dynamic_ttl":       result.DynamicTtl,
			"strategy":          result.Strategy,
			"data":              payload,
		})
	})

	app.Get("/v1/stream/:symbol", func(c *fiber.Ctx) error {
		symbol := c.Params("symbol")
		warmKey := "symbol:" + symbol

		res := streamCache.Get(c.Context(), warmKey)
		return c.JSON(fiber.Map{
			"cache_level": res.CacheLevel,
			"points":      res.Points,
		})
	})

	port := getEnv("PORT", "8080")
	log.Printf("Starting Smart Caching Core demo on port %s", port)
	log.Fatal(app.Listen(":" + port))
}

// upstreamQuoteFetcher stands in for the real market-data provider this
// service would otherwise call out to; it fabricates a deterministic quote
// so the orchestrated cache path can be exercised end to end.
func upstreamQuoteFetcher(symbol string) cache.FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		quote := map[string]interface{}{
			"symbol":     symbol,
			"price":      100.0,
			"fetched_at": time.Now().UnixMilli(),
		}
		return json.Marshal(quote)
	}
}

// fixedMarketStatusProvider reports a permanently open market, useful for
// local demos without a real market-calendar dependency wired up.
type fixedMarketStatusProvider struct{}

func (fixedMarketStatusProvider) GetMarketStatus(ctx context.Context, market string) (cache.MarketStatus, error) {
	return cache.MarketStatus{
		IsOpen: true,
		Status: cache.MarketTrading,
	}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
