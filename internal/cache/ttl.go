package cache

import (
	"fmt"
	"math"
	"time"
)

// FreshnessRequirement classifies how fresh a caller needs a value to be,
// feeding the freshness multiplier in CalculateOptimalTTL.
type FreshnessRequirement string

const (
	FreshnessRealtime   FreshnessRequirement = "realtime"
	FreshnessAnalytical FreshnessRequirement = "analytical"
	FreshnessArchive    FreshnessRequirement = "archive"
)

// DataType classifies the kind of payload being cached, feeding the base
// TTL lookup in CalculateOptimalTTL.
type DataType string

const (
	DataTypeStockQuote DataType = "stock-quote"
	DataTypeHistorical DataType = "historical"
	DataTypeStatic     DataType = "static"
)

// TTLContext is the input to CalculateOptimalTTL.
type TTLContext struct {
	Symbol               string
	DataType             DataType
	MarketStatus         *MarketStatus
	FreshnessRequirement FreshnessRequirement
	CustomMultipliers    map[string]float64
}

// TTLDecision is the output of CalculateOptimalTTL: the chosen TTL, the
// strategy label that produced it, and a human-readable explanation
// suitable for logging.
type TTLDecision struct {
	TtlSeconds int
	Strategy   string
	Reasoning  string
}

const (
	strategyDataTypeBased     = "data_type_based"
	strategyDefaultFallback   = "default_fallback"
	strategyMarketAware       = "market_aware"
	strategyFreshnessOptimized = "freshness_optimized"
)

// CalculateOptimalTTL is the pure TTL-selection function described in spec
// §4.7: base TTL from data type, multiplied by a market-awareness factor
// and a freshness factor, clamped to [minTtl, maxTtl].
func CalculateOptimalTTL(ctx TTLContext, cfg Config) TTLDecision {
	baseTtl, strategy := baseTtlFor(ctx.DataType, cfg.DefaultTtlSeconds)

	marketMul := 1.0
	if ctx.MarketStatus != nil {
		marketMul, strategy = marketMultiplier(*ctx.MarketStatus)
	}

	freshnessMul := freshnessMultiplier(ctx.FreshnessRequirement)
	if ctx.FreshnessRequirement != "" && strategy != strategyDefaultFallback {
		strategy = strategyFreshnessOptimized
	}

	dataTypeMul := 1.0
	if m, ok := ctx.CustomMultipliers["dataType"]; ok {
		dataTypeMul = m
	}
	if m, ok := ctx.CustomMultipliers["market"]; ok {
		marketMul = m
	}
	if m, ok := ctx.CustomMultipliers["freshness"]; ok {
		freshnessMul = m
	}

	raw := float64(baseTtl) * marketMul * dataTypeMul * freshnessMul
	ttl := int(math.Round(raw))
	ttl = clampInt(ttl, cfg.MinTtlSeconds, cfg.MaxTtlSeconds)

	return TTLDecision{
		TtlSeconds: ttl,
		Strategy:   strategy,
		Reasoning:  reasoningFor(ctx, baseTtl, marketMul, dataTypeMul, freshnessMul, ttl),
	}
}

func baseTtlFor(dt DataType, defaultTtl int) (int, string) {
	switch dt {
	case DataTypeStockQuote:
		return 300, strategyDataTypeBased
	case DataTypeHistorical:
		return 3600, strategyDataTypeBased
	case DataTypeStatic:
		return 86400, strategyDataTypeBased
	default:
		return defaultTtl, strategyDefaultFallback
	}
}

func marketMultiplier(status MarketStatus) (float64, string) {
	if status.IsOpen {
		return 0.5, strategyMarketAware
	}
	mul := 2.0
	if status.NextStateChange != nil {
		hoursAway := time.Until(*status.NextStateChange).Hours()
		if hoursAway > 8 {
			mul = math.Min(4.0, mul*2)
		}
	}
	return mul, strategyMarketAware
}

func freshnessMultiplier(f FreshnessRequirement) float64 {
	switch f {
	case FreshnessRealtime:
		return 0.3
	case FreshnessAnalytical:
		return 1.5
	case FreshnessArchive:
		return 3.0
	default:
		return 1.0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func reasoningFor(ctx TTLContext, baseTtl int, marketMul, dataTypeMul, freshnessMul float64, ttl int) string {
	return fmt.Sprintf(
		"base=%ds marketMul=%.2f dataTypeMul=%.2f freshnessMul=%.2f -> ttl=%ds (dataType=%s)",
		baseTtl, marketMul, dataTypeMul, freshnessMul, ttl, ctx.DataType,
	)
}
