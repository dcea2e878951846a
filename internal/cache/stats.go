package cache

import (
	"context"
	"sync/atomic"
)

// CacheStats is the cache-wide snapshot named in spec §6's "Downstream
// contracts exposed" (GetStats) but not detailed operation-by-operation.
// Modeled on the tiered-cache example's atomic-counter CacheStats,
// generalized to this module's hot/warm/governor/background-refresh
// shape.
type CacheStats struct {
	HotHits            int64
	HotMisses          int64
	WarmHits           int64
	WarmMisses         int64
	Errors             int64
	CompressionSaved   int64
	CompressionCount   int64
	GovernorQueueDepth int
	GovernorConcurrency int
	BackgroundScheduled int64
	BackgroundCompleted int64
	BackgroundFailed    int64
}

// statsCounters holds the atomic counters GetStats reads, fed by a
// statsEventBus wrapping the caller's real EventBus.
type statsCounters struct {
	hotHits, hotMisses     int64
	warmHits, warmMisses   int64
	errors                 int64
	backgroundScheduled    int64
	backgroundCompleted    int64
	backgroundFailed       int64
}

// statsEventBus counts every event it forwards, then passes it on to an
// inner EventBus (typically a PrometheusEventBus or noopEventBus).
type statsEventBus struct {
	inner    EventBus
	counters *statsCounters
}

// NewStatsEventBus wraps inner with the atomic counters GetStats reads.
// The counters are unexported: NewCore builds its own stats bus and reads
// them back through the concrete *statsEventBus.
func NewStatsEventBus(inner EventBus) EventBus {
	if inner == nil {
		inner = noopEventBus{}
	}
	return &statsEventBus{inner: inner, counters: &statsCounters{}}
}

func (b *statsEventBus) Emit(event Event) {
	switch event.MetricName {
	case "cache_get_success":
		switch event.Tags["layer"] {
		case string(LevelHot):
			atomic.AddInt64(&b.counters.hotHits, 1)
		case string(LevelWarm):
			atomic.AddInt64(&b.counters.warmHits, 1)
		case string(LevelMiss):
			atomic.AddInt64(&b.counters.warmMisses, 1)
		}
	case "cache_get_failed":
		atomic.AddInt64(&b.counters.errors, 1)
	case "background_update_scheduled":
		atomic.AddInt64(&b.counters.backgroundScheduled, 1)
	case "background_update_completed":
		atomic.AddInt64(&b.counters.backgroundCompleted, 1)
	case "background_update_failed":
		atomic.AddInt64(&b.counters.backgroundFailed, 1)
	}
	b.inner.Emit(event)
}

func (b *statsEventBus) reset() {
	atomic.StoreInt64(&b.counters.hotHits, 0)
	atomic.StoreInt64(&b.counters.hotMisses, 0)
	atomic.StoreInt64(&b.counters.warmHits, 0)
	atomic.StoreInt64(&b.counters.warmMisses, 0)
	atomic.StoreInt64(&b.counters.errors, 0)
	atomic.StoreInt64(&b.counters.backgroundScheduled, 0)
	atomic.StoreInt64(&b.counters.backgroundCompleted, 0)
	atomic.StoreInt64(&b.counters.backgroundFailed, 0)
}

// Core wires the Smart Cache Orchestrator, Stream Cache, and Common Cache
// together behind the single downstream-facing surface spec §6
// describes: Orchestrate, BatchOrchestrate, Get/Set/Delete, GetStats,
// GetHealth, Ping, ResetStats.
type Core struct {
	Orchestrator *Orchestrator
	Stream       *StreamCache
	Common       *CommonCache
	Governor     *Governor
	facade       *RedisFacade
	bus          *statsEventBus
}

// NewCore assembles every component from a single Config and an
// already-connected Redis client, wiring the shared EventBus/stats layer
// through all of them.
func NewCore(facade *RedisFacade, cfg Config, opts ...OrchestratorOption) *Core {
	bus := NewStatsEventBus(noopEventBus{}).(*statsEventBus)

	governor := NewGovernor(GovernorConfig{
		BaseConcurrency: cfg.Performance.MaxConcurrentOperations,
		Mode:            ModeBalanced,
		MaxQueueSize:    cfg.Limits.MaxBatchSize,
		EventBus:        bus,
	})
	common := NewCommonCache(facade, governor, bus, cfg, nil)
	stream := NewStreamCache(facade, governor, bus, cfg, nil, "stream-cache")
	orch := NewOrchestrator(common, bus, cfg, nil, cfg.Performance.MaxConcurrentOperations, opts...)

	return &Core{
		Orchestrator: orch,
		Stream:       stream,
		Common:       common,
		Governor:     governor,
		facade:       facade,
		bus:          bus,
	}
}

// GetStats returns the cache-wide snapshot described above.
func (c *Core) GetStats() CacheStats {
	return CacheStats{
		HotHits:             atomic.LoadInt64(&c.bus.counters.hotHits),
		HotMisses:           atomic.LoadInt64(&c.bus.counters.hotMisses),
		WarmHits:            atomic.LoadInt64(&c.bus.counters.warmHits),
		WarmMisses:          atomic.LoadInt64(&c.bus.counters.warmMisses),
		Errors:              atomic.LoadInt64(&c.bus.counters.errors),
		GovernorQueueDepth:  c.Governor.QueueDepth(),
		GovernorConcurrency: c.Governor.Concurrency(),
		BackgroundScheduled: atomic.LoadInt64(&c.bus.counters.backgroundScheduled),
		BackgroundCompleted: atomic.LoadInt64(&c.bus.counters.backgroundCompleted),
		BackgroundFailed:    atomic.LoadInt64(&c.bus.counters.backgroundFailed),
	}
}

// ResetStats zeroes every counter GetStats reports.
func (c *Core) ResetStats() {
	c.bus.reset()
}

// CoreHealth aggregates Stream Cache health with the shared Redis facade's
// reachability, per the §4.6/§9 "GetHealth" supplemented feature.
type CoreHealth struct {
	Stream         StreamHealth
	RedisConnected bool
}

// GetHealth reports the core's health snapshot.
func (c *Core) GetHealth(ctx context.Context) CoreHealth {
	return CoreHealth{
		Stream:         c.Stream.Health(ctx),
		RedisConnected: c.facade.Ping(ctx) == nil,
	}
}

// Ping checks Redis reachability directly.
func (c *Core) Ping(ctx context.Context) error {
	return c.facade.Ping(ctx)
}

// Close stops the orchestrator's background workers and the governor's
// adaptive-adjustment loop.
func (c *Core) Close() {
	c.Orchestrator.Close()
	c.Governor.Close()
}
