package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusEventBus adapts the cache's generic EventBus contract onto
// Prometheus collectors, extending the teacher's internal/metrics package
// pattern (package-level promauto constructors) with the event names spec
// §4.9 names explicitly.
type PrometheusEventBus struct {
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	cacheErrors     *prometheus.CounterVec
	backgroundScheduled *prometheus.CounterVec
	backgroundCompleted *prometheus.CounterVec
	backgroundFailed    *prometheus.CounterVec
	concurrencyAdjusted prometheus.Gauge
	memoryPressure      prometheus.Counter
	capacityWarning     *prometheus.CounterVec
	symbolTransformOk   prometheus.Counter
	symbolTransformFail prometheus.Counter
}

// NewPrometheusEventBus registers every cache metric against reg. Pass
// prometheus.DefaultRegisterer to use the global registry, as the
// teacher's promauto-based metrics.go does implicitly.
func NewPrometheusEventBus(reg prometheus.Registerer) *PrometheusEventBus {
	factory := promauto.With(reg)
	return &PrometheusEventBus{
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smartcache_get_success_total",
			Help: "Cache reads that found a value, by layer (hot/warm).",
		}, []string{"layer"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smartcache_get_miss_total",
			Help: "Cache reads that found nothing.",
		}, []string{"layer"}),
		cacheErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smartcache_get_failed_total",
			Help: "Cache operations that failed, by op and error code.",
		}, []string{"op", "code"}),
		backgroundScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smartcache_background_update_scheduled_total",
			Help: "Background refresh tasks scheduled.",
		}, []string{"key"}),
		backgroundCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smartcache_background_update_completed_total",
			Help: "Background refresh tasks completed successfully.",
		}, []string{"key"}),
		backgroundFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smartcache_background_update_failed_total",
			Help: "Background refresh tasks that failed.",
		}, []string{"key"}),
		concurrencyAdjusted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "smartcache_governor_concurrency",
			Help: "Current adaptive concurrency ceiling of the decompression governor.",
		}),
		memoryPressure: factory.NewCounter(prometheus.CounterOpts{
			Name: "smartcache_memory_pressure_handled_total",
			Help: "Times the governor lowered concurrency due to memory pressure.",
		}),
		capacityWarning: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smartcache_capacity_warning_total",
			Help: "Times a bounded queue dropped work due to capacity.",
		}, []string{"queue"}),
		symbolTransformOk: factory.NewCounter(prometheus.CounterOpts{
			Name: "smartcache_symbol_transformation_completed_total",
			Help: "Successful symbol transformations.",
		}),
		symbolTransformFail: factory.NewCounter(prometheus.CounterOpts{
			Name: "smartcache_symbol_transformation_failed_total",
			Help: "Failed symbol transformations.",
		}),
	}
}

// Emit implements EventBus, routing each named metric to its Prometheus
// collector. Unknown metric names are silently dropped — the bus never
// blocks or panics the hot path.
func (p *PrometheusEventBus) Emit(event Event) {
	layer := event.Tags["layer"]
	switch event.MetricName {
	case "cache_get_success":
		if layer == string(LevelMiss) {
			p.cacheMisses.WithLabelValues(layer).Inc()
		} else {
			p.cacheHits.WithLabelValues(layer).Inc()
		}
	case "cache_get_failed":
		p.cacheErrors.WithLabelValues(event.Tags["op"], event.Tags["code"]).Inc()
	case "background_update_scheduled":
		p.backgroundScheduled.WithLabelValues(event.Tags["key"]).Inc()
	case "background_update_completed":
		p.backgroundCompleted.WithLabelValues(event.Tags["key"]).Inc()
	case "background_update_failed":
		p.backgroundFailed.WithLabelValues(event.Tags["key"]).Inc()
	case "concurrency_adjusted":
		p.concurrencyAdjusted.Set(event.MetricValue)
	case "memory_pressure_handled":
		p.memoryPressure.Inc()
	case "capacity_warning":
		p.capacityWarning.WithLabelValues(event.Tags["queue"]).Inc()
	case "symbol_transformation_completed":
		p.symbolTransformOk.Inc()
	case "symbol_transformation_failed":
		p.symbolTransformFail.Inc()
	}
}
