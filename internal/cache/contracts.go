package cache

import (
	"context"
	"time"
)

// MarketState enumerates the state a MarketStatus can be in.
type MarketState string

const (
	MarketTrading    MarketState = "TRADING"
	MarketPreMarket  MarketState = "PRE_MARKET"
	MarketClosed     MarketState = "CLOSED"
	MarketHoliday    MarketState = "HOLIDAY"
)

// MarketStatus describes whether a given market is currently open, per
// spec §3.1. Queried on demand; never cached by the orchestrator longer
// than nearRealTimeTtlSeconds.
type MarketStatus struct {
	IsOpen           bool
	IsHoliday        bool
	Timezone         string
	Status           MarketState
	NextStateChange  *time.Time
}

// MarketStatusProvider is the external collaborator (component G) that
// answers market-open/closed/holiday queries. Implementations must be
// safe for concurrent callers; the orchestrator treats it as read-only.
type MarketStatusProvider interface {
	GetMarketStatus(ctx context.Context, marketCode string) (MarketStatus, error)
}

// TransformDirection selects which way a SymbolTransformer maps symbols.
type TransformDirection string

const (
	ToStandard   TransformDirection = "TO_STANDARD"
	FromStandard TransformDirection = "FROM_STANDARD"
)

// SymbolMapping records one source-to-destination symbol translation.
type SymbolMapping struct {
	Source      string
	Destination string
}

// TransformMetadata carries diagnostic information about a Transform call.
type TransformMetadata struct {
	ProcessingTimeMs int64
}

// TransformResult is returned by SymbolTransformer.Transform.
type TransformResult struct {
	MappedSymbols  []string
	MappingDetails []SymbolMapping
	FailedSymbols  []string
	Metadata       TransformMetadata
}

// SymbolTransformer is the external collaborator (component L) that maps
// provider-specific symbols to/from the core's standard symbol space. The
// cache core consumes this interface only to normalize inputs before key
// construction; it implements none of the mapping rules itself.
type SymbolTransformer interface {
	Transform(ctx context.Context, provider string, symbols []string, direction TransformDirection) (TransformResult, error)
}

// MetricType classifies an emitted Event.
type MetricType string

const (
	MetricCounter   MetricType = "counter"
	MetricGauge     MetricType = "gauge"
	MetricHistogram MetricType = "histogram"
)

// Event is the fire-and-forget record shape emitted to the EventBus, per
// spec §6 "Event record shape".
type Event struct {
	Timestamp  time.Time
	Source     string
	MetricType MetricType
	MetricName string
	MetricValue float64
	Tags       map[string]string
}

// EventBus is the external collaborator (component K) that receives
// METRIC_COLLECTED-style events. Emission is always non-blocking from the
// orchestrator's perspective; implementations must not block the caller
// for long (they are invoked from a background goroutine, never the hot
// path, but should still return promptly).
type EventBus interface {
	Emit(event Event)
}

// noopEventBus discards every event; used when the caller supplies none.
type noopEventBus struct{}

func (noopEventBus) Emit(Event) {}

// StreamDataPoint is the compact time-series record the Stream Cache
// stores, per spec §3.1. Ordered by Timestamp ascending within a stream
// key (invariant I6).
type StreamDataPoint struct {
	Symbol         string  `json:"s"`
	Price          float64 `json:"p"`
	Volume         float64 `json:"v"`
	TimestampMs    int64   `json:"t"`
	Change         *float64 `json:"c,omitempty"`
	ChangePercent  *float64 `json:"cp,omitempty"`
}
