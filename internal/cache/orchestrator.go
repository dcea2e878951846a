package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	applogger "github.com/marketdata-platform/smartcache/pkg/logger"
)

// Strategy selects the caching discipline for one OrchestratorRequest.
type Strategy string

const (
	StrategyStrongTimeliness Strategy = "STRONG_TIMELINESS"
	StrategyWeakTimeliness   Strategy = "WEAK_TIMELINESS"
	StrategyMarketAware      Strategy = "MARKET_AWARE"
	StrategyNoCache          Strategy = "NO_CACHE"
	StrategyAdaptive         Strategy = "ADAPTIVE"
)

// KeyState is the per-key state machine position described in spec §4.9.
type KeyState string

const (
	StateIdle      KeyState = "IDLE"
	StateFetching  KeyState = "FETCHING"
	StateWriting   KeyState = "WRITING"
	StateError     KeyState = "ERROR"
	StateScheduled KeyState = "SCHEDULED"
)

// FetchFunc retrieves fresh data for a cache miss or a background refresh.
type FetchFunc func(ctx context.Context) ([]byte, error)

// OrchestratorRequest is one caller invocation, per spec §3.1.
type OrchestratorRequest struct {
	CacheKey string
	Strategy Strategy
	Symbols  []string
	FetchFn  FetchFunc
	Metadata map[string]string
}

// OrchestratorResult is returned by Orchestrate, per spec §3.1.
type OrchestratorResult struct {
	Data               []byte
	Hit                bool
	TtlRemainingSeconds int64
	DynamicTtl         int
	Strategy           Strategy
	StorageKey         string
	Timestamp          time.Time
	Error              error
}

// Orchestrator is the Smart Cache Orchestrator (component J): strategy
// dispatch, single-flight de-duplication, and background refresh
// scheduling.
type Orchestrator struct {
	cache        *CommonCache
	marketStatus MarketStatusProvider
	bus          EventBus
	cfg          Config
	log          *applogger.Logger

	group singleflight.Group

	statesMu sync.Mutex
	states   map[string]KeyState

	tracked   sync.Map // cacheKey -> *trackedRequest
	refreshed *lru.Cache[string, time.Time]

	refreshQueue chan string
	refreshLimiter *rate.Limiter
	workerWg     sync.WaitGroup
	stopCh       chan struct{}
}

// trackedRequest is retained for background-refresh eligibility scans.
type trackedRequest struct {
	request    OrchestratorRequest
	originalTtl int
}

// OrchestratorOption configures NewOrchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMarketStatusProvider injects the external market-status collaborator
// used by the MARKET_AWARE strategy.
func WithMarketStatusProvider(p MarketStatusProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.marketStatus = p }
}

// NewOrchestrator wires a CommonCache, config, logger, and optional
// MarketStatusProvider/EventBus together, and starts the background
// refresh worker pool. Call Close on shutdown.
func NewOrchestrator(cache *CommonCache, bus EventBus, cfg Config, log *applogger.Logger, workerCount int, opts ...OrchestratorOption) *Orchestrator {
	if bus == nil {
		bus = noopEventBus{}
	}
	if log == nil {
		log = applogger.NewNoop()
	}
	refreshed, _ := lru.New[string, time.Time](10000)

	o := &Orchestrator{
		cache:     cache,
		bus:       bus,
		cfg:       cfg,
		log:       log,
		states:    make(map[string]KeyState),
		refreshed: refreshed,
		refreshQueue: make(chan string, 1000),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	if workerCount <= 0 {
		workerCount = 4
	}
	// Paces how fast the worker pool drains refreshQueue, independent of how
	// many workers are running, so a burst of near-simultaneous expirations
	// can't all hit FetchFn in the same instant.
	o.refreshLimiter = rate.NewLimiter(rate.Limit(workerCount*5), workerCount*2)

	o.workerWg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go o.refreshWorker()
	}
	go o.scanLoop()

	return o
}

// selectTtl implements the §4.9 strategy->TTL table.
func (o *Orchestrator) selectTtl(ctx context.Context, strategy Strategy) int {
	switch strategy {
	case StrategyNoCache:
		return 0
	case StrategyStrongTimeliness:
		if o.cfg.TTL.RealTimeTtlSeconds < 1 {
			return 1
		}
		return o.cfg.TTL.RealTimeTtlSeconds
	case StrategyWeakTimeliness:
		return o.cfg.TTL.BatchQueryTtlSeconds
	case StrategyAdaptive:
		return o.cfg.TTL.NearRealTimeTtlSeconds
	case StrategyMarketAware:
		return o.marketAwareTtl(ctx)
	default:
		return o.cfg.TTL.NearRealTimeTtlSeconds
	}
}

func (o *Orchestrator) marketAwareTtl(ctx context.Context) int {
	if o.marketStatus == nil {
		return o.cfg.TTL.NearRealTimeTtlSeconds
	}
	status, err := o.marketStatus.GetMarketStatus(ctx, "default")
	if err != nil {
		return o.cfg.TTL.NearRealTimeTtlSeconds
	}
	switch {
	case status.Status == MarketTrading || status.Status == MarketPreMarket:
		return o.cfg.TTL.NearRealTimeTtlSeconds
	case status.IsHoliday || status.Status == MarketHoliday:
		return o.cfg.TTL.WeekendTtlSeconds
	default:
		return o.cfg.TTL.OffHoursTtlSeconds
	}
}

// Orchestrate implements the §4.9 execution algorithm: cache check, then
// (for ttl==0) a direct fetch, then single-flight-guarded fetch+set.
func (o *Orchestrator) Orchestrate(ctx context.Context, req OrchestratorRequest) OrchestratorResult {
	now := time.Now()

	if res, hit := o.cache.Get(ctx, req.CacheKey); hit {
		o.track(req)
		o.maybeSchedule(req, res.TtlRemainingSec)
		return OrchestratorResult{
			Data: res.Data, Hit: true, TtlRemainingSeconds: res.TtlRemainingSec,
			Strategy: req.Strategy, StorageKey: req.CacheKey, Timestamp: now,
		}
	}

	ttl := o.selectTtl(ctx, req.Strategy)
	if ttl == 0 {
		data, err := req.FetchFn(ctx)
		if err != nil {
			return OrchestratorResult{Hit: false, Strategy: req.Strategy, StorageKey: req.CacheKey, Timestamp: now, Error: err}
		}
		return OrchestratorResult{Data: data, Hit: false, TtlRemainingSeconds: 0, Strategy: req.Strategy, StorageKey: req.CacheKey, Timestamp: now}
	}

	o.setState(req.CacheKey, StateFetching)
	v, err, _ := o.group.Do(req.CacheKey, func() (interface{}, error) {
		data, fetchErr := req.FetchFn(ctx)
		if fetchErr != nil {
			o.setState(req.CacheKey, StateError)
			o.setState(req.CacheKey, StateIdle)
			return nil, fetchErr
		}
		o.setState(req.CacheKey, StateWriting)
		o.cache.Set(ctx, req.CacheKey, data, ttl)
		o.setState(req.CacheKey, StateIdle)
		return data, nil
	})
	if err != nil {
		return OrchestratorResult{Hit: false, Strategy: req.Strategy, StorageKey: req.CacheKey, Timestamp: now, Error: err}
	}

	o.track(req)
	data, _ := v.([]byte)
	return OrchestratorResult{
		Data: data, Hit: false, TtlRemainingSeconds: int64(ttl), DynamicTtl: ttl,
		Strategy: req.Strategy, StorageKey: req.CacheKey, Timestamp: now,
	}
}

// BatchOrchestrate parallelizes per-request orchestration while sharing
// the single-flight map (I4 is still per-key, not per-batch).
func (o *Orchestrator) BatchOrchestrate(ctx context.Context, reqs []OrchestratorRequest) []OrchestratorResult {
	results := make([]OrchestratorResult, len(reqs))
	var wg sync.WaitGroup
	wg.Add(len(reqs))
	for i, req := range reqs {
		go func(i int, req OrchestratorRequest) {
			defer wg.Done()
			results[i] = o.Orchestrate(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) setState(key string, state KeyState) {
	o.statesMu.Lock()
	o.states[key] = state
	o.statesMu.Unlock()
}

// State reports the current state machine position for key, mainly for
// tests and diagnostics.
func (o *Orchestrator) State(key string) KeyState {
	o.statesMu.Lock()
	defer o.statesMu.Unlock()
	if s, ok := o.states[key]; ok {
		return s
	}
	return StateIdle
}

func (o *Orchestrator) track(req OrchestratorRequest) {
	ttl := o.selectTtl(context.Background(), req.Strategy)
	o.tracked.Store(req.CacheKey, &trackedRequest{request: req, originalTtl: ttl})
}

// eligibilityRatio is the §4.9 threshold below which a key qualifies for
// background refresh: STRONG strategies at 0.5, WEAK at 0.25.
func eligibilityRatio(strategy Strategy) float64 {
	if strategy == StrategyWeakTimeliness {
		return 0.25
	}
	return 0.5
}

// maybeSchedule enqueues a background refresh if the remaining-ttl ratio
// has fallen under the strategy's eligibility threshold and the key is not
// already inside its minUpdateIntervalMs cooldown.
func (o *Orchestrator) maybeSchedule(req OrchestratorRequest, ttlRemaining int64) {
	tr, ok := o.tracked.Load(req.CacheKey)
	var originalTtl int
	if ok {
		originalTtl = tr.(*trackedRequest).originalTtl
	} else {
		originalTtl = o.selectTtl(context.Background(), req.Strategy)
	}
	if originalTtl <= 0 {
		return
	}

	ratio := float64(ttlRemaining) / float64(originalTtl)
	if ratio >= eligibilityRatio(req.Strategy) {
		return
	}

	if last, ok := o.refreshed.Get(req.CacheKey); ok {
		if time.Since(last) < time.Duration(minUpdateIntervalMs)*time.Millisecond {
			return
		}
	}

	o.setState(req.CacheKey, StateScheduled)
	select {
	case o.refreshQueue <- req.CacheKey:
		o.bus.Emit(Event{Source: "orchestrator", MetricType: MetricCounter, MetricName: "background_update_scheduled", Tags: map[string]string{"key": req.CacheKey}})
	default:
		o.bus.Emit(Event{Source: "orchestrator", MetricType: MetricCounter, MetricName: "capacity_warning", Tags: map[string]string{"key": req.CacheKey, "queue": "background_refresh"}})
	}
}

// minUpdateIntervalMs is the default minimum spacing between refreshes of
// the same key, per spec §4.9's minUpdateIntervalMs option.
const minUpdateIntervalMs = 5000

func (o *Orchestrator) refreshWorker() {
	defer o.workerWg.Done()
	for {
		select {
		case <-o.stopCh:
			return
		case key := <-o.refreshQueue:
			if err := o.refreshLimiter.Wait(context.Background()); err != nil {
				return
			}
			o.runRefresh(key)
		}
	}
}

func (o *Orchestrator) runRefresh(key string) {
	v, ok := o.tracked.Load(key)
	if !ok {
		return
	}
	tr := v.(*trackedRequest)

	o.setState(key, StateFetching)
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(o.cfg.Performance.OperationTimeoutMs)*time.Millisecond)
	defer cancel()

	data, err := tr.request.FetchFn(ctx)
	if err != nil {
		o.setState(key, StateError)
		o.setState(key, StateIdle)
		o.bus.Emit(Event{Source: "orchestrator", MetricType: MetricCounter, MetricName: "background_update_failed", Tags: map[string]string{"key": key, "error": err.Error()}})
		return
	}

	o.setState(key, StateWriting)
	o.cache.Set(ctx, key, data, tr.originalTtl)
	o.setState(key, StateIdle)
	o.refreshed.Add(key, time.Now())
	o.bus.Emit(Event{Source: "orchestrator", MetricType: MetricCounter, MetricName: "background_update_completed", Tags: map[string]string{"key": key}})
}

// scanLoop periodically re-evaluates tracked keys' remaining TTL against
// their eligibility threshold, independent of read traffic.
func (o *Orchestrator) scanLoop() {
	ticker := time.NewTicker(time.Duration(o.cfg.Intervals.CleanupIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.scanOnce()
		}
	}
}

func (o *Orchestrator) scanOnce() {
	var keys []string
	o.tracked.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	if len(keys) == 0 {
		return
	}
	ctx := context.Background()
	metas, err := o.cache.MGetWithMetadata(ctx, keys)
	if err != nil {
		return
	}
	for i, k := range keys {
		if !metas[i].Hit {
			continue
		}
		v, ok := o.tracked.Load(k)
		if !ok {
			continue
		}
		o.maybeSchedule(v.(*trackedRequest).request, metas[i].TtlRemainingSec)
	}
}

// Close stops the background refresh worker pool and scan loop, draining
// within the configured graceful-shutdown window.
func (o *Orchestrator) Close() {
	close(o.stopCh)
	done := make(chan struct{})
	go func() {
		o.workerWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.cfg.GracefulShutdownTimeout):
		o.log.Warn("orchestrator shutdown timed out waiting for background workers")
	}
}
