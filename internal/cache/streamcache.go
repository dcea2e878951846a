package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	applogger "github.com/marketdata-platform/smartcache/pkg/logger"
)

// StreamPriority selects which tiers Set writes to.
type StreamPriority string

const (
	StreamPriorityHot  StreamPriority = "hot"
	StreamPriorityWarm StreamPriority = "warm"
	StreamPriorityAuto StreamPriority = "auto"
)

const (
	autoHotMaxBytes  = 10000
	autoHotMaxPoints = 100
)

// StreamCacheLevel reports which tier satisfied a Get, used by the
// Concrete Scenario 1 hot-warm-promotion test.
type StreamCacheLevel string

const (
	LevelHot  StreamCacheLevel = "hot"
	LevelWarm StreamCacheLevel = "warm"
	LevelMiss StreamCacheLevel = "miss"
)

// StreamGetResult is returned by StreamCache.Get.
type StreamGetResult struct {
	Points     []StreamDataPoint
	CacheLevel StreamCacheLevel
}

// StreamHealth is the §4.6 health snapshot.
type StreamHealth struct {
	HotCacheSize    int
	RedisConnected  bool
	LastError       string
	AvgHotHitTime   time.Duration
	AvgWarmHitTime  time.Duration
	CompressionRatio float64
}

// StreamCache is the two-tier (hot/warm) cache for append-only
// time-series data described in spec §4.6.
type StreamCache struct {
	hot      *HotCache
	facade   *RedisFacade
	governor *Governor
	bus      EventBus
	cfg      Config
	log      *applogger.Logger
	prefix   string

	mu         sync.Mutex
	lastError  string
	hotHits    []time.Duration
	warmHits   []time.Duration
	compressedBytes int64
	originalBytes   int64
}

// NewStreamCache wires the hot tier, a Redis facade, a governor for bounded
// decompression, and an event bus together.
func NewStreamCache(facade *RedisFacade, governor *Governor, bus EventBus, cfg Config, log *applogger.Logger, prefix string) *StreamCache {
	if bus == nil {
		bus = noopEventBus{}
	}
	if log == nil {
		log = applogger.NewNoop()
	}
	if prefix == "" {
		prefix = "stream-cache"
	}
	return &StreamCache{
		hot:      NewHotCache(cfg.Stream.MaxHotCacheSize, cfg.Stream.HotCacheTTLms),
		facade:   facade,
		governor: governor,
		bus:      bus,
		cfg:      cfg,
		log:      log,
		prefix:   prefix,
	}
}

func (s *StreamCache) warmKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// Get resolves hot first, then warm; a warm hit is promoted to hot before
// returning (invariant I2: warm writes precede hot-tier promotion).
func (s *StreamCache) Get(ctx context.Context, key string) StreamGetResult {
	start := time.Now()
	if entry, ok := s.hot.Get(key); ok {
		s.recordHit(&s.hotHits, time.Since(start))
		s.emitGetSuccess(LevelHot)
		return StreamGetResult{Points: entry.Data, CacheLevel: LevelHot}
	}

	warmStart := time.Now()
	raw, err := s.facade.Get(ctx, s.warmKey(key))
	if err != nil {
		s.setLastError(err)
		s.emitGetSuccess(LevelMiss)
		return StreamGetResult{CacheLevel: LevelMiss}
	}
	if raw == nil {
		s.emitGetSuccess(LevelMiss)
		return StreamGetResult{CacheLevel: LevelMiss}
	}

	points, err := s.parsePoints(raw)
	if err != nil {
		s.setLastError(err)
		s.emitGetSuccess(LevelMiss)
		return StreamGetResult{CacheLevel: LevelMiss}
	}
	s.recordHit(&s.warmHits, time.Since(warmStart))

	// Promote to hot (I2: the value already exists in warm).
	s.hot.Set(key, points)
	s.emitGetSuccess(LevelWarm)
	return StreamGetResult{Points: points, CacheLevel: LevelWarm}
}

func (s *StreamCache) parsePoints(raw []byte) ([]StreamDataPoint, error) {
	parsed, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	jsonBytes, err := DecompressToBytes(parsed)
	if err != nil {
		return nil, err
	}
	var points []StreamDataPoint
	if err := json.Unmarshal(jsonBytes, &points); err != nil {
		return nil, NewCacheError("Get", "", CodeDecompressionJSON, err)
	}
	return points, nil
}

// Set writes points to warm always, and to hot when priority says so or,
// under "auto", when the serialized payload is small per §4.6.
func (s *StreamCache) Set(ctx context.Context, key string, points []StreamDataPoint, priority StreamPriority) error {
	sorted := sortPoints(points)

	raw, err := Serialize(sorted, nowMillis(), s.cfg.CompressionEnabled, s.cfg.CompressionThresholdBytes)
	if err != nil {
		return err
	}
	s.recordCompression(raw, sorted)

	if err := s.facade.SetEx(ctx, s.warmKey(key), s.cfg.Stream.WarmCacheTTLseconds, raw); err != nil {
		s.setLastError(err)
		return err
	}

	writeHot := priority == StreamPriorityHot ||
		(priority == StreamPriorityAuto && len(raw) < autoHotMaxBytes && len(sorted) < autoHotMaxPoints)
	if writeHot {
		s.hot.Set(key, sorted)
	}
	return nil
}

func sortPoints(points []StreamDataPoint) []StreamDataPoint {
	sorted := append([]StreamDataPoint(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TimestampMs < sorted[j].TimestampMs })
	return sorted
}

func (s *StreamCache) recordCompression(raw []byte, points []StreamDataPoint) {
	jsonBytes, _ := json.Marshal(points)
	s.mu.Lock()
	s.originalBytes += int64(len(jsonBytes))
	s.compressedBytes += int64(len(raw))
	s.mu.Unlock()
}

// GetSince fetches the full sequence via Get and filters to points strictly
// after sinceMs, preserving order (invariant I6). Returns nil if nothing
// qualifies.
func (s *StreamCache) GetSince(ctx context.Context, key string, sinceMs int64) []StreamDataPoint {
	result := s.Get(ctx, key)
	if len(result.Points) == 0 {
		return nil
	}
	out := make([]StreamDataPoint, 0, len(result.Points))
	for _, p := range result.Points {
		if p.TimestampMs > sinceMs {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// BatchGet resolves as many keys as possible from hot, then issues one MGET
// per StreamBatchSize chunk of the rest. When a chunk's MGET fails it falls
// back to issuing Get per key of that chunk.
func (s *StreamCache) BatchGet(ctx context.Context, keys []string) map[string]StreamGetResult {
	out := make(map[string]StreamGetResult, len(keys))
	var remaining []string
	for _, k := range keys {
		if entry, ok := s.hot.Get(k); ok {
			out[k] = StreamGetResult{Points: entry.Data, CacheLevel: LevelHot}
		} else {
			remaining = append(remaining, k)
		}
	}
	if len(remaining) == 0 {
		return out
	}

	for start := 0; start < len(remaining); start += s.cfg.Stream.StreamBatchSize {
		end := start + s.cfg.Stream.StreamBatchSize
		if end > len(remaining) {
			end = len(remaining)
		}
		s.batchGetChunk(ctx, remaining[start:end], out)
	}
	return out
}

func (s *StreamCache) batchGetChunk(ctx context.Context, keys []string, out map[string]StreamGetResult) {
	warmKeys := make([]string, len(keys))
	for i, k := range keys {
		warmKeys[i] = s.warmKey(k)
	}

	raws, err := s.facade.MGet(ctx, warmKeys)
	if err != nil {
		// Fall back to per-key Get.
		for _, k := range keys {
			out[k] = s.Get(ctx, k)
		}
		return
	}
	for i, k := range keys {
		if raws[i] == nil {
			out[k] = StreamGetResult{CacheLevel: LevelMiss}
			continue
		}
		points, perr := s.parsePoints(raws[i])
		if perr != nil {
			out[k] = StreamGetResult{CacheLevel: LevelMiss}
			continue
		}
		s.hot.Set(k, points)
		out[k] = StreamGetResult{Points: points, CacheLevel: LevelWarm}
	}
}

const clearSmallThreshold = 1000
const cooperativePause = 10 * time.Millisecond

// ClearOptions tunes Clear's strategy selection, per §4.6.
type ClearOptions struct {
	Force          bool
	PreserveActive bool
	MaxAgeSec      int64
}

// Clear removes keys matching pattern from the warm tier (and the
// corresponding hot entries), choosing among three strategies by volume:
// small (SCAN+UNLINK directly), large (batched with cooperative pauses),
// and preserveActive (only unlink keys with no expiry or past maxAgeSec).
func (s *StreamCache) Clear(ctx context.Context, pattern string, opts ClearOptions) error {
	fullPattern := s.warmKey(pattern)

	var matched []string
	if err := s.facade.Scan(ctx, fullPattern, 100, func(keys []string) error {
		matched = append(matched, keys...)
		return nil
	}); err != nil {
		return err
	}

	switch {
	case opts.PreserveActive:
		return s.clearPreserveActive(ctx, matched, opts.MaxAgeSec)
	case len(matched) < clearSmallThreshold || opts.Force:
		return s.unlinkAll(ctx, matched)
	default:
		return s.clearBatched(ctx, matched)
	}
}

func (s *StreamCache) unlinkAll(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	s.clearHotForWarmKeys(keys)
	return s.facade.Unlink(ctx, keys...)
}

func (s *StreamCache) clearBatched(ctx context.Context, keys []string) error {
	const batch = 200
	for start := 0; start < len(keys); start += batch {
		end := start + batch
		if end > len(keys) {
			end = len(keys)
		}
		if err := s.unlinkAll(ctx, keys[start:end]); err != nil {
			return err
		}
		time.Sleep(cooperativePause)
	}
	return nil
}

func (s *StreamCache) clearPreserveActive(ctx context.Context, keys []string, maxAgeSec int64) error {
	if len(keys) == 0 {
		return nil
	}
	ops := make([]PipelineOp, len(keys))
	for i, k := range keys {
		ops[i] = PipelineOp{Kind: "pttl", Key: k}
	}
	results, err := s.facade.Pipeline(ctx, ops)
	if err != nil {
		return err
	}

	var toUnlink []string
	for i, k := range keys {
		ttl := mapPttlToSeconds(results[i].Int64, s.cfg.NoExpireDefaultSeconds)
		if results[i].Int64 == -1 || ttl > maxAgeSec {
			toUnlink = append(toUnlink, k)
		}
	}
	return s.unlinkAll(ctx, toUnlink)
}

func (s *StreamCache) clearHotForWarmKeys(warmKeys []string) {
	prefixLen := len(s.prefix) + 1
	for _, wk := range warmKeys {
		if len(wk) > prefixLen {
			s.hot.Delete(wk[prefixLen:])
		}
	}
}

// Health reports the §4.6 snapshot.
func (s *StreamCache) Health(ctx context.Context) StreamHealth {
	connected := s.facade.Ping(ctx) == nil

	s.mu.Lock()
	lastErr := s.lastError
	ratio := 1.0
	if s.originalBytes > 0 {
		ratio = float64(s.compressedBytes) / float64(s.originalBytes)
	}
	avgHot := avgDuration(s.hotHits)
	avgWarm := avgDuration(s.warmHits)
	s.mu.Unlock()

	return StreamHealth{
		HotCacheSize:     s.hot.Len(),
		RedisConnected:   connected,
		LastError:        lastErr,
		AvgHotHitTime:    avgHot,
		AvgWarmHitTime:   avgWarm,
		CompressionRatio: ratio,
	}
}

func avgDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range samples {
		total += d
	}
	return total / time.Duration(len(samples))
}

func (s *StreamCache) recordHit(bucket *[]time.Duration, d time.Duration) {
	s.mu.Lock()
	*bucket = append(*bucket, d)
	if len(*bucket) > 200 {
		*bucket = (*bucket)[len(*bucket)-200:]
	}
	s.mu.Unlock()
}

func (s *StreamCache) setLastError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *StreamCache) emitGetSuccess(level StreamCacheLevel) {
	s.bus.Emit(Event{
		Source:     "stream_cache",
		MetricType: MetricCounter,
		MetricName: "cache_get_success",
		Tags:       map[string]string{"layer": string(level)},
	})
}
