package cache

import (
	"context"
	"fmt"
	"sync"

	applogger "github.com/marketdata-platform/smartcache/pkg/logger"
)

// ErrBatchTooLarge is returned when a batch operation is given more keys
// than Limits.MaxBatchSize allows (§4.3 "hard error").
var ErrBatchTooLarge = fmt.Errorf("cache: batch size exceeds configured maxBatchSize")

// GetResult is the unified shape §6 promises every read operation returns.
// Data is the decompressed JSON encoding of whatever value was passed to
// Set (a []byte value is treated as JSON already and comes back unchanged)
// — callers json.Unmarshal it into their own type, matching the
// CacheEntry "opaque bytes" model from spec §3.1.
type GetResult struct {
	Data             []byte
	TtlRemainingSec  int64
	Hit              bool
}

// MGetResultSource classifies where an MGetEnhanced result came from.
type MGetResultSource string

const (
	SourceCache MGetResultSource = "cache"
	SourceFetch MGetResultSource = "fetch"
	SourceError MGetResultSource = "error"
)

// EnhancedRequest is one element of an MGetEnhanced call.
type EnhancedRequest struct {
	Key     string
	FetchFn func(ctx context.Context) ([]byte, error)
	TtlSec  int
	Options EnhancedOptions
}

// EnhancedOptions tunes a single EnhancedRequest.
type EnhancedOptions struct {
	UseCache        bool
	MaxAgeSec       int64
	IncludeMetadata bool
}

// EnhancedResult is the per-request outcome of MGetEnhanced.
type EnhancedResult struct {
	Key            string
	Data           []byte
	Hit            bool
	TtlRemaining   int64
	Source         MGetResultSource
	StoredAtMs     int64
}

// SetEntry is one element of an MSet call.
type SetEntry struct {
	Key    string
	Value  []byte
	TtlSec int
}

// EnhancedSetEntry is one element of an MSetEnhanced call.
type EnhancedSetEntry struct {
	Key          string
	Value        interface{}
	TtlSec       int
	Compression  *bool
	SkipIfExists bool
	OnlyIfExists bool
}

// EnhancedSetDetail reports the outcome of one EnhancedSetEntry.
type EnhancedSetDetail struct {
	Key     string
	Success bool
	Skipped bool
	Err     error
}

// EnhancedSetSummary is returned by MSetEnhanced.
type EnhancedSetSummary struct {
	Total      int
	Successful int
	Failed     int
	Skipped    int
	Details    []EnhancedSetDetail
}

// MetadataResult pairs a GetResult with the envelope's storedAtMs, used by
// the orchestrator to evaluate background-refresh eligibility without
// re-deserializing (§4.3 MGetWithMetadata).
type MetadataResult struct {
	GetResult
	StoredAtMs int64
}

// CommonCache is the shared backend described in spec §4.3: single-key
// and batch operations, TTL mapping, metrics emission via the injected
// EventBus, and bounded-concurrency decompression through the Governor.
type CommonCache struct {
	facade   *RedisFacade
	cfg      Config
	governor *Governor
	bus      EventBus
	log      *applogger.Logger

	mu sync.Mutex
}

// NewCommonCache wires a RedisFacade, Governor, and EventBus together.
func NewCommonCache(facade *RedisFacade, governor *Governor, bus EventBus, cfg Config, log *applogger.Logger) *CommonCache {
	if bus == nil {
		bus = noopEventBus{}
	}
	if log == nil {
		log = applogger.NewNoop()
	}
	return &CommonCache{facade: facade, cfg: cfg, governor: governor, bus: bus, log: log}
}

// Get implements §4.3: a GET followed by a PTTL for the same key. On any
// error it returns (GetResult{}, false) silently and emits an error metric
// — the read path never throws.
func (c *CommonCache) Get(ctx context.Context, key string) (GetResult, bool) {
	raw, err := c.facade.Get(ctx, key)
	if err != nil || raw == nil {
		if err != nil {
			c.emitError("Get", key, err)
		} else {
			c.bus.Emit(Event{Source: "common_cache", MetricType: MetricCounter, MetricName: "cache_get_success", Tags: map[string]string{"layer": string(LevelMiss)}})
		}
		return GetResult{}, false
	}

	pttl, err := c.facade.Pttl(ctx, key)
	if err != nil {
		c.emitError("Get", key, err)
		pttl = 0
	}

	data, storedAtMs, decompErr := c.decodeEnvelope(ctx, raw)
	if decompErr != nil {
		c.emitError("Get", key, decompErr)
	}
	_ = storedAtMs

	c.bus.Emit(Event{Source: "common_cache", MetricType: MetricCounter, MetricName: "cache_get_success", Tags: map[string]string{"layer": "warm"}})
	return GetResult{Data: data, TtlRemainingSec: pttl, Hit: true}, true
}

// decodeEnvelope parses the envelope and, if compressed, runs
// decompression through the Governor (bounded concurrency, §4.4). Per
// invariant I3, a decompression failure never fails the read: the raw
// envelope data is returned instead.
func (c *CommonCache) decodeEnvelope(ctx context.Context, raw []byte) ([]byte, int64, error) {
	parsed, err := Parse(raw)
	if err != nil {
		return raw, 0, err
	}
	if !parsed.Compressed {
		return []byte(parsed.Data), parsed.StoredAtMs, nil
	}

	var out []byte
	var decErr error
	run := func(ctx context.Context) error {
		out, decErr = DecompressToBytes(parsed)
		return decErr
	}

	if c.governor != nil {
		submitErr := c.governor.Submit(ctx, DecompressionTask{Priority: PriorityNormal, Fn: run})
		if submitErr != nil {
			return []byte(parsed.Data), parsed.StoredAtMs, submitErr
		}
	} else {
		_ = run(ctx)
	}

	if decErr != nil {
		// I3 fallback: return the raw (still-encoded) payload rather than
		// failing the read.
		return []byte(parsed.Data), parsed.StoredAtMs, decErr
	}
	return out, parsed.StoredAtMs, nil
}

// Set implements §4.3: clamp ttl, serialize with the compression policy,
// SETEX. Failures are swallowed (write path policy, §7).
func (c *CommonCache) Set(ctx context.Context, key string, value interface{}, ttlSec int) {
	ttl := c.cfg.clampTtl(ttlSec)
	raw, err := Serialize(value, nowMillis(), c.cfg.CompressionEnabled, c.cfg.CompressionThresholdBytes)
	if err != nil {
		c.emitError("Set", key, err)
		return
	}
	if len(raw) > c.cfg.Limits.MaxValueSizeBytes {
		c.emitError("Set", key, NewCacheError("Set", key, CodeValueTooLarge, fmt.Errorf("value %d bytes exceeds maxValueSizeBytes %d", len(raw), c.cfg.Limits.MaxValueSizeBytes)))
		return
	}
	if err := c.facade.SetEx(ctx, key, ttl, raw); err != nil {
		c.emitError("Set", key, err)
	}
}

// Delete removes key, reporting whether anything was removed.
func (c *CommonCache) Delete(ctx context.Context, key string) bool {
	n, err := c.facade.Del(ctx, key)
	if err != nil {
		c.emitError("Delete", key, err)
		return false
	}
	return n > 0
}

// MGet fetches keys in one pipelined round trip plus per-key PTTLs,
// preserving input order per invariant I5. Individual parse failures
// yield a miss slot rather than failing the call.
func (c *CommonCache) MGet(ctx context.Context, keys []string) ([]GetResult, error) {
	if len(keys) > c.cfg.Limits.MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	ops := make([]PipelineOp, 0, len(keys)*2)
	for _, k := range keys {
		ops = append(ops, PipelineOp{Kind: "get", Key: k})
	}
	for _, k := range keys {
		ops = append(ops, PipelineOp{Kind: "pttl", Key: k})
	}

	results, err := c.facade.Pipeline(ctx, ops)
	if err != nil {
		c.emitError("MGet", "", err)
		return make([]GetResult, len(keys)), nil
	}

	out := make([]GetResult, len(keys))
	for i := range keys {
		getRes := results[i]
		pttlRes := results[len(keys)+i]
		if getRes.Err != nil || getRes.Bytes == nil {
			continue
		}
		if _, perr := Parse(getRes.Bytes); perr != nil {
			c.emitError("MGet", keys[i], perr)
			continue
		}
		data, _, decErr := c.decodeEnvelope(ctx, getRes.Bytes)
		if decErr != nil {
			c.emitError("MGet", keys[i], decErr)
		}
		out[i] = GetResult{
			Data:            data,
			TtlRemainingSec: mapPttlToSeconds(pttlRes.Int64, c.cfg.NoExpireDefaultSeconds),
			Hit:             true,
		}
	}
	return out, nil
}

// MSet writes entries chunked by pipelineMaxSize, one pipeline per chunk.
// Per-entry outcomes are not tracked: a pipeline error for a chunk is
// reported as a single error metric, and MSet returns an error only for an
// oversized batch.
func (c *CommonCache) MSet(ctx context.Context, entries []SetEntry) error {
	if len(entries) > c.cfg.Limits.MaxBatchSize {
		return ErrBatchTooLarge
	}

	chunkSize := c.cfg.Limits.PipelineMaxSize
	for start := 0; start < len(entries); start += chunkSize {
		end := start + chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		c.msetChunk(ctx, entries[start:end])
	}
	return nil
}

func (c *CommonCache) msetChunk(ctx context.Context, chunk []SetEntry) {
	ops := make([]PipelineOp, 0, len(chunk))
	for _, e := range chunk {
		ttl := c.cfg.clampTtl(e.TtlSec)
		raw, err := Serialize(e.Value, nowMillis(), c.cfg.CompressionEnabled, c.cfg.CompressionThresholdBytes)
		if err != nil {
			raw = e.Value
		}
		ops = append(ops, PipelineOp{Kind: "setex", Key: e.Key, Val: raw, TTL: ttl})
	}
	if _, err := c.facade.Pipeline(ctx, ops); err != nil {
		c.emitError("MSet", "", err)
	}
}

// MGetEnhanced implements §4.3: per-request fetchFn/ttl/options layered
// over MGet. A cache hit whose remaining TTL is under MaxAgeSec triggers a
// foreground re-fetch, falling back to the stale cached value on error.
func (c *CommonCache) MGetEnhanced(ctx context.Context, requests []EnhancedRequest) ([]EnhancedResult, error) {
	if len(requests) > c.cfg.Limits.MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	keys := make([]string, len(requests))
	for i, r := range requests {
		keys[i] = r.Key
	}
	cached, err := c.MGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]EnhancedResult, len(requests))
	for i, req := range requests {
		res := cached[i]
		switch {
		case res.Hit && req.Options.MaxAgeSec > 0 && res.TtlRemainingSec < req.Options.MaxAgeSec && req.FetchFn != nil:
			fresh, ferr := req.FetchFn(ctx)
			if ferr != nil {
				out[i] = EnhancedResult{Key: req.Key, Data: res.Data, Hit: true, TtlRemaining: res.TtlRemainingSec, Source: SourceCache}
				continue
			}
			c.Set(ctx, req.Key, fresh, req.TtlSec)
			out[i] = EnhancedResult{Key: req.Key, Data: fresh, Hit: false, Source: SourceFetch}
		case res.Hit:
			out[i] = EnhancedResult{Key: req.Key, Data: res.Data, Hit: true, TtlRemaining: res.TtlRemainingSec, Source: SourceCache}
		case req.FetchFn != nil:
			fresh, ferr := req.FetchFn(ctx)
			if ferr != nil {
				out[i] = EnhancedResult{Key: req.Key, Hit: false, Source: SourceError}
				continue
			}
			go c.Set(context.WithoutCancel(ctx), req.Key, fresh, req.TtlSec)
			out[i] = EnhancedResult{Key: req.Key, Data: fresh, Hit: false, Source: SourceFetch}
		default:
			out[i] = EnhancedResult{Key: req.Key, Hit: false, Source: SourceError}
		}
	}
	return out, nil
}

// MSetEnhanced implements §4.3's conditional batch write: per-entry
// skipIfExists/onlyIfExists, pre-checked with a pipelined EXISTS for the
// conditional subset.
func (c *CommonCache) MSetEnhanced(ctx context.Context, entries []EnhancedSetEntry) (EnhancedSetSummary, error) {
	if len(entries) > c.cfg.Limits.MaxBatchSize {
		return EnhancedSetSummary{}, ErrBatchTooLarge
	}

	conditional := make([]int, 0)
	for i, e := range entries {
		if e.SkipIfExists || e.OnlyIfExists {
			conditional = append(conditional, i)
		}
	}

	exists := make(map[int]bool, len(conditional))
	if len(conditional) > 0 {
		ops := make([]PipelineOp, len(conditional))
		for j, idx := range conditional {
			ops[j] = PipelineOp{Kind: "exists", Key: entries[idx].Key}
		}
		results, err := c.facade.Pipeline(ctx, ops)
		if err == nil {
			for j, idx := range conditional {
				exists[idx] = results[j].Int64 > 0
			}
		}
	}

	summary := EnhancedSetSummary{Total: len(entries), Details: make([]EnhancedSetDetail, len(entries))}
	for i, e := range entries {
		if e.SkipIfExists && exists[i] {
			summary.Skipped++
			summary.Details[i] = EnhancedSetDetail{Key: e.Key, Skipped: true}
			continue
		}
		if e.OnlyIfExists && !exists[i] {
			summary.Skipped++
			summary.Details[i] = EnhancedSetDetail{Key: e.Key, Skipped: true}
			continue
		}
		c.Set(ctx, e.Key, e.Value, e.TtlSec)
		summary.Successful++
		summary.Details[i] = EnhancedSetDetail{Key: e.Key, Success: true}
	}
	summary.Failed = summary.Total - summary.Successful - summary.Skipped
	return summary, nil
}

// MGetWithMetadata is like MGet but also surfaces storedAtMs, used by the
// orchestrator to evaluate background-refresh eligibility without
// re-deserializing the payload (§4.3).
func (c *CommonCache) MGetWithMetadata(ctx context.Context, keys []string) ([]MetadataResult, error) {
	if len(keys) > c.cfg.Limits.MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	ops := make([]PipelineOp, 0, len(keys)*2)
	for _, k := range keys {
		ops = append(ops, PipelineOp{Kind: "get", Key: k})
	}
	for _, k := range keys {
		ops = append(ops, PipelineOp{Kind: "pttl", Key: k})
	}
	results, err := c.facade.Pipeline(ctx, ops)
	if err != nil {
		return make([]MetadataResult, len(keys)), nil
	}

	out := make([]MetadataResult, len(keys))
	for i, k := range keys {
		getRes := results[i]
		pttlRes := results[len(keys)+i]
		if getRes.Err != nil || getRes.Bytes == nil {
			continue
		}
		parsed, perr := Parse(getRes.Bytes)
		if perr != nil {
			continue
		}
		data, storedAtMs, decErr := c.decodeEnvelope(ctx, getRes.Bytes)
		if decErr != nil {
			c.emitError("MGetWithMetadata", k, decErr)
		}
		out[i] = MetadataResult{
			GetResult: GetResult{
				Data:            data,
				TtlRemainingSec: mapPttlToSeconds(pttlRes.Int64, c.cfg.NoExpireDefaultSeconds),
				Hit:             true,
			},
			StoredAtMs: storedAtMs,
		}
		_ = parsed
	}
	return out, nil
}

// GetWithFallback is the cache-aside convenience helper: on miss, fetchFn
// is invoked and the result written back asynchronously.
func (c *CommonCache) GetWithFallback(ctx context.Context, key string, fetchFn func(ctx context.Context) ([]byte, error), ttlSec int) ([]byte, error) {
	if res, hit := c.Get(ctx, key); hit {
		return res.Data, nil
	}
	data, err := fetchFn(ctx)
	if err != nil {
		return nil, err
	}
	go c.Set(context.WithoutCancel(ctx), key, data, ttlSec)
	return data, nil
}

func (c *CommonCache) emitError(op, key string, err error) {
	c.log.Error("cache operation failed", "op", op, "key", key, "error", err)
	code, _ := CodeOf(err)
	c.bus.Emit(Event{
		Source:      "common_cache",
		MetricType:  MetricCounter,
		MetricName:  "cache_get_failed",
		Tags:        map[string]string{"op": op, "code": string(code)},
	})
}
