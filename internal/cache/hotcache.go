package cache

import "sync"

// HotCacheEntry is an in-process cache entry holding a decoded point
// array, per spec §3.1.
type HotCacheEntry struct {
	Data        []StreamDataPoint
	TimestampMs int64
	AccessCount int64
}

// HotCache is the in-process LRU keyed by stream id described in spec
// §4.5. Eviction picks the entry with the lowest (accessCount, timestamp)
// pair — the least-recently, least-used entry loses first. No library in
// the retrieval pack implements this exact tie-break (hashicorp/golang-lru
// is pure recency), so it is hand-rolled as a bounded map plus a linear
// eviction scan, matching the teacher's general "small in-process map
// guarded by a mutex" shape.
type HotCache struct {
	mu       sync.Mutex
	entries  map[string]*HotCacheEntry
	maxSize  int
	ttlMs    int64
	nowMs    func() int64
}

// NewHotCache constructs a HotCache bounded to maxSize entries, expiring
// entries older than ttlMs milliseconds.
func NewHotCache(maxSize int, ttlMs int64) *HotCache {
	return &HotCache{
		entries: make(map[string]*HotCacheEntry),
		maxSize: maxSize,
		ttlMs:   ttlMs,
		nowMs:   nowMillis,
	}
}

// Get returns the entry for key if present and unexpired, bumping its
// access count (the usage half of the eviction ordering; the timestamp is
// the one recorded by Set and is not refreshed here).
func (h *HotCache) Get(key string) (*HotCacheEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.entries[key]
	if !ok {
		return nil, false
	}
	if h.nowMs()-entry.TimestampMs > h.ttlMs {
		delete(h.entries, key)
		return nil, false
	}
	entry.AccessCount++
	cp := *entry
	cp.Data = append([]StreamDataPoint(nil), entry.Data...)
	return &cp, true
}

// Set stores points under key, evicting the least-used entry first if the
// cache is at capacity (invariant I2: hot eviction never requires warm
// deletion — it simply drops the in-process copy).
func (h *HotCache) Set(key string, points []StreamDataPoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.entries[key]; !exists && len(h.entries) >= h.maxSize {
		h.evictLocked()
	}
	h.entries[key] = &HotCacheEntry{
		Data:        append([]StreamDataPoint(nil), points...),
		TimestampMs: h.nowMs(),
		AccessCount: 0,
	}
}

// evictLocked removes the entry with the lowest (accessCount, timestamp)
// pair. Caller must hold h.mu.
func (h *HotCache) evictLocked() {
	var victimKey string
	var victim *HotCacheEntry
	for k, e := range h.entries {
		if victim == nil ||
			e.AccessCount < victim.AccessCount ||
			(e.AccessCount == victim.AccessCount && e.TimestampMs < victim.TimestampMs) {
			victimKey = k
			victim = e
		}
	}
	if victimKey != "" {
		delete(h.entries, victimKey)
	}
}

// Delete removes key unconditionally.
func (h *HotCache) Delete(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, key)
}

// Len reports the current entry count, used by GetStats/Health.
func (h *HotCache) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear removes every entry, used when a Stream Cache Clear(pattern="*")
// also wants to drop the hot tier.
func (h *HotCache) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = make(map[string]*HotCacheEntry)
}
