package cache

import "time"

// nowMillis returns the current Unix time in milliseconds, the unit every
// stored timestamp in this package uses (storedAtMs, HotCacheEntry's
// TimestampMs, StreamDataPoint's TimestampMs).
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
