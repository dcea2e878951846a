// Package cache implements the Smart Caching Core: a multi-tier cache
// coordinator for real-time market data, backed by an in-process hot tier
// and a Redis warm tier.
package cache

import (
	"errors"
	"fmt"
)

// Code classifies a CacheError into the taxonomy from the error handling
// design (connection reachability, envelope integrity, key/value shape,
// operational failures, resource exhaustion).
type Code string

const (
	CodeConnectionError   Code = "CONNECTION_ERROR"
	CodeConnectionTimeout Code = "CONNECTION_TIMEOUT"
	CodeConnectionRefused Code = "CONNECTION_REFUSED"

	CodeSerializationError Code = "SERIALIZATION_ERROR"
	CodeDecompressionBase64 Code = "DECOMPRESSION_FAILED_BASE64"
	CodeDecompressionGzip   Code = "DECOMPRESSION_FAILED_GZIP"
	CodeDecompressionJSON   Code = "DECOMPRESSION_FAILED_JSON"
	CodeDecompressionMeta   Code = "DECOMPRESSION_FAILED_METADATA"
	CodeDecompressionOther  Code = "DECOMPRESSION_FAILED_UNKNOWN"

	CodeKeyNotFound       Code = "KEY_NOT_FOUND"
	CodeInvalidKeyFormat  Code = "INVALID_KEY_FORMAT"
	CodeValueTooLarge     Code = "VALUE_TOO_LARGE"

	CodeOperationFailed      Code = "OPERATION_FAILED"
	CodeOperationUnsupported Code = "OPERATION_NOT_SUPPORTED"
	CodeInvalidParameter     Code = "INVALID_PARAMETER"

	CodeMemoryExceeded    Code = "MEMORY_EXCEEDED"
	CodeQuotaExceeded     Code = "QUOTA_EXCEEDED"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
)

// CacheError is the typed error every component in this package returns
// internally. Read-path callers never see it directly (§7: the read path
// never throws) — it is logged and converted into a metric instead.
type CacheError struct {
	Op  string // operation, e.g. "Get", "Set", "MGet"
	Key string // cache key involved, if any
	Code Code
	Err error
}

func (e *CacheError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cache %s failed for key %q: %s: %v", e.Op, e.Key, e.Code, e.Err)
	}
	return fmt.Sprintf("cache %s failed: %s: %v", e.Op, e.Code, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// NewCacheError constructs a CacheError, wrapping a lower-level cause.
func NewCacheError(op, key string, code Code, err error) *CacheError {
	return &CacheError{Op: op, Key: key, Code: code, Err: err}
}

// CodeOf extracts the Code from err if it (or something it wraps) is a
// *CacheError; ok is false otherwise.
func CodeOf(err error) (Code, bool) {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}

// IsCode reports whether err carries the given Code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
