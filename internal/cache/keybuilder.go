package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrEmptyPrefix is returned when BuildUnifiedCacheKey is called with an
// empty prefix.
var ErrEmptyPrefix = errors.New("cache: key prefix must not be empty")

// ErrEmptySymbols is returned when BuildUnifiedCacheKey is called with no
// symbols.
var ErrEmptySymbols = errors.New("cache: symbol list must not be empty")

// ErrInvalidKey is returned when the assembled key fails validation
// (invariant I7).
var ErrInvalidKey = errors.New("cache: assembled key failed validation")

const hashPrefixLen = 16

// BuildUnifiedCacheKey derives a deterministic cache key from a prefix, a
// set of symbols, and optional parameters, per spec §4.8:
//
//   - 1 symbol is appended directly.
//   - 2-5 symbols are sorted ascending and joined with "|".
//   - more than 5 symbols are normalized (trim/upper, dedupe, sort), hashed
//     with SHA-1, and the key carries "hash:<first 16 hex chars>" instead
//     of the raw symbol list.
//   - params, if present, are sorted by key and joined as "k:v|k2:v2".
//
// All segments are joined with ":". The result must satisfy invariant I7:
// non-empty, at least two ":"-separated parts, every part non-empty.
func BuildUnifiedCacheKey(prefix string, symbols []string, params map[string]string) (string, error) {
	if prefix == "" {
		return "", ErrEmptyPrefix
	}
	if len(symbols) == 0 {
		return "", ErrEmptySymbols
	}

	segments := []string{prefix}

	switch {
	case len(symbols) == 1:
		segments = append(segments, symbols[0])
	case len(symbols) <= 5:
		sorted := append([]string(nil), symbols...)
		sort.Strings(sorted)
		segments = append(segments, strings.Join(sorted, "|"))
	default:
		segments = append(segments, "hash:"+hashSymbols(symbols))
	}

	if len(params) > 0 {
		segments = append(segments, joinSortedParams(params))
	}

	key := strings.Join(segments, ":")
	if err := validateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// hashSymbols normalizes (trim, uppercase, dedupe, sort) and SHA-1 hashes a
// symbol set, returning the first 16 hex characters.
func hashSymbols(symbols []string) string {
	normalized := normalizeSymbols(symbols)
	sum := sha1.Sum([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(sum[:])[:hashPrefixLen]
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		n := strings.ToUpper(strings.TrimSpace(s))
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func joinSortedParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s:%s", k, params[k]))
	}
	return strings.Join(pairs, "|")
}

// validateKey enforces invariant I7: the key must split into at least two
// non-empty ":"-separated parts.
func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	parts := strings.Split(key, ":")
	if len(parts) < 2 {
		return ErrInvalidKey
	}
	for _, p := range parts {
		if p == "" {
			return ErrInvalidKey
		}
	}
	return nil
}

// ValidateKeyLength checks a key against the configured maxKeyLength limit.
func ValidateKeyLength(key string, maxLen int) error {
	if len(key) == 0 || len(key) > maxLen {
		return fmt.Errorf("%w: length %d exceeds max %d", ErrInvalidKey, len(key), maxLen)
	}
	return nil
}
