package cache

import (
	"strings"
	"testing"
)

// BenchmarkSerialize benchmarks the envelope compression path for payloads
// of varying compressibility and size.
func BenchmarkSerialize(b *testing.B) {
	small := struct {
		Symbol string
		Price  float64
	}{Symbol: "AAPL", Price: 150.25}

	large := strings.Repeat("AAAAAAAAAA", 50000) // ~500KB, highly compressible

	b.Run("Small_BelowThreshold", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := Serialize(small, 1, true, 1024); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Large_Compressed", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := Serialize(large, 1, true, 1024); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Large_CompressionDisabled", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := Serialize(large, 1, false, 1024); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkDecompressToBytes benchmarks the opaque-bytes read path callers
// exercise on every cache hit.
func BenchmarkDecompressToBytes(b *testing.B) {
	large := strings.Repeat("AAAAAAAAAA", 50000)
	raw, err := Serialize(large, 1, true, 1024)
	if err != nil {
		b.Fatal(err)
	}
	parsed, err := Parse(raw)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := DecompressToBytes(parsed); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkBuildUnifiedCacheKey compares key derivation across the three
// symbol-count bands that select direct, sorted-join, and hashed forms.
func BenchmarkBuildUnifiedCacheKey(b *testing.B) {
	b.Run("SingleSymbol", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			BuildUnifiedCacheKey("quote", []string{"AAPL"}, nil)
		}
	})

	b.Run("FiveSymbols_SortedJoin", func(b *testing.B) {
		symbols := []string{"MSFT", "AAPL", "GOOG", "AMZN", "TSLA"}
		for i := 0; i < b.N; i++ {
			BuildUnifiedCacheKey("quote", symbols, nil)
		}
	})

	b.Run("Fifty_Symbols_Hashed", func(b *testing.B) {
		symbols := make([]string, 50)
		for i := range symbols {
			symbols[i] = strings.Repeat("S", i%5+1)
		}
		for i := 0; i < b.N; i++ {
			BuildUnifiedCacheKey("quote", symbols, nil)
		}
	})
}

// BenchmarkHotCache benchmarks the in-process tier's access pattern under
// steady-state eviction pressure.
func BenchmarkHotCache(b *testing.B) {
	hc := NewHotCache(1000, 60000)
	points := []StreamDataPoint{{Symbol: "AAPL", Price: 1, TimestampMs: 1}}

	b.Run("Set", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			hc.Set(keyFor(i), points)
		}
	})

	for i := 0; i < 1000; i++ {
		hc.Set(keyFor(i), points)
	}

	b.Run("Get_Hit", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			hc.Get(keyFor(i % 1000))
		}
	})
}

func keyFor(i int) string {
	return "k" + string(rune('A'+i%26)) + string(rune(i))
}
