package cache

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelopePayload struct {
	Symbol string `json:"symbol"`
	Price  float64 `json:"price"`
}

func TestSerializeParseDecompressToBytes_RoundTripsBelowThreshold(t *testing.T) {
	payload := envelopePayload{Symbol: "AAPL", Price: 123.45}
	raw, err := Serialize(payload, 1000, true, 1024)
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.False(t, parsed.Compressed)
	assert.Equal(t, int64(1000), parsed.StoredAtMs)

	decoded, err := DecompressToBytes(parsed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol":"AAPL","price":123.45}`, string(decoded))
}

func TestSerialize_CompressesHighlyCompressibleDataAboveThreshold(t *testing.T) {
	payload := strings.Repeat("AAAAAAAAAA", 500)
	raw, err := Serialize(payload, 2000, true, 64)
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.True(t, parsed.Compressed)
	require.NotNil(t, parsed.Metadata)
	assert.Less(t, parsed.Metadata.CompressedSize, parsed.Metadata.OriginalSize)

	decoded, err := DecompressToBytes(parsed)
	require.NoError(t, err)
	var got string
	require.NoError(t, json.Unmarshal(decoded, &got))
	assert.Equal(t, payload, got)
}

func TestSerialize_SkipsCompressionWhenDisabled(t *testing.T) {
	payload := strings.Repeat("A", 10000)
	raw, err := Serialize(payload, 1, false, 64)
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.False(t, parsed.Compressed)
}

func TestDecompressToBytes_RejectsBadGzipMagic(t *testing.T) {
	parsed := ParsedEnvelope{
		Compressed: true,
		Data:       "bm90LWd6aXAtZGF0YQ==", // base64("not-gzip-data")
	}
	_, err := DecompressToBytes(parsed)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeDecompressionGzip))
}

func TestDecompressToBytes_RejectsInvalidBase64(t *testing.T) {
	parsed := ParsedEnvelope{
		Compressed: true,
		Data:       "not valid base64!!",
	}
	_, err := DecompressToBytes(parsed)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeDecompressionBase64))
}

func TestParse_RejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeDecompressionJSON))
}

func TestDecompress_TypedUnmarshal(t *testing.T) {
	payload := envelopePayload{Symbol: "MSFT", Price: 99.9}
	raw, err := Serialize(payload, 5, true, 1024)
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)

	var out envelopePayload
	require.NoError(t, Decompress(parsed, &out))
	assert.Equal(t, payload, out)
}
