package cache

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/klauspost/compress/gzip"
)

var (
	errGzipMagicMismatch    = errors.New("cache: compressed payload does not begin with gzip magic bytes")
	errMetadataSizeMismatch = errors.New("cache: decompressed size does not match stored originalSize metadata")
)

// DecompressFailureCode narrows CodeDecompression* into the specific
// failure stage for metrics (§4.2).
type DecompressFailureCode = Code

// envelopeMetadata is present iff Compressed is true.
type envelopeMetadata struct {
	OriginalSize   int `json:"originalSize"`
	CompressedSize int `json:"compressedSize"`
}

// envelope is the warm-tier wire format described in spec §6.
type envelope struct {
	Compressed bool              `json:"compressed"`
	StoredAtMs int64             `json:"storedAtMs"`
	Data       string            `json:"data"`
	Metadata   *envelopeMetadata `json:"metadata,omitempty"`
}

// gzipMagic is the two-byte signature every gzip stream begins with
// (invariant I3).
var gzipMagic = []byte{0x1f, 0x8b}

// compressionRatioCeiling is the §4.2 threshold above which compression
// savings are judged insufficient and the uncompressed form is kept.
const compressionRatioCeiling = 0.9

// Serialize JSON-encodes value and applies the compression policy from
// spec §4.2: below compressionThresholdBytes the value is stored
// uncompressed; otherwise it is gzipped, and kept compressed only if the
// compressed/original size ratio improves on compressionRatioCeiling.
// A []byte value is taken to be JSON text already and is stored as is
// rather than re-encoded as a base64 string.
func Serialize(value interface{}, nowMs int64, compressionEnabled bool, thresholdBytes int) ([]byte, error) {
	if b, ok := value.([]byte); ok {
		value = json.RawMessage(b)
	}
	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return nil, NewCacheError("Serialize", "", CodeSerializationError, err)
	}

	if !compressionEnabled || len(jsonBytes) < thresholdBytes {
		env := envelope{
			Compressed: false,
			StoredAtMs: nowMs,
			Data:       string(jsonBytes),
		}
		return json.Marshal(env)
	}

	compressed, err := gzipCompress(jsonBytes)
	if err != nil {
		// Compression itself failing is not fatal to the write path:
		// fall back to the uncompressed envelope.
		env := envelope{Compressed: false, StoredAtMs: nowMs, Data: string(jsonBytes)}
		return json.Marshal(env)
	}

	if float64(len(compressed))/float64(len(jsonBytes)) > compressionRatioCeiling {
		env := envelope{Compressed: false, StoredAtMs: nowMs, Data: string(jsonBytes)}
		return json.Marshal(env)
	}

	env := envelope{
		Compressed: true,
		StoredAtMs: nowMs,
		Data:       base64.StdEncoding.EncodeToString(compressed),
		Metadata: &envelopeMetadata{
			OriginalSize:   len(jsonBytes),
			CompressedSize: len(compressed),
		},
	}
	return json.Marshal(env)
}

// ParsedEnvelope is the decoded form of a stored value before any
// decompression has happened.
type ParsedEnvelope struct {
	Data       string
	StoredAtMs int64
	Compressed bool
	Metadata   *envelopeMetadata
}

// Parse decodes the raw envelope JSON from the warm tier.
func Parse(raw []byte) (ParsedEnvelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ParsedEnvelope{}, NewCacheError("Parse", "", CodeDecompressionJSON, err)
	}
	return ParsedEnvelope{
		Data:       env.Data,
		StoredAtMs: env.StoredAtMs,
		Compressed: env.Compressed,
		Metadata:   env.Metadata,
	}, nil
}

// Decompress runs the base64-decode -> gunzip -> JSON-unmarshal pipeline
// described in spec §4.2, unmarshalling into out. Per invariant I3, any
// failure at any stage is classified and returned as a *CacheError, but
// the caller (Common/Stream Cache) falls back to the raw payload rather
// than failing the read.
func Decompress(parsed ParsedEnvelope, out interface{}) error {
	if !parsed.Compressed {
		if err := json.Unmarshal([]byte(parsed.Data), out); err != nil {
			return NewCacheError("Decompress", "", CodeDecompressionJSON, err)
		}
		return nil
	}

	raw, err := base64.StdEncoding.DecodeString(parsed.Data)
	if err != nil {
		return NewCacheError("Decompress", "", CodeDecompressionBase64, err)
	}

	if len(raw) < 2 || raw[0] != gzipMagic[0] || raw[1] != gzipMagic[1] {
		return NewCacheError("Decompress", "", CodeDecompressionGzip, errGzipMagicMismatch)
	}

	jsonBytes, err := gzipDecompress(raw)
	if err != nil {
		return NewCacheError("Decompress", "", CodeDecompressionGzip, err)
	}

	if parsed.Metadata != nil && parsed.Metadata.OriginalSize != 0 && len(jsonBytes) != parsed.Metadata.OriginalSize {
		return NewCacheError("Decompress", "", CodeDecompressionMeta, errMetadataSizeMismatch)
	}

	if err := json.Unmarshal(jsonBytes, out); err != nil {
		return NewCacheError("Decompress", "", CodeDecompressionJSON, err)
	}
	return nil
}

// DecompressToBytes runs the same pipeline as Decompress but returns the
// decoded JSON text as opaque bytes instead of unmarshalling into a typed
// value. This is what the Common Cache uses: a CacheEntry's payload is
// opaque bytes (§3.1), and it is the caller's responsibility to decode
// them into whatever shape they expect.
func DecompressToBytes(parsed ParsedEnvelope) ([]byte, error) {
	if !parsed.Compressed {
		return []byte(parsed.Data), nil
	}

	raw, err := base64.StdEncoding.DecodeString(parsed.Data)
	if err != nil {
		return nil, NewCacheError("Decompress", "", CodeDecompressionBase64, err)
	}

	if len(raw) < 2 || raw[0] != gzipMagic[0] || raw[1] != gzipMagic[1] {
		return nil, NewCacheError("Decompress", "", CodeDecompressionGzip, errGzipMagicMismatch)
	}

	jsonBytes, err := gzipDecompress(raw)
	if err != nil {
		return nil, NewCacheError("Decompress", "", CodeDecompressionGzip, err)
	}

	if parsed.Metadata != nil && parsed.Metadata.OriginalSize != 0 && len(jsonBytes) != parsed.Metadata.OriginalSize {
		return nil, NewCacheError("Decompress", "", CodeDecompressionMeta, errMetadataSizeMismatch)
	}
	return jsonBytes, nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
