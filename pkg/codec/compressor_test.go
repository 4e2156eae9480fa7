package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archivemail/blockstore/pkg/block"
)

func allCompressors(t *testing.T) []Compressor {
	t.Helper()
	encodings := []block.Encoding{
		block.EncodingNone,
		block.EncodingGzip,
		block.EncodingZstd,
		block.EncodingBrotli,
		block.EncodingLZ4,
	}
	out := make([]Compressor, 0, len(encodings))
	for _, e := range encodings {
		c, err := NewCompressor(e)
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func TestCompressorRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 500)

	for _, c := range allCompressors(t) {
		compressed, err := c.Compress(payload)
		require.NoError(t, err)

		decompressed, err := c.Decompress(compressed)
		require.NoError(t, err)
		require.Equal(t, payload, decompressed)
	}
}

func TestCompressorEmptyInputRoundTrips(t *testing.T) {
	for _, c := range allCompressors(t) {
		compressed, err := c.Compress(nil)
		require.NoError(t, err)

		decompressed, err := c.Decompress(compressed)
		require.NoError(t, err)
		require.Empty(t, decompressed)
	}
}

// Repetitive ASCII of at least 10KiB must compress to under half its
// original size for every real compression algorithm (spec §4.6).
func TestCompressionRatioOnRepetitiveText(t *testing.T) {
	payload := bytes.Repeat([]byte("email archive block storage engine "), 1000) // > 10KiB
	require.GreaterOrEqual(t, len(payload), 10*1024)

	for _, encoding := range []block.Encoding{block.EncodingGzip, block.EncodingZstd, block.EncodingBrotli, block.EncodingLZ4} {
		c, err := NewCompressor(encoding)
		require.NoError(t, err)

		compressed, err := c.Compress(payload)
		require.NoError(t, err)

		ratio := float64(len(compressed)) / float64(len(payload))
		require.Lessf(t, ratio, 0.5, "encoding %d: ratio %f not under 0.5", encoding, ratio)
	}
}

// A single repeated byte (maximally compressible) must compress to under
// a tenth of its original size (spec §4.6).
func TestCompressionRatioOnSingleByteFill(t *testing.T) {
	payload := bytes.Repeat([]byte{0x41}, 1024)

	for _, encoding := range []block.Encoding{block.EncodingGzip, block.EncodingZstd, block.EncodingBrotli, block.EncodingLZ4} {
		c, err := NewCompressor(encoding)
		require.NoError(t, err)

		compressed, err := c.Compress(payload)
		require.NoError(t, err)

		ratio := float64(len(compressed)) / float64(len(payload))
		require.Lessf(t, ratio, 0.1, "encoding %d: ratio %f not under 0.1", encoding, ratio)
	}
}

func TestNewCompressorRejectsNonCompressionEncoding(t *testing.T) {
	_, err := NewCompressor(block.EncodingJson)
	require.Error(t, err)
}

func TestJSONSerializerRoundTrip(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	s := JSONSerializer{}
	data, err := s.Marshal(payload{Name: "foo", Count: 3})
	require.NoError(t, err)

	var out payload
	require.NoError(t, s.Unmarshal(data, &out))
	require.Equal(t, "foo", out.Name)
	require.Equal(t, 3, out.Count)
}

func TestRawBytesSerializerRoundTrip(t *testing.T) {
	s := RawBytesSerializer{}
	data, err := s.Marshal([]byte("hello"))
	require.NoError(t, err)

	var out []byte
	require.NoError(t, s.Unmarshal(data, &out))
	require.Equal(t, []byte("hello"), out)
}

func TestRawBytesSerializerRejectsWrongType(t *testing.T) {
	s := RawBytesSerializer{}
	_, err := s.Marshal("not bytes")
	require.Error(t, err)
}
