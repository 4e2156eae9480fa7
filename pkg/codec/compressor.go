// Package codec implements spec §4.6's external collaborator
// interfaces: compression and serialization are explicitly out of the
// block format's concern and are supplied by pluggable codecs selected
// through the payload_encoding tag.
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/archivemail/blockstore/pkg/block"
)

// Compressor compresses and decompresses block payloads. Implementations
// must round-trip an empty input to an empty output.
type Compressor interface {
	// Algorithm returns the payload_encoding value a compressed payload
	// should be tagged with.
	Algorithm() block.Encoding
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// NewCompressor returns the Compressor for encoding, or an error if
// encoding names something that is not a compression algorithm.
func NewCompressor(encoding block.Encoding) (Compressor, error) {
	switch encoding {
	case block.EncodingNone, block.EncodingRawBytes:
		return noneCompressor{}, nil
	case block.EncodingGzip:
		return gzipCompressor{}, nil
	case block.EncodingZstd:
		return zstdCompressor{}, nil
	case block.EncodingBrotli:
		return brotliCompressor{}, nil
	case block.EncodingLZ4:
		return lz4Compressor{}, nil
	default:
		return nil, fmt.Errorf("encoding %d is not a compression algorithm", encoding)
	}
}

type noneCompressor struct{}

func (noneCompressor) Algorithm() block.Encoding { return block.EncodingNone }
func (noneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}
func (noneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

type gzipCompressor struct{}

func (gzipCompressor) Algorithm() block.Encoding { return block.EncodingGzip }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	return out, nil
}

type zstdCompressor struct{}

func (zstdCompressor) Algorithm() block.Encoding { return block.EncodingZstd }

func (zstdCompressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd compress: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (zstdCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

type brotliCompressor struct{}

func (brotliCompressor) Algorithm() block.Encoding { return block.EncodingBrotli }

func (brotliCompressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("brotli compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (brotliCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r := brotli.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("brotli decompress: %w", err)
	}
	return out, nil
}

type lz4Compressor struct{}

func (lz4Compressor) Algorithm() block.Encoding { return block.EncodingLZ4 }

func (lz4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}
