// Package block implements the on-disk block codec: the self-describing,
// checksummed record format that every other package in this module
// builds on.
//
// File Format (one block):
//
//	Offset   Length  Field
//	0        8       Header magic
//	8        2       Version (uint16 LE)
//	10       1       Kind
//	11       1       Flags
//	12       1       Payload encoding
//	13       8       Timestamp (int64 LE)
//	21       8       Block ID (int64 LE)
//	29       8       Payload length (uint64 LE, must fit in int32)
//	37       4       Header CRC-32 (over bytes 0..36)
//	41       L       Payload
//	41+L     4       Payload CRC-32 (0 if L=0)
//	45+L     8       Footer magic
//	53+L     8       Total block length, including header and footer (uint64 LE)
//
// Fixed overhead is exactly 61 bytes. All multi-byte integers are
// little-endian; both CRCs use CRC-32/IEEE.
package block

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/archivemail/blockstore/pkg/blockerr"
)

// Overhead is the fixed number of bytes every encoded block carries
// beyond its payload (37-byte header + 4-byte header CRC + 4-byte
// payload CRC + 16-byte footer).
const Overhead = 61

const (
	headerOffset          = 0
	versionOffset         = 8
	kindOffset            = 10
	flagsOffset           = 11
	encodingOffset        = 12
	timestampOffset       = 13
	blockIDOffset         = 21
	payloadLenOffset      = 29
	headerCRCOffset       = 37
	payloadStartOffset    = 41
	headerChecksumDataLen = 37 // bytes 0..36 feed the header CRC
)

// headerMagic and footerMagic are the two fixed 64-bit constants that
// frame every block. They are chosen to be unlikely to occur as an
// accidental byte run inside arbitrary payload data, and are scanned for
// when rebuilding the block-location index (see pkg/blockstore).
var (
	headerMagic = [8]byte{0x45, 0x4d, 0x41, 0x49, 0x4c, 0x42, 0x4c, 0x4b} // "EMAILBLK"
	footerMagic = [8]byte{0x42, 0x4c, 0x4b, 0x46, 0x4f, 0x4f, 0x54, 0x21} // "BLKFOOT!"
)

// HeaderMagic returns a copy of the 8-byte header magic constant.
func HeaderMagic() [8]byte { return headerMagic }

// FooterMagic returns a copy of the 8-byte footer magic constant.
func FooterMagic() [8]byte { return footerMagic }

// MaxPayloadLen is the largest payload the codec accepts (2^31-1 bytes),
// matching the spec's int32 length bound.
const MaxPayloadLen = math.MaxInt32

// Kind is the closed enumeration of block kinds. Unknown kinds decode
// successfully and round-trip byte for byte; the core never refuses to
// read a block merely because it does not recognize the kind.
type Kind uint8

const (
	KindHeader Kind = iota
	KindMetadata
	KindWAL
	KindFolderTree
	KindFolder
	KindFolderEnvelope
	KindSegment
	KindEmailBatch
	KindZoneTreeSegmentKV
	KindZoneTreeSegmentVector
	KindCleanup
	KindCheckpoint
	KindHashChain
	// KindReservedStart marks the beginning of the range reserved for
	// future kinds; values at or above it are accepted and round-tripped
	// opaquely by the codec.
	KindReservedStart Kind = 64
)

var kindNames = map[Kind]string{
	KindHeader:                "header",
	KindMetadata:              "metadata",
	KindWAL:                   "wal",
	KindFolderTree:            "folder_tree",
	KindFolder:                "folder",
	KindFolderEnvelope:        "folder_envelope",
	KindSegment:               "segment",
	KindEmailBatch:            "email_batch",
	KindZoneTreeSegmentKV:     "zonetree_segment_kv",
	KindZoneTreeSegmentVector: "zonetree_segment_vector",
	KindCleanup:               "cleanup",
	KindCheckpoint:            "checkpoint",
	KindHashChain:             "hash_chain",
}

// String returns a human-readable name for k, or "reserved(N)"/"unknown(N)"
// for kinds outside the named enumeration.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	if k >= KindReservedStart {
		return fmt.Sprintf("reserved(%d)", uint8(k))
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Flags is an 8-bit packed flag field.
type Flags uint8

const (
	FlagUpdateMarker     Flags = 0x10
	FlagBatch            Flags = 0x20
	FlagSmartBatch       Flags = 0x21
	FlagCompressedBatch  Flags = 0x22
)

// Has reports whether all bits of other are set in f.
func (f Flags) Has(other Flags) bool { return f&other == other }

// Encoding is the payload_encoding tag. "None" is legal only alongside an
// empty payload; decoders treat an unrecognized value as
// blockerr.ErrUnsupportedEncoding (payload_encoding is authoritative, per
// the Open Question in spec §9).
type Encoding uint8

const (
	EncodingNone Encoding = iota
	EncodingRawBytes
	EncodingJson
	EncodingProtobuf
	EncodingMessagePack
	EncodingGzip
	EncodingZstd
	EncodingBrotli
	EncodingLZ4
)

func (e Encoding) valid() bool {
	return e <= EncodingLZ4
}

// FormatVersion1 is the current 16-bit format version. Encode writes
// Block.Version as given and Decode does not reject other values.
const FormatVersion1 uint16 = 1

// Block is the indivisible on-disk record. Fields mirror spec §3 exactly;
// Payload is never mutated in place by this package once returned from
// Decode.
type Block struct {
	Version         uint16
	Kind            Kind
	Flags           Flags
	PayloadEncoding Encoding
	Timestamp       int64
	BlockID         int64
	Payload         []byte
}

// EncodedLen returns the total on-disk length of b once encoded.
func (b *Block) EncodedLen() int {
	return Overhead + len(b.Payload)
}

// Encode serializes b into the on-disk layout described in the package
// doc comment. It fails with blockerr.ErrPayloadTooLarge if the payload
// exceeds MaxPayloadLen.
func Encode(b *Block) ([]byte, error) {
	if len(b.Payload) > MaxPayloadLen {
		return nil, fmt.Errorf("block %d: %d bytes: %w", b.BlockID, len(b.Payload), blockerr.ErrPayloadTooLarge)
	}

	total := b.EncodedLen()
	buf := make([]byte, total)

	copy(buf[headerOffset:], headerMagic[:])
	binary.LittleEndian.PutUint16(buf[versionOffset:], b.Version)
	buf[kindOffset] = byte(b.Kind)
	buf[flagsOffset] = byte(b.Flags)
	buf[encodingOffset] = byte(b.PayloadEncoding)
	binary.LittleEndian.PutUint64(buf[timestampOffset:], uint64(b.Timestamp))
	binary.LittleEndian.PutUint64(buf[blockIDOffset:], uint64(b.BlockID))
	binary.LittleEndian.PutUint64(buf[payloadLenOffset:], uint64(len(b.Payload)))

	headerCRC := crc32.ChecksumIEEE(buf[headerOffset : headerOffset+headerChecksumDataLen])
	binary.LittleEndian.PutUint32(buf[headerCRCOffset:], headerCRC)

	payloadStart := payloadStartOffset
	payloadEnd := payloadStart + len(b.Payload)
	copy(buf[payloadStart:payloadEnd], b.Payload)

	var payloadCRC uint32
	if len(b.Payload) > 0 {
		payloadCRC = crc32.ChecksumIEEE(b.Payload)
	}
	binary.LittleEndian.PutUint32(buf[payloadEnd:], payloadCRC)

	footerStart := payloadEnd + 4
	copy(buf[footerStart:], footerMagic[:])

	lengthOffset := footerStart + 8
	binary.LittleEndian.PutUint64(buf[lengthOffset:], uint64(total))

	return buf, nil
}

// Decode validates and deserializes a block from buf. buf must contain
// exactly one encoded block's worth of bytes (the caller, typically
// pkg/blockstore, is responsible for slicing out `total_length` bytes
// first); Decode itself re-derives the expected length from the payload
// length field and verifies it against len(buf).
func Decode(buf []byte) (*Block, error) {
	if len(buf) < Overhead {
		return nil, fmt.Errorf("buffer shorter than minimum block size: %w", blockerr.ErrTruncated)
	}

	if !equalMagic(buf[headerOffset:headerOffset+8], headerMagic) {
		return nil, blockerr.ErrBadMagic
	}

	headerCRC := binary.LittleEndian.Uint32(buf[headerCRCOffset:])
	wantHeaderCRC := crc32.ChecksumIEEE(buf[headerOffset : headerOffset+headerChecksumDataLen])
	if headerCRC != wantHeaderCRC {
		return nil, blockerr.ErrHeaderChecksum
	}

	payloadLen64 := binary.LittleEndian.Uint64(buf[payloadLenOffset:])
	if payloadLen64 > MaxPayloadLen {
		return nil, fmt.Errorf("payload length %d exceeds int32 range: %w", payloadLen64, blockerr.ErrBadLength)
	}
	payloadLen := int(payloadLen64)

	total := Overhead + payloadLen
	if len(buf) < total {
		return nil, blockerr.ErrTruncated
	}

	payloadStart := payloadStartOffset
	payloadEnd := payloadStart + payloadLen
	payload := buf[payloadStart:payloadEnd]

	payloadCRC := binary.LittleEndian.Uint32(buf[payloadEnd:])
	if payloadLen == 0 {
		if payloadCRC != 0 {
			return nil, blockerr.ErrPayloadChecksum
		}
	} else if payloadCRC != crc32.ChecksumIEEE(payload) {
		return nil, blockerr.ErrPayloadChecksum
	}

	footerStart := payloadEnd + 4
	if !equalMagic(buf[footerStart:footerStart+8], footerMagic) {
		return nil, blockerr.ErrBadMagic
	}

	lengthOffset := footerStart + 8
	declaredTotal := binary.LittleEndian.Uint64(buf[lengthOffset:])
	if declaredTotal != uint64(total) {
		return nil, blockerr.ErrBadLength
	}

	encoding := Encoding(buf[encodingOffset])
	if !encoding.valid() {
		return nil, fmt.Errorf("encoding byte %d: %w", encoding, blockerr.ErrUnsupportedEncoding)
	}

	payloadCopy := make([]byte, payloadLen)
	copy(payloadCopy, payload)

	return &Block{
		Version:         binary.LittleEndian.Uint16(buf[versionOffset:]),
		Kind:            Kind(buf[kindOffset]),
		Flags:           Flags(buf[flagsOffset]),
		PayloadEncoding: encoding,
		Timestamp:       int64(binary.LittleEndian.Uint64(buf[timestampOffset:])),
		BlockID:         int64(binary.LittleEndian.Uint64(buf[blockIDOffset:])),
		Payload:         payloadCopy,
	}, nil
}

// TotalLenAt returns the declared total block length by reading only the
// fixed-size prefix of buf (at least 37 bytes, i.e. up to and including
// the payload-length field), without requiring the full block
// to be in memory. Used by the manager to size reads before decoding.
func TotalLenAt(buf []byte) (int, error) {
	if len(buf) < payloadLenOffset+8 {
		return 0, blockerr.ErrTruncated
	}
	if !equalMagic(buf[headerOffset:headerOffset+8], headerMagic) {
		return 0, blockerr.ErrBadMagic
	}
	payloadLen64 := binary.LittleEndian.Uint64(buf[payloadLenOffset:])
	if payloadLen64 > MaxPayloadLen {
		return 0, blockerr.ErrBadLength
	}
	return Overhead + int(payloadLen64), nil
}

func equalMagic(b []byte, magic [8]byte) bool {
	for i := 0; i < 8; i++ {
		if b[i] != magic[i] {
			return false
		}
	}
	return true
}
