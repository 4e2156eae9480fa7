// Package batch implements spec §4.5: grouping many small payloads into
// one block to amortize the 61-byte per-block overhead.
//
// Batch payload format (self-describing, independent of outer block
// framing):
//
//	4 bytes   entry count N (uint32 LE)
//	per entry:
//	  8 bytes   entry_id (int64 LE)
//	  4 bytes   entry length (uint32 LE)
//	  entry bytes
//	  8 bytes   xxhash64 of entry bytes (uint64 LE)
//
// The per-entry xxhash64 catches corruption or mis-framing scoped to a
// single entry inside an otherwise-valid block: the outer block's
// CRC-32 (pkg/block) only proves the whole payload matches what was
// written, not that any one entry's boundaries were decoded correctly.
//
// When FlagSmartBatch is set, a 4-byte length-prefixed JSON metadata
// header (entry IDs, timestamps, batch ID) precedes the entry count.
// When FlagCompressedBatch is set, the whole payload above (metadata
// header included) is run through the codec named by the block's
// payload_encoding.
package batch

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/archivemail/blockstore/pkg/block"
	"github.com/archivemail/blockstore/pkg/blockerr"
	"github.com/archivemail/blockstore/pkg/codec"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Policy selects which condition triggers a flush.
type Policy int

const (
	PolicySize Policy = iota
	PolicyTime
	PolicyHybrid
	PolicyAdaptive
)

// Adaptive target sizes (spec §4.5): chosen from this set based on the
// average payload size observed in the lookahead window.
var adaptiveTargets = []int{512 * 1024, 1024 * 1024, 2 * 1024 * 1024}

// AdaptiveLookahead is how many upcoming payloads the adaptive policy
// inspects to choose a target size.
const AdaptiveLookahead = 50

// Entry is one logical payload packed into a batch.
type Entry struct {
	EntryID   int64
	Timestamp int64
	Data      []byte
}

// Config configures a Packer.
type Config struct {
	Policy     Policy
	TargetSize int           // byte threshold for PolicySize/PolicyHybrid
	MaxWindow  time.Duration // time threshold for PolicyTime/PolicyHybrid
	SmartBatch bool          // emit the JSON metadata header
	Compressor codec.Compressor // non-nil enables FlagCompressedBatch
}

// Packer accumulates entries and decides, on each Add, whether the
// accumulated batch should be flushed.
type Packer struct {
	cfg Config

	mu          sync.Mutex
	pending     []Entry
	pendingSize int
	windowStart time.Time
}

// New creates a Packer with cfg.
func New(cfg Config) *Packer {
	if cfg.TargetSize <= 0 {
		cfg.TargetSize = adaptiveTargets[0]
	}
	return &Packer{cfg: cfg}
}

// Add appends entry to the pending batch and reports whether the caller
// should now call Flush.
func (p *Packer) Add(entry Entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		p.windowStart = time.Now()
	}

	wouldExceed := p.pendingSize+len(entry.Data) > p.cfg.TargetSize && len(p.pending) > 0
	if wouldExceed {
		return true // caller must flush before this entry fits
	}

	p.pending = append(p.pending, entry)
	p.pendingSize += len(entry.Data)

	return p.shouldFlushLocked()
}

func (p *Packer) shouldFlushLocked() bool {
	switch p.cfg.Policy {
	case PolicySize:
		return p.pendingSize >= p.cfg.TargetSize
	case PolicyTime:
		return p.cfg.MaxWindow > 0 && time.Since(p.windowStart) >= p.cfg.MaxWindow
	case PolicyHybrid:
		return p.pendingSize >= p.cfg.TargetSize ||
			(p.cfg.MaxWindow > 0 && time.Since(p.windowStart) >= p.cfg.MaxWindow)
	case PolicyAdaptive:
		return p.pendingSize >= p.cfg.TargetSize
	default:
		return p.pendingSize >= p.cfg.TargetSize
	}
}

// ChooseAdaptiveTarget picks a target size from {512KiB, 1MiB, 2MiB}
// based on the average payload size across sizes (the next ~50
// payloads the caller has looked ahead at).
func ChooseAdaptiveTarget(sizes []int) int {
	if len(sizes) == 0 {
		return adaptiveTargets[0]
	}
	total := 0
	for _, s := range sizes {
		total += s
	}
	avg := total / len(sizes)

	switch {
	case avg <= 4*1024:
		return adaptiveTargets[0]
	case avg <= 32*1024:
		return adaptiveTargets[1]
	default:
		return adaptiveTargets[2]
	}
}

// Pending returns a copy of the currently buffered entries and their
// total size, without flushing.
func (p *Packer) Pending() ([]Entry, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, len(p.pending))
	copy(out, p.pending)
	return out, p.pendingSize
}

// metadataHeader is the optional SmartBatch JSON header.
type metadataHeader struct {
	BatchID    string  `json:"batch_id"`
	EntryIDs   []int64 `json:"entry_ids"`
	Timestamps []int64 `json:"timestamps"`
}

// Flush builds a Block of kind from the currently pending entries and
// clears the buffer. The block's PayloadEncoding is set to
// p.cfg.Compressor.Algorithm() when compression is enabled
// (p.cfg.Compressor != nil), or RawBytes otherwise.
func (p *Packer) Flush(kind block.Kind, blockID int64, timestamp int64) (*block.Block, error) {
	p.mu.Lock()
	entries := p.pending
	p.pending = nil
	p.pendingSize = 0
	p.mu.Unlock()

	if len(entries) == 0 {
		return nil, fmt.Errorf("flush with no pending entries")
	}

	var buf bytes.Buffer

	if p.cfg.SmartBatch {
		hdr := metadataHeader{BatchID: uuid.NewString()}
		for _, e := range entries {
			hdr.EntryIDs = append(hdr.EntryIDs, e.EntryID)
			hdr.Timestamps = append(hdr.Timestamps, e.Timestamp)
		}
		hdrBytes, err := json.Marshal(hdr)
		if err != nil {
			return nil, fmt.Errorf("marshal smart batch header: %w", err)
		}
		var lenPrefix [4]byte
		binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(hdrBytes)))
		buf.Write(lenPrefix[:])
		buf.Write(hdrBytes)
	}

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(entries)))
	buf.Write(countBuf[:])

	for _, e := range entries {
		var idBuf [8]byte
		binary.LittleEndian.PutUint64(idBuf[:], uint64(e.EntryID))
		buf.Write(idBuf[:])

		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.Data)))
		buf.Write(lenBuf[:])

		buf.Write(e.Data)

		var sumBuf [8]byte
		binary.LittleEndian.PutUint64(sumBuf[:], xxhash.Sum64(e.Data))
		buf.Write(sumBuf[:])
	}

	flags := block.FlagBatch
	encoding := block.EncodingRawBytes
	payload := buf.Bytes()

	if p.cfg.SmartBatch {
		flags |= block.FlagSmartBatch
	}

	if p.cfg.Compressor != nil {
		compressed, err := p.cfg.Compressor.Compress(payload)
		if err != nil {
			return nil, fmt.Errorf("compress batch: %w", err)
		}
		payload = compressed
		encoding = p.cfg.Compressor.Algorithm()
		flags |= block.FlagCompressedBatch
	}

	if len(payload) > block.MaxPayloadLen {
		return nil, blockerr.ErrPayloadTooLarge
	}

	return &block.Block{
		Version:         block.FormatVersion1,
		Kind:            kind,
		Flags:           flags,
		PayloadEncoding: encoding,
		Timestamp:       timestamp,
		BlockID:         blockID,
		Payload:         payload,
	}, nil
}

// Unpack reverses Flush: given a decoded batch Block (already decoded by
// pkg/block, and already decompressed if it carried a compression
// encoding — callers should decompress via pkg/codec before calling
// Unpack when FlagCompressedBatch is set), returns the entries it
// contains.
func Unpack(blk *block.Block, rawPayload []byte) ([]Entry, error) {
	data := rawPayload
	offset := 0

	if blk.Flags.Has(block.FlagSmartBatch) {
		if len(data) < 4 {
			return nil, fmt.Errorf("truncated smart batch header")
		}
		hdrLen := int(binary.LittleEndian.Uint32(data[0:4]))
		offset = 4
		if offset+hdrLen > len(data) {
			return nil, fmt.Errorf("truncated smart batch header body")
		}
		offset += hdrLen // header is descriptive metadata; entries below are authoritative
	}

	if offset+4 > len(data) {
		return nil, fmt.Errorf("truncated batch count")
	}
	count := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4

	entries := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		if offset+8+4 > len(data) {
			return nil, fmt.Errorf("truncated batch entry %d header", i)
		}
		id := int64(binary.LittleEndian.Uint64(data[offset : offset+8]))
		offset += 8
		length := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
		offset += 4
		if offset+length+8 > len(data) {
			return nil, fmt.Errorf("truncated batch entry %d body", i)
		}
		entryData := make([]byte, length)
		copy(entryData, data[offset:offset+length])
		offset += length

		wantSum := binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8
		if gotSum := xxhash.Sum64(entryData); gotSum != wantSum {
			return nil, fmt.Errorf("batch entry %d (id %d): %w", i, id, blockerr.ErrIntegrity)
		}

		entries = append(entries, Entry{EntryID: id, Data: entryData})
	}

	return entries, nil
}
