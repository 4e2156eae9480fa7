// Package kvsegment implements the ZoneTree KV/Vector segment collaborator
// named in spec §4.6 and expanded in SPEC_FULL §12: the archive treats an
// embedded ZoneTree index's on-disk segment files as opaque payloads and
// persists them as ordinary blocks, leaving indexing semantics entirely to
// the collaborator.
package kvsegment

import (
	"fmt"
	"time"

	"github.com/archivemail/blockstore/internal/logger"
	"github.com/archivemail/blockstore/pkg/block"
	"github.com/archivemail/blockstore/pkg/blockerr"
	"github.com/archivemail/blockstore/pkg/blockstore"
)

// Kind selects which ZoneTree segment kind a blob belongs to.
type Kind int

const (
	KindKV Kind = iota
	KindVector
)

func (k Kind) blockKind() block.Kind {
	if k == KindVector {
		return block.KindZoneTreeSegmentVector
	}
	return block.KindZoneTreeSegmentKV
}

// Store persists ZoneTree segment blobs through a blockstore.Manager.
// The caller is responsible for the segment's internal structure; Store
// only guarantees that PutSegment/GetSegment round-trip the bytes it was
// given under a given kind and segment ID.
type Store struct {
	mgr *blockstore.Manager
}

// New creates a Store over mgr.
func New(mgr *blockstore.Manager) *Store {
	return &Store{mgr: mgr}
}

// PutSegment writes segment's raw bytes as a block of the given kind at
// segmentID. Callers choose segmentID themselves (e.g. a ZoneTree
// segment number); Store applies no interpretation to it beyond using
// it as the block ID.
func (s *Store) PutSegment(kind Kind, segmentID int64, segment []byte) error {
	if len(segment) > block.MaxPayloadLen {
		return blockerr.ErrPayloadTooLarge
	}

	blk := &block.Block{
		Version:         block.FormatVersion1,
		Kind:            kind.blockKind(),
		PayloadEncoding: block.EncodingRawBytes,
		Timestamp:       time.Now().Unix(),
		BlockID:         segmentID,
		Payload:         segment,
	}

	if _, err := s.mgr.WriteBlock(blk); err != nil {
		return fmt.Errorf("put %v segment %d: %w", kind, segmentID, err)
	}

	logger.Debug("kvsegment: segment written", "kind", kind, "segment_id", segmentID, "bytes", len(segment))
	return nil
}

// GetSegment reads back the raw bytes written by PutSegment for
// segmentID, verifying that the stored block's kind matches what the
// caller expects.
func (s *Store) GetSegment(kind Kind, segmentID int64) ([]byte, error) {
	blk, err := s.mgr.ReadBlock(segmentID)
	if err != nil {
		return nil, fmt.Errorf("get %v segment %d: %w", kind, segmentID, err)
	}

	if blk.Kind != kind.blockKind() {
		return nil, fmt.Errorf("get %v segment %d: %w", kind, segmentID, blockerr.ErrUnsupportedKind)
	}

	return blk.Payload, nil
}

// ListSegments returns the segment IDs currently stored under kind, in
// no particular order.
func (s *Store) ListSegments(kind Kind) []int64 {
	want := kind.blockKind()
	var ids []int64

	for id := range s.mgr.GetBlockLocations() {
		blk, err := s.mgr.ReadBlock(id)
		if err != nil {
			continue
		}
		if blk.Kind == want {
			ids = append(ids, id)
		}
	}
	return ids
}
