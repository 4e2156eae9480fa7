// Package checkpoint implements spec §4.4: durable per-block recovery
// copies/references used to rescue a read when the primary block region
// is unreadable.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/archivemail/blockstore/internal/logger"
	"github.com/archivemail/blockstore/pkg/block"
	"github.com/archivemail/blockstore/pkg/blockerr"
	"github.com/archivemail/blockstore/pkg/blockstore"
	"github.com/archivemail/blockstore/pkg/metrics"
	"github.com/google/uuid"
)

// checkpointIDBase pushes generated checkpoint block IDs into their own
// namespace, clear of both caller-chosen business IDs and the hash
// chain's negative-sequence namespace (pkg/hashchain uses -1, -2, ...).
const checkpointIDBase = int64(-1_000_000_000_000)

// DefaultMaxPerBlock is the default retention depth for
// PruneOldCheckpoints (spec §4.4 "defaults to 3").
const DefaultMaxPerBlock = 3

// Record is a single checkpoint (spec §3 CheckpointRecord).
type Record struct {
	CheckpointID    string `json:"checkpoint_id"`
	TargetBlockID   int64  `json:"target_block_id"`
	IsCopy          bool   `json:"is_copy"`
	TargetOffset    int64  `json:"target_offset"`
	TargetHash      string `json:"target_hash,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	PruningPriority int    `json:"pruning_priority"`
	Obsolete        bool   `json:"-"`

	// copyPayload holds the independent copy of the target's encoded
	// bytes for IsCopy records; nil for reference records. Kept
	// in-memory alongside the on-disk record for fast recovery without
	// a second read.
	copyPayload []byte
}

// Criteria selects blocks for CreateSystemCheckpoint.
type Criteria struct {
	IncludedKinds []block.Kind // empty means all kinds
	MinSize       int64
	MaxAge        time.Duration // 0 means no age filter
}

func (c Criteria) matchesKind(k block.Kind) bool {
	if len(c.IncludedKinds) == 0 {
		return true
	}
	for _, want := range c.IncludedKinds {
		if want == k {
			return true
		}
	}
	return false
}

// Manager creates and tracks checkpoints for blocks held by a
// blockstore.Manager.
type Manager struct {
	mgr *blockstore.Manager

	mu       sync.Mutex
	history  map[int64][]*Record // target block ID -> records, unordered (readers sort by CreatedAt)
	nextSeq  int64

	metrics metrics.ChainMetrics
}

// SetMetrics attaches m as the Manager's metrics sink. A nil m (the
// default) disables metrics reporting at zero cost.
func (cm *Manager) SetMetrics(m metrics.ChainMetrics) {
	cm.metrics = m
}

// New creates a checkpoint Manager over mgr.
func New(mgr *blockstore.Manager) *Manager {
	return &Manager{
		mgr:     mgr,
		history: make(map[int64][]*Record),
	}
}

// Load reconstructs a checkpoint Manager's history from the
// KindCheckpoint blocks already present in mgr's index. Use this when
// reopening an archive whose checkpoint history should resume.
func Load(mgr *blockstore.Manager) (*Manager, error) {
	cm := New(mgr)

	for id := range mgr.GetBlockLocations() {
		if id > checkpointIDBase {
			continue // checkpoint blocks live below checkpointIDBase
		}
		blk, err := mgr.ReadBlock(id)
		if err != nil {
			continue
		}
		if blk.Kind != block.KindCheckpoint {
			continue
		}
		var env checkpointEnvelope
		if err := json.Unmarshal(blk.Payload, &env); err != nil {
			continue
		}
		if env.Record == nil {
			continue
		}
		env.Record.copyPayload = env.Copy
		cm.history[env.Record.TargetBlockID] = append(cm.history[env.Record.TargetBlockID], env.Record)
		seq := checkpointIDBase - id
		if seq > cm.nextSeq {
			cm.nextSeq = seq
		}
	}

	return cm, nil
}

// CreateCheckpoint writes a Checkpoint-kind block for targetBlockID. When
// copy is true the checkpoint payload is an independent copy of the
// target's encoded bytes; when false it is a reference
// (target_block_id, target_offset, target_hash) that assists detection
// but cannot itself rescue a corrupted read.
func (cm *Manager) CreateCheckpoint(targetBlockID int64, copy bool) (string, error) {
	target, err := cm.mgr.ReadBlock(targetBlockID)
	if err != nil {
		return "", fmt.Errorf("checkpoint target %d: %w", targetBlockID, err)
	}

	locs := cm.mgr.GetBlockLocations()
	loc, ok := locs[targetBlockID]
	if !ok {
		return "", fmt.Errorf("checkpoint target %d: %w", targetBlockID, blockerr.ErrNotFound)
	}

	checkpointID := uuid.NewString()
	now := time.Now().Unix()

	rec := &Record{
		CheckpointID:  checkpointID,
		TargetBlockID: targetBlockID,
		IsCopy:        copy,
		TargetOffset:  loc.Offset,
		CreatedAt:     now,
	}

	var payload []byte
	if copy {
		canonical, err := block.Encode(target)
		if err != nil {
			return "", err
		}
		rec.copyPayload = canonical
		payload, err = json.Marshal(checkpointEnvelope{Record: rec, Copy: canonical})
		if err != nil {
			return "", fmt.Errorf("marshal checkpoint: %w", err)
		}
	} else {
		canonical, err := block.Encode(target)
		if err != nil {
			return "", err
		}
		rec.TargetHash = hashHex(canonical)
		payload, err = json.Marshal(checkpointEnvelope{Record: rec})
		if err != nil {
			return "", fmt.Errorf("marshal checkpoint: %w", err)
		}
	}

	cm.mu.Lock()
	cm.nextSeq++
	blockID := checkpointIDBase - cm.nextSeq
	cm.mu.Unlock()

	cpBlock := &block.Block{
		Version:         block.FormatVersion1,
		Kind:            block.KindCheckpoint,
		PayloadEncoding: block.EncodingJson,
		Timestamp:       now,
		BlockID:         blockID,
		Payload:         payload,
	}
	if _, err := cm.mgr.WriteBlock(cpBlock); err != nil {
		return "", fmt.Errorf("persist checkpoint: %w", err)
	}

	cm.mu.Lock()
	cm.history[targetBlockID] = append(cm.history[targetBlockID], rec)
	cm.mu.Unlock()

	metrics.RecordCheckpointCreated(cm.metrics, copy)
	logger.Debug("checkpoint: created", "target_block_id", targetBlockID, "checkpoint_id", checkpointID, "copy", copy)
	return checkpointID, nil
}

// checkpointEnvelope is the JSON payload shape for a Checkpoint block:
// the record metadata plus, for copy-type checkpoints, the raw encoded
// target bytes.
type checkpointEnvelope struct {
	Record *Record `json:"record"`
	Copy    []byte `json:"copy,omitempty"`
}

// CreateSystemCheckpoint iterates the manager's index and checkpoints
// every block matching criteria, returning the number of checkpoints
// created.
func (cm *Manager) CreateSystemCheckpoint(criteria Criteria) (int, error) {
	locs := cm.mgr.GetBlockLocations()
	count := 0
	now := time.Now()

	for blockID := range locs {
		if blockID <= checkpointIDBase {
			continue // never checkpoint our own checkpoint/chain bookkeeping blocks
		}
		blk, err := cm.mgr.ReadBlock(blockID)
		if err != nil {
			continue
		}
		if !criteria.matchesKind(blk.Kind) {
			continue
		}
		if int64(len(blk.Payload)) < criteria.MinSize {
			continue
		}
		if criteria.MaxAge > 0 {
			age := now.Sub(time.Unix(blk.Timestamp, 0))
			if age > criteria.MaxAge {
				continue
			}
		}
		if _, err := cm.CreateCheckpoint(blockID, true); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ReadBlockWithRecovery attempts a normal read; on any checksum or
// framing failure it falls back to the newest valid copy-type checkpoint
// for blockID.
func (cm *Manager) ReadBlockWithRecovery(blockID int64) (*block.Block, error) {
	blk, err := cm.mgr.ReadBlock(blockID)
	if err == nil {
		return blk, nil
	}

	recovered, recErr := cm.RecoverBlock(blockID)
	if recErr != nil {
		// Neither the primary nor any checkpoint could satisfy the
		// read; the original error propagates per spec §7.
		return nil, err
	}
	return recovered, nil
}

// RecoverBlock is the explicit form of ReadBlockWithRecovery's fallback:
// it returns the most recent valid checkpointed copy of blockID, or
// blockerr.ErrNotFound if none exists or all are themselves unreadable.
func (cm *Manager) RecoverBlock(blockID int64) (*block.Block, error) {
	cm.mu.Lock()
	records := append([]*Record(nil), cm.history[blockID]...)
	cm.mu.Unlock()

	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt > records[j].CreatedAt })

	for _, rec := range records {
		if rec.Obsolete || !rec.IsCopy || rec.copyPayload == nil {
			continue
		}
		decoded, err := block.Decode(rec.copyPayload)
		if err != nil {
			continue
		}
		metrics.RecordCheckpointRecovery(cm.metrics)
		logger.Warn("checkpoint: recovered block from checkpoint", "block_id", blockID, "checkpoint_id", rec.CheckpointID)
		return decoded, nil
	}

	return nil, fmt.Errorf("no usable checkpoint for block %d: %w", blockID, blockerr.ErrNotFound)
}

// PruneOldCheckpoints retains the maxPerBlock newest checkpoints (by
// CreatedAt) for every target block, marking the rest obsolete. It
// returns the number of records marked obsolete. Obsolete records remain
// on disk (the core does not garbage-collect on the hot path, per the
// Non-goals) but are skipped by RecoverBlock.
func (cm *Manager) PruneOldCheckpoints(maxPerBlock int) int {
	if maxPerBlock <= 0 {
		maxPerBlock = DefaultMaxPerBlock
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	pruned := 0
	for _, records := range cm.history {
		sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt > records[j].CreatedAt })
		for i, rec := range records {
			if i >= maxPerBlock && !rec.Obsolete {
				rec.Obsolete = true
				pruned++
			}
		}
	}
	return pruned
}

// GetCheckpointHistory returns the checkpoints recorded for blockID,
// oldest first.
func (cm *Manager) GetCheckpointHistory(blockID int64) []Record {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	records := append([]*Record(nil), cm.history[blockID]...)
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt < records[j].CreatedAt })

	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = *r
	}
	return out
}
