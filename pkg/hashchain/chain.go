// Package hashchain implements the tamper-evident linearization of blocks
// described in spec §4.3: each committed block's canonical bytes are
// hashed, and hashes are linked into a running chain hash so that
// flipping any byte in a chained block invalidates every entry from that
// point forward.
//
// Entries are themselves persisted as block.KindHashChain blocks
// through the same pkg/blockstore.Manager that holds the blocks being
// chained, using a private block-ID namespace (negative IDs, derived
// from the sequence number) so chain entries never collide with
// caller-chosen business block IDs.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/archivemail/blockstore/internal/logger"
	"github.com/archivemail/blockstore/pkg/block"
	"github.com/archivemail/blockstore/pkg/blockerr"
	"github.com/archivemail/blockstore/pkg/blockstore"
	"github.com/archivemail/blockstore/pkg/metrics"
)

// Entry is a single link in the chain (spec §3 HashChainEntry).
type Entry struct {
	SequenceNumber   int64  `json:"sequence_number"`
	BlockID          int64  `json:"block_id"`
	BlockHash        string `json:"block_hash"`
	ChainHash        string `json:"chain_hash"`
	Timestamp        int64  `json:"timestamp"`
	PreviousBlockID  *int64 `json:"previous_block_id,omitempty"`
}

// VerificationReport is the result of verifying a single chained block.
type VerificationReport struct {
	BlockID        int64
	SequenceNumber int64
	Valid          bool
	Reason         string
}

// ChainReport summarizes verify_entire_chain (spec §4.3).
type ChainReport struct {
	TotalBlocks int
	ValidBlocks int
	// ChainIntegrity is nil when the chain is empty (unknown), true when
	// every entry validated, false otherwise.
	ChainIntegrity *bool
}

// Proof is an existence proof for a single block (spec §4.3).
type Proof struct {
	BlockID        int64
	BlockHash      string
	ChainHash      string
	SequenceNumber int64
	Timestamp      int64
	MerkleRoot     string // empty if the chain has no entries yet
}

var zeroHash = sha256.Sum256(nil)

// Chain links blocks held by a blockstore.Manager into a tamper-evident
// sequence. A Chain is not safe for concurrent use without its own
// internal locking, which it provides: Add serializes on mu exactly as
// spec §5 requires for the hash-chain "tip".
type Chain struct {
	mgr *blockstore.Manager

	mu      sync.Mutex
	tip     [32]byte
	seq     int64
	entries []Entry
	byBlock map[int64]int // blockID -> index into entries (latest wins)
	merkle  *merkleTree

	metrics metrics.ChainMetrics
}

// SetMetrics attaches m as the Chain's metrics sink. A nil m (the
// default) disables metrics reporting at zero cost.
func (c *Chain) SetMetrics(m metrics.ChainMetrics) {
	c.metrics = m
}

// New creates a Chain with an empty tip (chain_hash_0 = SHA-256("")).
func New(mgr *blockstore.Manager) *Chain {
	return &Chain{
		mgr:     mgr,
		tip:     zeroHash,
		byBlock: make(map[int64]int),
		merkle:  newMerkleTree(),
	}
}

// Load reconstructs a Chain from the KindHashChain blocks already present
// in mgr's index, replaying them in sequence-number order to rebuild the
// tip, sequence counter, and Merkle tree. Use this when reopening an
// archive whose chain should resume rather than restart.
func Load(mgr *blockstore.Manager) (*Chain, error) {
	c := New(mgr)

	var found []Entry
	for id := range mgr.GetBlockLocations() {
		if id >= 0 {
			continue // chain entries live in the negative ID namespace
		}
		blk, err := mgr.ReadBlock(id)
		if err != nil {
			continue
		}
		if blk.Kind != block.KindHashChain {
			continue
		}
		var e Entry
		if err := json.Unmarshal(blk.Payload, &e); err != nil {
			continue
		}
		found = append(found, e)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].SequenceNumber < found[j].SequenceNumber })

	for _, e := range found {
		c.entries = append(c.entries, e)
		c.byBlock[e.BlockID] = len(c.entries) - 1
		hashBytes, err := hex.DecodeString(e.ChainHash)
		if err != nil || len(hashBytes) != 32 {
			return nil, fmt.Errorf("load chain: entry %d has malformed chain hash: %w", e.SequenceNumber, blockerr.ErrIntegrity)
		}
		copy(c.tip[:], hashBytes)
		if e.SequenceNumber > c.seq {
			c.seq = e.SequenceNumber
		}
		blockHashBytes, err := hex.DecodeString(e.BlockHash)
		if err != nil {
			return nil, fmt.Errorf("load chain: entry %d has malformed block hash: %w", e.SequenceNumber, blockerr.ErrIntegrity)
		}
		c.merkle.add(blockHashBytes)
	}

	return c, nil
}

// blockIDForSequence maps a chain sequence number to the reserved
// negative block-ID namespace chain entries are stored under.
func blockIDForSequence(seq int64) int64 {
	return -seq
}

// Add computes the canonical hash of blk, links it to the current tip,
// persists the resulting entry as a KindHashChain block, and advances the
// chain.
func (c *Chain) Add(blk *block.Block) (Entry, error) {
	canonical, err := block.Encode(blk)
	if err != nil {
		return Entry{}, err
	}
	blockHash := sha256.Sum256(canonical)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	seq := c.seq

	h := sha256.New()
	h.Write(c.tip[:])
	h.Write(blockHash[:])
	var chainHash [32]byte
	copy(chainHash[:], h.Sum(nil))

	entry := Entry{
		SequenceNumber: seq,
		BlockID:        blk.BlockID,
		BlockHash:      hex.EncodeToString(blockHash[:]),
		ChainHash:      hex.EncodeToString(chainHash[:]),
		Timestamp:      blk.Timestamp,
	}
	if prev, ok := c.byBlock[blk.BlockID]; ok {
		prevID := c.entries[prev].BlockID
		entry.PreviousBlockID = &prevID
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		c.seq--
		return Entry{}, fmt.Errorf("marshal chain entry: %w", err)
	}

	entryBlock := &block.Block{
		Version:         block.FormatVersion1,
		Kind:            block.KindHashChain,
		PayloadEncoding: block.EncodingJson,
		Timestamp:       blk.Timestamp,
		BlockID:         blockIDForSequence(seq),
		Payload:         payload,
	}
	if _, err := c.mgr.WriteBlock(entryBlock); err != nil {
		c.seq--
		return Entry{}, fmt.Errorf("persist chain entry: %w", err)
	}

	c.tip = chainHash
	c.entries = append(c.entries, entry)
	c.byBlock[blk.BlockID] = len(c.entries) - 1
	c.merkle.add(blockHash[:])
	metrics.RecordChainEntry(c.metrics)

	logger.Debug("hashchain: added entry", "block_id", blk.BlockID, "sequence", seq)
	return entry, nil
}

// VerifyBlock reads the current stored bytes for blockID, recomputes
// block_hash, and compares it to the most recent chain entry recorded
// for that ID. It also recomputes chain_hash from the previous entry's
// chain_hash and the recomputed block_hash.
func (c *Chain) VerifyBlock(blockID int64) (VerificationReport, error) {
	blk, err := c.mgr.ReadBlock(blockID)
	if err != nil {
		return VerificationReport{}, err
	}

	c.mu.Lock()
	idx, ok := c.byBlock[blockID]
	if !ok {
		c.mu.Unlock()
		return VerificationReport{}, fmt.Errorf("block %d: %w", blockID, blockerr.ErrNotFound)
	}
	entry := c.entries[idx]
	var prevChainHash [32]byte
	if idx == 0 {
		prevChainHash = zeroHash
	} else {
		prevHashBytes, _ := hex.DecodeString(c.entries[idx-1].ChainHash)
		copy(prevChainHash[:], prevHashBytes)
	}
	c.mu.Unlock()

	canonical, err := block.Encode(blk)
	if err != nil {
		return VerificationReport{}, err
	}
	recomputedBlockHash := sha256.Sum256(canonical)

	h := sha256.New()
	h.Write(prevChainHash[:])
	h.Write(recomputedBlockHash[:])
	recomputedChainHash := h.Sum(nil)

	report := VerificationReport{BlockID: blockID, SequenceNumber: entry.SequenceNumber, Valid: true}

	if hex.EncodeToString(recomputedBlockHash[:]) != entry.BlockHash {
		report.Valid = false
		report.Reason = "block hash mismatch"
		metrics.RecordVerifyFailure(c.metrics)
		return report, nil
	}
	if hex.EncodeToString(recomputedChainHash) != entry.ChainHash {
		report.Valid = false
		report.Reason = "chain hash mismatch"
		metrics.RecordVerifyFailure(c.metrics)
	}
	return report, nil
}

// VerifyEntireChain walks every committed entry in sequence order,
// recomputing the chain hash from genesis. Once a mismatch is found, that
// entry and every subsequent entry are reported invalid; earlier entries
// keep their validity (spec §4.3 failure semantics).
func (c *Chain) VerifyEntireChain() (ChainReport, error) {
	c.mu.Lock()
	entries := make([]Entry, len(c.entries))
	copy(entries, c.entries)
	c.mu.Unlock()

	if len(entries) == 0 {
		return ChainReport{TotalBlocks: 0, ValidBlocks: 0, ChainIntegrity: nil}, nil
	}

	tip := zeroHash
	valid := 0
	broken := false

	for _, e := range entries {
		blk, err := c.mgr.ReadBlock(e.BlockID)
		var blockHash [32]byte
		if err == nil {
			canonical, encErr := block.Encode(blk)
			if encErr == nil {
				blockHash = sha256.Sum256(canonical)
			}
		}

		h := sha256.New()
		h.Write(tip[:])
		h.Write(blockHash[:])
		chainHash := h.Sum(nil)

		ok := err == nil &&
			hex.EncodeToString(blockHash[:]) == e.BlockHash &&
			hex.EncodeToString(chainHash) == e.ChainHash

		if broken || !ok {
			broken = true
			continue
		}
		valid++
		copy(tip[:], chainHash)
	}

	if broken {
		metrics.RecordVerifyFailure(c.metrics)
	}

	integrity := !broken
	return ChainReport{TotalBlocks: len(entries), ValidBlocks: valid, ChainIntegrity: &integrity}, nil
}

// GenerateExistenceProof returns a proof for blockID including the
// current Merkle root over all entries committed so far.
func (c *Chain) GenerateExistenceProof(blockID int64) (Proof, error) {
	c.mu.Lock()
	idx, ok := c.byBlock[blockID]
	if !ok {
		c.mu.Unlock()
		return Proof{}, fmt.Errorf("block %d: %w", blockID, blockerr.ErrNotFound)
	}
	entry := c.entries[idx]
	root := c.merkle.root()
	c.mu.Unlock()

	return Proof{
		BlockID:        entry.BlockID,
		BlockHash:      entry.BlockHash,
		ChainHash:      entry.ChainHash,
		SequenceNumber: entry.SequenceNumber,
		Timestamp:      entry.Timestamp,
		MerkleRoot:     root,
	}, nil
}

// Len returns the number of entries committed to the chain so far.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
