// Package compact implements the offline compaction sketch described in
// SPEC_FULL §12: rewrite an archive so that only the latest version of
// each block ID survives, reclaiming space held by superseded writes
// while preserving block IDs and relative append order. Checkpoint
// blocks are copied like any other block, including ones that
// PruneOldCheckpoints marked obsolete (that mark is not persisted).
package compact

import (
	"fmt"
	"sort"

	"github.com/archivemail/blockstore/internal/logger"
	"github.com/archivemail/blockstore/pkg/block"
	"github.com/archivemail/blockstore/pkg/blockstore"
	"github.com/archivemail/blockstore/pkg/metrics"
)

// Report summarizes a compaction run.
type Report struct {
	BlocksKept     int
	BlocksDropped  int
	BytesBefore    int64
	BytesAfter     int64
}

// Compact reads every block in srcPath and writes the latest version of
// each distinct block ID to dstPath, in ascending append order of their
// original write. dstPath must not already exist; srcPath is opened
// read-only and is never modified.
func Compact(srcPath, dstPath string) (Report, error) {
	src, err := blockstore.OpenReadOnly(srcPath)
	if err != nil {
		return Report{}, fmt.Errorf("compact: open source: %w", err)
	}
	defer src.Close()
	// One sink serves both managers: each NewBlockstoreMetrics call
	// registers the same collector names on the process-wide registry.
	sink := metrics.NewBlockstoreMetrics()
	src.SetMetrics(sink)

	dst, err := blockstore.Open(dstPath, true)
	if err != nil {
		return Report{}, fmt.Errorf("compact: open destination: %w", err)
	}
	defer dst.Close()
	dst.SetMetrics(sink)

	locations := src.GetBlockLocations()

	type idOffset struct {
		id     int64
		offset int64
	}
	ordered := make([]idOffset, 0, len(locations))
	for id, loc := range locations {
		ordered = append(ordered, idOffset{id: id, offset: loc.Offset})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].offset < ordered[j].offset })

	srcStats := src.Stats()
	report := Report{BytesBefore: srcStats.BytesIndexed}

	for _, io := range ordered {
		blk, err := src.ReadBlock(io.id)
		if err != nil {
			logger.Warn("compact: skipping unreadable block", "block_id", io.id, "error", err)
			report.BlocksDropped++
			continue
		}

		if _, err := dst.WriteBlock(blk); err != nil {
			return report, fmt.Errorf("compact: write block %d: %w", io.id, err)
		}
		report.BlocksKept++
	}

	dstStats := dst.Stats()
	report.BytesAfter = dstStats.BytesIndexed

	logger.Info("compact: finished", "kept", report.BlocksKept, "dropped", report.BlocksDropped,
		"bytes_before", report.BytesBefore, "bytes_after", report.BytesAfter)

	return report, nil
}

// blockKindCounts is a helper for callers that want a compaction preview
// without writing anything: a per-kind count of blocks that would be
// kept.
func blockKindCounts(mgr *blockstore.Manager) map[block.Kind]int {
	counts := make(map[block.Kind]int)
	for id := range mgr.GetBlockLocations() {
		blk, err := mgr.ReadBlock(id)
		if err != nil {
			continue
		}
		counts[blk.Kind]++
	}
	return counts
}

// DryRun reports the per-kind block counts an archive currently holds,
// without compacting anything. Useful for estimating whether a
// compaction run is worthwhile.
func DryRun(path string) (map[block.Kind]int, error) {
	mgr, err := blockstore.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("compact dry run: %w", err)
	}
	defer mgr.Close()
	mgr.SetMetrics(metrics.NewBlockstoreMetrics())

	return blockKindCounts(mgr), nil
}
