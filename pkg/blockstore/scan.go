package blockstore

import (
	"bytes"
	"io"
	"os"

	"github.com/archivemail/blockstore/pkg/block"
)

// scanResult is the outcome of scanning a file for blocks.
type scanResult struct {
	locations      []Location // in offset order
	index          map[int64]Location
	skippedRegions int
	skippedBytes   int64
}

// scanFile rebuilds the block-location index by scanning f from offset 0
// to its current size, looking for header-magic positions and attempting
// to decode a block at each candidate. Malformed regions are skipped by
// resuming the search one byte after the last candidate that failed to
// decode (spec §4.2 "tolerant to corruption").
//
// Spec §4.2 only requires a sequential scan, not a memory-mapped one, so
// the file is read into a single buffer through ReadAt rather than
// mmap'd: ReadAt has no platform-specific build requirements, unlike
// mmap, which would otherwise need separate Unix and Windows code paths
// (mirroring the split internal/logger already carries for terminal
// detection between terminal_linux.go and terminal_windows.go).
func scanFile(f *os.File) (*scanResult, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	result := &scanResult{index: make(map[int64]Location)}
	if size == 0 {
		return result, nil
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, size), data); err != nil {
		return nil, err
	}

	magic := headerMagicBytes()

	pos := int64(0)
	lastGoodEnd := int64(0)
	for pos < size {
		rel := bytes.Index(data[pos:], magic)
		if rel < 0 {
			// No more magic candidates; whatever remains is garbage.
			result.skippedBytes += size - pos
			result.skippedRegions++
			break
		}
		candidate := pos + int64(rel)

		total, terr := block.TotalLenAt(data[candidate:min64(candidate+45, size)])
		if terr == nil && candidate+int64(total) <= size {
			if decoded, derr := block.Decode(data[candidate : candidate+int64(total)]); derr == nil {
				if candidate > lastGoodEnd {
					result.skippedBytes += candidate - lastGoodEnd
					result.skippedRegions++
				}
				loc := Location{Offset: candidate, TotalLength: int64(total)}
				result.locations = append(result.locations, loc)
				result.index[decoded.BlockID] = loc
				lastGoodEnd = candidate + int64(total)
				pos = lastGoodEnd
				continue
			}
		}

		// Decode failed (truncated length, bad CRC, bad footer): advance
		// one byte past this candidate and keep looking.
		pos = candidate + 1
	}

	return result, nil
}

func headerMagicBytes() []byte {
	m := block.HeaderMagic()
	return m[:]
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
