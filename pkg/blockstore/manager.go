// Package blockstore implements the append-only, indexed block manager
// described in spec §4.2: a single file holding a sequence of
// pkg/block-encoded records, a block_id -> latest-offset index rebuilt by
// scanning on open, and single-writer/many-reader concurrency.
package blockstore

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/archivemail/blockstore/internal/logger"
	"github.com/archivemail/blockstore/pkg/block"
	"github.com/archivemail/blockstore/pkg/blockerr"
	"github.com/archivemail/blockstore/pkg/bufpool"
	"github.com/archivemail/blockstore/pkg/metrics"
)

// state is the per-file state machine: Unopened -> Open(Writable|ReadOnly)
// -> Closed (spec §4.2).
type state int

const (
	stateOpenWritable state = iota
	stateOpenReadOnly
	stateClosed
)

// Stats exposes the introspection counters spec §7 calls for ("the number
// of skipped regions is exposed via a stats counter").
type Stats struct {
	BlocksIndexed      int64
	BytesIndexed       int64
	ScanSkippedRegions int64
	ScanSkippedBytes   int64
	ChecksumFailures   int64
}

// Manager owns a single append-only block file and its in-memory index.
// It is safe for concurrent use: writes serialize on writeMu, while reads
// take their own positional ReadAt against the file descriptor and a
// shared RLock on the index.
type Manager struct {
	path     string
	f        *os.File
	readOnly bool

	writeMu    sync.Mutex // serializes appends and writeOffset updates
	writeOffset int64

	indexMu sync.RWMutex
	index   map[int64]Location

	state atomic.Int32 // holds `state`

	blocksIndexed      atomic.Int64
	bytesIndexed       atomic.Int64
	scanSkippedRegions atomic.Int64
	scanSkippedBytes   atomic.Int64
	checksumFailures   atomic.Int64

	metrics metrics.BlockstoreMetrics
}

// SetMetrics attaches sink as the Manager's metrics sink. A nil sink (the
// default) disables metrics reporting at zero cost.
func (m *Manager) SetMetrics(sink metrics.BlockstoreMetrics) {
	m.metrics = sink
}

// Open opens path, creating it if missing and createIfMissing is true. If
// the file already contains data, it is scanned from offset 0 to rebuild
// the block_id -> location index (spec §4.2).
func Open(path string, createIfMissing bool) (*Manager, error) {
	return open(path, createIfMissing, false)
}

// OpenReadOnly opens path strictly for reads; WriteBlock on the returned
// Manager fails with blockerr.ErrPermission.
func OpenReadOnly(path string) (*Manager, error) {
	return open(path, false, true)
}

func open(path string, createIfMissing, readOnly bool) (*Manager, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	if createIfMissing && !readOnly {
		flag |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", path, blockerr.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	m := &Manager{
		path:     path,
		f:        f,
		readOnly: readOnly,
		index:    make(map[int64]Location),
	}
	if readOnly {
		m.state.Store(int32(stateOpenReadOnly))
	} else {
		m.state.Store(int32(stateOpenWritable))
	}
	m.writeOffset = info.Size()

	if info.Size() > 0 {
		if err := m.rebuildIndex(); err != nil {
			f.Close()
			return nil, fmt.Errorf("rebuild index for %s: %w", path, err)
		}
	}

	logger.Info("blockstore: opened", "path", path, "size", info.Size(), "blocks_indexed", len(m.index))
	return m, nil
}

func (m *Manager) rebuildIndex() error {
	result, err := scanFile(m.f)
	if err != nil {
		return err
	}

	m.indexMu.Lock()
	m.index = result.index
	m.indexMu.Unlock()

	m.blocksIndexed.Store(int64(len(result.index)))
	var totalBytes int64
	for _, loc := range result.locations {
		totalBytes += loc.TotalLength
	}
	m.bytesIndexed.Store(totalBytes)
	m.scanSkippedRegions.Store(int64(result.skippedRegions))
	m.scanSkippedBytes.Store(int64(result.skippedBytes))

	if result.skippedRegions > 0 {
		logger.Warn("blockstore: scan skipped corrupt regions",
			"path", m.path, "regions", result.skippedRegions, "bytes", result.skippedBytes)
		metrics.RecordScanSkip(m.metrics, result.skippedBytes)
	}
	return nil
}

// WriteBlock appends blk to the end of the file, updates the in-memory
// index, and returns its Location. Writing a blockID that already exists
// is a logical update: no prior bytes are rewritten, and the index is
// updated to point at the new (highest) offset (spec §3, §5).
func (m *Manager) WriteBlock(blk *block.Block) (Location, error) {
	if state(m.state.Load()) != stateOpenWritable {
		if state(m.state.Load()) == stateClosed {
			return Location{}, blockerr.ErrClosed
		}
		return Location{}, blockerr.ErrPermission
	}

	buf, err := block.Encode(blk)
	if err != nil {
		return Location{}, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	offset := m.writeOffset
	n, err := m.f.WriteAt(buf, offset)
	if err != nil {
		return Location{}, fmt.Errorf("write block %d at offset %d: %w", blk.BlockID, offset, blockerr.ErrIO)
	}
	if n != len(buf) {
		return Location{}, fmt.Errorf("short write for block %d: wrote %d of %d: %w", blk.BlockID, n, len(buf), blockerr.ErrIO)
	}

	m.writeOffset = offset + int64(len(buf))

	loc := Location{Offset: offset, TotalLength: int64(len(buf))}

	m.indexMu.Lock()
	_, existed := m.index[blk.BlockID]
	m.index[blk.BlockID] = loc
	m.indexMu.Unlock()

	if !existed {
		m.blocksIndexed.Add(1)
	}
	m.bytesIndexed.Add(int64(len(buf)))
	metrics.ObserveBlockWrite(m.metrics, len(buf), int(blk.Kind))

	logger.Debug("blockstore: wrote block", "block_id", blk.BlockID, "offset", offset, "length", len(buf))
	return loc, nil
}

// ReadBlock looks up blockID in the index, reads its record at a
// positional offset (safe for concurrent callers, since ReadAt does not
// move any shared file cursor), and decodes it.
func (m *Manager) ReadBlock(blockID int64) (*block.Block, error) {
	if state(m.state.Load()) == stateClosed {
		return nil, blockerr.ErrClosed
	}

	loc, ok := m.lookup(blockID)
	if !ok {
		return nil, fmt.Errorf("block %d: %w", blockID, blockerr.ErrNotFound)
	}
	return m.readAt(loc)
}

// readAt reads and decodes exactly the record described by loc. The read
// buffer is drawn from pkg/bufpool and returned as soon as Decode
// returns, since Decode always copies the payload bytes it hands back
// rather than aliasing the input buffer.
func (m *Manager) readAt(loc Location) (*block.Block, error) {
	buf := bufpool.Get(int(loc.TotalLength))
	defer bufpool.Put(buf)

	n, err := m.f.ReadAt(buf, loc.Offset)
	if err != nil && int64(n) < loc.TotalLength {
		return nil, fmt.Errorf("read at offset %d: %w", loc.Offset, blockerr.ErrTruncated)
	}

	decoded, err := block.Decode(buf)
	if err != nil {
		if errors.Is(err, blockerr.ErrHeaderChecksum) || errors.Is(err, blockerr.ErrPayloadChecksum) {
			m.checksumFailures.Add(1)
			metrics.RecordChecksumFailure(m.metrics)
		}
		return nil, err
	}
	metrics.ObserveBlockRead(m.metrics, len(buf), int(decoded.Kind))
	return decoded, nil
}

func (m *Manager) lookup(blockID int64) (Location, bool) {
	m.indexMu.RLock()
	defer m.indexMu.RUnlock()
	loc, ok := m.index[blockID]
	return loc, ok
}

// ScanFile rebuilds the index from the file contents and returns all
// currently indexed locations in offset order. Used for verification and
// explicit index reconstruction outside of Open.
func (m *Manager) ScanFile() ([]Location, error) {
	result, err := scanFile(m.f)
	if err != nil {
		return nil, err
	}

	m.indexMu.Lock()
	m.index = result.index
	m.indexMu.Unlock()

	m.scanSkippedRegions.Store(int64(result.skippedRegions))
	m.scanSkippedBytes.Store(int64(result.skippedBytes))

	live := make(map[Location]bool, len(result.index))
	for _, loc := range result.index {
		live[loc] = true
	}
	current := make([]Location, 0, len(result.index))
	for _, loc := range result.locations {
		if live[loc] {
			current = append(current, loc)
		}
	}
	return current, nil
}

// GetBlockLocations returns a snapshot copy of the block_id -> Location
// index.
func (m *Manager) GetBlockLocations() map[int64]Location {
	m.indexMu.RLock()
	defer m.indexMu.RUnlock()

	out := make(map[int64]Location, len(m.index))
	for k, v := range m.index {
		out[k] = v
	}
	return out
}

// Stats returns a snapshot of the manager's introspection counters.
func (m *Manager) Stats() Stats {
	return Stats{
		BlocksIndexed:      m.blocksIndexed.Load(),
		BytesIndexed:       m.bytesIndexed.Load(),
		ScanSkippedRegions: m.scanSkippedRegions.Load(),
		ScanSkippedBytes:   m.scanSkippedBytes.Load(),
		ChecksumFailures:   m.checksumFailures.Load(),
	}
}

// Path returns the path the manager was opened with.
func (m *Manager) Path() string { return m.path }

// Close flushes and releases the underlying file. Close is idempotent.
func (m *Manager) Close() error {
	if state(m.state.Swap(int32(stateClosed))) == stateClosed {
		return nil
	}

	if !m.readOnly {
		if err := m.f.Sync(); err != nil {
			return fmt.Errorf("sync %s: %w", m.path, err)
		}
	}
	return m.f.Close()
}
