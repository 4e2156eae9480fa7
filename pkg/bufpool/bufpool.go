// Package bufpool provides a tiered sync.Pool-backed buffer pool for the
// read path of pkg/blockstore.
//
// Reading a block means sizing a buffer to the record's declared total
// length, reading into it, decoding it, and discarding it — a pattern
// repeated once per block during a scan, a hash-chain walk, or
// compaction. Pooling those buffers by size class avoids re-allocating
// on every read without requiring callers to reason about buffer
// lifetimes: pkg/block.Decode always copies the payload bytes it returns
// out of the input buffer, so the buffer may be returned to the pool the
// moment Decode returns, regardless of whether decoding succeeded.
package bufpool

import "sync"

// Size classes. Most records in an email archive are small (headers,
// folder entries, checkpoints); the large tier exists for batched
// payloads and segment blocks.
const (
	DefaultSmallSize  = 4 << 10   // 4KB
	DefaultMediumSize = 64 << 10  // 64KB
	DefaultLargeSize  = 1 << 20   // 1MB
)

// Pool manages byte-slice pools organized by size class, falling back to
// a direct allocation (not pooled) for requests above the large tier.
type Pool struct {
	small      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	smallSize  int
	mediumSize int
	largeSize  int
}

// Config overrides a Pool's size-class thresholds.
type Config struct {
	SmallSize  int
	MediumSize int
	LargeSize  int
}

// DefaultConfig returns the default size-class thresholds.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

// NewPool creates a buffer pool. A nil cfg (or zero-valued fields within
// it) uses the defaults.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		d := DefaultConfig()
		cfg = &d
	}
	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.MediumSize <= 0 {
		cfg.MediumSize = DefaultMediumSize
	}
	if cfg.LargeSize <= 0 {
		cfg.LargeSize = DefaultLargeSize
	}

	p := &Pool{
		smallSize:  cfg.SmallSize,
		mediumSize: cfg.MediumSize,
		largeSize:  cfg.LargeSize,
	}
	p.small = sync.Pool{New: func() any { buf := make([]byte, p.smallSize); return &buf }}
	p.medium = sync.Pool{New: func() any { buf := make([]byte, p.mediumSize); return &buf }}
	p.large = sync.Pool{New: func() any { buf := make([]byte, p.largeSize); return &buf }}
	return p
}

// Get returns a byte slice of length size, backed by a pooled buffer of
// at least that capacity. Sizes above the large tier are allocated
// directly and are not pooled. The caller must call Put when done with
// the buffer.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte
	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}
	buf := *bufPtr
	return buf[:size]
}

// Put returns buf to the pool. Buffers whose capacity does not match one
// of the pool's size classes (including oversized buffers from Get) are
// left for the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	switch cap(buf) {
	case p.smallSize:
		full := buf[:cap(buf)]
		p.small.Put(&full)
	case p.mediumSize:
		full := buf[:cap(buf)]
		p.medium.Put(&full)
	case p.largeSize:
		full := buf[:cap(buf)]
		p.large.Put(&full)
	}
}

// globalPool backs the package-level Get/Put convenience functions used
// by pkg/blockstore.
var globalPool = NewPool(nil)

// Get returns a byte slice of length size from the global pool.
func Get(size int) []byte { return globalPool.Get(size) }

// Put returns buf to the global pool.
func Put(buf []byte) { globalPool.Put(buf) }
