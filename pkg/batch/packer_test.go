package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archivemail/blockstore/pkg/block"
	"github.com/archivemail/blockstore/pkg/blockerr"
	"github.com/archivemail/blockstore/pkg/codec"
)

func TestPackerSizePolicyFlushesAtThreshold(t *testing.T) {
	p := New(Config{Policy: PolicySize, TargetSize: 20})

	require.False(t, p.Add(Entry{EntryID: 1, Data: []byte("0123456789")}))
	flush := p.Add(Entry{EntryID: 2, Data: []byte("0123456789")})
	require.True(t, flush)

	blk, err := p.Flush(block.KindEmailBatch, 1000, 42)
	require.NoError(t, err)
	require.Equal(t, block.KindEmailBatch, blk.Kind)
	require.True(t, blk.Flags.Has(block.FlagBatch))
	require.Equal(t, block.EncodingRawBytes, blk.PayloadEncoding)

	entries, err := Unpack(blk, blk.Payload)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(1), entries[0].EntryID)
	require.Equal(t, []byte("0123456789"), entries[0].Data)
	require.Equal(t, int64(2), entries[1].EntryID)
}

func TestPackerOverflowingEntryTriggersFlushBeforeAdding(t *testing.T) {
	p := New(Config{Policy: PolicySize, TargetSize: 10})

	require.False(t, p.Add(Entry{EntryID: 1, Data: []byte("12345")}))
	// This entry alone would push pendingSize past TargetSize; Add should
	// signal a flush is needed before it can be accepted.
	shouldFlush := p.Add(Entry{EntryID: 2, Data: []byte("123456789012")})
	require.True(t, shouldFlush)

	pending, size := p.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, 5, size)
}

func TestPackerTimePolicyFlushesAfterWindow(t *testing.T) {
	p := New(Config{Policy: PolicyTime, MaxWindow: 10 * time.Millisecond})

	require.False(t, p.Add(Entry{EntryID: 1, Data: []byte("x")}))
	time.Sleep(15 * time.Millisecond)

	shouldFlush := p.Add(Entry{EntryID: 2, Data: []byte("y")})
	require.True(t, shouldFlush)
}

func TestPackerHybridPolicyFlushesOnEitherCondition(t *testing.T) {
	p := New(Config{Policy: PolicyHybrid, TargetSize: 1 << 20, MaxWindow: 10 * time.Millisecond})

	require.False(t, p.Add(Entry{EntryID: 1, Data: []byte("x")}))
	time.Sleep(15 * time.Millisecond)
	require.True(t, p.Add(Entry{EntryID: 2, Data: []byte("y")}))
}

func TestChooseAdaptiveTargetScalesWithPayloadSize(t *testing.T) {
	require.Equal(t, 512*1024, ChooseAdaptiveTarget([]int{100, 200, 300}))
	require.Equal(t, 1024*1024, ChooseAdaptiveTarget([]int{8 * 1024, 10 * 1024}))
	require.Equal(t, 2*1024*1024, ChooseAdaptiveTarget([]int{100 * 1024}))
	require.Equal(t, 512*1024, ChooseAdaptiveTarget(nil))
}

func TestPackerSmartBatchIncludesMetadataHeader(t *testing.T) {
	p := New(Config{Policy: PolicySize, TargetSize: 1 << 20, SmartBatch: true})

	p.Add(Entry{EntryID: 1, Timestamp: 10, Data: []byte("alpha")})
	p.Add(Entry{EntryID: 2, Timestamp: 20, Data: []byte("beta")})

	blk, err := p.Flush(block.KindEmailBatch, 1, 99)
	require.NoError(t, err)
	require.True(t, blk.Flags.Has(block.FlagSmartBatch))

	entries, err := Unpack(blk, blk.Payload)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []byte("alpha"), entries[0].Data)
	require.Equal(t, []byte("beta"), entries[1].Data)
}

func TestPackerCompressedBatchRoundTrips(t *testing.T) {
	compressor, err := codec.NewCompressor(block.EncodingZstd)
	require.NoError(t, err)

	p := New(Config{Policy: PolicySize, TargetSize: 1 << 20, Compressor: compressor})

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 17)
	}
	p.Add(Entry{EntryID: 1, Data: payload})

	blk, err := p.Flush(block.KindEmailBatch, 1, 7)
	require.NoError(t, err)
	require.True(t, blk.Flags.Has(block.FlagCompressedBatch))
	require.Equal(t, block.EncodingZstd, blk.PayloadEncoding)

	raw, err := compressor.Decompress(blk.Payload)
	require.NoError(t, err)

	entries, err := Unpack(blk, raw)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, payload, entries[0].Data)
}

func TestFlushWithNoPendingEntriesErrors(t *testing.T) {
	p := New(Config{Policy: PolicySize, TargetSize: 10})
	_, err := p.Flush(block.KindEmailBatch, 1, 0)
	require.Error(t, err)
}

func TestUnpackDetectsCorruptedEntry(t *testing.T) {
	p := New(Config{Policy: PolicySize, TargetSize: 1 << 20})
	p.Add(Entry{EntryID: 1, Data: []byte("0123456789")})

	blk, err := p.Flush(block.KindEmailBatch, 1, 1)
	require.NoError(t, err)

	corrupted := make([]byte, len(blk.Payload))
	copy(corrupted, blk.Payload)
	// The entry bytes start right after the 4-byte count and each
	// entry's 8-byte id + 4-byte length header.
	corrupted[4+8+4] ^= 0xFF

	_, err = Unpack(blk, corrupted)
	require.ErrorIs(t, err, blockerr.ErrIntegrity)
}

func TestEncodeDecodeBatchBlockThroughCodec(t *testing.T) {
	p := New(Config{Policy: PolicySize, TargetSize: 1 << 20})
	p.Add(Entry{EntryID: 5, Data: []byte("payload-five")})

	blk, err := p.Flush(block.KindEmailBatch, 77, 1)
	require.NoError(t, err)

	encoded, err := block.Encode(blk)
	require.NoError(t, err)

	decoded, err := block.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, blk.Payload, decoded.Payload)

	entries, err := Unpack(decoded, decoded.Payload)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(5), entries[0].EntryID)
}
