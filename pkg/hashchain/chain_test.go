package hashchain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/archivemail/blockstore/pkg/block"
	"github.com/archivemail/blockstore/pkg/blockstore"
	"github.com/stretchr/testify/require"
)

func newChainManager(t *testing.T) (*blockstore.Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.blk")
	m, err := blockstore.Open(path, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, path
}

func writeAndChain(t *testing.T, mgr *blockstore.Manager, chain *Chain, id int64, payload string) {
	t.Helper()
	blk := &block.Block{
		Version:         block.FormatVersion1,
		Kind:            block.KindMetadata,
		PayloadEncoding: block.EncodingRawBytes,
		Timestamp:       int64(id),
		BlockID:         id,
		Payload:         []byte(payload),
	}
	_, err := mgr.WriteBlock(blk)
	require.NoError(t, err)
	_, err = chain.Add(blk)
	require.NoError(t, err)
}

// S5: flipping a byte inside a chained block invalidates it and every
// subsequent entry.
func TestVerifyEntireChainDetectsTamper(t *testing.T) {
	mgr, path := newChainManager(t)
	chain := New(mgr)

	writeAndChain(t, mgr, chain, 100, "alpha")
	writeAndChain(t, mgr, chain, 101, "beta")
	writeAndChain(t, mgr, chain, 102, "gamma")

	report, err := chain.VerifyEntireChain()
	require.NoError(t, err)
	require.Equal(t, 3, report.TotalBlocks)
	require.Equal(t, 3, report.ValidBlocks)
	require.NotNil(t, report.ChainIntegrity)
	require.True(t, *report.ChainIntegrity)

	require.NoError(t, mgr.Close())

	locs := mgr.GetBlockLocations()
	loc := locs[100]
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xAB}, loc.Offset+41)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	mgr2, err := blockstore.Open(path, false)
	require.NoError(t, err)
	defer mgr2.Close()

	chain2, err := Load(mgr2)
	require.NoError(t, err)

	report2, err := chain2.VerifyEntireChain()
	require.NoError(t, err)
	require.Equal(t, 3, report2.TotalBlocks)
	require.Equal(t, 0, report2.ValidBlocks)
	require.False(t, *report2.ChainIntegrity)
}

func TestVerifyBlockIndividually(t *testing.T) {
	mgr, _ := newChainManager(t)
	chain := New(mgr)

	writeAndChain(t, mgr, chain, 1, "one")
	writeAndChain(t, mgr, chain, 2, "two")

	report, err := chain.VerifyBlock(1)
	require.NoError(t, err)
	require.True(t, report.Valid)

	report2, err := chain.VerifyBlock(2)
	require.NoError(t, err)
	require.True(t, report2.Valid)
}

func TestExistenceProofIncludesMerkleRoot(t *testing.T) {
	mgr, _ := newChainManager(t)
	chain := New(mgr)

	writeAndChain(t, mgr, chain, 1, "one")
	writeAndChain(t, mgr, chain, 2, "two")

	proof, err := chain.GenerateExistenceProof(1)
	require.NoError(t, err)
	require.NotEmpty(t, proof.MerkleRoot)
	require.Equal(t, int64(1), proof.BlockID)
}

func TestEmptyChainIntegrityUnknown(t *testing.T) {
	mgr, _ := newChainManager(t)
	chain := New(mgr)

	report, err := chain.VerifyEntireChain()
	require.NoError(t, err)
	require.Nil(t, report.ChainIntegrity)
}

func TestLoadReconstructsChainAcrossReopen(t *testing.T) {
	mgr, path := newChainManager(t)
	chain := New(mgr)
	writeAndChain(t, mgr, chain, 1, "one")
	writeAndChain(t, mgr, chain, 2, "two")
	require.NoError(t, mgr.Close())

	mgr2, err := blockstore.Open(path, false)
	require.NoError(t, err)
	defer mgr2.Close()

	chain2, err := Load(mgr2)
	require.NoError(t, err)
	require.Equal(t, 2, chain2.Len())

	report, err := chain2.VerifyEntireChain()
	require.NoError(t, err)
	require.True(t, *report.ChainIntegrity)
}
