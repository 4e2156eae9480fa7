package commands

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archivemail/blockstore/pkg/block"
	"github.com/archivemail/blockstore/pkg/blockstore"
)

func writeFixtureArchive(t *testing.T, path string) {
	t.Helper()

	mgr, err := blockstore.Open(path, true)
	require.NoError(t, err)

	for i, payload := range [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")} {
		_, err := mgr.WriteBlock(&block.Block{
			Version:         block.FormatVersion1,
			Kind:            block.KindSegment,
			PayloadEncoding: block.EncodingRawBytes,
			Timestamp:       int64(1000 + i),
			BlockID:         int64(i + 1),
			Payload:         payload,
		})
		require.NoError(t, err)
	}
	require.NoError(t, mgr.Close())
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// Flag variables are package-level and keep their values between
	// Execute calls; reset the ones that change a later command's path.
	inspectShowStats = false
	compactDryRun = false

	buf := &bytes.Buffer{}
	cmd := GetRootCmd()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestInspectListsFixtureBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.blk")
	writeFixtureArchive(t, path)

	_, err := runRoot(t, "inspect", path, "-o", "json")
	require.NoError(t, err)
}

func TestInspectStatsFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.blk")
	writeFixtureArchive(t, path)

	_, err := runRoot(t, "inspect", path, "--stats")
	require.NoError(t, err)
}

func TestVerifyEmptyChainSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.blk")
	writeFixtureArchive(t, path)

	_, err := runRoot(t, "verify", path)
	require.NoError(t, err)
}

func TestCheckpointCreateAndHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.blk")
	writeFixtureArchive(t, path)

	_, err := runRoot(t, "checkpoint", "create", path, "1", "--copy")
	require.NoError(t, err)

	_, err = runRoot(t, "checkpoint", "history", path, "1")
	require.NoError(t, err)
}

func TestCompactDryRunReportsKindCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.blk")
	writeFixtureArchive(t, path)

	_, err := runRoot(t, "compact", "--dry-run", path, path)
	require.NoError(t, err)
}

func TestCompactProducesNewArchive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "archive.blk")
	dst := filepath.Join(dir, "compacted.blk")
	writeFixtureArchive(t, src)

	_, err := runRoot(t, "compact", src, dst)
	require.NoError(t, err)

	mgr, err := blockstore.OpenReadOnly(dst)
	require.NoError(t, err)
	defer mgr.Close()
	require.Len(t, mgr.GetBlockLocations(), 3)
}

func TestVersionCommandShort(t *testing.T) {
	out, err := runRoot(t, "version", "--short")
	require.NoError(t, err)
	require.Contains(t, out, "")
}

func TestMetricsFlagEmitsPrometheusOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.blk")
	writeFixtureArchive(t, path)

	out, err := runRoot(t, "--metrics", "inspect", path)
	require.NoError(t, err)
	require.Contains(t, out, "blockstore_bytes_read_total")
}
