package kvsegment

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archivemail/blockstore/pkg/blockstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.blk")
	mgr, err := blockstore.Open(path, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return New(mgr)
}

func TestPutGetSegmentRoundTrip(t *testing.T) {
	s := newTestStore(t)

	payload := []byte("zonetree kv segment bytes")
	require.NoError(t, s.PutSegment(KindKV, 1, payload))

	got, err := s.GetSegment(KindKV, 1)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestGetSegmentRejectsKindMismatch(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutSegment(KindKV, 1, []byte("kv")))
	_, err := s.GetSegment(KindVector, 1)
	require.Error(t, err)
}

func TestListSegmentsFiltersByKind(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutSegment(KindKV, 1, []byte("a")))
	require.NoError(t, s.PutSegment(KindKV, 2, []byte("b")))
	require.NoError(t, s.PutSegment(KindVector, 3, []byte("c")))

	kvIDs := s.ListSegments(KindKV)
	require.ElementsMatch(t, []int64{1, 2}, kvIDs)

	vecIDs := s.ListSegments(KindVector)
	require.ElementsMatch(t, []int64{3}, vecIDs)
}

func TestGetSegmentNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSegment(KindKV, 999)
	require.Error(t, err)
}
