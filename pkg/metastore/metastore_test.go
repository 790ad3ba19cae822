package metastore

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flaneur2020/amberio/pkg/types"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertMetaThenHeadOf(t *testing.T) {
	s := openTest(t)
	meta := &types.MetaHead{Path: "a/b.png", Generation: 1, Size: 8, ETag: "etag1"}
	require.NoError(t, s.UpsertMeta("a/b.png", meta))

	head, ok, err := s.HeadOf("a/b.png")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.HeadKindMeta, head.Kind)
	assert.Equal(t, uint64(1), head.Generation())
}

func TestHeadOfMissingPath(t *testing.T) {
	s := openTest(t)
	_, ok, err := s.HeadOf("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTombstoneBeatsEqualGenerationMeta(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.UpsertMeta("k", &types.MetaHead{Path: "k", Generation: 1}))

	ts := &types.Tombstone{Path: "k", Generation: 1, DeletedAt: time.Now()}
	require.NoError(t, s.InsertTombstone("k", sha256.Sum256([]byte("tombstone-1")), ts))

	head, ok, err := s.HeadOf("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.HeadKindTombstone, head.Kind)
}

func TestHigherGenerationWinsRegardlessOfKind(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.UpsertMeta("k", &types.MetaHead{Path: "k", Generation: 2}))
	ts := &types.Tombstone{Path: "k", Generation: 1, DeletedAt: time.Now()}
	require.NoError(t, s.InsertTombstone("k", sha256.Sum256([]byte("t")), ts))

	head, ok, err := s.HeadOf("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.HeadKindMeta, head.Kind)
	assert.Equal(t, uint64(2), head.Generation())
}

func TestScanSlotHeadsCoversMetaAndTombstonePaths(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.UpsertMeta("a", &types.MetaHead{Path: "a", Generation: 1}))
	require.NoError(t, s.InsertTombstone("b", sha256.Sum256([]byte("b")), &types.Tombstone{Path: "b", Generation: 1, DeletedAt: time.Now()}))

	heads, err := s.ScanSlotHeads()
	require.NoError(t, err)
	require.Len(t, heads, 2)
	assert.Equal(t, "a", heads[0].Path)
	assert.Equal(t, "b", heads[1].Path)
}

func TestListPartsForHead(t *testing.T) {
	s := openTest(t)
	ref := types.PartRef{Length: 10}
	require.NoError(t, s.UpsertMeta("a", &types.MetaHead{Path: "a", Generation: 1, Parts: []types.PartRef{ref}}))

	parts, err := s.ListPartsForHead("a")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, ref, parts[0])
}

func TestVacuumTombstonesRemovesExpired(t *testing.T) {
	s := openTest(t)
	old := &types.Tombstone{Path: "a", Generation: 1, DeletedAt: time.Now().Add(-10 * 24 * time.Hour)}
	require.NoError(t, s.InsertTombstone("a", sha256.Sum256([]byte("old")), old))

	removed, err := s.VacuumTombstones(time.Now(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, err := s.HeadOf("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyRoundTrip(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.PutIdempotency("x", "w1", 1, "etag1", time.Now().Add(time.Hour)))

	gen, etag, ok, err := s.LookupIdempotency("x", "w1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), gen)
	assert.Equal(t, "etag1", etag)
}

func TestIdempotencyExpires(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.PutIdempotency("x", "w1", 1, "etag1", time.Now().Add(-time.Minute)))

	_, _, ok, err := s.LookupIdempotency("x", "w1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := s.ExpireIdempotency(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
