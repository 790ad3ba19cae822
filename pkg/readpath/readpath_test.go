package readpath

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flaneur2020/amberio/pkg/errs"
	"github.com/flaneur2020/amberio/pkg/membership"
	"github.com/flaneur2020/amberio/pkg/metastore"
	"github.com/flaneur2020/amberio/pkg/partstore"
	"github.com/flaneur2020/amberio/pkg/replicarpc"
	"github.com/flaneur2020/amberio/pkg/router"
	"github.com/flaneur2020/amberio/pkg/slotengine"
	"github.com/flaneur2020/amberio/pkg/types"
)

func newSingleNodeReadPath(t *testing.T) (*ReadPath, *slotengine.Engine, router.Route) {
	t.Helper()
	const nodeID = "n1"
	dir := t.TempDir()

	view := types.MembershipView{
		Nodes:             []types.NodeInfo{{ID: nodeID, Addr: "127.0.0.1:0"}},
		SlotCount:         8,
		ReplicationFactor: 1,
	}
	route, err := router.RouteFor("a/b.png", view)
	require.NoError(t, err)

	meta, err := metastore.Open(dir, route.SlotID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	parts := partstore.New(dir, route.SlotID)

	engine, err := slotengine.New(route.SlotID, meta, parts)
	require.NoError(t, err)

	engines := map[types.SlotID]*slotengine.Engine{route.SlotID: engine}
	rp := New(nodeID, membership.New(view), engines, replicarpc.NewPool())
	return rp, engine, route
}

func commitObject(t *testing.T, engine *slotengine.Engine, route router.Route, body []byte, generation uint64) {
	t.Helper()
	ref, err := engine.ApplyPart(route.Path, sha256Of(body), uint64(len(body)), bytes.NewReader(body))
	require.NoError(t, err)

	meta := &types.MetaHead{
		Path:       route.Path,
		SlotID:     route.SlotID,
		Generation: generation,
		Size:       ref.Length,
		ETag:       ref.HexSHA256(),
		Parts:      []types.PartRef{ref},
	}
	contentHash, _, err := types.HashJSON(meta)
	require.NoError(t, err)
	head := types.Head{Kind: types.HeadKindMeta, Meta: meta, ContentHash: contentHash}

	result, err := engine.CommitHead(route.Path, head, []types.PartRef{ref})
	require.NoError(t, err)
	require.True(t, result.Applied)
}

func TestGetReturnsCommittedBody(t *testing.T) {
	rp, engine, route := newSingleNodeReadPath(t)
	commitObject(t, engine, route, []byte("hello world"), 1)

	result, err := rp.Get(context.Background(), "a/b.png")
	require.NoError(t, err)
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, uint64(1), result.Generation)
}

func TestGetMissingPathReturnsNotFound(t *testing.T) {
	rp, _, _ := newSingleNodeReadPath(t)
	_, err := rp.Get(context.Background(), "a/b.png")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGetTombstonedReturnsTombstoned(t *testing.T) {
	rp, engine, route := newSingleNodeReadPath(t)
	ts := &types.Tombstone{Path: route.Path, SlotID: route.SlotID, Generation: 1}
	contentHash, _, err := types.HashJSON(ts)
	require.NoError(t, err)
	head := types.Head{Kind: types.HeadKindTombstone, Tombstone: ts, ContentHash: contentHash}
	_, err = engine.CommitHead(route.Path, head, nil)
	require.NoError(t, err)

	_, err = rp.Get(context.Background(), "a/b.png")
	assert.ErrorIs(t, err, errs.ErrTombstoned)
}

func TestListReturnsOnlyLiveObjectsUnderPrefix(t *testing.T) {
	rp, engine, route := newSingleNodeReadPath(t)
	commitObject(t, engine, route, []byte("v1"), 1)

	summaries, err := rp.List("a/", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, route.Path, summaries[0].Path)
}

func TestListRespectsLimit(t *testing.T) {
	rp, engine, route := newSingleNodeReadPath(t)
	commitObject(t, engine, route, []byte("v1"), 1)

	altRoute := route
	altRoute.Path = route.Path + ".alt"
	commitObject(t, engine, altRoute, []byte("v2"), 1)

	all, err := rp.List("", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	limited, err := rp.List("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func sha256Of(data []byte) [32]byte {
	return sha256.Sum256(data)
}
