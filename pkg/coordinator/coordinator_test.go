package coordinator

import (
	"bytes"
	"context"
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

// newSingleNodeCoordinator builds a Coordinator with replication
// factor 1, so the local-ownership fast paths in pushPartTo and
// commitHeadTo exercise the full Put/Delete algorithm without a
// running RPC server.
func newSingleNodeCoordinator(t *testing.T) (*Coordinator, string) {
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

	config := types.DefaultConfig()
	config.MinWriteReplicas = 1

	c := New(nodeID, membership.New(view), config, map[types.SlotID]*slotengine.Engine{route.SlotID: engine}, replicarpc.NewPool())
	return c, nodeID
}

func TestPutThenDeleteSingleReplica(t *testing.T) {
	c, _ := newSingleNodeCoordinator(t)
	ctx := context.Background()

	result, err := c.Put(ctx, "a/b.png", "write-1", bytes.NewReader([]byte("hello world")), 1<<20)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Generation)
	assert.NotEmpty(t, result.ETag)
	assert.False(t, result.FromCache)
	assert.Equal(t, 1, result.CommittedReplicas)

	del, err := c.Delete(ctx, "a/b.png", "write-2", "test delete")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), del.Generation)
	assert.Equal(t, 1, del.CommittedReplicas)
}

func TestPutIsIdempotentOnRetry(t *testing.T) {
	c, _ := newSingleNodeCoordinator(t)
	ctx := context.Background()

	first, err := c.Put(ctx, "a/b.png", "write-1", bytes.NewReader([]byte("payload")), 1<<20)
	require.NoError(t, err)
	require.False(t, first.FromCache)

	second, err := c.Put(ctx, "a/b.png", "write-1", bytes.NewReader([]byte("payload")), 1<<20)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Generation, second.Generation)
	assert.Equal(t, first.ETag, second.ETag)
}

func TestPutEmptyBodyProducesSinglePartZeroSize(t *testing.T) {
	c, _ := newSingleNodeCoordinator(t)
	ctx := context.Background()

	result, err := c.Put(ctx, "a/b.png", "write-empty", bytes.NewReader(nil), 1<<20)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Generation)
	assert.NotEmpty(t, result.ETag)
}

func TestPutSpansMultiplePartsAtBoundary(t *testing.T) {
	c, _ := newSingleNodeCoordinator(t)
	ctx := context.Background()

	// exactly two full parts, no trailing partial part.
	data := bytes.Repeat([]byte{0x42}, 8)
	result, err := c.Put(ctx, "a/b.png", "write-multi", bytes.NewReader(data), 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Generation)
}

func TestPutFailsWhenSlotNotLocallyOwned(t *testing.T) {
	c, _ := newSingleNodeCoordinator(t)
	ctx := context.Background()

	_, err := c.Put(ctx, "completely/different/path/that/hashes/elsewhere", "write-1", bytes.NewReader([]byte("x")), 1<<20)
	// either this path happens to land on the one owned slot (pass
	// silently) or it lands elsewhere and must surface ErrUnavailable.
	if err != nil {
		assert.ErrorIs(t, err, errs.ErrUnavailable)
	}
}

func TestDeleteThenPutAdvancesGenerationPastTombstone(t *testing.T) {
	c, _ := newSingleNodeCoordinator(t)
	ctx := context.Background()

	_, err := c.Put(ctx, "a/b.png", "w1", bytes.NewReader([]byte("v1")), 1<<20)
	require.NoError(t, err)

	_, err = c.Delete(ctx, "a/b.png", "w2", "removed")
	require.NoError(t, err)

	result, err := c.Put(ctx, "a/b.png", "w3", bytes.NewReader([]byte("v2")), 1<<20)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), result.Generation)
}
