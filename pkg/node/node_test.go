package node

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flaneur2020/amberio/pkg/types"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	dir := t.TempDir()

	view := types.MembershipView{
		Nodes:             []types.NodeInfo{{ID: "n1", Addr: "127.0.0.1:0"}},
		SlotCount:         8,
		ReplicationFactor: 1,
	}
	tunables := types.DefaultConfig()
	tunables.MinWriteReplicas = 1

	n, err := New("n1", dir, "127.0.0.1:0", view, tunables)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Stop() })
	return n
}

func TestNewOpensOwnedSlotsAndWiresComponents(t *testing.T) {
	n := newTestNode(t)
	assert.NotEmpty(t, n.engines)
	assert.NotNil(t, n.Coordinator)
	assert.NotNil(t, n.ReadPath)
}

func TestNodePutThenGetRoundTrips(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	result, err := n.Coordinator.Put(ctx, "a/b.png", NewWriteID(), bytes.NewReader([]byte("hello")), 1<<20)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Generation)

	got, err := n.ReadPath.Get(ctx, "a/b.png")
	require.NoError(t, err)
	defer got.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(got.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", buf.String())
}
