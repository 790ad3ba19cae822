package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flaneur2020/amberio/pkg/types"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/a/b.png", "a/b.png", false},
		{"a//b///c", "a/b/c", false},
		{"/", "", true},
		{"", "", true},
		{"a/../b", "", true},
		{"..", "", true},
		{"a/b/", "a/b", false},
	}
	for _, c := range cases {
		got, err := Normalize(c.in)
		if c.wantErr {
			assert.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestSlotForIsStableAndPowerOfTwoMasked(t *testing.T) {
	slot1 := SlotFor("a/b.png", 2048)
	slot2 := SlotFor("a/b.png", 2048)
	assert.Equal(t, slot1, slot2)
	assert.Less(t, uint32(slot1), uint32(2048))
}

func TestSlotForSingleSlotCollapses(t *testing.T) {
	assert.Equal(t, types.SlotID(0), SlotFor("anything", 1))
	assert.Equal(t, types.SlotID(0), SlotFor("anything/else", 1))
}

func TestReplicasForRotatesAndCaps(t *testing.T) {
	view := types.MembershipView{
		Nodes: []types.NodeInfo{
			{ID: "n3", Addr: "h3"},
			{ID: "n1", Addr: "h1"},
			{ID: "n2", Addr: "h2"},
		},
		SlotCount:         8,
		ReplicationFactor: 2,
	}
	replicas := ReplicasFor(view, types.SlotID(0))
	require.Len(t, replicas, 2)
	assert.Equal(t, "n1", replicas[0].ID)
	assert.Equal(t, "n2", replicas[1].ID)
}

func TestReplicasForSingleNode(t *testing.T) {
	view := types.MembershipView{
		Nodes:             []types.NodeInfo{{ID: "solo", Addr: "h"}},
		SlotCount:         8,
		ReplicationFactor: 3,
	}
	replicas := ReplicasFor(view, types.SlotID(5))
	require.Len(t, replicas, 1)
	assert.Equal(t, "solo", replicas[0].ID)
}

func TestRouteForRejectsDotDot(t *testing.T) {
	view := types.MembershipView{
		Nodes:             []types.NodeInfo{{ID: "n1", Addr: "h1"}},
		SlotCount:         8,
		ReplicationFactor: 1,
	}
	_, err := RouteFor("a/../b", view)
	assert.Error(t, err)
}
