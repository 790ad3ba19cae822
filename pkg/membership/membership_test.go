package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flaneur2020/amberio/pkg/types"
)

func TestInstallSwapsSnapshotAtomically(t *testing.T) {
	v1 := types.MembershipView{Nodes: []types.NodeInfo{{ID: "n1", Addr: "h1"}}, SlotCount: 8, ReplicationFactor: 1}
	v2 := types.MembershipView{Nodes: []types.NodeInfo{{ID: "n2", Addr: "h2"}}, SlotCount: 8, ReplicationFactor: 1}

	view := New(v1)
	assert.Equal(t, v1, view.Current())

	view.Install(v2)
	assert.Equal(t, v2, view.Current())
}

func TestLocalOwnsSlot(t *testing.T) {
	view := New(types.MembershipView{
		Nodes:             []types.NodeInfo{{ID: "n1"}, {ID: "n2"}, {ID: "n3"}},
		SlotCount:         8,
		ReplicationFactor: 2,
	})
	assert.True(t, view.LocalOwnsSlot("n1", 0) || view.LocalOwnsSlot("n2", 0) || view.LocalOwnsSlot("n3", 0))
}
