// Package membership holds the process-wide MembershipView snapshot.
// A topology change installs a whole new snapshot atomically; nothing
// ever mutates a live view's fields in place.
package membership

import (
	"sync/atomic"

	"github.com/flaneur2020/amberio/pkg/router"
	"github.com/flaneur2020/amberio/pkg/types"
)

// View is an atomically swappable holder for the current
// MembershipView, shared by every component that needs to route or
// resolve replicas.
type View struct {
	v atomic.Value
}

// New returns a View initialized to initial.
func New(initial types.MembershipView) *View {
	v := &View{}
	v.v.Store(initial)
	return v
}

// Current returns the currently installed snapshot.
func (v *View) Current() types.MembershipView {
	return v.v.Load().(types.MembershipView)
}

// Install atomically swaps in a new snapshot. Callers are expected to
// have drained operations that depend on the old topology first; this
// call itself is just the atomic publish.
func (v *View) Install(next types.MembershipView) {
	v.v.Store(next)
}

// LocalOwnsSlot reports whether nodeID appears in the replica set for
// slotID under the current view.
func (v *View) LocalOwnsSlot(nodeID string, slotID types.SlotID) bool {
	for _, n := range router.ReplicasFor(v.Current(), slotID) {
		if n.ID == nodeID {
			return true
		}
	}
	return false
}
