// Package router normalizes object paths, routes them to a slot, and
// resolves the ordered replica list for that slot from a membership
// snapshot.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/flaneur2020/amberio/pkg/errs"
	"github.com/flaneur2020/amberio/pkg/types"
)

// Route is the result of normalizing and routing a path.
type Route struct {
	Path     string
	SlotID   types.SlotID
	Replicas []types.NodeInfo
}

// Normalize strips a leading slash, collapses consecutive slashes, and
// rejects any ".." segment. It does not apply NFC normalization itself
// since Go source/identifiers already assume UTF-8 input; callers that
// need NFC can pass the result through golang.org/x/text/unicode/norm.
func Normalize(path string) (string, error) {
	p := strings.TrimPrefix(path, "/")
	if p == "" {
		return "", fmt.Errorf("router: empty path: %w", errs.ErrInvalidPath)
	}

	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue // collapse consecutive slashes
		}
		if seg == ".." {
			return "", fmt.Errorf("router: %q rejected: %w", path, errs.ErrInvalidPath)
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("router: empty path after normalization: %w", errs.ErrInvalidPath)
	}
	return strings.Join(out, "/"), nil
}

// Hash64 is the stable, seeded 64-bit hash used cluster-wide for both
// slot routing and anti-entropy bucket digests.
func Hash64(s string) uint64 {
	return xxhash.Sum64String(s)
}

// SlotFor returns the slot a normalized path routes to for a given
// slot count. slotCount must be a power of two.
func SlotFor(normalizedPath string, slotCount int) types.SlotID {
	return types.SlotID(Hash64(normalizedPath) & uint64(slotCount-1))
}

// ReplicasFor resolves the ordered replica list owning slotID under
// view: nodes sorted by id, rotated by slot_id mod N, first
// min(replicationFactor, N) taken. The first entry is the canonical
// primary but carries no exclusive authority.
func ReplicasFor(view types.MembershipView, slotID types.SlotID) []types.NodeInfo {
	n := len(view.Nodes)
	if n == 0 {
		return nil
	}
	sorted := make([]types.NodeInfo, n)
	copy(sorted, view.Nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	rf := view.ReplicationFactor
	if rf <= 0 || rf > n {
		rf = n
	}

	rotate := int(uint64(slotID) % uint64(n))
	out := make([]types.NodeInfo, 0, rf)
	for i := 0; i < rf; i++ {
		out = append(out, sorted[(rotate+i)%n])
	}
	return out
}

// RouteFor normalizes path, computes its slot, and resolves replicas from
// view in one call.
func RouteFor(path string, view types.MembershipView) (Route, error) {
	normalized, err := Normalize(path)
	if err != nil {
		return Route{}, err
	}
	slotCount := view.SlotCount
	if slotCount <= 0 {
		slotCount = types.DefaultSlotCount
	}
	slotID := SlotFor(normalized, slotCount)
	replicas := ReplicasFor(view, slotID)
	return Route{Path: normalized, SlotID: slotID, Replicas: replicas}, nil
}
