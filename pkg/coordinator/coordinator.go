// Package coordinator drives PUT and DELETE: fanout to replicas,
// quorum wait, and the local idempotency cache. A Coordinator never
// assumes it is the primary for a path — any replica of a slot may
// serve as ingress for that slot.
package coordinator

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flaneur2020/amberio/pkg/errs"
	"github.com/flaneur2020/amberio/pkg/log"
	"github.com/flaneur2020/amberio/pkg/membership"
	"github.com/flaneur2020/amberio/pkg/metrics"
	"github.com/flaneur2020/amberio/pkg/partstore"
	"github.com/flaneur2020/amberio/pkg/replicarpc"
	"github.com/flaneur2020/amberio/pkg/router"
	"github.com/flaneur2020/amberio/pkg/slotengine"
	"github.com/flaneur2020/amberio/pkg/types"
)

// PutResult is returned on a successful PUT.
type PutResult struct {
	Generation        uint64
	ETag              string
	FromCache         bool
	CommittedReplicas int
}

// DeleteResult is returned on a successful DELETE. CommittedReplicas
// is computed and retained even though the current external HTTP
// surface does not expose it (see Open Questions in SPEC_FULL.md).
type DeleteResult struct {
	Generation        uint64
	CommittedReplicas int
}

// Coordinator orchestrates PUT/DELETE for the slots the local node
// replicates. It requires the local node to be one of the slot's
// replicas to act as ingress for a path — consistent with ReadPath's
// "prefer local replica" rule and the read-your-latest-write
// guarantee both rely on.
type Coordinator struct {
	nodeID  string
	view    *membership.View
	config  types.Config
	engines map[types.SlotID]*slotengine.Engine
	pool    *replicarpc.Pool
	logger  zerolog.Logger
}

// New constructs a Coordinator for nodeID, given the slot engines it
// locally owns.
func New(nodeID string, view *membership.View, config types.Config, engines map[types.SlotID]*slotengine.Engine, pool *replicarpc.Pool) *Coordinator {
	return &Coordinator{
		nodeID:  nodeID,
		view:    view,
		config:  config,
		engines: engines,
		pool:    pool,
		logger:  log.WithComponent("coordinator"),
	}
}

func (c *Coordinator) localEngine(slot types.SlotID) *slotengine.Engine {
	return c.engines[slot]
}

// Put stages body's content into parts, determines the next
// generation, and fans PushPart/CommitHead out to every replica,
// returning success once W replicas have applied (or already had an
// equal-or-greater generation for) the resulting meta head.
func (c *Coordinator) Put(ctx context.Context, path, writeID string, body io.Reader, partSize int64) (PutResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RequestDuration, "put")

	route, err := router.RouteFor(path, c.view.Current())
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("put", "error").Inc()
		return PutResult{}, err
	}
	if len(route.Replicas) == 0 {
		metrics.RequestsTotal.WithLabelValues("put", "error").Inc()
		return PutResult{}, fmt.Errorf("coordinator: no replicas for slot %d: %w", route.SlotID, errs.ErrUnavailable)
	}

	local := c.localEngine(route.SlotID)
	if local == nil {
		metrics.RequestsTotal.WithLabelValues("put", "error").Inc()
		return PutResult{}, fmt.Errorf("coordinator: node %s does not replicate slot %d: %w", c.nodeID, route.SlotID, errs.ErrUnavailable)
	}

	if gen, etag, ok, err := local.LookupWrite(route.Path, writeID); err != nil {
		metrics.RequestsTotal.WithLabelValues("put", "error").Inc()
		return PutResult{}, err
	} else if ok {
		metrics.IdempotencyCacheHitsTotal.Inc()
		metrics.RequestsTotal.WithLabelValues("put", "from_cache").Inc()
		return PutResult{Generation: gen, ETag: etag, FromCache: true}, nil
	}
	metrics.IdempotencyCacheMissesTotal.Inc()

	if partSize <= 0 {
		partSize = c.config.PartSize
	}
	parts, size, err := splitAndStage(local.PartStore(), route.Path, body, partSize)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("put", "error").Inc()
		return PutResult{}, err
	}
	etag := etagOf(parts)

	nextGen, err := c.determineNextGeneration(ctx, route, local)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("put", "error").Inc()
		return PutResult{}, err
	}

	w := c.config.WriteQuorum(len(route.Replicas))

	if err := c.fanoutPushParts(ctx, route, local, parts, w); err != nil {
		metrics.QuorumFailuresTotal.WithLabelValues("put").Inc()
		metrics.RequestsTotal.WithLabelValues("put", "quorum_failed").Inc()
		return PutResult{}, err
	}

	meta := &types.MetaHead{
		Path:       route.Path,
		SlotID:     route.SlotID,
		Generation: nextGen,
		Size:       size,
		ETag:       etag,
		Parts:      parts,
		UpdatedAt:  time.Now(),
		WriteID:    writeID,
	}
	contentHash, _, err := types.HashJSON(meta)
	if err != nil {
		return PutResult{}, fmt.Errorf("coordinator: hash meta head: %w", err)
	}
	head := types.Head{Kind: types.HeadKindMeta, Meta: meta, ContentHash: contentHash}

	acked, err := c.fanoutCommitHead(ctx, route, local, head, parts)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("put", "error").Inc()
		return PutResult{}, err
	}
	if acked < w {
		metrics.ConflictsTotal.Inc()
		metrics.RequestsTotal.WithLabelValues("put", "conflict").Inc()
		return PutResult{}, fmt.Errorf("coordinator: only %d/%d replicas applied gen %d for %s: %w", acked, w, nextGen, route.Path, errs.ErrConflict)
	}

	if err := local.RecordWrite(route.Path, writeID, nextGen, etag, c.config.IdempotencyTTL); err != nil {
		return PutResult{}, err
	}

	metrics.RequestsTotal.WithLabelValues("put", "success").Inc()
	c.logger.Info().Str("path", route.Path).Uint64("generation", nextGen).Int("committed_replicas", acked).Msg("put committed")
	return PutResult{Generation: nextGen, ETag: etag, CommittedReplicas: acked}, nil
}

// Delete appends a tombstone. Unlike Put, the idempotency cache is
// not written: generation monotonicity already makes repeated
// deletes safe to retry.
func (c *Coordinator) Delete(ctx context.Context, path, writeID, reason string) (DeleteResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RequestDuration, "delete")

	route, err := router.RouteFor(path, c.view.Current())
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("delete", "error").Inc()
		return DeleteResult{}, err
	}
	if len(route.Replicas) == 0 {
		metrics.RequestsTotal.WithLabelValues("delete", "error").Inc()
		return DeleteResult{}, fmt.Errorf("coordinator: no replicas for slot %d: %w", route.SlotID, errs.ErrUnavailable)
	}

	local := c.localEngine(route.SlotID)
	if local == nil {
		metrics.RequestsTotal.WithLabelValues("delete", "error").Inc()
		return DeleteResult{}, fmt.Errorf("coordinator: node %s does not replicate slot %d: %w", c.nodeID, route.SlotID, errs.ErrUnavailable)
	}

	nextGen, err := c.determineNextGeneration(ctx, route, local)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("delete", "error").Inc()
		return DeleteResult{}, err
	}

	ts := &types.Tombstone{
		Path:       route.Path,
		SlotID:     route.SlotID,
		Generation: nextGen,
		DeletedAt:  time.Now(),
		Reason:     reason,
		WriteID:    writeID,
	}
	contentHash, _, err := types.HashJSON(ts)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("coordinator: hash tombstone: %w", err)
	}
	head := types.Head{Kind: types.HeadKindTombstone, Tombstone: ts, ContentHash: contentHash}

	w := c.config.WriteQuorum(len(route.Replicas))
	acked, err := c.fanoutCommitHead(ctx, route, local, head, nil)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("delete", "error").Inc()
		return DeleteResult{}, err
	}
	if acked < w {
		metrics.ConflictsTotal.Inc()
		metrics.RequestsTotal.WithLabelValues("delete", "conflict").Inc()
		return DeleteResult{}, fmt.Errorf("coordinator: only %d/%d replicas applied tombstone gen %d for %s: %w", acked, w, nextGen, route.Path, errs.ErrConflict)
	}

	metrics.RequestsTotal.WithLabelValues("delete", "success").Inc()
	c.logger.Info().Str("path", route.Path).Uint64("generation", nextGen).Int("committed_replicas", acked).Msg("tombstone committed")
	return DeleteResult{Generation: nextGen, CommittedReplicas: acked}, nil
}

func splitAndStage(ps *partstore.Store, path string, body io.Reader, partSize int64) ([]types.PartRef, uint64, error) {
	var parts []types.PartRef
	var total uint64
	for {
		limited := io.LimitReader(body, partSize)
		ref, err := ps.StageWrite(path, limited)
		if err != nil {
			return nil, 0, err
		}
		if ref.Length == 0 {
			if len(parts) == 0 {
				parts = append(parts, ref)
			}
			break
		}
		ref.Offset = total
		total += ref.Length
		parts = append(parts, ref)
		if ref.Length < uint64(partSize) {
			break
		}
	}
	return parts, total, nil
}

// etagOf is the object-level etag: hash of the concatenated part
// hashes, matching the overall-etag rule in the PUT algorithm.
func etagOf(parts []types.PartRef) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p.SHA256[:])
	}
	return hexString(h.Sum(nil))
}

func (c *Coordinator) determineNextGeneration(ctx context.Context, route router.Route, local *slotengine.Engine) (uint64, error) {
	max := uint64(0)
	if head, ok, err := local.HeadOf(route.Path); err != nil {
		return 0, err
	} else if ok && head.Generation() > max {
		max = head.Generation()
	}

	quorumPoll := (len(route.Replicas) + 1) / 2
	results := make(chan uint64, len(route.Replicas))
	var wg sync.WaitGroup
	polled := 0
	for _, r := range route.Replicas {
		if r.ID == c.nodeID || polled >= quorumPoll {
			continue
		}
		polled++
		wg.Add(1)
		go func(node types.NodeInfo) {
			defer wg.Done()
			gen, err := c.fetchRemoteGeneration(ctx, node, route)
			if err != nil {
				results <- 0
				return
			}
			results <- gen
		}(r)
	}
	wg.Wait()
	close(results)
	for g := range results {
		if g > max {
			max = g
		}
	}
	return max + 1, nil
}

func (c *Coordinator) fetchRemoteGeneration(ctx context.Context, node types.NodeInfo, route router.Route) (uint64, error) {
	client, err := c.pool.Get(ctx, node.Addr)
	if err != nil {
		return 0, err
	}
	resp, err := client.FetchHead(ctx, &replicarpc.FetchHeadRequest{SlotID: uint32(route.SlotID), Path: route.Path})
	if err != nil {
		return 0, err
	}
	if !resp.Found {
		return 0, nil
	}
	return resp.Generation, nil
}

// fanoutPushParts pushes every part to every replica in parallel,
// returning ErrQuorumFailed if any single part fails to reach W acks.
func (c *Coordinator) fanoutPushParts(ctx context.Context, route router.Route, local *slotengine.Engine, parts []types.PartRef, w int) error {
	for _, ref := range parts {
		acked := 0
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, r := range route.Replicas {
			wg.Add(1)
			go func(node types.NodeInfo) {
				defer wg.Done()
				if err := c.pushPartTo(ctx, node, route, local, ref); err != nil {
					c.logger.Warn().Err(err).Str("replica", node.ID).Str("path", route.Path).Msg("push part failed")
					return
				}
				mu.Lock()
				acked++
				mu.Unlock()
			}(r)
		}
		wg.Wait()
		if acked < w {
			return fmt.Errorf("coordinator: part %s acked by %d/%d replicas: %w", ref.HexSHA256(), acked, w, errs.ErrQuorumFailed)
		}
	}
	return nil
}

func (c *Coordinator) pushPartTo(ctx context.Context, node types.NodeInfo, route router.Route, local *slotengine.Engine, ref types.PartRef) error {
	if node.ID == c.nodeID {
		r, err := local.PartStore().Open(route.Path, ref.SHA256)
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = local.ApplyPart(route.Path, ref.SHA256, ref.Length, r)
		return err
	}

	client, err := c.pool.Get(ctx, node.Addr)
	if err != nil {
		return err
	}
	r, err := local.PartStore().Open(route.Path, ref.SHA256)
	if err != nil {
		return err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("coordinator: read staged part: %w", errs.ErrIO)
	}
	resp, err := client.PushPart(ctx, &replicarpc.PushPartRequest{
		SlotID: uint32(route.SlotID),
		Path:   route.Path,
		SHA256: ref.HexSHA256(),
		Length: ref.Length,
		Data:   data,
	})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("coordinator: replica %s rejected part %s: %w", node.ID, ref.HexSHA256(), errs.ErrDigestMismatch)
	}
	return nil
}

// fanoutCommitHead applies head on every replica in parallel and
// returns the count of replicas where it was applied or already a
// stale (equal-or-greater generation) no-op — both count toward
// quorum per the spec's "applied_or_stale" rule.
func (c *Coordinator) fanoutCommitHead(ctx context.Context, route router.Route, local *slotengine.Engine, head types.Head, parts []types.PartRef) (int, error) {
	acked := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, r := range route.Replicas {
		wg.Add(1)
		go func(node types.NodeInfo) {
			defer wg.Done()
			applied, generation, err := c.commitHeadTo(ctx, node, route, local, head, parts)
			if err != nil {
				c.logger.Warn().Err(err).Str("replica", node.ID).Str("path", route.Path).Msg("commit head failed")
				return
			}
			if applied || generation >= head.Generation() {
				mu.Lock()
				acked++
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()
	return acked, nil
}

func (c *Coordinator) commitHeadTo(ctx context.Context, node types.NodeInfo, route router.Route, local *slotengine.Engine, head types.Head, parts []types.PartRef) (bool, uint64, error) {
	if node.ID == c.nodeID {
		result, err := local.CommitHead(route.Path, head, parts)
		if err != nil {
			return false, 0, err
		}
		return result.Applied, result.Generation, nil
	}

	client, err := c.pool.Get(ctx, node.Addr)
	if err != nil {
		return false, 0, err
	}

	var headJSON []byte
	var headKind string
	if head.Kind == types.HeadKindMeta {
		headKind = string(types.HeadKindMeta)
		_, data, err := types.HashJSON(head.Meta)
		if err != nil {
			return false, 0, err
		}
		headJSON = data
	} else {
		headKind = string(types.HeadKindTombstone)
		_, data, err := types.HashJSON(head.Tombstone)
		if err != nil {
			return false, 0, err
		}
		headJSON = data
	}

	wireParts := make([]replicarpc.PartRefWire, len(parts))
	for i, p := range parts {
		wireParts[i] = replicarpc.PartRefWire{SHA256: p.HexSHA256(), Length: p.Length, Offset: p.Offset}
	}

	resp, err := client.CommitHead(ctx, &replicarpc.CommitHeadRequest{
		SlotID:          uint32(route.SlotID),
		Path:            route.Path,
		HeadKind:        headKind,
		HeadJSON:        headJSON,
		ContentHash:     hexString(head.ContentHash[:]),
		ReferencedParts: wireParts,
	})
	if err != nil {
		return false, 0, err
	}
	return resp.Applied, resp.Generation, nil
}

func hexString(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

