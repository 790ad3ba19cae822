// Package antientropy runs the background convergence loop: for each
// owned slot, exchange bucket digests with peer replicas and heal any
// bucket whose digest diverges by fetching and applying the peer's
// heads.
package antientropy

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flaneur2020/amberio/pkg/log"
	"github.com/flaneur2020/amberio/pkg/membership"
	"github.com/flaneur2020/amberio/pkg/metastore"
	"github.com/flaneur2020/amberio/pkg/metrics"
	"github.com/flaneur2020/amberio/pkg/replicarpc"
	"github.com/flaneur2020/amberio/pkg/router"
	"github.com/flaneur2020/amberio/pkg/slotengine"
	"github.com/flaneur2020/amberio/pkg/types"
)

// Loop periodically diffs and heals every slot the local node owns
// against its peer replicas.
type Loop struct {
	nodeID   string
	view     *membership.View
	engines  map[types.SlotID]*slotengine.Engine
	pool     *replicarpc.Pool
	interval time.Duration
	batch    int
	prefix   int
	parallel int
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// New constructs a Loop for the slots the local node owns.
func New(nodeID string, view *membership.View, engines map[types.SlotID]*slotengine.Engine, pool *replicarpc.Pool, config types.Config) *Loop {
	batch := config.AntiEntropyBatchObjects
	if batch <= 0 {
		batch = types.DefaultConfig().AntiEntropyBatchObjects
	}
	return &Loop{
		nodeID:   nodeID,
		view:     view,
		engines:  engines,
		pool:     pool,
		interval: config.AntiEntropyInterval,
		batch:    batch,
		prefix:   config.AntiEntropyBucketPrefix,
		parallel: config.RepairPartParallelism,
		logger:   log.WithComponent("antientropy"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background loop.
func (l *Loop) Start() {
	go l.run()
}

// Stop halts the background loop.
func (l *Loop) Stop() {
	close(l.stopCh)
}

func (l *Loop) run() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info().Msg("anti-entropy loop started")

	if err := l.cycle(context.Background()); err != nil {
		l.logger.Error().Err(err).Msg("anti-entropy cycle failed")
	}

	for {
		select {
		case <-ticker.C:
			if err := l.cycle(context.Background()); err != nil {
				l.logger.Error().Err(err).Msg("anti-entropy cycle failed")
			}
		case <-l.stopCh:
			l.logger.Info().Msg("anti-entropy loop stopped")
			return
		}
	}
}

func (l *Loop) cycle(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.AntiEntropyCycleDuration)
		metrics.AntiEntropyCyclesTotal.Inc()
	}()

	for slotID, engine := range l.engines {
		if err := l.reconcileSlot(ctx, slotID, engine); err != nil {
			l.logger.Error().Err(err).Uint32("slot", uint32(slotID)).Msg("slot reconciliation failed")
		}
	}
	return nil
}

// reconcileSlot builds a local bucket digest map, compares it against
// each peer's, and heals any bucket whose digest diverges.
func (l *Loop) reconcileSlot(ctx context.Context, slotID types.SlotID, engine *slotengine.Engine) error {
	localDigests, localBuckets, err := BucketDigests(engine, l.prefix)
	if err != nil {
		return err
	}

	view := l.view.Current()
	peers := router.ReplicasFor(view, slotID)

	for _, peer := range peers {
		if peer.ID == l.nodeID {
			continue
		}
		if err := l.reconcileWithPeer(ctx, slotID, engine, peer, localDigests, localBuckets); err != nil {
			l.logger.Warn().Err(err).Str("peer", peer.ID).Uint32("slot", uint32(slotID)).Msg("reconcile with peer failed")
		}
	}
	return nil
}

func (l *Loop) reconcileWithPeer(ctx context.Context, slotID types.SlotID, engine *slotengine.Engine, peer types.NodeInfo, localDigests map[uint32]uint64, localBuckets map[uint32][]string) error {
	client, err := l.pool.Get(ctx, peer.Addr)
	if err != nil {
		return err
	}

	resp, err := client.BucketDigest(ctx, &replicarpc.BucketDigestRequest{SlotID: uint32(slotID), PrefixLen: l.prefix})
	if err != nil {
		return err
	}

	diverged := make([]uint32, 0)
	for prefix, remoteDigest := range resp.Digests {
		if localDigests[prefix] != remoteDigest {
			diverged = append(diverged, prefix)
		}
	}
	for prefix := range localDigests {
		if _, ok := resp.Digests[prefix]; !ok {
			diverged = append(diverged, prefix)
		}
	}
	if len(diverged) == 0 {
		return nil
	}
	metrics.AntiEntropyBucketsDiverged.Add(float64(len(diverged)))

	healed := 0
	for _, prefix := range diverged {
		if healed >= l.batch {
			l.logger.Warn().Int("batch", l.batch).Msg("anti-entropy batch limit reached, remaining buckets deferred to next cycle")
			break
		}
		n, err := l.healBucket(ctx, slotID, engine, client, prefix)
		if err != nil {
			l.logger.Warn().Err(err).Uint32("prefix", prefix).Msg("heal bucket failed")
			continue
		}
		healed += n
	}
	return nil
}

func (l *Loop) healBucket(ctx context.Context, slotID types.SlotID, engine *slotengine.Engine, client *replicarpc.Client, prefix uint32) (int, error) {
	resp, err := client.BucketList(ctx, &replicarpc.BucketListRequest{SlotID: uint32(slotID), Prefix: prefix})
	if err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, l.parallel)
	var mu sync.Mutex
	healed := 0

	for _, remote := range resp.Heads {
		wg.Add(1)
		sem <- struct{}{}
		go func(remote replicarpc.HeadSummaryWire) {
			defer wg.Done()
			defer func() { <-sem }()

			local, ok, err := engine.HeadOf(remote.Path)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", remote.Path).Msg("local head lookup failed during heal")
				return
			}
			remoteSummary, err := summaryHead(remote)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", remote.Path).Msg("decode remote head summary failed during heal")
				return
			}
			if ok && !local.Less(remoteSummary) {
				return
			}

			remoteHead, err := l.fetchPeerHead(ctx, client, slotID, remote.Path)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", remote.Path).Msg("fetch peer head failed during heal")
				return
			}

			if _, err := engine.CommitHead(remote.Path, remoteHead, headParts(remoteHead)); err != nil {
				l.logger.Warn().Err(err).Str("path", remote.Path).Msg("commit healed head failed")
				return
			}
			mu.Lock()
			healed++
			mu.Unlock()
			metrics.AntiEntropyHealsTotal.WithLabelValues(string(remoteHead.Kind)).Inc()
		}(remote)
	}
	wg.Wait()
	return healed, nil
}

func (l *Loop) fetchPeerHead(ctx context.Context, client *replicarpc.Client, slotID types.SlotID, path string) (types.Head, error) {
	resp, err := client.FetchHead(ctx, &replicarpc.FetchHeadRequest{SlotID: uint32(slotID), Path: path})
	if err != nil {
		return types.Head{}, err
	}
	return decodeWireHead(resp.HeadKind, resp.HeadJSON, resp.ContentHash)
}

// summaryHead builds the minimal types.Head needed to order a remote
// bucket-list entry against a local head via Head.Less: generation,
// kind, and content hash, without the full MetaHead/Tombstone payload
// fetching a head would require.
func summaryHead(remote replicarpc.HeadSummaryWire) (types.Head, error) {
	contentHash, err := decodeHex32(remote.ContentHash)
	if err != nil {
		return types.Head{}, err
	}
	kind := types.HeadKind(remote.Kind)
	head := types.Head{Kind: kind, ContentHash: contentHash}
	switch kind {
	case types.HeadKindTombstone:
		head.Tombstone = &types.Tombstone{Generation: remote.Generation}
	default:
		head.Meta = &types.MetaHead{Generation: remote.Generation}
	}
	return head, nil
}

func headParts(head types.Head) []types.PartRef {
	if head.Kind == types.HeadKindMeta {
		return head.Meta.Parts
	}
	return nil
}

// BucketDigests groups a slot's heads by their path hash's top
// prefixLen bytes and hashes each bucket's members, in path order, as
// one xxhash digest over their (path, kind, generation, content hash)
// entries. Exported so a node's BucketDigest RPC handler computes the
// same digests this loop compares against.
func BucketDigests(engine *slotengine.Engine, prefixLen int) (map[uint32]uint64, map[uint32][]string, error) {
	heads, err := engine.MetaStore().ScanSlotHeads()
	if err != nil {
		return nil, nil, err
	}

	members := make(map[uint32]*strings.Builder)
	buckets := make(map[uint32][]string)
	for _, h := range heads {
		prefix := BucketPrefix(h.Path, prefixLen)
		b, ok := members[prefix]
		if !ok {
			b = &strings.Builder{}
			members[prefix] = b
		}
		fmt.Fprintf(b, "%s\x00%s\x00%d\x00%x\n", h.Path, h.Kind, h.Generation, h.ContentHash)
		buckets[prefix] = append(buckets[prefix], h.Path)
	}
	digests := make(map[uint32]uint64, len(members))
	for prefix, b := range members {
		digests[prefix] = router.Hash64(b.String())
	}
	return digests, buckets, nil
}

// BucketHeads returns every head summary in engine's slot whose
// bucket prefix equals prefix, for a BucketList RPC handler to answer
// with.
func BucketHeads(engine *slotengine.Engine, prefixLen int, prefix uint32) ([]metastore.HeadSummary, error) {
	heads, err := engine.MetaStore().ScanSlotHeads()
	if err != nil {
		return nil, err
	}
	var out []metastore.HeadSummary
	for _, h := range heads {
		if BucketPrefix(h.Path, prefixLen) == prefix {
			out = append(out, h)
		}
	}
	return out, nil
}

// BucketPrefix returns the top prefixLen bytes of path's routing hash
// as the bucket key anti-entropy groups paths by.
func BucketPrefix(path string, prefixLen int) uint32 {
	full := router.Hash64(path)
	shift := uint(64 - 8*prefixLen)
	if prefixLen <= 0 || shift >= 64 {
		return 0
	}
	return uint32(full >> shift)
}

func decodeWireHead(kind string, data []byte, contentHashHex string) (types.Head, error) {
	contentHash, err := decodeHex32(contentHashHex)
	if err != nil {
		return types.Head{}, err
	}
	switch types.HeadKind(kind) {
	case types.HeadKindMeta:
		var m types.MetaHead
		if err := json.Unmarshal(data, &m); err != nil {
			return types.Head{}, err
		}
		return types.Head{Kind: types.HeadKindMeta, Meta: &m, ContentHash: contentHash}, nil
	default:
		var ts types.Tombstone
		if err := json.Unmarshal(data, &ts); err != nil {
			return types.Head{}, err
		}
		return types.Head{Kind: types.HeadKindTombstone, Tombstone: &ts, ContentHash: contentHash}, nil
	}
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("antientropy: decode content hash: %w", err)
	}
	copy(out[:], b)
	return out, nil
}
