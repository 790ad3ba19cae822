// Package node wires together the per-slot storage engines, the
// internal replica RPC server, and the coordinator/read-path/
// anti-entropy/gc components into one running process.
package node

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/flaneur2020/amberio/pkg/antientropy"
	"github.com/flaneur2020/amberio/pkg/coordinator"
	"github.com/flaneur2020/amberio/pkg/errs"
	"github.com/flaneur2020/amberio/pkg/gc"
	"github.com/flaneur2020/amberio/pkg/log"
	"github.com/flaneur2020/amberio/pkg/membership"
	"github.com/flaneur2020/amberio/pkg/metastore"
	"github.com/flaneur2020/amberio/pkg/partstore"
	"github.com/flaneur2020/amberio/pkg/readpath"
	"github.com/flaneur2020/amberio/pkg/replicarpc"
	"github.com/flaneur2020/amberio/pkg/router"
	"github.com/flaneur2020/amberio/pkg/slotengine"
	"github.com/flaneur2020/amberio/pkg/types"
)

// Node owns every locally-replicated slot's storage engine and
// exposes the ingress (Coordinator, ReadPath) and background
// (AntiEntropy, GC) surfaces over it.
type Node struct {
	id           string
	dataDir      string
	rpcAddr      string
	bucketPrefix int
	view         *membership.View
	pool         *replicarpc.Pool
	engines      map[types.SlotID]*slotengine.Engine

	Coordinator *coordinator.Coordinator
	ReadPath    *readpath.ReadPath
	antiEntropy *antientropy.Loop
	gc          *gc.Loop

	grpcServer *grpc.Server
	logger     zerolog.Logger
}

// New opens (creating if absent) the MetaStore/PartStore pair for
// every slot this node locally replicates under view, and wires the
// ingress and background components over them. dataDir is the root
// directory for this node's slot storage; rpcAddr is the address the
// replica RPC server listens on.
func New(nodeID, dataDir, rpcAddr string, view types.MembershipView, tunables types.Config) (*Node, error) {
	if err := tunables.Validate(); err != nil {
		return nil, err
	}
	if view.SlotCount > 0 {
		if err := (types.Config{SlotCount: view.SlotCount}).Validate(); err != nil {
			return nil, err
		}
	}

	mview := membership.New(view)
	pool := replicarpc.NewPool()

	engines, err := openOwnedSlots(nodeID, view, dataDir)
	if err != nil {
		return nil, err
	}

	n := &Node{
		id:           nodeID,
		dataDir:      dataDir,
		rpcAddr:      rpcAddr,
		bucketPrefix: tunables.AntiEntropyBucketPrefix,
		view:         mview,
		pool:         pool,
		engines:      engines,
		logger:       log.WithComponent("node").With().Str("node_id", nodeID).Logger(),
	}

	n.Coordinator = coordinator.New(nodeID, mview, tunables, engines, pool)
	n.ReadPath = readpath.New(nodeID, mview, engines, pool)
	n.antiEntropy = antientropy.New(nodeID, mview, engines, pool, tunables)
	n.gc = gc.New(engines, tunables)

	return n, nil
}

// openOwnedSlots creates one <dataDir>/slots/<slotID>/ directory per
// slot nodeID replicates under view, opening its MetaStore/PartStore
// and sweeping any orphaned temp part files left by a prior crash.
func openOwnedSlots(nodeID string, view types.MembershipView, dataDir string) (map[types.SlotID]*slotengine.Engine, error) {
	slotCount := view.SlotCount
	if slotCount <= 0 {
		slotCount = types.DefaultSlotCount
	}

	engines := make(map[types.SlotID]*slotengine.Engine)
	for i := 0; i < slotCount; i++ {
		slotID := types.SlotID(i)
		owned := false
		for _, replica := range router.ReplicasFor(view, slotID) {
			if replica.ID == nodeID {
				owned = true
				break
			}
		}
		if !owned {
			continue
		}

		slotRoot := filepath.Join(dataDir, "slots", fmt.Sprintf("%d", slotID))
		if err := os.MkdirAll(slotRoot, 0o755); err != nil {
			return nil, fmt.Errorf("node: mkdir %s: %w", slotRoot, errs.ErrIO)
		}

		meta, err := metastore.Open(slotRoot, slotID)
		if err != nil {
			return nil, err
		}
		parts := partstore.New(slotRoot, slotID)
		if err := parts.SweepTmp(); err != nil {
			return nil, err
		}

		engine, err := slotengine.New(slotID, meta, parts)
		if err != nil {
			return nil, err
		}
		engines[slotID] = engine
	}
	return engines, nil
}

// Start brings up the replica RPC server and the background loops.
// It blocks until the listener fails or Stop is called.
func (n *Node) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", n.rpcAddr)
	if err != nil {
		return fmt.Errorf("node: listen %s: %w", n.rpcAddr, errs.ErrIO)
	}

	n.grpcServer = replicarpc.NewServer()
	replicarpc.RegisterServer(n.grpcServer, &server{node: n})

	n.antiEntropy.Start()
	n.gc.Start()

	n.logger.Info().Str("addr", n.rpcAddr).Int("slots", len(n.engines)).Msg("node started")
	return replicarpc.Serve(n.grpcServer, lis)
}

// Stop halts the background loops and the RPC server, then closes
// every owned MetaStore.
func (n *Node) Stop() error {
	n.antiEntropy.Stop()
	n.gc.Stop()
	if n.grpcServer != nil {
		n.grpcServer.GracefulStop()
	}
	if err := n.pool.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("closing peer pool")
	}

	var first error
	for _, engine := range n.engines {
		if err := engine.MetaStore().Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewWriteID generates a write_id for callers that did not supply
// their own, matching the idempotency key format every retry must
// reuse verbatim.
func NewWriteID() string {
	return uuid.NewString()
}
