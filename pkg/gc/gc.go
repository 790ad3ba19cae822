// Package gc runs the background reclamation loop: tombstone
// vacuuming, idempotency-table expiry, and deletion of part files no
// longer referenced by any live head, bounded by a grace window so a
// part mid-write is never reclaimed.
package gc

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flaneur2020/amberio/pkg/log"
	"github.com/flaneur2020/amberio/pkg/metrics"
	"github.com/flaneur2020/amberio/pkg/slotengine"
	"github.com/flaneur2020/amberio/pkg/types"
)

// Loop periodically reclaims space for every slot the local node owns.
type Loop struct {
	engines            map[types.SlotID]*slotengine.Engine
	interval           time.Duration
	tombstoneRetention time.Duration
	partGrace          time.Duration
	logger             zerolog.Logger
	stopCh             chan struct{}
}

// New constructs a Loop for the slots the local node owns.
func New(engines map[types.SlotID]*slotengine.Engine, config types.Config) *Loop {
	return &Loop{
		engines:            engines,
		interval:           config.AntiEntropyInterval, // GC piggybacks the same cadence as anti-entropy
		tombstoneRetention: config.TombstoneRetention,
		partGrace:          config.PartGCGrace,
		logger:             log.WithComponent("gc"),
		stopCh:             make(chan struct{}),
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

	l.logger.Info().Msg("gc loop started")

	for {
		select {
		case <-ticker.C:
			if err := l.cycle(); err != nil {
				l.logger.Error().Err(err).Msg("gc cycle failed")
			}
		case <-l.stopCh:
			l.logger.Info().Msg("gc loop stopped")
			return
		}
	}
}

func (l *Loop) cycle() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.GCCycleDuration)
		metrics.GCCyclesTotal.Inc()
	}()

	now := time.Now()
	for slotID, engine := range l.engines {
		if err := l.reclaimSlot(engine, now); err != nil {
			l.logger.Error().Err(err).Uint32("slot", uint32(slotID)).Msg("slot reclamation failed")
		}
	}
	return nil
}

func (l *Loop) reclaimSlot(engine *slotengine.Engine, now time.Time) error {
	removedTombstones, err := engine.MetaStore().VacuumTombstones(now, l.tombstoneRetention)
	if err != nil {
		return err
	}
	metrics.GCTombstonesExpiredTotal.Add(float64(removedTombstones))

	if _, err := engine.MetaStore().ExpireIdempotency(now); err != nil {
		return err
	}

	reachable, err := reachableParts(engine)
	if err != nil {
		return err
	}

	reclaimed, err := sweepOrphanParts(engine.PartStore().Root(), reachable, now, l.partGrace)
	if err != nil {
		return err
	}
	metrics.GCPartsReclaimedTotal.Add(float64(reclaimed))
	return nil
}

// reachableParts returns the set of part file names (part.<hex_sha256>)
// still referenced by some path's current meta head, across the
// entire slot.
func reachableParts(engine *slotengine.Engine) (map[string]struct{}, error) {
	heads, err := engine.MetaStore().ScanSlotHeads()
	if err != nil {
		return nil, err
	}

	reachable := make(map[string]struct{})
	for _, h := range heads {
		if h.Kind != types.HeadKindMeta {
			continue
		}
		refs, err := engine.MetaStore().ListPartsForHead(h.Path)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			reachable[filepath.Join(h.Path, "part."+ref.HexSHA256())] = struct{}{}
		}
	}
	return reachable, nil
}

// sweepOrphanParts walks root (objects/) and deletes any part.<hex>
// file not present in reachable whose mtime is older than grace, so a
// part still being written by an in-flight PUT is never deleted.
func sweepOrphanParts(root string, reachable map[string]struct{}, now time.Time, grace time.Duration) (int, error) {
	removed := 0
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasPrefix(info.Name(), "part.") {
			return nil
		}
		if now.Sub(info.ModTime()) < grace {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if _, ok := reachable[rel]; ok {
			return nil
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}
	return removed, nil
}
