// Package slotengine applies committed heads and parts locally for a
// single slot, enforcing the generation CAS that makes repeated
// application of the same head a no-op.
package slotengine

import (
	"fmt"
	"io"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/flaneur2020/amberio/pkg/errs"
	"github.com/flaneur2020/amberio/pkg/log"
	"github.com/flaneur2020/amberio/pkg/metastore"
	"github.com/flaneur2020/amberio/pkg/partstore"
	"github.com/flaneur2020/amberio/pkg/types"
)

// idempotencyCacheSize bounds the in-memory LRU fronting each slot's
// durable idempotency table.
const idempotencyCacheSize = 4096

type idemEntry struct {
	generation uint64
	etag       string
}

// Engine is the local apply surface for one owned slot: CommitHead,
// ApplyPart, and idempotency lookups, backed by a MetaStore and
// PartStore rooted at the same slot directory.
type Engine struct {
	slotID types.SlotID
	meta   *metastore.Store
	parts  *partstore.Store
	cache  *lru.Cache
	logger zerolog.Logger
}

// New constructs an Engine over an already-open MetaStore/PartStore
// pair for slotID.
func New(slotID types.SlotID, meta *metastore.Store, parts *partstore.Store) (*Engine, error) {
	cache, err := lru.New(idempotencyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("slotengine: new lru: %w", err)
	}
	return &Engine{
		slotID: slotID,
		meta:   meta,
		parts:  parts,
		cache:  cache,
		logger: log.WithSlot(uint32(slotID)),
	}, nil
}

// CommitResult is the outcome of applying a head.
type CommitResult struct {
	Applied    bool
	Generation uint64
}

// CommitHead applies nextHead if it sorts after the current effective
// head under Head.Less, upserting any referenced parts first. A head
// that does not sort after the current one is reported as a no-op
// rather than an error — this is the sole convergence primitive
// anti-entropy and retried writes rely on. Equal-generation heads are
// not treated as stale by generation alone: Less breaks the tie
// tombstone-over-meta, then by content hash, so two replicas applying
// the same pair of equal-generation heads always converge on the same
// winner.
func (e *Engine) CommitHead(path string, nextHead types.Head, referencedParts []types.PartRef) (CommitResult, error) {
	current, ok, err := e.meta.HeadOf(path)
	if err != nil {
		return CommitResult{}, err
	}
	if ok && !current.Less(nextHead) {
		return CommitResult{Applied: false, Generation: current.Generation()}, nil
	}

	for _, ref := range referencedParts {
		externalPath := "objects/" + path + "/part." + ref.HexSHA256()
		if err := e.meta.UpsertPartRef(path, ref, externalPath); err != nil {
			return CommitResult{}, err
		}
	}

	switch nextHead.Kind {
	case types.HeadKindMeta:
		if err := e.meta.UpsertMeta(path, nextHead.Meta); err != nil {
			return CommitResult{}, err
		}
	case types.HeadKindTombstone:
		if err := e.meta.InsertTombstone(path, nextHead.ContentHash, nextHead.Tombstone); err != nil {
			return CommitResult{}, err
		}
	default:
		return CommitResult{}, fmt.Errorf("slotengine: unknown head kind %q", nextHead.Kind)
	}

	e.logger.Debug().Str("path", path).Uint64("generation", nextHead.Generation()).Msg("head committed")
	return CommitResult{Applied: true, Generation: nextHead.Generation()}, nil
}

// ApplyPart stages part bytes into the local PartStore, verifying the
// stream hashes to sha.
func (e *Engine) ApplyPart(path string, sha [32]byte, length uint64, r io.Reader) (types.PartRef, error) {
	ref, err := e.parts.StageWrite(path, r)
	if err != nil {
		return types.PartRef{}, err
	}
	if ref.SHA256 != sha || ref.Length != length {
		_ = e.parts.Remove(path, ref.SHA256)
		return types.PartRef{}, fmt.Errorf("slotengine: %s: declared sha/length mismatch: %w", path, errs.ErrDigestMismatch)
	}
	return ref, nil
}

// LookupWrite resolves a prior PUT's outcome for (path, writeID),
// checking the in-memory LRU before falling back to the durable
// MetaStore table.
func (e *Engine) LookupWrite(path, writeID string) (generation uint64, etag string, ok bool, err error) {
	key := path + "\x00" + writeID
	if v, hit := e.cache.Get(key); hit {
		entry := v.(idemEntry)
		return entry.generation, entry.etag, true, nil
	}

	gen, etag, found, err := e.meta.LookupIdempotency(path, writeID, time.Now())
	if err != nil {
		return 0, "", false, err
	}
	if found {
		e.cache.Add(key, idemEntry{generation: gen, etag: etag})
	}
	return gen, etag, found, nil
}

// RecordWrite durably records a successful PUT's outcome and
// populates the in-memory fast path.
func (e *Engine) RecordWrite(path, writeID string, generation uint64, etag string, ttl time.Duration) error {
	if err := e.meta.PutIdempotency(path, writeID, generation, etag, time.Now().Add(ttl)); err != nil {
		return err
	}
	e.cache.Add(path+"\x00"+writeID, idemEntry{generation: generation, etag: etag})
	return nil
}

// HeadOf exposes the current effective head, used by the coordinator
// to determine next_generation and by the read path.
func (e *Engine) HeadOf(path string) (types.Head, bool, error) {
	return e.meta.HeadOf(path)
}

// MetaStore exposes the underlying metadata store for components
// (ReadPath, AntiEntropy, GC) that need scan/list/vacuum operations
// beyond the per-path apply surface above.
func (e *Engine) MetaStore() *metastore.Store {
	return e.meta
}

// PartStore exposes the underlying part store for the same reason.
func (e *Engine) PartStore() *partstore.Store {
	return e.parts
}

// SlotID returns the slot this engine owns.
func (e *Engine) SlotID() types.SlotID {
	return e.slotID
}
