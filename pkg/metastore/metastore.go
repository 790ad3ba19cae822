// Package metastore is the per-slot transactional metadata store: the
// embedded database that holds every path's heads (meta/tombstone)
// and part references for one slot. It realizes the logical
// "filestores" schema from the data model as bbolt buckets.
package metastore

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/flaneur2020/amberio/pkg/errs"
	"github.com/flaneur2020/amberio/pkg/types"
)

// DBFileName is the on-disk file name for a slot's metadata database,
// kept as named in the on-disk layout even though the engine backing
// it is bbolt rather than a SQL store; see DESIGN.md.
const DBFileName = "meta.sqlite3"

var (
	bucketMeta        = []byte("meta")
	bucketTombstones  = []byte("tombstones")
	bucketParts       = []byte("parts")
	bucketIdempotency = []byte("idempotency")
)

// partRecord is the stored shape of a part reference plus its
// external file path, matching the logical schema's external_path
// column.
type partRecord struct {
	Ref          types.PartRef `json:"ref"`
	ExternalPath string        `json:"external_path"`
}

type idempotencyRecord struct {
	Generation uint64    `json:"generation"`
	ETag       string    `json:"etag"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// HeadSummary is the projection ScanSlotHeads and anti-entropy's
// bucket digest operate over.
type HeadSummary struct {
	Path        string
	Kind        types.HeadKind
	Generation  uint64
	ContentHash [32]byte
}

// Store is a per-slot metadata database.
type Store struct {
	db     *bolt.DB
	slotID types.SlotID
}

// Open opens (creating if absent) the bbolt database for slotRoot.
func Open(slotRoot string, slotID types.SlotID) (*Store, error) {
	dbPath := filepath.Join(slotRoot, DBFileName)
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("metastore: open %s: %w", dbPath, errs.ErrIO)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketTombstones, bucketParts, bucketIdempotency} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("metastore: init buckets: %w", errs.ErrIO)
	}

	return &Store{db: db, slotID: slotID}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertMeta replaces the single meta.json row for path.
func (s *Store) UpsertMeta(path string, head *types.MetaHead) error {
	data, err := json.Marshal(head)
	if err != nil {
		return fmt.Errorf("metastore: marshal meta: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(path), data)
	})
	if err != nil {
		return fmt.Errorf("metastore: upsert meta %s: %w", path, errs.ErrIO)
	}
	return nil
}

// InsertTombstone appends a tombstone row keyed by its content hash,
// so multiple tombstones for the same path coexist as history.
func (s *Store) InsertTombstone(path string, contentHash [32]byte, ts *types.Tombstone) error {
	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("metastore: marshal tombstone: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		sub, err := tx.Bucket(bucketTombstones).CreateBucketIfNotExists([]byte(path))
		if err != nil {
			return err
		}
		return sub.Put(contentHash[:], data)
	})
	if err != nil {
		return fmt.Errorf("metastore: insert tombstone %s: %w", path, errs.ErrIO)
	}
	return nil
}

// UpsertPartRef records that ref's external file exists for path.
// Idempotent: re-inserting the same (path, sha) overwrites with the
// same bytes.
func (s *Store) UpsertPartRef(path string, ref types.PartRef, externalPath string) error {
	rec := partRecord{Ref: ref, ExternalPath: externalPath}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("metastore: marshal part ref: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		sub, err := tx.Bucket(bucketParts).CreateBucketIfNotExists([]byte(path))
		if err != nil {
			return err
		}
		return sub.Put(ref.SHA256[:], data)
	})
	if err != nil {
		return fmt.Errorf("metastore: upsert part ref %s: %w", path, errs.ErrIO)
	}
	return nil
}

// HeadOf returns the effective head for path per invariant 4: the
// greater of the current meta.json row and the latest tombstone row,
// tiebroken by types.Head.Less.
func (s *Store) HeadOf(path string) (types.Head, bool, error) {
	var best types.Head
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get([]byte(path)); data != nil {
			var m types.MetaHead
			if err := json.Unmarshal(data, &m); err != nil {
				return err
			}
			h := types.Head{Kind: types.HeadKindMeta, Meta: &m, ContentHash: contentHash(data)}
			best = h
			found = true
		}

		if sub := tx.Bucket(bucketTombstones).Bucket([]byte(path)); sub != nil {
			return sub.ForEach(func(k, v []byte) error {
				var ts types.Tombstone
				if err := json.Unmarshal(v, &ts); err != nil {
					return err
				}
				h := types.Head{Kind: types.HeadKindTombstone, Tombstone: &ts, ContentHash: contentHash(v)}
				if !found || best.Less(h) {
					best = h
					found = true
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return types.Head{}, false, fmt.Errorf("metastore: head of %s: %w", path, errs.ErrIO)
	}
	return best, found, nil
}

// ScanSlotHeads returns the effective head summary for every path with
// any row in this slot's store, used by anti-entropy bucket digests
// and GC's reachability pass.
func (s *Store) ScanSlotHeads() ([]HeadSummary, error) {
	paths := map[string]struct{}{}

	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			paths[string(k)] = struct{}{}
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketTombstones).ForEach(func(k, v []byte) error {
			paths[string(k)] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("metastore: scan slot heads: %w", errs.ErrIO)
	}

	out := make([]HeadSummary, 0, len(paths))
	for path := range paths {
		head, ok, err := s.HeadOf(path)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, HeadSummary{
			Path:        path,
			Kind:        head.Kind,
			Generation:  head.Generation(),
			ContentHash: head.ContentHash,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// ListPartsForHead returns the parts referenced by path's current
// meta.json row, empty if the head is a tombstone or absent.
func (s *Store) ListPartsForHead(path string) ([]types.PartRef, error) {
	var out []types.PartRef
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get([]byte(path))
		if data == nil {
			return nil
		}
		var m types.MetaHead
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		out = m.Parts
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("metastore: list parts for %s: %w", path, errs.ErrIO)
	}
	return out, nil
}

// VacuumTombstones drops tombstone rows older than retention.
func (s *Store) VacuumTombstones(now time.Time, retention time.Duration) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTombstones)
		c := b.Cursor()
		for pathKey, v := c.First(); pathKey != nil; pathKey, v = c.Next() {
			if v != nil {
				continue // only descend into sub-buckets, not stray values
			}
			sub := b.Bucket(pathKey)
			var stale [][]byte
			if err := sub.ForEach(func(k, v []byte) error {
				var ts types.Tombstone
				if err := json.Unmarshal(v, &ts); err != nil {
					return err
				}
				if now.Sub(ts.DeletedAt) > retention {
					stale = append(stale, append([]byte(nil), k...))
				}
				return nil
			}); err != nil {
				return err
			}
			for _, k := range stale {
				if err := sub.Delete(k); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("metastore: vacuum tombstones: %w", errs.ErrIO)
	}
	return removed, nil
}

func idemKey(path, writeID string) []byte {
	return []byte(path + "\x00" + writeID)
}

// PutIdempotency records (path, writeID) -> (generation, etag),
// durable across restarts. Callers front this with an in-memory LRU.
func (s *Store) PutIdempotency(path, writeID string, generation uint64, etag string, expiresAt time.Time) error {
	rec := idempotencyRecord{Generation: generation, ETag: etag, ExpiresAt: expiresAt}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("metastore: marshal idempotency record: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put(idemKey(path, writeID), data)
	})
	if err != nil {
		return fmt.Errorf("metastore: put idempotency %s/%s: %w", path, writeID, errs.ErrIO)
	}
	return nil
}

// LookupIdempotency returns a previously recorded (generation, etag)
// for (path, writeID), if present and not expired.
func (s *Store) LookupIdempotency(path, writeID string, now time.Time) (uint64, string, bool, error) {
	var rec idempotencyRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIdempotency).Get(idemKey(path, writeID))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return 0, "", false, fmt.Errorf("metastore: lookup idempotency %s/%s: %w", path, writeID, errs.ErrIO)
	}
	if !found || now.After(rec.ExpiresAt) {
		return 0, "", false, nil
	}
	return rec.Generation, rec.ETag, true, nil
}

// ExpireIdempotency deletes idempotency rows whose expiry has passed.
func (s *Store) ExpireIdempotency(now time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIdempotency)
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var rec idempotencyRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if now.After(rec.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("metastore: expire idempotency: %w", errs.ErrIO)
	}
	return removed, nil
}

// contentHash is the sha256 of a head's canonical JSON bytes, the
// final tiebreaker when two heads share a generation. bolt's []byte
// values from Get/ForEach are only valid for the transaction's
// lifetime, so callers must hash before it closes.
func contentHash(data []byte) [32]byte {
	return sha256.Sum256(data)
}
