// Package partstore holds the content-addressed, immutable part files
// that back every meta head: objects/<path>/part.<hex_sha256>.
package partstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/flaneur2020/amberio/pkg/errs"
	"github.com/flaneur2020/amberio/pkg/log"
	"github.com/flaneur2020/amberio/pkg/metrics"
	"github.com/flaneur2020/amberio/pkg/types"
)

// Store manages the on-disk object layout for a single slot root.
type Store struct {
	root   string
	logger zerolog.Logger
}

// New returns a Store rooted at <root>/objects.
func New(root string, slotID types.SlotID) *Store {
	return &Store{
		root:   filepath.Join(root, "objects"),
		logger: log.WithSlot(uint32(slotID)),
	}
}

func (s *Store) pathDir(path string) string {
	return filepath.Join(s.root, path)
}

func (s *Store) finalName(dir, hexSHA string) string {
	return filepath.Join(dir, "part."+hexSHA)
}

// StageWrite streams r to a temp file under objects/<path>/, computing
// its SHA-256 as it goes, then fsyncs and atomically renames to
// part.<hex_sha256>. If a file with that final name already exists
// with a matching length, the staged temp file is discarded instead
// (dedup). Either way the returned PartRef's Length is authoritative.
func (s *Store) StageWrite(path string, r io.Reader) (types.PartRef, error) {
	dir := s.pathDir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.PartRef{}, fmt.Errorf("partstore: mkdir %s: %w", dir, errs.ErrIO)
	}

	tmp, err := os.CreateTemp(dir, "part.*.tmp")
	if err != nil {
		return types.PartRef{}, fmt.Errorf("partstore: create temp: %w", errs.ErrIO)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }() // no-op once renamed away

	hasher := sha256.New()
	length, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		tmp.Close()
		return types.PartRef{}, fmt.Errorf("partstore: write temp: %w", errs.ErrIO)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return types.PartRef{}, fmt.Errorf("partstore: fsync temp: %w", errs.ErrIO)
	}
	if err := tmp.Close(); err != nil {
		return types.PartRef{}, fmt.Errorf("partstore: close temp: %w", errs.ErrIO)
	}

	sum := hasher.Sum(nil)
	var ref types.PartRef
	copy(ref.SHA256[:], sum)
	ref.Length = uint64(length)

	final := s.finalName(dir, ref.HexSHA256())
	if fi, statErr := os.Stat(final); statErr == nil && fi.Size() == length {
		metrics.PartsDedupedTotal.Inc()
		return ref, nil
	}

	if err := os.Rename(tmpName, final); err != nil {
		return types.PartRef{}, fmt.Errorf("partstore: rename to %s: %w", final, errs.ErrIO)
	}
	metrics.PartsStagedTotal.Inc()
	metrics.PartBytesWritten.Add(float64(length))
	s.logger.Debug().Str("path", path).Str("sha256", ref.HexSHA256()).Uint64("length", ref.Length).Msg("part staged")
	return ref, nil
}

// Open returns a reader for an existing part. Callers must Close it.
func (s *Store) Open(path string, sha [32]byte) (io.ReadCloser, error) {
	dir := s.pathDir(path)
	final := s.finalName(dir, hex.EncodeToString(sha[:]))
	f, err := os.Open(final)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("partstore: %s: %w", final, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("partstore: open %s: %w", final, errs.ErrIO)
	}
	return f, nil
}

// Remove deletes a part file. Missing files are not an error.
func (s *Store) Remove(path string, sha [32]byte) error {
	dir := s.pathDir(path)
	final := s.finalName(dir, hex.EncodeToString(sha[:]))
	if err := os.Remove(final); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("partstore: remove %s: %w", final, errs.ErrIO)
	}
	return nil
}

// SweepTmp deletes any leftover .tmp files from a prior crash. It is
// called once per slot on node start.
func (s *Store) SweepTmp() error {
	return filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(info.Name(), ".tmp") {
			s.logger.Warn().Str("file", p).Msg("sweeping orphaned tmp part")
			_ = os.Remove(p)
		}
		return nil
	})
}

// Root returns the objects/ directory this store is rooted at, for GC
// to enumerate part.* files across every path.
func (s *Store) Root() string {
	return s.root
}
