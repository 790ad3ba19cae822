// Package readpath serves GET and LIST: preferring the local replica,
// falling back to peers for missing or corrupt parts, and lazily
// repairing the local replica when it is behind.
package readpath

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/flaneur2020/amberio/pkg/errs"
	"github.com/flaneur2020/amberio/pkg/log"
	"github.com/flaneur2020/amberio/pkg/membership"
	"github.com/flaneur2020/amberio/pkg/metrics"
	"github.com/flaneur2020/amberio/pkg/replicarpc"
	"github.com/flaneur2020/amberio/pkg/router"
	"github.com/flaneur2020/amberio/pkg/slotengine"
	"github.com/flaneur2020/amberio/pkg/types"
)

// GetResult carries an object's metadata and a reader over its body.
// The reader concatenates parts in order and must be closed by the
// caller.
type GetResult struct {
	Generation uint64
	Size       uint64
	ETag       string
	Body       io.ReadCloser
}

// ObjectSummary is one entry in a List response.
type ObjectSummary struct {
	Path       string
	Size       uint64
	ETag       string
	Generation uint64
}

// ReadPath resolves GET/LIST for the slots the local node replicates,
// falling back to peers named by the current membership view when a
// part is missing locally.
type ReadPath struct {
	nodeID  string
	view    *membership.View
	engines map[types.SlotID]*slotengine.Engine
	pool    *replicarpc.Pool
	logger  zerolog.Logger
}

// New constructs a ReadPath over the slot engines the local node owns.
func New(nodeID string, view *membership.View, engines map[types.SlotID]*slotengine.Engine, pool *replicarpc.Pool) *ReadPath {
	return &ReadPath{
		nodeID:  nodeID,
		view:    view,
		engines: engines,
		pool:    pool,
		logger:  log.WithComponent("readpath"),
	}
}

// Get resolves path's effective head and returns a reader over its
// body. Missing parts are fetched from peer replicas and written back
// to the local store before being returned.
func (rp *ReadPath) Get(ctx context.Context, path string) (GetResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RequestDuration, "get")

	route, err := router.RouteFor(path, rp.view.Current())
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("get", "error").Inc()
		return GetResult{}, err
	}

	head, engine, err := rp.resolveHead(ctx, route)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("get", "error").Inc()
		return GetResult{}, err
	}
	if head.Kind == types.HeadKindTombstone {
		metrics.RequestsTotal.WithLabelValues("get", "tombstoned").Inc()
		return GetResult{}, fmt.Errorf("readpath: %s: %w", route.Path, errs.ErrTombstoned)
	}

	body := rp.openMultipart(ctx, route, engine, head.Meta.Parts)
	metrics.RequestsTotal.WithLabelValues("get", "success").Inc()
	return GetResult{
		Generation: head.Meta.Generation,
		Size:       head.Meta.Size,
		ETag:       head.Meta.ETag,
		Body:       body,
	}, nil
}

// resolveHead returns the effective head for route, preferring the
// local engine when the node replicates the slot. If the local
// engine has no head at all, it polls every peer replica, picks the
// winning head among their answers by Head.Less, and lazily repairs
// the local store with it, per the lazy-repair rule.
func (rp *ReadPath) resolveHead(ctx context.Context, route router.Route) (types.Head, *slotengine.Engine, error) {
	local := rp.engines[route.SlotID]
	if local != nil {
		if head, ok, err := local.HeadOf(route.Path); err != nil {
			return types.Head{}, nil, err
		} else if ok {
			return head, local, nil
		}
	}

	var best types.Head
	found := false
	for _, node := range route.Replicas {
		if node.ID == rp.nodeID {
			continue
		}
		client, err := rp.pool.Get(ctx, node.Addr)
		if err != nil {
			continue
		}
		resp, err := client.FetchHead(ctx, &replicarpc.FetchHeadRequest{SlotID: uint32(route.SlotID), Path: route.Path})
		if err != nil || !resp.Found {
			continue
		}
		head, err := decodeWireHead(resp.HeadKind, resp.HeadJSON, resp.ContentHash)
		if err != nil {
			continue
		}
		if !found || best.Less(head) {
			best, found = head, true
		}
	}

	if found {
		if local != nil {
			if _, err := local.CommitHead(route.Path, best, headParts(best)); err != nil {
				rp.logger.Warn().Err(err).Str("path", route.Path).Msg("lazy repair commit failed")
			}
		}
		return best, local, nil
	}

	return types.Head{}, nil, fmt.Errorf("readpath: %s: %w", route.Path, errs.ErrNotFound)
}

func headParts(head types.Head) []types.PartRef {
	if head.Kind == types.HeadKindMeta {
		return head.Meta.Parts
	}
	return nil
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
	case types.HeadKindTombstone:
		var ts types.Tombstone
		if err := json.Unmarshal(data, &ts); err != nil {
			return types.Head{}, err
		}
		return types.Head{Kind: types.HeadKindTombstone, Tombstone: &ts, ContentHash: contentHash}, nil
	default:
		return types.Head{}, fmt.Errorf("readpath: unknown head kind %q", kind)
	}
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("readpath: decode content hash: %w", err)
	}
	copy(out[:], b)
	return out, nil
}

// multipartReader concatenates a sequence of part readers, fetching
// each lazily as the previous one is exhausted.
type multipartReader struct {
	ctx     context.Context
	rp      *ReadPath
	route   router.Route
	engine  *slotengine.Engine
	parts   []types.PartRef
	index   int
	current io.ReadCloser
}

func (rp *ReadPath) openMultipart(ctx context.Context, route router.Route, engine *slotengine.Engine, parts []types.PartRef) io.ReadCloser {
	return &multipartReader{ctx: ctx, rp: rp, route: route, engine: engine, parts: parts}
}

func (m *multipartReader) Read(p []byte) (int, error) {
	for {
		if m.current == nil {
			if m.index >= len(m.parts) {
				return 0, io.EOF
			}
			r, err := m.openPart(m.parts[m.index])
			if err != nil {
				return 0, err
			}
			m.current = r
		}
		n, err := m.current.Read(p)
		if err == io.EOF {
			_ = m.current.Close()
			m.current = nil
			m.index++
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (m *multipartReader) Close() error {
	if m.current != nil {
		return m.current.Close()
	}
	return nil
}

// openPart serves a part from the local engine if present and its
// bytes hash to ref's digest (a local file that does not is removed),
// falling back to FetchPart against every other replica and writing
// the fetched bytes back to the local store.
func (m *multipartReader) openPart(ref types.PartRef) (io.ReadCloser, error) {
	if m.engine != nil {
		if r, err := m.engine.PartStore().Open(m.route.Path, ref.SHA256); err == nil {
			data, readErr := io.ReadAll(r)
			_ = r.Close()
			if readErr == nil {
				if sha256.Sum256(data) == ref.SHA256 {
					return io.NopCloser(bytes.NewReader(data)), nil
				}
				_ = m.engine.PartStore().Remove(m.route.Path, ref.SHA256)
			}
		}
	}

	for _, node := range m.route.Replicas {
		if node.ID == m.rp.nodeID {
			continue
		}
		client, err := m.rp.pool.Get(m.ctx, node.Addr)
		if err != nil {
			continue
		}
		resp, err := client.FetchPart(m.ctx, &replicarpc.FetchPartRequest{
			SlotID: uint32(m.route.SlotID),
			Path:   m.route.Path,
			SHA256: ref.HexSHA256(),
		})
		if err != nil || !resp.Found {
			continue
		}
		if m.engine != nil {
			if _, err := m.engine.ApplyPart(m.route.Path, ref.SHA256, ref.Length, bytes.NewReader(resp.Data)); err != nil {
				m.rp.logger.Warn().Err(err).Str("path", m.route.Path).Msg("write-back of fetched part failed")
			}
		}
		return io.NopCloser(bytes.NewReader(resp.Data)), nil
	}

	return nil, fmt.Errorf("readpath: part %s for %s: %w", ref.HexSHA256(), m.route.Path, errs.ErrNotFound)
}

// List returns every live (non-tombstoned) object whose normalized
// path starts with prefix, across every slot the local node
// replicates, up to limit entries in path order. It does not consult
// peers: list is served best-effort from local state, matching the
// membership-driven sharding the data is spread across.
func (rp *ReadPath) List(prefix string, limit int) ([]ObjectSummary, error) {
	var out []ObjectSummary
	slots := make([]types.SlotID, 0, len(rp.engines))
	for slot := range rp.engines {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	for _, slot := range slots {
		engine := rp.engines[slot]
		heads, err := engine.MetaStore().ScanSlotHeads()
		if err != nil {
			return nil, err
		}
		for _, h := range heads {
			if h.Kind != types.HeadKindMeta {
				continue
			}
			if !strings.HasPrefix(h.Path, prefix) {
				continue
			}
			head, ok, err := engine.HeadOf(h.Path)
			if err != nil || !ok || head.Kind != types.HeadKindMeta {
				continue
			}
			out = append(out, ObjectSummary{
				Path:       h.Path,
				Size:       head.Meta.Size,
				ETag:       head.Meta.ETag,
				Generation: h.Generation,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
