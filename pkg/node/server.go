package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/flaneur2020/amberio/pkg/antientropy"
	"github.com/flaneur2020/amberio/pkg/errs"
	"github.com/flaneur2020/amberio/pkg/replicarpc"
	"github.com/flaneur2020/amberio/pkg/slotengine"
	"github.com/flaneur2020/amberio/pkg/types"
)

// server adapts a Node's local slot engines to the replicarpc.Server
// interface, the surface peers call into for PushPart, CommitHead,
// FetchHead, FetchPart, BucketDigest and BucketList.
type server struct {
	node *Node
}

func (s *server) engineFor(slotID uint32) (*slotengine.Engine, error) {
	engine, ok := s.node.engines[types.SlotID(slotID)]
	if !ok {
		return nil, fmt.Errorf("node: slot %d not locally owned: %w", slotID, errs.ErrUnavailable)
	}
	return engine, nil
}

func (s *server) PushPart(ctx context.Context, req *replicarpc.PushPartRequest) (*replicarpc.PushPartResponse, error) {
	eng, err := s.engineFor(req.SlotID)
	if err != nil {
		return nil, err
	}
	sha, err := decodeHexSHA(req.SHA256)
	if err != nil {
		return nil, err
	}
	if _, err := eng.ApplyPart(req.Path, sha, req.Length, bytes.NewReader(req.Data)); err != nil {
		return nil, err
	}
	return &replicarpc.PushPartResponse{OK: true}, nil
}

func (s *server) CommitHead(ctx context.Context, req *replicarpc.CommitHeadRequest) (*replicarpc.CommitHeadResponse, error) {
	eng, err := s.engineFor(req.SlotID)
	if err != nil {
		return nil, err
	}
	head, err := decodeWireHeadJSON(req.HeadKind, req.HeadJSON, req.ContentHash)
	if err != nil {
		return nil, err
	}
	parts := make([]types.PartRef, len(req.ReferencedParts))
	for i, p := range req.ReferencedParts {
		sha, err := decodeHexSHA(p.SHA256)
		if err != nil {
			return nil, err
		}
		parts[i] = types.PartRef{SHA256: sha, Length: p.Length, Offset: p.Offset}
	}

	result, err := eng.CommitHead(req.Path, head, parts)
	if err != nil {
		return nil, err
	}
	return &replicarpc.CommitHeadResponse{Applied: result.Applied, Generation: result.Generation}, nil
}

func (s *server) FetchHead(ctx context.Context, req *replicarpc.FetchHeadRequest) (*replicarpc.FetchHeadResponse, error) {
	eng, err := s.engineFor(req.SlotID)
	if err != nil {
		return nil, err
	}
	head, ok, err := eng.HeadOf(req.Path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &replicarpc.FetchHeadResponse{Found: false}, nil
	}

	kind, data, err := encodeWireHeadJSON(head)
	if err != nil {
		return nil, err
	}
	return &replicarpc.FetchHeadResponse{
		Found:       true,
		HeadKind:    kind,
		HeadJSON:    data,
		ContentHash: hex.EncodeToString(head.ContentHash[:]),
		Generation:  head.Generation(),
	}, nil
}

func (s *server) FetchPart(ctx context.Context, req *replicarpc.FetchPartRequest) (*replicarpc.FetchPartResponse, error) {
	eng, err := s.engineFor(req.SlotID)
	if err != nil {
		return nil, err
	}
	sha, err := decodeHexSHA(req.SHA256)
	if err != nil {
		return nil, err
	}
	r, err := eng.PartStore().Open(req.Path, sha)
	if err != nil {
		if errs.Transient(err) {
			return nil, err
		}
		return &replicarpc.FetchPartResponse{Found: false}, nil
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("node: read part %s: %w", req.SHA256, errs.ErrIO)
	}
	return &replicarpc.FetchPartResponse{Found: true, Data: buf.Bytes()}, nil
}

func (s *server) BucketDigest(ctx context.Context, req *replicarpc.BucketDigestRequest) (*replicarpc.BucketDigestResponse, error) {
	eng, err := s.engineFor(req.SlotID)
	if err != nil {
		return nil, err
	}
	digests, _, err := antientropy.BucketDigests(eng, req.PrefixLen)
	if err != nil {
		return nil, err
	}
	return &replicarpc.BucketDigestResponse{Digests: digests}, nil
}

func (s *server) BucketList(ctx context.Context, req *replicarpc.BucketListRequest) (*replicarpc.BucketListResponse, error) {
	eng, err := s.engineFor(req.SlotID)
	if err != nil {
		return nil, err
	}
	heads, err := antientropy.BucketHeads(eng, s.node.bucketPrefix, req.Prefix)
	if err != nil {
		return nil, err
	}
	out := make([]replicarpc.HeadSummaryWire, len(heads))
	for i, h := range heads {
		out[i] = replicarpc.HeadSummaryWire{
			Path:        h.Path,
			Kind:        string(h.Kind),
			Generation:  h.Generation,
			ContentHash: hex.EncodeToString(h.ContentHash[:]),
		}
	}
	return &replicarpc.BucketListResponse{Heads: out}, nil
}

func decodeHexSHA(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out, fmt.Errorf("node: invalid sha256 %q: %w", s, errs.ErrDigestMismatch)
	}
	copy(out[:], b)
	return out, nil
}

func encodeWireHeadJSON(head types.Head) (string, []byte, error) {
	if head.Kind == types.HeadKindMeta {
		data, err := json.Marshal(head.Meta)
		return string(types.HeadKindMeta), data, err
	}
	data, err := json.Marshal(head.Tombstone)
	return string(types.HeadKindTombstone), data, err
}

func decodeWireHeadJSON(kind string, data []byte, contentHashHex string) (types.Head, error) {
	var contentHash [32]byte
	b, err := hex.DecodeString(contentHashHex)
	if err != nil {
		return types.Head{}, fmt.Errorf("node: decode content hash: %w", err)
	}
	copy(contentHash[:], b)

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
		return types.Head{}, fmt.Errorf("node: unknown head kind %q", kind)
	}
}
