// Package replicarpc is the internal replica-to-replica RPC surface:
// PushPart, CommitHead, FetchHead, FetchPart, BucketDigest, BucketList.
// It runs over gRPC using a hand-written JSON wire codec in place of
// protobuf-generated stubs (see codec.go for why).
package replicarpc

// PushPartRequest carries one part's bytes to a replica.
type PushPartRequest struct {
	SlotID uint32 `json:"slot_id"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Length uint64 `json:"length"`
	Data   []byte `json:"data"`
}

// PushPartResponse acknowledges a part push.
type PushPartResponse struct {
	OK bool `json:"ok"`
}

// PartRefWire is the wire shape of types.PartRef.
type PartRefWire struct {
	SHA256 string `json:"sha256"`
	Length uint64 `json:"length"`
	Offset uint64 `json:"offset"`
}

// CommitHeadRequest carries a head to apply, plus the parts it
// references so the receiving SlotEngine can upsert them first.
type CommitHeadRequest struct {
	SlotID          uint32        `json:"slot_id"`
	Path            string        `json:"path"`
	HeadKind        string        `json:"head_kind"`
	HeadJSON        []byte        `json:"head_json"`
	ContentHash     string        `json:"content_hash"`
	ReferencedParts []PartRefWire `json:"referenced_parts"`
}

// CommitHeadResponse reports whether the head was applied or was a
// stale no-op, either way carrying the resulting current generation.
type CommitHeadResponse struct {
	Applied    bool   `json:"applied"`
	Generation uint64 `json:"generation"`
}

// FetchHeadRequest asks a replica for its effective head for path.
type FetchHeadRequest struct {
	SlotID uint32 `json:"slot_id"`
	Path   string `json:"path"`
}

// FetchHeadResponse carries the replica's effective head, if any.
type FetchHeadResponse struct {
	Found       bool   `json:"found"`
	HeadKind    string `json:"head_kind"`
	HeadJSON    []byte `json:"head_json"`
	ContentHash string `json:"content_hash"`
	Generation  uint64 `json:"generation"`
}

// FetchPartRequest asks a replica for one part's bytes. Parts are
// capped at part_size, so this is a bounded unary call rather than a
// server-streaming RPC.
type FetchPartRequest struct {
	SlotID uint32 `json:"slot_id"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// FetchPartResponse carries the requested part's bytes.
type FetchPartResponse struct {
	Found bool   `json:"found"`
	Data  []byte `json:"data"`
}

// BucketDigestRequest asks for anti-entropy bucket digests over a
// slot's current heads.
type BucketDigestRequest struct {
	SlotID    uint32 `json:"slot_id"`
	PrefixLen int    `json:"prefix_len"`
}

// BucketDigestResponse maps each bucket prefix to its digest.
type BucketDigestResponse struct {
	Digests map[uint32]uint64 `json:"digests"`
}

// HeadSummaryWire is the wire shape of metastore.HeadSummary.
type HeadSummaryWire struct {
	Path        string `json:"path"`
	Kind        string `json:"kind"`
	Generation  uint64 `json:"generation"`
	ContentHash string `json:"content_hash"`
}

// BucketListRequest asks for the full head list of one diverged
// bucket, for anti-entropy's diff phase.
type BucketListRequest struct {
	SlotID uint32 `json:"slot_id"`
	Prefix uint32 `json:"prefix"`
}

// BucketListResponse carries the requested bucket's heads.
type BucketListResponse struct {
	Heads []HeadSummaryWire `json:"heads"`
}
