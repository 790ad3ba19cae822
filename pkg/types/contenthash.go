package types

import (
	"crypto/sha256"
	"encoding/json"
)

// HashJSON marshals v (a *MetaHead or *Tombstone) to its canonical
// JSON bytes and returns both the bytes and their sha256. Go's
// encoding/json always emits struct fields in declaration order, so
// this is deterministic across calls for the same value — the
// property CommitHead's ContentHash tiebreak and MetaStore's stored
// content hash both depend on.
func HashJSON(v interface{}) ([32]byte, []byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return [32]byte{}, nil, err
	}
	return sha256.Sum256(data), data, nil
}
