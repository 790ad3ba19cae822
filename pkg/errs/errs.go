// Package errs defines the error kinds the core surfaces to callers,
// per the error handling design in the spec: a fixed vocabulary the
// coordinator and read path classify transient/permanent failures
// against, rather than raw disk or RPC errors leaking through.
package errs

import "errors"

// Sentinel errors returned by core operations. Wrap with fmt.Errorf's
// %w so callers can errors.Is against these.
var (
	// ErrNotFound means no live head exists for the path.
	ErrNotFound = errors.New("amberio: not found")

	// ErrTombstoned means the effective head is a tombstone.
	ErrTombstoned = errors.New("amberio: tombstoned")

	// ErrQuorumFailed means fewer than W replicas applied within the
	// deadline. Retryable with the same write_id.
	ErrQuorumFailed = errors.New("amberio: quorum failed")

	// ErrConflict means a concurrent ingress won the generation race.
	// Retryable.
	ErrConflict = errors.New("amberio: conflict")

	// ErrDigestMismatch means received bytes did not hash to the
	// declared sha256. Permanent.
	ErrDigestMismatch = errors.New("amberio: digest mismatch")

	// ErrIO wraps disk or metadata-store failures. The operation
	// failed; GC or anti-entropy may repair the slot later.
	ErrIO = errors.New("amberio: io error")

	// ErrUnavailable means no replicas were reachable. Retryable.
	ErrUnavailable = errors.New("amberio: unavailable")

	// ErrInvalidPath means normalization rejected the input. Permanent.
	ErrInvalidPath = errors.New("amberio: invalid path")
)

// Transient reports whether err represents a failure the caller may
// retry without changing anything about the request.
func Transient(err error) bool {
	switch {
	case errors.Is(err, ErrQuorumFailed),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrIO):
		return true
	default:
		return false
	}
}
