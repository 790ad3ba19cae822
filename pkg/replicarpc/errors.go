package replicarpc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/flaneur2020/amberio/pkg/errs"
)

// statusFor maps a core sentinel error to the gRPC status code a
// server handler returns, so a transient/permanent classification
// survives the network hop without string-matching error messages.
func statusFor(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errs.ErrDigestMismatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrInvalidPath):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, errs.ErrQuorumFailed), errors.Is(err, errs.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, errs.ErrIO):
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}

// errorFromStatus is the client-side inverse of statusFor: it
// recovers a core sentinel (or determines plain transience) from a
// gRPC status returned by a peer, for retry classification.
func errorFromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return errs.ErrNotFound
	case codes.InvalidArgument:
		return errs.ErrDigestMismatch
	case codes.Aborted:
		return errs.ErrConflict
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return errs.ErrUnavailable
	case codes.Internal:
		return errs.ErrIO
	default:
		return err
	}
}
