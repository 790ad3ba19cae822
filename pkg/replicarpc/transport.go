package replicarpc

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/flaneur2020/amberio/pkg/log"
)

// NewServer returns a gRPC server configured for the JSON codec
// transport, ready for RegisterServer and Serve. Transport security is
// intentionally absent (see DESIGN.md): cluster members are assumed to
// run on a trusted network, matching the core's stated scope (no ACL
// or multi-tenancy support). A unary interceptor translates every
// handler's errs sentinel into the matching gRPC status so callers
// classify transient/permanent failures without string-matching.
func NewServer(opts ...grpc.ServerOption) *grpc.Server {
	chain := append([]grpc.ServerOption{grpc.UnaryInterceptor(statusInterceptor)}, opts...)
	return grpc.NewServer(chain...)
}

func statusInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		return resp, statusFor(err)
	}
	return resp, nil
}

// Serve blocks accepting connections on lis for s, logging the listen
// address once bound.
func Serve(s *grpc.Server, lis net.Listener) error {
	log.WithComponent("replica_rpc").Info().Str("addr", lis.Addr().String()).Msg("replica rpc server listening")
	return s.Serve(lis)
}

// Dial opens a client connection to a peer replica at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("replicarpc: dial %s: %w", addr, err)
	}
	return NewClient(cc), nil
}
