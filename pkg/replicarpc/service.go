package replicarpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name, mirroring the
// path a protoc-generated package would have used.
const ServiceName = "amberio.replica.v1.ReplicaRPC"

// Server is implemented by a node's replica RPC handler: the per-slot
// SlotEngine operations exposed over the wire.
type Server interface {
	PushPart(ctx context.Context, req *PushPartRequest) (*PushPartResponse, error)
	CommitHead(ctx context.Context, req *CommitHeadRequest) (*CommitHeadResponse, error)
	FetchHead(ctx context.Context, req *FetchHeadRequest) (*FetchHeadResponse, error)
	FetchPart(ctx context.Context, req *FetchPartRequest) (*FetchPartResponse, error)
	BucketDigest(ctx context.Context, req *BucketDigestRequest) (*BucketDigestResponse, error)
	BucketList(ctx context.Context, req *BucketListRequest) (*BucketListResponse, error)
}

func _ReplicaRPC_PushPart_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PushPartRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).PushPart(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/PushPart"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).PushPart(ctx, req.(*PushPartRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ReplicaRPC_CommitHead_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CommitHeadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).CommitHead(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/CommitHead"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).CommitHead(ctx, req.(*CommitHeadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ReplicaRPC_FetchHead_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(FetchHeadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).FetchHead(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/FetchHead"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).FetchHead(ctx, req.(*FetchHeadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ReplicaRPC_FetchPart_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(FetchPartRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).FetchPart(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/FetchPart"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).FetchPart(ctx, req.(*FetchPartRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ReplicaRPC_BucketDigest_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(BucketDigestRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).BucketDigest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/BucketDigest"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).BucketDigest(ctx, req.(*BucketDigestRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ReplicaRPC_BucketList_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(BucketListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).BucketList(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/BucketList"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).BucketList(ctx, req.(*BucketListRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is the hand-written equivalent of a protoc-generated
// grpc.ServiceDesc. All six methods are unary.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PushPart", Handler: _ReplicaRPC_PushPart_Handler},
		{MethodName: "CommitHead", Handler: _ReplicaRPC_CommitHead_Handler},
		{MethodName: "FetchHead", Handler: _ReplicaRPC_FetchHead_Handler},
		{MethodName: "FetchPart", Handler: _ReplicaRPC_FetchPart_Handler},
		{MethodName: "BucketDigest", Handler: _ReplicaRPC_BucketDigest_Handler},
		{MethodName: "BucketList", Handler: _ReplicaRPC_BucketList_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "amberio/replicarpc.proto",
}

// RegisterServer attaches srv's handlers to s under ServiceName.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}
