package transport

import (
	"context"

	"github.com/quorumkv/raft/pkg/raft"
	"google.golang.org/grpc"
)

// ReplicationServer is the service-side contract the generated (here,
// hand-written) gRPC handlers dispatch to — satisfied directly by
// *raft.ServerContext.
type ReplicationServer interface {
	HandleAppend(raft.AppendRequest) raft.AppendResponse
	HandleInstall(raft.InstallRequest) raft.InstallResponse
	HandleQuery(raft.QueryRequest) raft.QueryResponse
	HandleRequestVote(raft.RequestVoteRequest) raft.RequestVoteReply
}

// serviceName is the fully-qualified gRPC service name used on the wire.
const serviceName = "quorumkv.raft.Replication"

func appendHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var req raft.AppendRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		resp := srv.(ReplicationServer).HandleAppend(req)
		return &resp, nil
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Append"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		resp := srv.(ReplicationServer).HandleAppend(*req.(*raft.AppendRequest))
		return &resp, nil
	}
	return interceptor(ctx, &req, info, handler)
}

func installHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var req raft.InstallRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		resp := srv.(ReplicationServer).HandleInstall(req)
		return &resp, nil
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Install"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		resp := srv.(ReplicationServer).HandleInstall(*req.(*raft.InstallRequest))
		return &resp, nil
	}
	return interceptor(ctx, &req, info, handler)
}

func queryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var req raft.QueryRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		resp := srv.(ReplicationServer).HandleQuery(req)
		return &resp, nil
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Query"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		resp := srv.(ReplicationServer).HandleQuery(*req.(*raft.QueryRequest))
		return &resp, nil
	}
	return interceptor(ctx, &req, info, handler)
}

func requestVoteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var req raft.RequestVoteRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		resp := srv.(ReplicationServer).HandleRequestVote(req)
		return &resp, nil
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/RequestVote"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		resp := srv.(ReplicationServer).HandleRequestVote(*req.(*raft.RequestVoteRequest))
		return &resp, nil
	}
	return interceptor(ctx, &req, info, handler)
}

// serviceDesc describes the Replication service to grpc.Server.RegisterService.
// Every RPC is unary: the spec's chunked snapshot install is naturally a
// sequence of independent unary Install calls keyed by chunk offset, so a
// streaming RPC buys nothing here.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ReplicationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Append", Handler: appendHandler},
		{MethodName: "Install", Handler: installHandler},
		{MethodName: "Query", Handler: queryHandler},
		{MethodName: "RequestVote", Handler: requestVoteHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quorumkv/raft/replication.proto",
}

// RegisterReplicationServer registers srv against s. It does not select a
// codec; a server built by NewGRPCServer forces the gob codec for every call.
func RegisterReplicationServer(s *grpc.Server, srv ReplicationServer) {
	s.RegisterService(&serviceDesc, srv)
}
