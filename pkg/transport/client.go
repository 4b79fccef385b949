package transport

import (
	"context"
	"fmt"

	"github.com/quorumkv/raft/pkg/raft"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GRPCPeerProxy implements raft.PeerProxy over a single persistent gRPC
// connection to one peer.
type GRPCPeerProxy struct {
	info raft.NodeInfo
	conn *grpc.ClientConn
}

// GRPCPeerProxyFactory implements raft.PeerProxyFactory, dialing peers
// lazily and non-blockingly — gRPC connects in the background and retries
// on failure, matching the core's assumption that peer RPCs fail fast
// rather than block the caller.
type GRPCPeerProxyFactory struct{}

// NewPeerProxy dials info.Address without blocking for the connection to
// become ready; the first RPC on a not-yet-ready connection simply queues
// or fails per its deadline.
func (GRPCPeerProxyFactory) NewPeerProxy(info raft.NodeInfo) raft.PeerProxy {
	conn, err := grpc.NewClient(info.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(gobCodec{})),
	)
	if err != nil {
		// grpc.NewClient only fails on malformed target strings; a bad
		// static configuration entry is a startup-time bug, not a
		// transient condition to retry.
		panic(fmt.Sprintf("transport: invalid peer address %q: %v", info.Address, err))
	}
	return &GRPCPeerProxy{info: info, conn: conn}
}

func (p *GRPCPeerProxy) NodeID() raft.NodeID { return p.info.NodeID }

func (p *GRPCPeerProxy) Append(ctx context.Context, req raft.AppendRequest) (raft.AppendResponse, error) {
	var resp raft.AppendResponse
	err := p.conn.Invoke(ctx, "/"+serviceName+"/Append", &req, &resp)
	return resp, err
}

func (p *GRPCPeerProxy) Install(ctx context.Context, req raft.InstallRequest) (raft.InstallResponse, error) {
	var resp raft.InstallResponse
	err := p.conn.Invoke(ctx, "/"+serviceName+"/Install", &req, &resp)
	return resp, err
}

func (p *GRPCPeerProxy) RequestVote(ctx context.Context, req raft.RequestVoteRequest) (raft.RequestVoteReply, error) {
	var resp raft.RequestVoteReply
	err := p.conn.Invoke(ctx, "/"+serviceName+"/RequestVote", &req, &resp)
	return resp, err
}

func (p *GRPCPeerProxy) Query(ctx context.Context, req raft.QueryRequest) (raft.QueryResponse, error) {
	var resp raft.QueryResponse
	err := p.conn.Invoke(ctx, "/"+serviceName+"/Query", &req, &resp)
	return resp, err
}
