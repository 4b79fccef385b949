package raft

import "context"

// PeerProxy is the outbound RPC surface the core needs to drive
// replication and elections against one other cluster member. Transport
// adapters (gRPC, in-process, etc.) implement this; the core never sees
// wire bytes.
type PeerProxy interface {
	NodeID() NodeID
	Append(ctx context.Context, req AppendRequest) (AppendResponse, error)
	Install(ctx context.Context, req InstallRequest) (InstallResponse, error)
	RequestVote(ctx context.Context, req RequestVoteRequest) (RequestVoteReply, error)
	Query(ctx context.Context, req QueryRequest) (QueryResponse, error)
}

// PeerProxyFactory builds a PeerProxy for a given cluster member, letting
// the server context lazily connect to peers as they are discovered by the
// NodeSelectorManager's view.
type PeerProxyFactory interface {
	NewPeerProxy(info NodeInfo) PeerProxy
}

// FollowerIndex tracks a leader's per-follower replication progress:
// nextIndex is the next log index to send, matchIndex is the highest index
// known to be replicated on that follower.
type FollowerIndex struct {
	NodeID     NodeID
	NextIndex  uint64
	MatchIndex uint64
}
