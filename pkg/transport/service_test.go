package transport

import (
	"context"
	"testing"

	"github.com/quorumkv/raft/pkg/raft"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

// fakeReplicationServer records the last AppendRequest it received and
// returns canned responses, standing in for *raft.ServerContext.
type fakeReplicationServer struct {
	gotAppend raft.AppendRequest
}

func (f *fakeReplicationServer) HandleAppend(req raft.AppendRequest) raft.AppendResponse {
	f.gotAppend = req
	return raft.AppendResponse{Term: req.Term, Succeeded: true}
}
func (f *fakeReplicationServer) HandleInstall(req raft.InstallRequest) raft.InstallResponse {
	return raft.InstallResponse{Status: raft.StatusOK}
}
func (f *fakeReplicationServer) HandleQuery(req raft.QueryRequest) raft.QueryResponse {
	return raft.QueryResponse{Status: raft.StatusOK, Result: []byte("ok")}
}
func (f *fakeReplicationServer) HandleRequestVote(req raft.RequestVoteRequest) raft.RequestVoteReply {
	return raft.RequestVoteReply{VoteGranted: true, Term: req.Term}
}

func TestAppendHandlerDispatchesWithoutInterceptor(t *testing.T) {
	srv := &fakeReplicationServer{}
	req := raft.AppendRequest{Term: 3, Leader: "n1"}
	dec := func(v interface{}) error {
		*(v.(*raft.AppendRequest)) = req
		return nil
	}

	out, err := appendHandler(srv, context.Background(), dec, nil)
	require.NoError(t, err)
	resp := out.(*raft.AppendResponse)
	require.True(t, resp.Succeeded)
	require.EqualValues(t, 3, resp.Term)
	require.Equal(t, req, srv.gotAppend)
}

func TestAppendHandlerPropagatesDecodeError(t *testing.T) {
	srv := &fakeReplicationServer{}
	wantErr := context.Canceled
	dec := func(v interface{}) error { return wantErr }

	_, err := appendHandler(srv, context.Background(), dec, nil)
	require.ErrorIs(t, err, wantErr)
}

func TestAppendHandlerRunsThroughInterceptor(t *testing.T) {
	srv := &fakeReplicationServer{}
	req := raft.AppendRequest{Term: 9}
	dec := func(v interface{}) error {
		*(v.(*raft.AppendRequest)) = req
		return nil
	}

	called := false
	interceptor := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		called = true
		require.Equal(t, serviceName+"/Append", info.FullMethod)
		return handler(ctx, req)
	}

	out, err := appendHandler(srv, context.Background(), dec, interceptor)
	require.NoError(t, err)
	require.True(t, called)
	require.EqualValues(t, 9, out.(*raft.AppendResponse).Term)
}

func TestQueryHandlerDispatchesWithoutInterceptor(t *testing.T) {
	srv := &fakeReplicationServer{}
	dec := func(v interface{}) error { return nil }

	out, err := queryHandler(srv, context.Background(), dec, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), out.(*raft.QueryResponse).Result)
}

func TestRequestVoteHandlerDispatchesWithoutInterceptor(t *testing.T) {
	srv := &fakeReplicationServer{}
	req := raft.RequestVoteRequest{Term: 5}
	dec := func(v interface{}) error {
		*(v.(*raft.RequestVoteRequest)) = req
		return nil
	}

	out, err := requestVoteHandler(srv, context.Background(), dec, nil)
	require.NoError(t, err)
	reply := out.(*raft.RequestVoteReply)
	require.True(t, reply.VoteGranted)
	require.EqualValues(t, 5, reply.Term)
}

func TestInstallHandlerDispatchesWithoutInterceptor(t *testing.T) {
	srv := &fakeReplicationServer{}
	dec := func(v interface{}) error { return nil }

	out, err := installHandler(srv, context.Background(), dec, nil)
	require.NoError(t, err)
	require.Equal(t, raft.StatusOK, out.(*raft.InstallResponse).Status)
}
