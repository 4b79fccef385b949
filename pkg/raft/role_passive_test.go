package raft

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubPeerFactory struct{}

func (stubPeerFactory) NewPeerProxy(info NodeInfo) PeerProxy { return noopPeer{id: info.NodeID} }

// noopPeer answers every RPC with a connection error, standing in for a
// peer that is configured but never actually dialed in these tests.
type noopPeer struct{ id NodeID }

func (p noopPeer) NodeID() NodeID { return p.id }
func (p noopPeer) Append(ctx context.Context, req AppendRequest) (AppendResponse, error) {
	return AppendResponse{}, errNoopPeer
}
func (p noopPeer) Install(ctx context.Context, req InstallRequest) (InstallResponse, error) {
	return InstallResponse{}, errNoopPeer
}
func (p noopPeer) RequestVote(ctx context.Context, req RequestVoteRequest) (RequestVoteReply, error) {
	return RequestVoteReply{}, errNoopPeer
}
func (p noopPeer) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	return QueryResponse{}, errNoopPeer
}

var errNoopPeer = errors.New("noop peer: not connected")

func newTestContext(t *testing.T) *ServerContext {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LocalNode = NodeInfo{NodeID: "self", Address: "local"}
	cfg.Members = []NodeInfo{cfg.LocalNode}
	cfg.DataDir = t.TempDir()

	ctx, err := NewServerContext(cfg, &recordingStateMachine{}, stubPeerFactory{})
	require.NoError(t, err)
	ctx.executing = 1 // role handlers assert checkThread(); tests call them off-mailbox
	return ctx
}

func appendFixtureEntries(t *testing.T, ctx *ServerContext, n int, term uint64) {
	t.Helper()
	ctx.log.Lock()
	defer ctx.log.Unlock()
	for i := 0; i < n; i++ {
		_, err := ctx.log.Append(Entry{Term: term, Kind: EntryCommand})
		require.NoError(t, err)
	}
}

// Scenario 1: Reject-on-stale-term.
func TestPassiveRejectsStaleTermAppend(t *testing.T) {
	ctx := newTestContext(t)
	ctx.currentTerm = 5
	appendFixtureEntries(t, ctx, 10, 5)

	role := newPassiveRole()
	resp := role.Append(ctx, AppendRequest{Term: 4, Leader: "B", LogIndex: 10, CommitIndex: 10})

	require.False(t, resp.Succeeded)
	require.EqualValues(t, 5, resp.Term)
	require.EqualValues(t, 10, resp.LogIndex)
	require.EqualValues(t, 10, ctx.log.LastIndex())
}

// Scenario 2: Passive commits only up to newCommit.
func TestPassiveCommitsOnlyUpToNewCommit(t *testing.T) {
	ctx := newTestContext(t)
	ctx.currentTerm = 3
	ctx.commitIndex = 5
	appendFixtureEntries(t, ctx, 5, 3)

	role := newPassiveRole()
	resp := role.Append(ctx, AppendRequest{
		Term: 3, Leader: "A", LogIndex: 5, CommitIndex: 7,
		Entries: []IndexedEntry{
			{Index: 6, Term: 3, Entry: Entry{Term: 3, Payload: []byte("x")}},
			{Index: 7, Term: 3, Entry: Entry{Term: 3, Payload: []byte("y")}},
			{Index: 8, Term: 3, Entry: Entry{Term: 3, Payload: []byte("z")}},
		},
	})

	require.True(t, resp.Succeeded)
	require.EqualValues(t, 8, resp.LogIndex)
	require.EqualValues(t, 7, ctx.commitIndex)

	_, ok6 := ctx.log.Get(6)
	_, ok7 := ctx.log.Get(7)
	_, ok8 := ctx.log.Get(8)
	require.True(t, ok6)
	require.True(t, ok7)
	require.False(t, ok8)
}

// Scenario 3: Snapshot install happy path.
func TestPassiveSnapshotInstallHappyPath(t *testing.T) {
	ctx := newTestContext(t)
	role := newPassiveRole()

	resp := role.Install(ctx, InstallRequest{ID: "42", Index: 100, Offset: 0, Data: []byte{0x01, 0x02}, Complete: false})
	require.Equal(t, StatusOK, resp.Status)

	resp = role.Install(ctx, InstallRequest{ID: "42", Index: 100, Offset: 1, Data: []byte{0x03}, Complete: true})
	require.Equal(t, StatusOK, resp.Status)

	snap, ok := ctx.snapshots.GetSnapshot("42")
	require.True(t, ok)
	require.Equal(t, SnapshotComplete, snap.Status)

	r, err := snap.Open()
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, data)

	_, pending := ctx.pending.Get("42")
	require.False(t, pending)
	require.EqualValues(t, 0, ctx.pending.NextOffset())
}

// Regression: a retried final chunk (the original reply was lost) must be
// answered idempotently instead of rejected, even though the transfer is no
// longer tracked as pending once it completes.
func TestPassiveSnapshotInstallFinalChunkReplayIsIdempotent(t *testing.T) {
	ctx := newTestContext(t)
	role := newPassiveRole()

	resp := role.Install(ctx, InstallRequest{ID: "42", Index: 100, Offset: 0, Data: []byte{0x01, 0x02}, Complete: false})
	require.Equal(t, StatusOK, resp.Status)

	resp = role.Install(ctx, InstallRequest{ID: "42", Index: 100, Offset: 1, Data: []byte{0x03}, Complete: true})
	require.Equal(t, StatusOK, resp.Status)

	_, pending := ctx.pending.Get("42")
	require.False(t, pending)

	// The sender never saw the OK above and retries the same final chunk.
	resp = role.Install(ctx, InstallRequest{ID: "42", Index: 100, Offset: 1, Data: []byte{0x03}, Complete: true})
	require.Equal(t, StatusOK, resp.Status)

	snap, ok := ctx.snapshots.GetSnapshot("42")
	require.True(t, ok)
	require.Equal(t, SnapshotComplete, snap.Status)
}

// Scenario 4: Snapshot install gap rejected.
func TestPassiveSnapshotInstallGapRejected(t *testing.T) {
	ctx := newTestContext(t)
	role := newPassiveRole()

	resp := role.Install(ctx, InstallRequest{ID: "42", Index: 100, Offset: 0, Data: []byte{0x01}, Complete: false})
	require.Equal(t, StatusOK, resp.Status)

	resp = role.Install(ctx, InstallRequest{ID: "42", Index: 100, Offset: 2, Data: []byte{0x02}, Complete: false})
	require.Equal(t, StatusError, resp.Status)
	require.Equal(t, ErrIllegalMemberState, resp.Error.Kind)

	_, ok := ctx.pending.Get("42")
	require.True(t, ok)
	require.EqualValues(t, 1, ctx.pending.NextOffset())
}

// Scenario 5: Sequential query forwarded due to session freshness.
func TestPassiveSequentialQueryForwardedWhenStale(t *testing.T) {
	ctx := newTestContext(t)
	ctx.executor = NewExecutor(&recordingStateMachine{}, 9)

	role := newPassiveRole()
	resp := role.Query(ctx, QueryRequest{Session: 20, Sequence: 1, Consistency: Sequential})

	require.Equal(t, StatusError, resp.Status)
	require.Equal(t, ErrNoLeader, resp.Error.Kind)
}

// Scenario 6: Truncate-on-open.
func TestPassiveTruncatesUncommittedTailOnOpen(t *testing.T) {
	ctx := newTestContext(t)
	ctx.commitIndex = 12
	appendFixtureEntries(t, ctx, 15, 1)

	role := newPassiveRole()
	role.Open(ctx)

	require.EqualValues(t, 12, ctx.log.LastIndex())
}
