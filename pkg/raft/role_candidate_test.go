package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCandidateOpenIncrementsTermAndVotesForSelf(t *testing.T) {
	ctx := newTestContext(t)
	ctx.currentTerm = 2
	ctx.role = newFollowerRole()

	cand := newCandidateRole()
	cand.Open(ctx)
	defer cand.Close(ctx)

	require.EqualValues(t, 3, ctx.currentTerm)
	require.Equal(t, ctx.id, ctx.votedFor)
	require.True(t, cand.votes[ctx.id])
}

func newThreeMemberTestContext(t *testing.T) *ServerContext {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LocalNode = NodeInfo{NodeID: "self", Address: "local"}
	cfg.Members = []NodeInfo{cfg.LocalNode, {NodeID: "n2", Address: "n2"}, {NodeID: "n3", Address: "n3"}}
	cfg.DataDir = t.TempDir()

	ctx, err := NewServerContext(cfg, &recordingStateMachine{}, stubPeerFactory{})
	require.NoError(t, err)
	ctx.executing = 1
	return ctx
}

func TestCandidateWinsElectionOnQuorumVotes(t *testing.T) {
	ctx := newThreeMemberTestContext(t)
	ctx.currentTerm = 2

	cand := newCandidateRole()
	ctx.role = cand
	cand.votes[ctx.id] = true // self-vote only: one short of the 2-of-3 quorum

	cand.onVoteReply(ctx, 2, RequestVoteReply{NodeID: "n2", Term: 2, VoteGranted: true})

	require.Equal(t, RoleLeader, ctx.role.Name())
}

func TestCandidateDoesNotWinOnSelfVoteAlone(t *testing.T) {
	ctx := newThreeMemberTestContext(t)
	ctx.currentTerm = 2

	cand := newCandidateRole()
	ctx.role = cand
	cand.votes[ctx.id] = true

	cand.onVoteReply(ctx, 2, RequestVoteReply{NodeID: "n2", Term: 2, VoteGranted: false})

	require.Equal(t, RoleCandidate, ctx.role.Name())
}

func TestCandidateStepsDownOnHigherTermVoteReply(t *testing.T) {
	ctx := newTestContext(t)
	ctx.currentTerm = 2
	cand := newCandidateRole()
	ctx.role = cand
	cand.votes[ctx.id] = true

	cand.onVoteReply(ctx, 2, RequestVoteReply{NodeID: "n2", Term: 5, VoteGranted: false})

	require.EqualValues(t, 5, ctx.currentTerm)
	require.NotEqual(t, RoleCandidate, ctx.role.Name())
}

func TestCandidateIgnoresVoteReplyFromStaleTerm(t *testing.T) {
	ctx := newTestContext(t)
	ctx.currentTerm = 3
	cand := newCandidateRole()
	ctx.role = cand
	cand.votes[ctx.id] = true

	// reply carries the term the solicitVotes round was issued under (1),
	// which no longer matches ctx.currentTerm (3): must be a no-op.
	cand.onVoteReply(ctx, 1, RequestVoteReply{NodeID: "n2", Term: 1, VoteGranted: true})

	require.Len(t, cand.votes, 1)
	require.Equal(t, RoleCandidate, ctx.role.Name())
}

func TestCandidateRejectsVoteRequestsInSameTerm(t *testing.T) {
	ctx := newTestContext(t)
	ctx.currentTerm = 4
	cand := newCandidateRole()
	ctx.role = cand

	reply := cand.RequestVote(ctx, RequestVoteRequest{Term: 4, CandidateID: "n2"})
	require.False(t, reply.VoteGranted)
	require.EqualValues(t, 4, reply.Term)
}

func TestCandidateStepsDownAndAppendsOnEqualTermLeaderTraffic(t *testing.T) {
	ctx := newTestContext(t)
	ctx.currentTerm = 4
	cand := newCandidateRole()
	ctx.role = cand

	resp := cand.Append(ctx, AppendRequest{Term: 4, Leader: "n2", LogIndex: 0, CommitIndex: 0})
	require.Equal(t, RoleFollower, ctx.role.Name())
	require.True(t, resp.Succeeded)
}
