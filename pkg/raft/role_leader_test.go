package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuorumMatchIndexPicksQuorumthHighest(t *testing.T) {
	require.EqualValues(t, 5, quorumMatchIndex([]uint64{5, 5, 3}, 2))
	require.EqualValues(t, 3, quorumMatchIndex([]uint64{5, 3, 1}, 2))
	require.EqualValues(t, 0, quorumMatchIndex([]uint64{5}, 2))
}

func TestLeaderMaybeAdvanceCommitRequiresOwnTermEntry(t *testing.T) {
	ctx := newTestContext(t)
	ctx.currentTerm = 3

	ctx.log.Lock()
	ie, err := ctx.log.Append(Entry{Term: 2, Kind: EntryCommand})
	require.NoError(t, err)
	ctx.log.Unlock()

	leader := newLeaderRole()
	ctx.role = leader
	ctx.followers = map[NodeID]*FollowerIndex{}

	leader.maybeAdvanceCommit(ctx)
	require.EqualValues(t, 0, ctx.commitIndex, "an older-term entry must never be committed by match count alone")

	ctx.log.Lock()
	ie2, err := ctx.log.Append(Entry{Term: 3, Kind: EntryCommand})
	require.NoError(t, err)
	ctx.log.Unlock()

	leader.maybeAdvanceCommit(ctx)
	require.EqualValues(t, ie2.Index, ctx.commitIndex)
	_ = ie
}

func TestLeaderOpenAppendsNoOpAndInitializesFollowers(t *testing.T) {
	ctx := newTestContext(t)
	ctx.currentTerm = 1
	ctx.role = newReserveRole()

	leader := newLeaderRole()
	leader.Open(ctx)
	defer leader.Close(ctx)

	require.EqualValues(t, 1, ctx.log.LastIndex())
	ie, ok := ctx.log.Get(1)
	require.True(t, ok)
	require.Equal(t, EntryNoOp, ie.Entry.Kind)
	require.Equal(t, ctx.id, ctx.leader)
}

func TestLeaderRejectsSecondLeaderSameTerm(t *testing.T) {
	ctx := newTestContext(t)
	ctx.currentTerm = 4

	leader := newLeaderRole()
	ctx.role = leader

	resp := leader.Append(ctx, AppendRequest{Term: 4, Leader: "someone-else"})
	require.Equal(t, StatusError, resp.Status)
	require.Equal(t, ErrIllegalMemberState, resp.Error.Kind)
}

func TestLeaderStepsDownOnHigherTermAppend(t *testing.T) {
	ctx := newTestContext(t)
	ctx.currentTerm = 4

	leader := newLeaderRole()
	ctx.role = leader

	resp := leader.Append(ctx, AppendRequest{Term: 9, Leader: "other", LogIndex: 0, CommitIndex: 0})
	require.EqualValues(t, 9, ctx.currentTerm)
	require.Equal(t, RoleFollower, ctx.role.Name())
	require.True(t, resp.Succeeded)
}
