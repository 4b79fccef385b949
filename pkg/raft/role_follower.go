package raft

import "github.com/quorumkv/raft/pkg/util"

// followerRole reuses Passive's install/query contract verbatim and layers
// voting plus the election timeout on top, but reimplements Open/Append:
// unlike Passive, a Follower retains uncommitted tail entries.
type followerRole struct {
	*passiveRole
}

func newFollowerRole() *followerRole {
	return &followerRole{passiveRole: newPassiveRole()}
}

func (f *followerRole) Name() RoleName { return RoleFollower }

// Open does not truncate the log the way Passive's does: a Follower
// legitimately leads its own commitIndex between heartbeats and must keep
// that uncommitted tail across a restart, since the leader may already be
// relying on it being durable.
func (f *followerRole) Open(ctx *ServerContext) {
	ctx.resetElectionTimer()
}

func (f *followerRole) Close(ctx *ServerContext) {
	f.passiveRole.Close(ctx)
	ctx.stopElectionTimer()
}

// Append reimplements the append algorithm rather than delegating to
// passiveRole.Append: a Follower must persist every entry the leader sends,
// not only the ones at or below newCommit (see appendEntriesDurable).
func (f *followerRole) Append(ctx *ServerContext, req AppendRequest) AppendResponse {
	resp, lastEntryIndex, newCommit, ok := appendPreamble(ctx, req)
	if !ok {
		if req.Term >= ctx.currentTerm {
			ctx.resetElectionTimer()
		}
		return resp
	}

	appendEntriesDurable(ctx, req.Entries, newCommit)
	ctx.resetElectionTimer()

	return AppendResponse{Status: StatusOK, Term: ctx.currentTerm, Succeeded: true, LogIndex: lastEntryIndex}
}

func (f *followerRole) Install(ctx *ServerContext, req InstallRequest) InstallResponse {
	resp := f.passiveRole.Install(ctx, req)
	if resp.Status == StatusOK {
		ctx.resetElectionTimer()
	}
	return resp
}

func (f *followerRole) RequestVote(ctx *ServerContext, req RequestVoteRequest) RequestVoteReply {
	maybeStepDown(ctx, req.Term, "")

	if req.Term < ctx.currentTerm {
		return RequestVoteReply{NodeID: ctx.id, Term: ctx.currentTerm, VotedTerm: ctx.currentTerm, VoteGranted: false}
	}

	granted := false
	if ctx.votedFor == "" || ctx.votedFor == req.CandidateID {
		if candidateLogUpToDate(ctx, req.LastLogIndex, req.LastLogTerm) {
			ctx.votedFor = req.CandidateID
			ctx.persistMeta()
			granted = true
			ctx.resetElectionTimer()
		}
	}
	return RequestVoteReply{NodeID: ctx.id, Term: ctx.currentTerm, VotedTerm: ctx.currentTerm, VoteGranted: granted}
}

// candidateLogUpToDate implements the Raft §5.4.1 up-to-date check: the
// candidate's log must be at least as fresh as ours, comparing last term
// then last index.
func candidateLogUpToDate(ctx *ServerContext, lastLogIndex, lastLogTerm uint64) bool {
	ourLast := ctx.log.LastIndex()
	ourTerm := uint64(0)
	if ie, ok := ctx.log.Get(ourLast); ok {
		ourTerm = ie.Term
	}
	if lastLogTerm != ourTerm {
		return lastLogTerm > ourTerm
	}
	return lastLogIndex >= ourLast
}

// onElectionTimeout transitions a Follower to Candidate, per §4.6: increment
// term, vote for self, and solicit votes from the rest of the cluster.
func (f *followerRole) onElectionTimeout(ctx *ServerContext) {
	util.WriteInfo("node %s: election timeout, becoming candidate for term %d", ctx.id, ctx.currentTerm+1)
	ctx.transitionTo(newCandidateRole())
}
