package raft

import (
	"context"
	"sync"

	"github.com/quorumkv/raft/pkg/util"
)

// candidateRole solicits votes for a new term, per §4.6.
type candidateRole struct {
	votes map[NodeID]bool
}

func newCandidateRole() *candidateRole {
	return &candidateRole{votes: make(map[NodeID]bool)}
}

func (c *candidateRole) Name() RoleName { return RoleCandidate }

func (c *candidateRole) Open(ctx *ServerContext) {
	ctx.currentTerm++
	ctx.votedFor = ctx.id
	ctx.setLeader("")
	ctx.persistMeta()
	c.votes[ctx.id] = true
	ctx.metrics.ElectionsTotal.Inc()

	ctx.resetElectionTimer()
	go c.solicitVotes(ctx, ctx.currentTerm)
}

func (c *candidateRole) Close(ctx *ServerContext) {
	ctx.stopElectionTimer()
}

// solicitVotes fans RequestVote out to every known peer concurrently and
// delivers results back onto the mailbox, since peer RPCs must never block
// the single execution thread.
func (c *candidateRole) solicitVotes(ctx *ServerContext, term uint64) {
	lastIndex := ctx.log.LastIndex()
	lastTerm := uint64(0)
	if ie, ok := ctx.log.Get(lastIndex); ok {
		lastTerm = ie.Term
	}
	req := RequestVoteRequest{Term: term, CandidateID: ctx.id, LastLogIndex: lastIndex, LastLogTerm: lastTerm}

	peers := ctx.snapshotPeers()
	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(p PeerProxy) {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(context.Background(), ctx.config.RequestTimeout)
			defer cancel()
			reply, err := p.RequestVote(rctx, req)
			if err != nil {
				return
			}
			ctx.post(func() {
				c.onVoteReply(ctx, term, reply)
			})
		}(peer)
	}
}

func (c *candidateRole) onVoteReply(ctx *ServerContext, term uint64, reply RequestVoteReply) {
	if ctx.role.Name() != RoleCandidate || ctx.currentTerm != term {
		return
	}
	if maybeStepDown(ctx, reply.Term, "") {
		return
	}
	if !reply.VoteGranted {
		return
	}

	c.votes[reply.NodeID] = true
	if len(c.votes) >= ctx.quorumSize() {
		util.WriteInfo("node %s: won election for term %d with %d votes", ctx.id, ctx.currentTerm, len(c.votes))
		ctx.transitionTo(newLeaderRole())
	}
}

func (c *candidateRole) Append(ctx *ServerContext, req AppendRequest) AppendResponse {
	if maybeStepDown(ctx, req.Term, req.Leader) || req.Term == ctx.currentTerm {
		// A valid leader for this term exists; step down to Follower and
		// let it reprocess the request there.
		ctx.transitionTo(newFollowerRole())
		return ctx.role.Append(ctx, req)
	}
	return AppendResponse{Status: StatusOK, Term: ctx.currentTerm, Succeeded: false, LogIndex: ctx.log.LastIndex()}
}

func (c *candidateRole) Install(ctx *ServerContext, req InstallRequest) InstallResponse {
	if maybeStepDown(ctx, req.Term, req.Leader) || req.Term == ctx.currentTerm {
		ctx.transitionTo(newFollowerRole())
		return ctx.role.Install(ctx, req)
	}
	return InstallResponse{Status: StatusError, Error: NewError(ErrIllegalMemberState, "stale term")}
}

func (c *candidateRole) Query(ctx *ServerContext, req QueryRequest) QueryResponse {
	return QueryResponse{Status: StatusError, Error: NewError(ErrNoLeader, "election in progress")}
}

func (c *candidateRole) RequestVote(ctx *ServerContext, req RequestVoteRequest) RequestVoteReply {
	maybeStepDown(ctx, req.Term, "")
	if req.Term > ctx.currentTerm || (req.Term == ctx.currentTerm && ctx.role.Name() != RoleCandidate) {
		return ctx.role.RequestVote(ctx, req)
	}
	return RequestVoteReply{NodeID: ctx.id, Term: ctx.currentTerm, VotedTerm: ctx.currentTerm, VoteGranted: false}
}

func (c *candidateRole) Command(ctx *ServerContext, payload []byte) (*Future[OperationResult], *Error) {
	return nil, NewError(ErrNoLeader, "election in progress")
}

// onElectionTimeout restarts the election for a new term.
func (c *candidateRole) onElectionTimeout(ctx *ServerContext) {
	util.WriteInfo("node %s: election timed out in term %d, retrying", ctx.id, ctx.currentTerm)
	ctx.transitionTo(newCandidateRole())
}
