package raft

// passiveRole accepts commit traffic and snapshots but does not vote or
// serve strongly consistent reads locally. It is the representative role
// this core specifies fully; Follower reuses its install/query handling but
// reimplements Open/Append, since a voting Follower retains uncommitted
// tail entries that Passive must discard.
type passiveRole struct{}

func newPassiveRole() *passiveRole { return &passiveRole{} }

func (p *passiveRole) Name() RoleName { return RolePassive }

// Open truncates any uncommitted tail: a server that cannot vote must not
// retain speculative entries that could later conflict with the leader's
// canonical log.
func (p *passiveRole) Open(ctx *ServerContext) {
	ctx.log.Lock()
	defer ctx.log.Unlock()
	if err := ctx.log.Truncate(ctx.commitIndex); err != nil {
		ctx.fault(err)
	}
}

func (p *passiveRole) Close(ctx *ServerContext) {
	ctx.pending.CloseAll()
}

func (p *passiveRole) Append(ctx *ServerContext, req AppendRequest) AppendResponse {
	resp, lastEntryIndex, newCommit, ok := appendPreamble(ctx, req)
	if !ok {
		return resp
	}

	appendEntriesUnderCommit(ctx, req.Entries, newCommit)

	return AppendResponse{Status: StatusOK, Term: ctx.currentTerm, Succeeded: true, LogIndex: lastEntryIndex}
}

func (p *passiveRole) Install(ctx *ServerContext, req InstallRequest) InstallResponse {
	return handleInstall(ctx, req)
}

func (p *passiveRole) Query(ctx *ServerContext, req QueryRequest) QueryResponse {
	if req.Consistency == Sequential && sequentialReadFresh(ctx, req) {
		val, err := ctx.queryLocal(req)
		if err != nil {
			return QueryResponse{Status: StatusError, Error: NewError(ErrApplicationError, "%v", err)}
		}
		return QueryResponse{Status: StatusOK, Index: ctx.commitIndex, EventIndex: ctx.executor.LastApplied(), Result: val}
	}
	return forwardQuery(ctx, req)
}

func (p *passiveRole) RequestVote(ctx *ServerContext, req RequestVoteRequest) RequestVoteReply {
	maybeStepDown(ctx, req.Term, "")
	return RequestVoteReply{NodeID: ctx.id, Term: ctx.currentTerm, VoteGranted: false}
}

func (p *passiveRole) Command(ctx *ServerContext, payload []byte) (*Future[OperationResult], *Error) {
	return nil, NewError(ErrNoLeader, "passive members do not accept commands")
}
