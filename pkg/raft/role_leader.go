package raft

import "github.com/quorumkv/raft/pkg/util"

// leaderRole drives replication to the rest of the cluster. It owns one
// replicationStream per follower (see replication.go) and advances
// commitIndex only once a quorum (including itself) has matched an index
// created in its own current term — the classic Raft safety rule that
// prevents a leader from committing another leader's uncommitted entry by
// indirect majority.
type leaderRole struct {
	streams map[NodeID]*replicationStream
}

func newLeaderRole() *leaderRole {
	return &leaderRole{streams: make(map[NodeID]*replicationStream)}
}

func (l *leaderRole) Name() RoleName { return RoleLeader }

func (l *leaderRole) Open(ctx *ServerContext) {
	ctx.stopElectionTimer()
	ctx.setLeader(ctx.id)

	lastIndex := ctx.log.LastIndex()
	ctx.followers = make(map[NodeID]*FollowerIndex)
	for _, peer := range ctx.snapshotPeers() {
		ctx.followers[peer.NodeID()] = &FollowerIndex{NodeID: peer.NodeID(), NextIndex: lastIndex + 1, MatchIndex: 0}
		l.streams[peer.NodeID()] = newReplicationStream(ctx, peer)
		l.streams[peer.NodeID()].start()
	}

	ctx.log.Lock()
	noop, err := ctx.log.Append(Entry{Term: ctx.currentTerm, Kind: EntryNoOp})
	ctx.log.Unlock()
	if err != nil {
		ctx.fault(err)
		return
	}
	util.WriteInfo("node %s: became leader for term %d, appended no-op at %d", ctx.id, ctx.currentTerm, noop.Index)

	for _, s := range l.streams {
		s.signal()
	}
}

func (l *leaderRole) Close(ctx *ServerContext) {
	for _, s := range l.streams {
		s.stop()
	}
}

func (l *leaderRole) Append(ctx *ServerContext, req AppendRequest) AppendResponse {
	if maybeStepDown(ctx, req.Term, req.Leader) {
		return ctx.role.Append(ctx, req)
	}
	if req.Term < ctx.currentTerm {
		return AppendResponse{Status: StatusOK, Term: ctx.currentTerm, Succeeded: false, LogIndex: ctx.log.LastIndex()}
	}
	// Two leaders in the same term is a safety violation elsewhere in the
	// cluster; this leader simply rejects rather than asserting.
	return AppendResponse{Status: StatusError, Error: NewError(ErrIllegalMemberState, "two leaders observed in term %d", ctx.currentTerm), Term: ctx.currentTerm}
}

func (l *leaderRole) Install(ctx *ServerContext, req InstallRequest) InstallResponse {
	if maybeStepDown(ctx, req.Term, req.Leader) {
		return ctx.role.Install(ctx, req)
	}
	return InstallResponse{Status: StatusError, Error: NewError(ErrIllegalMemberState, "leader does not accept installs")}
}

func (l *leaderRole) Query(ctx *ServerContext, req QueryRequest) QueryResponse {
	val, err := ctx.queryLocal(req)
	if err != nil {
		return QueryResponse{Status: StatusError, Error: NewError(ErrApplicationError, "%v", err)}
	}
	return QueryResponse{Status: StatusOK, Index: ctx.commitIndex, EventIndex: ctx.executor.LastApplied(), Result: val}
}

func (l *leaderRole) RequestVote(ctx *ServerContext, req RequestVoteRequest) RequestVoteReply {
	maybeStepDown(ctx, req.Term, "")
	if req.Term > ctx.currentTerm {
		return ctx.role.RequestVote(ctx, req)
	}
	return RequestVoteReply{NodeID: ctx.id, Term: ctx.currentTerm, VotedTerm: ctx.currentTerm, VoteGranted: false}
}

func (l *leaderRole) Command(ctx *ServerContext, payload []byte) (*Future[OperationResult], *Error) {
	ctx.log.Lock()
	ie, err := ctx.log.Append(Entry{Term: ctx.currentTerm, Kind: EntryCommand, Payload: payload})
	ctx.log.Unlock()
	if err != nil {
		ctx.fault(err)
		return nil, NewError(ErrCommandFailure, "%v", err)
	}

	for _, s := range l.streams {
		s.signal()
	}
	l.maybeAdvanceCommit(ctx)

	return ctx.executor.Await(ie.Index), nil
}

// onMatchAdvanced is called by a replicationStream after a successful
// AppendResponse updates that follower's matchIndex.
func (l *leaderRole) onMatchAdvanced(ctx *ServerContext) {
	l.maybeAdvanceCommit(ctx)
}

// maybeAdvanceCommit implements the leader-only-commits-own-term rule: find
// the highest index replicated on a quorum (counting the leader itself),
// and only adopt it as commitIndex if the entry at that index was created
// in the leader's current term.
func (l *leaderRole) maybeAdvanceCommit(ctx *ServerContext) {
	matches := make([]uint64, 0, len(ctx.followers)+1)
	matches = append(matches, ctx.log.LastIndex()) // leader always matches its own log
	for id, f := range ctx.followers {
		if id == ctx.id {
			continue
		}
		matches = append(matches, f.MatchIndex)
	}

	candidate := quorumMatchIndex(matches, ctx.quorumSize())
	if candidate <= ctx.commitIndex {
		return
	}
	ie, ok := ctx.log.Get(candidate)
	if !ok || ie.Term != ctx.currentTerm {
		return
	}

	ctx.commitIndex = candidate
	ctx.executor.ApplyAll(ctx.log, ctx.commitIndex)
	for _, s := range l.streams {
		s.signal()
	}
}

// quorumMatchIndex returns the highest index present on at least quorum of
// the given match indices (sorted descending, quorum-th value).
func quorumMatchIndex(matches []uint64, quorum int) uint64 {
	sorted := append([]uint64{}, matches...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j] > sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	if quorum == 0 || quorum > len(sorted) {
		return 0
	}
	return sorted[quorum-1]
}
