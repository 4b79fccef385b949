package raft

import (
	"context"

	"github.com/quorumkv/raft/pkg/util"
)

// Role is the capability set every role state implements. Handlers assume
// they run on the server's single execution thread; ctx.checkThread() is
// asserted inside every ServerContext dispatch method's mailbox closure
// before a Role method is ever invoked, so Role implementations do not call
// it themselves.
type Role interface {
	Name() RoleName
	Open(ctx *ServerContext)
	Close(ctx *ServerContext)
	Append(ctx *ServerContext, req AppendRequest) AppendResponse
	Install(ctx *ServerContext, req InstallRequest) InstallResponse
	Query(ctx *ServerContext, req QueryRequest) QueryResponse
	RequestVote(ctx *ServerContext, req RequestVoteRequest) RequestVoteReply
	// Command proposes a new command entry. Only the Leader role accepts
	// it; Passive, Follower and Candidate report NO_LEADER and Reserve
	// reports ILLEGAL_MEMBER_STATE.
	Command(ctx *ServerContext, payload []byte) (*Future[OperationResult], *Error)
}

// maybeStepDown applies the universal rule: observing a higher term always
// wins, regardless of current role. Returns true if the term advanced.
func maybeStepDown(ctx *ServerContext, term uint64, leader NodeID) bool {
	if term <= ctx.currentTerm {
		if term == ctx.currentTerm && leader != "" {
			ctx.setLeader(leader)
		}
		return false
	}

	ctx.currentTerm = term
	ctx.votedFor = ""
	if leader != "" {
		ctx.setLeader(leader)
	}
	ctx.persistMeta()

	if ctx.role.Name() != RoleReserve {
		ctx.transitionTo(followerOrPassive(ctx))
	}
	return true
}

// followerOrPassive picks the role a server demoted by a higher term should
// land in: Follower if it's a voting member, Passive otherwise. This core
// treats every configured member as a voting Follower; Passive is reached
// only via explicit construction (e.g. a learner joining before its
// configuration entry commits).
func followerOrPassive(ctx *ServerContext) Role {
	if ctx.role.Name() == RolePassive {
		return newPassiveRole()
	}
	return newFollowerRole()
}

// appendPreamble runs the append algorithm steps shared by Passive and
// Follower (§4.4 steps 1-5): step down on a higher term, reject a stale
// term or a log-index gap, and compute lastEntryIndex/newCommit. ok is
// false when resp is already the final reply and the caller must not write
// any entries.
func appendPreamble(ctx *ServerContext, req AppendRequest) (resp AppendResponse, lastEntryIndex, newCommit uint64, ok bool) {
	maybeStepDown(ctx, req.Term, req.Leader)

	if req.Term < ctx.currentTerm {
		return AppendResponse{Status: StatusOK, Term: ctx.currentTerm, Succeeded: false, LogIndex: ctx.log.LastIndex()}, 0, 0, false
	}
	if req.LogIndex != 0 && req.LogIndex > ctx.log.LastIndex() {
		return AppendResponse{Status: StatusOK, Term: ctx.currentTerm, Succeeded: false, LogIndex: ctx.log.LastIndex()}, 0, 0, false
	}

	lastEntryIndex = req.LogIndex
	if len(req.Entries) > 0 {
		lastEntryIndex = req.Entries[len(req.Entries)-1].Index
	}
	newCommit = util.Max(ctx.commitIndex, util.Min(req.CommitIndex, lastEntryIndex))
	return AppendResponse{}, lastEntryIndex, newCommit, true
}

// appendEntriesUnderCommit implements the Passive append algorithm's §4.4
// step 6-7: only entries at or below newCommit are ever written (passive
// servers materialize committed data only), then commitIndex advances and
// the executor catches up. This is NOT safe for Follower — see
// appendEntriesDurable.
func appendEntriesUnderCommit(ctx *ServerContext, entries []IndexedEntry, newCommit uint64) {
	ctx.log.Lock()
	for _, e := range entries {
		if e.Index > newCommit {
			continue
		}
		if err := ctx.log.AppendAt(e); err != nil {
			ctx.log.Unlock()
			ctx.fault(err)
			return
		}
	}
	ctx.log.Unlock()

	if newCommit > ctx.commitIndex {
		ctx.commitIndex = newCommit
	}
	ctx.executor.ApplyAll(ctx.log, ctx.commitIndex)
}

// appendEntriesDurable implements the Follower append algorithm (§4.5):
// unlike Passive, a voting Follower writes every entry the leader sends —
// including ones past newCommit — applying the Log Matching
// append-with-truncation rule (AppendAt) at each index. Only commitIndex
// and the executor's progress are bounded by newCommit; the log itself is
// not. A Follower's log must be able to lead its own commit index between
// heartbeats so the leader can rely on those entries being durable once a
// later heartbeat raises commitIndex to cover them.
func appendEntriesDurable(ctx *ServerContext, entries []IndexedEntry, newCommit uint64) {
	ctx.log.Lock()
	for _, e := range entries {
		if err := ctx.log.AppendAt(e); err != nil {
			ctx.log.Unlock()
			ctx.fault(err)
			return
		}
	}
	ctx.log.Unlock()

	if newCommit > ctx.commitIndex {
		ctx.commitIndex = newCommit
	}
	ctx.executor.ApplyAll(ctx.log, ctx.commitIndex)
}

// handleInstall implements the §4.2/§4.4 chunked snapshot-install algorithm
// shared by Passive and Follower.
func handleInstall(ctx *ServerContext, req InstallRequest) InstallResponse {
	if req.Term < ctx.currentTerm {
		return InstallResponse{Status: StatusError, Error: NewError(ErrIllegalMemberState, "stale term %d < %d", req.Term, ctx.currentTerm)}
	}
	maybeStepDown(ctx, req.Term, req.Leader)

	pending, ok := ctx.pending.Get(req.ID)
	if ok && pending.Index != req.Index {
		ctx.pending.Discard(req.ID)
		pending, ok = nil, false
	}

	if !ok {
		if ctx.pending.IsCompleted(req.ID, req.Offset) {
			// This transfer already finished; the sender is retrying the
			// final chunk because it never saw our reply. Answer OK again
			// rather than rejecting a snapshot id we no longer track.
			return InstallResponse{Status: StatusOK}
		}
		if req.Offset > 0 {
			return InstallResponse{Status: StatusError, Error: NewError(ErrIllegalMemberState, "first chunk must be offset 0, got %d", req.Offset)}
		}
		// At most one install is in flight: a new transfer evicts any other.
		ctx.pending.CloseAll()
		snap, err := ctx.snapshots.CreateSnapshot(req.ID, req.Index)
		if err != nil {
			ctx.fault(err)
			return InstallResponse{Status: StatusError, Error: NewError(ErrInternal, "%v", err)}
		}
		ctx.pending.Put(snap)
		pending = snap
	}

	next := ctx.pending.NextOffset()
	if req.Offset == next {
		// expected chunk, fall through to write
	} else if next > 0 && req.Offset == next-1 {
		// duplicate of the most recently accepted chunk; idempotent OK
		return InstallResponse{Status: StatusOK}
	} else {
		return InstallResponse{Status: StatusError, Error: NewError(ErrIllegalMemberState, "snapshot chunk gap: want %d, got %d", next, req.Offset)}
	}

	w, err := pending.Writer()
	if err != nil {
		ctx.fault(err)
		return InstallResponse{Status: StatusError, Error: NewError(ErrInternal, "%v", err)}
	}
	if _, err := w.Write(req.Data); err != nil {
		w.Close()
		ctx.fault(err)
		return InstallResponse{Status: StatusError, Error: NewError(ErrInternal, "%v", err)}
	}
	w.Close()

	if req.Complete {
		if err := pending.Persist(); err != nil {
			ctx.fault(err)
			return InstallResponse{Status: StatusError, Error: NewError(ErrInternal, "%v", err)}
		}
		if err := pending.Complete(); err != nil {
			ctx.fault(err)
			return InstallResponse{Status: StatusError, Error: NewError(ErrInternal, "%v", err)}
		}
		ctx.snapshots.Complete(pending)
		ctx.pending.Remove(req.ID, req.Offset)

		r, openErr := pending.Open()
		if openErr == nil {
			defer r.Close()
			if err := ctx.executor.RestoreSnapshot(r, req.Index); err != nil {
				ctx.fault(err)
			}
			if req.Index > ctx.commitIndex {
				ctx.commitIndex = req.Index
			}
		}
	} else {
		ctx.pending.Advance()
	}

	return InstallResponse{Status: StatusOK}
}

// sequentialReadFresh implements the §4.4 session-freshness guard shared by
// Passive and Follower for SEQUENTIAL consistency local reads.
func sequentialReadFresh(ctx *ServerContext, req QueryRequest) bool {
	return ctx.executor.LastApplied() >= req.Session && ctx.log.LastIndex() >= ctx.commitIndex
}

// forwardQuery relays req to the current leader via that leader's PeerProxy,
// or returns NO_LEADER if none is known or reachable.
func forwardQuery(ctx *ServerContext, req QueryRequest) QueryResponse {
	if ctx.leader == "" {
		return QueryResponse{Status: StatusError, Error: NewError(ErrNoLeader, "no leader known")}
	}
	peer, ok := ctx.peers[ctx.leader]
	if !ok {
		return QueryResponse{Status: StatusError, Error: NewError(ErrNoLeader, "no connection to leader %s", ctx.leader)}
	}
	rctx, cancel := context.WithTimeout(context.Background(), ctx.config.RequestTimeout)
	defer cancel()
	resp, err := peer.Query(rctx, req)
	if err != nil {
		return QueryResponse{Status: StatusError, Error: NewError(ErrNoLeader, "%v", err)}
	}
	return resp
}
