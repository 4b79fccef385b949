package raft

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/quorumkv/raft/pkg/util"
)

// replicationStream drives one follower: it wakes on signal() (new entries
// to send) or its own heartbeat ticker, sends exactly one in-flight
// AppendRequest at a time, and feeds the response back onto the server's
// mailbox so nextIndex/matchIndex bookkeeping stays single-threaded.
type replicationStream struct {
	ctx    *ServerContext
	peer   PeerProxy
	wake   chan struct{}
	stopCh chan struct{}
}

func newReplicationStream(ctx *ServerContext, peer PeerProxy) *replicationStream {
	return &replicationStream{
		ctx:    ctx,
		peer:   peer,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

func (s *replicationStream) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *replicationStream) stop() {
	close(s.stopCh)
}

func (s *replicationStream) start() {
	go s.run()
}

func (s *replicationStream) run() {
	ticker := time.NewTicker(s.ctx.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.replicateOnce()
		case <-s.wake:
			s.replicateOnce()
		}
	}
}

// replicateOnce snapshots the state it needs from the server under its own
// RPC (no ctx locking — this goroutine never touches ctx fields directly,
// only through ctx.post closures), sends one AppendRequest, and posts the
// outcome back to the mailbox.
func (s *replicationStream) replicateOnce() {
	resultCh := make(chan replicationPlanResult, 1)
	s.ctx.post(func() {
		plan, ok := s.ctx.buildReplicationPlan(s.peer.NodeID())
		resultCh <- replicationPlanResult{plan: plan, ok: ok}
	})
	res := <-resultCh
	if !res.ok {
		return
	}
	plan := res.plan
	if plan.needsSnapshot {
		s.sendSnapshot()
		return
	}

	rctx, cancel := context.WithTimeout(context.Background(), s.ctx.config.RequestTimeout)
	defer cancel()

	resp, err := s.peer.Append(rctx, plan.req)
	if err != nil {
		util.WriteVerbose("replication to %s failed: %v", s.peer.NodeID(), err)
		return
	}

	s.ctx.post(func() {
		s.applyResponse(plan, resp)
	})
}

func (s *replicationStream) applyResponse(plan replicationPlan, resp AppendResponse) {
	if s.ctx.role.Name() != RoleLeader {
		return
	}
	if maybeStepDown(s.ctx, resp.Term, "") {
		return
	}

	f, ok := s.ctx.followers[s.peer.NodeID()]
	if !ok {
		return
	}

	if resp.Succeeded {
		f.MatchIndex = util.Max(f.MatchIndex, plan.lastEntryIndex)
		f.NextIndex = f.MatchIndex + 1
		if leader, ok := s.ctx.role.(*leaderRole); ok {
			leader.onMatchAdvanced(s.ctx)
		}
		if plan.hasMore {
			s.signal()
		}
	} else {
		if f.NextIndex > 1 {
			f.NextIndex--
		}
		s.signal()
	}
}

// sendSnapshot streams the leader's current state machine snapshot to a
// follower whose nextIndex has fallen behind the log's retained prefix,
// minting a fresh transfer id so a stale in-flight chunk from a prior
// attempt can never be mistaken for part of this one.
func (s *replicationStream) sendSnapshot() {
	type snapshotInfo struct {
		term  uint64
		index uint64
		data  []byte
	}
	infoCh := make(chan snapshotInfo, 1)
	s.ctx.post(func() {
		var buf bytes.Buffer
		if err := s.ctx.executor.TakeSnapshot(&buf); err != nil {
			util.WriteWarning("replication: snapshot for %s failed: %v", s.peer.NodeID(), err)
			infoCh <- snapshotInfo{}
			return
		}
		infoCh <- snapshotInfo{term: s.ctx.currentTerm, index: s.ctx.executor.LastApplied(), data: buf.Bytes()}
	})
	info := <-infoCh
	if info.data == nil {
		return
	}

	id := uuid.NewString()
	chunkSize := s.ctx.config.InstallChunkSize
	total := len(info.data)

	for sent, offset := 0, uint32(0); ; offset++ {
		end := sent + chunkSize
		if end > total {
			end = total
		}
		complete := end == total

		rctx, cancel := context.WithTimeout(context.Background(), s.ctx.config.RequestTimeout)
		resp, err := s.peer.Install(rctx, InstallRequest{
			ID: id, Term: info.term, Leader: s.ctx.id, Index: info.index,
			Offset: offset, Data: info.data[sent:end], Complete: complete,
		})
		cancel()
		if err != nil || resp.Status != StatusOK {
			util.WriteVerbose("snapshot transfer to %s failed at offset %d: %v", s.peer.NodeID(), offset, err)
			return
		}
		if complete {
			break
		}
		sent = end
	}

	s.ctx.post(func() {
		f, ok := s.ctx.followers[s.peer.NodeID()]
		if !ok || s.ctx.role.Name() != RoleLeader {
			return
		}
		f.MatchIndex = util.Max(f.MatchIndex, info.index)
		f.NextIndex = f.MatchIndex + 1
		if leader, ok := s.ctx.role.(*leaderRole); ok {
			leader.onMatchAdvanced(s.ctx)
		}
	})
	s.signal()
}

// replicationPlan is the immutable snapshot of what a single AppendRequest
// to one follower will contain, computed on the mailbox thread and handed
// to the replication goroutine to send.
type replicationPlan struct {
	req            AppendRequest
	lastEntryIndex uint64
	hasMore        bool
	needsSnapshot  bool
}

type replicationPlanResult struct {
	plan replicationPlan
	ok   bool
}

// buildReplicationPlan builds the next AppendRequest to send to follower,
// given its current nextIndex. Only ever called from within a closure
// already running on the mailbox thread.
func (ctx *ServerContext) buildReplicationPlan(follower NodeID) (replicationPlan, bool) {
	ctx.checkThread()

	if ctx.role.Name() != RoleLeader {
		return replicationPlan{}, false
	}
	f, ok := ctx.followers[follower]
	if !ok {
		return replicationPlan{}, false
	}

	if f.NextIndex < ctx.log.FirstIndex() {
		// The entries this follower needs have already been compacted
		// out of the log; it can only catch up via a snapshot transfer.
		return replicationPlan{needsSnapshot: true}, true
	}

	prevIndex := f.NextIndex - 1
	prevTerm := uint64(0)
	if prevIndex > 0 {
		if ie, ok := ctx.log.Get(prevIndex); ok {
			prevTerm = ie.Term
		}
	}

	const batchSize = 64
	var entries []IndexedEntry
	last := ctx.log.LastIndex()
	for i := f.NextIndex; i <= last && len(entries) < batchSize; i++ {
		if ie, ok := ctx.log.Get(i); ok {
			entries = append(entries, ie)
		}
	}

	lastEntryIndex := prevIndex
	if len(entries) > 0 {
		lastEntryIndex = entries[len(entries)-1].Index
	}

	return replicationPlan{
		req: AppendRequest{
			Term:        ctx.currentTerm,
			Leader:      ctx.id,
			LogIndex:    prevIndex,
			LogTerm:     prevTerm,
			Entries:     entries,
			CommitIndex: ctx.commitIndex,
		},
		lastEntryIndex: lastEntryIndex,
		hasMore:        lastEntryIndex < last,
	}, true
}
