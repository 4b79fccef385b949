package raft

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/quorumkv/raft/pkg/util"
	"github.com/rs/zerolog"
)

// localSnapshotID names this server's own periodic compaction snapshot,
// distinct from the per-transfer IDs a leader mints when streaming a
// snapshot to a lagging follower (see replication.go).
const localSnapshotID = "local"

// ServerContext holds process-wide replicated state and the role-dispatch
// table. Every field below is read and written exclusively from the
// goroutine running run's mailbox loop; external callers never touch them
// directly, only through the Handle*/Submit methods, which post a closure
// to the mailbox and wait for it to run.
//
// This is the "owned-by-actor" pattern: one goroutine owns the context,
// every other goroutine (transport handlers, replication streams, timers)
// communicates with it exclusively through channels.
type ServerContext struct {
	id        NodeID
	config    ServerConfig
	log       *Log
	snapshots *SnapshotStore
	pending   *PendingSnapshotTable
	executor  *Executor
	metadata  *MetadataStore
	selector  *NodeSelectorManager

	currentTerm uint64
	votedFor    NodeID
	leader      NodeID
	commitIndex uint64

	role      Role
	followers map[NodeID]*FollowerIndex
	peers     map[NodeID]PeerProxy
	metrics   *Metrics

	electionTimer *electionTimer

	lastSnapshotIndex uint64

	mailbox  chan func()
	stopCh   chan struct{}
	executing int32 // set while a mailbox closure is running; backs checkThread

	logger zerolog.Logger
}

// NewServerContext wires together a fresh Log Store, Snapshot Store,
// Executor and Metadata Store rooted at config.DataDir, and opens in
// RoleReserve — callers must call Start to join the configured cluster and
// transition to Follower.
func NewServerContext(config ServerConfig, sm StateMachine, peerFactory PeerProxyFactory) (*ServerContext, error) {
	l, err := OpenLog(config.DataDir+"/log", config.SegmentMaxEntries, config.SegmentMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	snaps, err := OpenSnapshotStore(config.DataDir + "/snapshots")
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	meta, err := OpenMetadataStore(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	currentTerm, votedFor, err := meta.Load()
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	ctx := &ServerContext{
		id:          config.LocalNode.NodeID,
		config:      config,
		log:         l,
		snapshots:   snaps,
		pending:     NewPendingSnapshotTable(),
		executor:    NewExecutor(sm, 0),
		metadata:    meta,
		selector:    NewNodeSelectorManager(),
		currentTerm: currentTerm,
		votedFor:    votedFor,
		role:        newReserveRole(),
		peers:       make(map[NodeID]PeerProxy),
		mailbox:     make(chan func(), 256),
		stopCh:      make(chan struct{}),
		logger:      util.WithNode(string(config.LocalNode.NodeID)),
	}

	for _, m := range config.Members {
		if m.NodeID == ctx.id {
			continue
		}
		ctx.peers[m.NodeID] = peerFactory.NewPeerProxy(m)
	}

	ctx.electionTimer = newElectionTimer(config.ElectionTimeoutMin, config.ElectionTimeoutMax, func() {
		ctx.post(func() { ctx.onElectionTimeout() })
	})
	ctx.metrics = NewMetrics(ctx.id)

	if snap, ok := snaps.GetSnapshot(localSnapshotID); ok {
		r, err := snap.Open()
		if err != nil {
			return nil, fmt.Errorf("open local snapshot: %w", err)
		}
		defer r.Close()
		if err := ctx.executor.RestoreSnapshot(r, snap.Index); err != nil {
			return nil, fmt.Errorf("restore local snapshot: %w", err)
		}
		ctx.lastSnapshotIndex = snap.Index
		ctx.commitIndex = snap.Index
	}

	return ctx, nil
}

// Metrics returns the server's Prometheus collectors, for the operational
// shell to register against its own registry.
func (ctx *ServerContext) Metrics() *Metrics {
	return ctx.metrics
}

// Start begins the mailbox loop and transitions into the cluster's
// steady-state role (Follower for every statically configured member).
func (ctx *ServerContext) Start() {
	go ctx.run()
	go ctx.runSnapshotTicker()
	ctx.post(func() {
		ctx.transitionTo(newFollowerRole())
	})
}

func (ctx *ServerContext) runSnapshotTicker() {
	ticker := time.NewTicker(ctx.config.SnapshotCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.stopCh:
			return
		case <-ticker.C:
			ctx.post(func() { ctx.maybeSnapshot() })
		}
	}
}

// maybeSnapshot takes a fresh local snapshot and compacts the log prefix it
// covers once enough committed entries have accumulated since the last one.
// lastApplied, not commitIndex, bounds what a snapshot may cover: the
// Executor must actually have applied every entry up to that point.
func (ctx *ServerContext) maybeSnapshot() {
	applied := ctx.executor.LastApplied()
	if applied == 0 || applied-ctx.lastSnapshotIndex < ctx.config.SnapshotThreshold {
		return
	}

	var buf bytes.Buffer
	if err := ctx.executor.TakeSnapshot(&buf); err != nil {
		ctx.logger.Error().Err(err).Msg("snapshot: serialize state machine")
		return
	}

	snap, err := ctx.snapshots.CreateSnapshot(localSnapshotID, applied)
	if err != nil {
		ctx.logger.Error().Err(err).Msg("snapshot: create")
		return
	}
	w, err := snap.Writer()
	if err == nil {
		_, err = w.Write(buf.Bytes())
	}
	if err == nil {
		err = snap.Persist()
	}
	if err != nil {
		ctx.logger.Error().Err(err).Msg("snapshot: write")
		snap.Delete()
		return
	}
	if err := snap.Complete(); err != nil {
		ctx.logger.Error().Err(err).Msg("snapshot: complete")
		return
	}
	ctx.snapshots.Complete(snap)

	if err := ctx.log.CompactPrefix(applied); err != nil {
		ctx.logger.Error().Err(err).Msg("snapshot: compact log prefix")
		return
	}
	ctx.lastSnapshotIndex = applied
	ctx.logger.Info().Uint64("index", applied).Msg("took local snapshot, compacted log prefix")
}

// Stop halts the mailbox loop and closes durable resources.
func (ctx *ServerContext) Stop() {
	close(ctx.stopCh)
	ctx.metadata.Close()
}

func (ctx *ServerContext) run() {
	for {
		select {
		case <-ctx.stopCh:
			return
		case fn := <-ctx.mailbox:
			atomic.StoreInt32(&ctx.executing, 1)
			fn()
			atomic.StoreInt32(&ctx.executing, 0)
			ctx.metrics.Observe(ctx)
		}
	}
}

// post enqueues fn to run on the mailbox goroutine. Safe to call from any
// goroutine, including from within fn itself (e.g. a role transition
// queuing a follow-up action).
func (ctx *ServerContext) post(fn func()) {
	select {
	case ctx.mailbox <- fn:
	case <-ctx.stopCh:
	}
}

// checkThread asserts that the caller is running inside a mailbox closure.
// The implementation language's original relies on a native thread-id
// check; Go has no equivalent, so this is approximated with an atomic flag
// set only while run() is invoking a closure. It catches the common bug of
// a role handler being called directly instead of through post, but it is
// not a precise single-goroutine proof.
func (ctx *ServerContext) checkThread() {
	if atomic.LoadInt32(&ctx.executing) != 1 {
		util.Panicf("checkThread: role handler invoked outside the server mailbox")
	}
}

// transitionTo closes the current role and opens the new one, in that
// order, both under checkThread.
func (ctx *ServerContext) transitionTo(next Role) {
	ctx.checkThread()
	ctx.role.Close(ctx)
	ctx.role = next
	ctx.logger.Info().Str("role", next.Name().String()).Uint64("term", ctx.currentTerm).Msg("role transition")
	ctx.role.Open(ctx)
}

func (ctx *ServerContext) persistMeta() {
	if err := ctx.metadata.Save(ctx.currentTerm, ctx.votedFor); err != nil {
		ctx.fault(err)
	}
}

// fault escalates an unrecoverable log/IO error: the role transitions to
// Reserve (a safe quiescent state) and the error is surfaced via logging
// for the operator. It does not panic the process, matching §7's policy
// that only internal invariant violations abort.
func (ctx *ServerContext) fault(err error) {
	ctx.logger.Error().Err(err).Msg("fatal log/IO error, quiescing to reserve")
	if ctx.role.Name() != RoleReserve {
		ctx.role.Close(ctx)
		ctx.role = newReserveRole()
	}
}

// setLeader updates the observed leader and pushes the new (leader,
// servers) view to every NodeSelector handed out by ctx.selector.
func (ctx *ServerContext) setLeader(leader NodeID) {
	if ctx.leader == leader {
		return
	}
	ctx.leader = leader

	servers := make([]NodeID, 0, len(ctx.config.Members))
	for _, m := range ctx.config.Members {
		servers = append(servers, m.NodeID)
	}
	ctx.selector.ResetAll(leader, servers)
}

// Selector returns a new client-side NodeSelector using the given strategy,
// kept in sync with this server's observed leader.
func (ctx *ServerContext) Selector(strategy SelectorStrategy) *NodeSelector {
	return ctx.selector.NewSelector(strategy)
}

func (ctx *ServerContext) quorumSize() int {
	return (len(ctx.config.Members) / 2) + 1
}

func (ctx *ServerContext) snapshotPeers() []PeerProxy {
	out := make([]PeerProxy, 0, len(ctx.peers))
	for _, p := range ctx.peers {
		out = append(out, p)
	}
	return out
}

// queryLocal executes req against the state machine's read path directly,
// without going through the log.
func (ctx *ServerContext) queryLocal(req QueryRequest) ([]byte, error) {
	return ctx.executor.sm.Query(req.Bytes)
}

func (ctx *ServerContext) onElectionTimeout() {
	switch r := ctx.role.(type) {
	case *followerRole:
		r.onElectionTimeout(ctx)
	case *candidateRole:
		r.onElectionTimeout(ctx)
	}
}

// --- external entry points: transport adapters call these; each posts to
// the mailbox and blocks for the result, so concurrent callers never race
// on context fields. ---

func (ctx *ServerContext) HandleAppend(req AppendRequest) AppendResponse {
	result := make(chan AppendResponse, 1)
	ctx.post(func() {
		ctx.checkThread()
		resp := ctx.role.Append(ctx, req)
		ctx.metrics.AppendRequests.WithLabelValues(boolLabel(resp.Succeeded)).Inc()
		result <- resp
	})
	return <-result
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (ctx *ServerContext) HandleInstall(req InstallRequest) InstallResponse {
	result := make(chan InstallResponse, 1)
	ctx.post(func() { ctx.checkThread(); result <- ctx.role.Install(ctx, req) })
	return <-result
}

func (ctx *ServerContext) HandleQuery(req QueryRequest) QueryResponse {
	result := make(chan QueryResponse, 1)
	ctx.post(func() { ctx.checkThread(); result <- ctx.role.Query(ctx, req) })
	return <-result
}

func (ctx *ServerContext) HandleRequestVote(req RequestVoteRequest) RequestVoteReply {
	result := make(chan RequestVoteReply, 1)
	ctx.post(func() { ctx.checkThread(); result <- ctx.role.RequestVote(ctx, req) })
	return <-result
}

// SubmitCommand proposes payload as a new log command. The returned Future
// resolves once the entry has been applied by the Executor.
func (ctx *ServerContext) SubmitCommand(payload []byte) (*Future[OperationResult], *Error) {
	type outcome struct {
		f   *Future[OperationResult]
		err *Error
	}
	result := make(chan outcome, 1)
	ctx.post(func() {
		ctx.checkThread()
		f, err := ctx.role.Command(ctx, payload)
		result <- outcome{f, err}
	})
	o := <-result
	return o.f, o.err
}
