package raft

import (
	"io"
	"sync"

	"github.com/quorumkv/raft/pkg/util"
)

// StateMachine is the deterministic user application driven by the
// Executor. Apply must be a pure function of the ordered sequence of
// entries it has been fed; Serialize/Deserialize implement full-state
// snapshot transfer.
type StateMachine interface {
	Apply(entry Entry) (interface{}, error)
	Query(bytes []byte) ([]byte, error)
	Serialize(w io.Writer) error
	Deserialize(r io.Reader) error
}

// Executor applies committed entries to a StateMachine in strictly
// increasing index order and tracks lastApplied. Callers await a specific
// index's result via a Future keyed by index, so read-your-writes queries
// appended as log entries can block without holding the server thread.
type Executor struct {
	mu          sync.Mutex
	sm          StateMachine
	lastApplied uint64
	waiters     map[uint64]*Future[OperationResult]
}

// NewExecutor wraps sm, starting from lastApplied (typically the index the
// state machine was last restored to, from a snapshot or a clean start).
func NewExecutor(sm StateMachine, lastApplied uint64) *Executor {
	return &Executor{sm: sm, lastApplied: lastApplied, waiters: make(map[uint64]*Future[OperationResult])}
}

// LastApplied returns the highest index fed to the state machine so far.
func (e *Executor) LastApplied() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastApplied
}

// Await returns a Future resolved when index has been applied (or has
// already been applied, in which case the Future is pre-resolved with a
// best-effort OperationResult carrying no Result payload).
func (e *Executor) Await(index uint64) *Future[OperationResult] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if index <= e.lastApplied {
		f := NewFuture[OperationResult]()
		f.Resolve(OperationResult{Index: index, EventIndex: index})
		return f
	}
	if f, ok := e.waiters[index]; ok {
		return f
	}
	f := NewFuture[OperationResult]()
	e.waiters[index] = f
	return f
}

// Apply feeds a single entry to the state machine and resolves any waiter
// registered for its index.
func (e *Executor) Apply(ie IndexedEntry) OperationResult {
	var result OperationResult
	switch ie.Entry.Kind {
	case EntryNoOp, EntryConfiguration:
		result = OperationResult{Index: ie.Index, EventIndex: ie.Index}
	default:
		val, err := e.sm.Apply(ie.Entry)
		if err != nil {
			result = OperationResult{Index: ie.Index, EventIndex: ie.Index, Err: NewError(ErrApplicationError, "%v", err)}
		} else {
			result = OperationResult{Index: ie.Index, EventIndex: ie.Index, Result: val}
		}
	}

	e.mu.Lock()
	e.lastApplied = ie.Index
	f, ok := e.waiters[ie.Index]
	if ok {
		delete(e.waiters, ie.Index)
	}
	e.mu.Unlock()

	if ok {
		f.Resolve(result)
	}
	return result
}

// ApplyAll applies every entry in (lastApplied, upTo] from reader, in index
// order, panicking via util.Panicf if an index is unexpectedly missing — that
// indicates a commit advanced past data the log does not have, which is an
// internal invariant violation.
func (e *Executor) ApplyAll(reader LogReader, upTo uint64) {
	start := e.LastApplied() + 1
	for i := start; i <= upTo; i++ {
		ie, ok := reader.Get(i)
		if !ok {
			util.Panicf("executor: missing entry at index %d while applying up to %d", i, upTo)
			return
		}
		e.Apply(ie)
	}
}

// TakeSnapshot serializes the state machine's current state. The caller is
// responsible for recording which index this snapshot corresponds to
// (normally Executor.LastApplied(), read under the same server-thread
// quiescent point as the call).
func (e *Executor) TakeSnapshot(w io.Writer) error {
	return e.sm.Serialize(w)
}

// RestoreSnapshot replaces the state machine's state from r and advances
// lastApplied to index, used after installing a snapshot from a leader.
func (e *Executor) RestoreSnapshot(r io.Reader, index uint64) error {
	if err := e.sm.Deserialize(r); err != nil {
		return err
	}
	e.mu.Lock()
	e.lastApplied = index
	e.mu.Unlock()
	return nil
}
