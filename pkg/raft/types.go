// Package raft implements the replication core of a Raft consensus server:
// the log store, snapshot store, deterministic state machine executor,
// server context and role state machine, and the client-side node selector
// used to route queries to the current leader.
package raft

import "fmt"

// NodeID identifies a member of the cluster.
type NodeID string

// RoleName enumerates the role states a server can occupy.
type RoleName int

const (
	// RoleReserve is the baseline role: it rejects nearly all traffic.
	RoleReserve RoleName = iota
	// RolePassive accepts commits and snapshots but cannot vote.
	RolePassive
	// RoleFollower accepts commits and snapshots and can vote.
	RoleFollower
	// RoleCandidate is soliciting votes for a new term.
	RoleCandidate
	// RoleLeader drives replication to the rest of the cluster.
	RoleLeader
)

func (r RoleName) String() string {
	switch r {
	case RoleReserve:
		return "reserve"
	case RolePassive:
		return "passive"
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// EntryKind discriminates the payload carried by a log entry.
type EntryKind int

const (
	// EntryCommand is a state-mutating operation.
	EntryCommand EntryKind = iota
	// EntryQuery is a read-only projection appended for linearizable reads.
	EntryQuery
	// EntryConfiguration changes cluster membership.
	EntryConfiguration
	// EntryNoOp is appended by a new leader to commit a no-op in its term.
	EntryNoOp
)

// Entry is a single unit of replicated state: the term it was created in,
// its kind, and its opaque payload.
type Entry struct {
	Term    uint64
	Kind    EntryKind
	Payload []byte
}

// IndexedEntry is the unit of log I/O: an Entry bound to its log index, plus
// its payload size in bytes.
type IndexedEntry struct {
	Index uint64
	Term  uint64
	Entry Entry
	Size  int
}

// ConsistencyLevel is the read consistency requested by a QueryRequest.
type ConsistencyLevel int

const (
	// Sequential reads may be served by any replica caught up with its own
	// commit index and the requesting session.
	Sequential ConsistencyLevel = iota
	// BoundedLinearizable reads must be forwarded to the leader but may
	// tolerate a leader-defined staleness bound.
	BoundedLinearizable
	// Linearizable reads must always be forwarded to the leader.
	Linearizable
)

// Status is the top-level outcome of a request.
type Status int

const (
	// StatusOK indicates the request was handled successfully.
	StatusOK Status = iota
	// StatusError indicates the request failed; see the accompanying ErrorKind.
	StatusError
)

// ErrorKind enumerates the taxonomy of failures the core can report.
type ErrorKind int

const (
	// ErrNoLeader indicates no leader is currently known.
	ErrNoLeader ErrorKind = iota
	// ErrIllegalMemberState indicates a stale term, wrong role, or protocol
	// violation (snapshot gap, out-of-order offset).
	ErrIllegalMemberState
	// ErrCommandFailure indicates the leader failed to replicate a command.
	ErrCommandFailure
	// ErrApplicationError indicates the state machine rejected an operation.
	ErrApplicationError
	// ErrInternal indicates an internal invariant violation.
	ErrInternal
	// ErrUnknownSession indicates the session referenced by a query has not
	// been registered.
	ErrUnknownSession
	// ErrProtocolError indicates a malformed request.
	ErrProtocolError
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNoLeader:
		return "NO_LEADER"
	case ErrIllegalMemberState:
		return "ILLEGAL_MEMBER_STATE"
	case ErrCommandFailure:
		return "COMMAND_FAILURE"
	case ErrApplicationError:
		return "APPLICATION_ERROR"
	case ErrInternal:
		return "INTERNAL_ERROR"
	case ErrUnknownSession:
		return "UNKNOWN_SESSION"
	case ErrProtocolError:
		return "PROTOCOL_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Error is the structured failure type returned alongside StatusError.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds an *Error for the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// OperationResult is the outcome of applying (or querying) a single log
// index against the state machine.
type OperationResult struct {
	Index      uint64
	EventIndex uint64
	Result     interface{}
	Err        *Error
}

// NodeInfo identifies a cluster member for transport purposes. The address
// format is opaque to the core; it is only ever handed to a PeerProxy.
type NodeInfo struct {
	NodeID  NodeID
	Address string
}
