package raft

// AppendRequest is sent by a leader to replicate entries (or, with Entries
// empty, as a heartbeat).
type AppendRequest struct {
	Term         uint64
	Leader       NodeID
	LogIndex     uint64 // PrevLogIndex
	LogTerm      uint64 // PrevLogTerm
	Entries      []IndexedEntry
	CommitIndex  uint64
}

// AppendResponse is the reply to an AppendRequest.
type AppendResponse struct {
	Status    Status
	Error     *Error
	Term      uint64
	Succeeded bool
	LogIndex  uint64
}

// InstallRequest carries a single chunk of a snapshot transfer. Offsets are
// chunk counts, not byte offsets.
type InstallRequest struct {
	Term     uint64
	Leader   NodeID
	ID       string
	Index    uint64
	Offset   uint32
	Data     []byte
	Complete bool
}

// InstallResponse is the reply to an InstallRequest.
type InstallResponse struct {
	Status Status
	Error  *Error
}

// QueryRequest is a read request from a client, scoped by session and
// sequence for at-most-once execution and stamped with the consistency
// level the caller requires.
type QueryRequest struct {
	Session     uint64
	Sequence    uint64
	Index       uint64
	Consistency ConsistencyLevel
	Bytes       []byte
}

// QueryResponse is the reply to a QueryRequest.
type QueryResponse struct {
	Status     Status
	Error      *Error
	Index      uint64
	EventIndex uint64
	Result     []byte
}

// RequestVoteRequest is sent by a candidate soliciting votes.
type RequestVoteRequest struct {
	Term         uint64
	CandidateID  NodeID
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteReply is the reply to a RequestVoteRequest.
type RequestVoteReply struct {
	NodeID      NodeID
	Term        uint64
	VotedTerm   uint64
	VoteGranted bool
}
