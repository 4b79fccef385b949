package raft

// reserveRole is the baseline role: it rejects nearly all traffic. A server
// sits here before it has joined a configuration, or after a fatal log/IO
// error has forced it to a safe quiescent state (see ctx.fault).
type reserveRole struct{}

func newReserveRole() *reserveRole { return &reserveRole{} }

func (r *reserveRole) Name() RoleName { return RoleReserve }

func (r *reserveRole) Open(ctx *ServerContext)  {}
func (r *reserveRole) Close(ctx *ServerContext) {}

func (r *reserveRole) Append(ctx *ServerContext, req AppendRequest) AppendResponse {
	return AppendResponse{Status: StatusError, Error: NewError(ErrIllegalMemberState, "server is reserved"), Term: ctx.currentTerm}
}

func (r *reserveRole) Install(ctx *ServerContext, req InstallRequest) InstallResponse {
	return InstallResponse{Status: StatusError, Error: NewError(ErrIllegalMemberState, "server is reserved")}
}

func (r *reserveRole) Query(ctx *ServerContext, req QueryRequest) QueryResponse {
	return QueryResponse{Status: StatusError, Error: NewError(ErrIllegalMemberState, "server is reserved")}
}

func (r *reserveRole) RequestVote(ctx *ServerContext, req RequestVoteRequest) RequestVoteReply {
	return RequestVoteReply{NodeID: ctx.id, Term: ctx.currentTerm, VoteGranted: false}
}

func (r *reserveRole) Command(ctx *ServerContext, payload []byte) (*Future[OperationResult], *Error) {
	return nil, NewError(ErrIllegalMemberState, "server is reserved")
}
