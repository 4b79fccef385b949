package raft

import "sync"

// SelectorStrategy enumerates the candidate-ordering policies a NodeSelector
// can apply over the current (leader, servers) view.
type SelectorStrategy int

const (
	// StrategyLeader yields the current leader only.
	StrategyLeader SelectorStrategy = iota
	// StrategyFollowers yields non-leader servers in stable order.
	StrategyFollowers
	// StrategyAny yields leader then followers.
	StrategyAny
	// StrategyAnyWithFallback yields leader then followers, restarting the
	// iteration once on exhaustion.
	StrategyAnyWithFallback
)

// NodeSelector produces an ordered sequence of candidate node ids on each
// selection pass, per its strategy, over the view currently held by its
// owning NodeSelectorManager.
type NodeSelector struct {
	mu       sync.Mutex
	strategy SelectorStrategy
	leader   NodeID
	servers  []NodeID
	manager  *NodeSelectorManager
}

// Next returns the ordered candidate list for one selection pass.
func (s *NodeSelector) Next() []NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.strategy {
	case StrategyLeader:
		if s.leader == "" {
			return nil
		}
		return []NodeID{s.leader}
	case StrategyFollowers:
		return s.followersLocked()
	case StrategyAny:
		return s.anyLocked()
	case StrategyAnyWithFallback:
		once := s.anyLocked()
		return append(append([]NodeID{}, once...), once...)
	default:
		return nil
	}
}

func (s *NodeSelector) followersLocked() []NodeID {
	out := make([]NodeID, 0, len(s.servers))
	for _, id := range s.servers {
		if id != s.leader {
			out = append(out, id)
		}
	}
	return out
}

func (s *NodeSelector) anyLocked() []NodeID {
	out := make([]NodeID, 0, len(s.servers)+1)
	if s.leader != "" {
		out = append(out, s.leader)
	}
	out = append(out, s.followersLocked()...)
	return out
}

// reset applies a new (leader, servers) view, invoked by the owning manager.
func (s *NodeSelector) reset(leader NodeID, servers []NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leader = leader
	s.servers = servers
}

// Remove detaches this selector from its manager; it keeps serving its last
// known view but will no longer be updated.
func (s *NodeSelector) Remove() {
	if s.manager != nil {
		s.manager.remove(s)
	}
}

// NodeSelectorManager owns the authoritative (leader, servers) view and a
// copy-on-write set of child selectors, so resetAll never blocks concurrent
// iteration over the child set.
type NodeSelectorManager struct {
	mu       sync.Mutex
	leader   NodeID
	servers  []NodeID
	children []*NodeSelector
}

// NewNodeSelectorManager returns a manager with an empty initial view.
func NewNodeSelectorManager() *NodeSelectorManager {
	return &NodeSelectorManager{}
}

// NewSelector creates a child selector with the given strategy, seeded with
// the manager's current view.
func (m *NodeSelectorManager) NewSelector(strategy SelectorStrategy) *NodeSelector {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &NodeSelector{strategy: strategy, leader: m.leader, servers: m.servers, manager: m}
	children := make([]*NodeSelector, len(m.children)+1)
	copy(children, m.children)
	children[len(m.children)] = s
	m.children = children
	return s
}

// ResetAll updates the authoritative view and pushes it to every current
// child selector. The child slice is read under lock; NewSelector/remove
// replace it with a new slice rather than mutating it, so iteration here
// never races with them.
func (m *NodeSelectorManager) ResetAll(leader NodeID, servers []NodeID) {
	m.mu.Lock()
	m.leader = leader
	m.servers = servers
	children := m.children
	m.mu.Unlock()

	for _, c := range children {
		c.reset(leader, servers)
	}
}

func (m *NodeSelectorManager) remove(target *NodeSelector) {
	m.mu.Lock()
	defer m.mu.Unlock()

	children := make([]*NodeSelector, 0, len(m.children))
	for _, c := range m.children {
		if c != target {
			children = append(children, c)
		}
	}
	m.children = children
}
