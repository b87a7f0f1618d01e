package memory

import (
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyang/domain-server/internal/domain/node"
	portnodelist "github.com/alanyang/domain-server/internal/port/nodelist"
)

type addrKey struct {
	public netip.AddrPort
	typ    node.Type
}

// NodeList is the in-process membership table.
type NodeList struct {
	mu     sync.RWMutex
	nodes  map[uuid.UUID]node.Node
	byAddr map[addrKey]uuid.UUID

	cbMu       sync.RWMutex
	departures []portnodelist.DepartureFunc
}

func NewNodeList() *NodeList {
	return &NodeList{
		nodes:  make(map[uuid.UUID]node.Node),
		byAddr: make(map[addrKey]uuid.UUID),
	}
}

func (l *NodeList) Upsert(n node.Node) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, exists := l.nodes[n.ID]
	if exists {
		k := addrKey{prev.Public, prev.Type}
		if l.byAddr[k] == n.ID {
			delete(l.byAddr, k)
		}
	}
	l.nodes[n.ID] = n
	l.byAddr[addrKey{n.Public, n.Type}] = n.ID
	return !exists
}

func (l *NodeList) Get(id uuid.UUID) (node.Node, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n, ok := l.nodes[id]
	return n, ok
}

func (l *NodeList) FindByAddr(public netip.AddrPort, t node.Type) (node.Node, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byAddr[addrKey{public, t}]
	if !ok {
		return node.Node{}, false
	}
	n, ok := l.nodes[id]
	return n, ok
}

func (l *NodeList) Remove(id uuid.UUID) bool {
	l.mu.Lock()
	n, ok := l.nodes[id]
	if ok {
		l.deleteLocked(n)
	}
	l.mu.Unlock()

	if ok {
		l.depart(n)
	}
	return ok
}

func (l *NodeList) All() []node.Node {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]node.Node, 0, len(l.nodes))
	for _, n := range l.nodes {
		out = append(out, n)
	}
	return out
}

func (l *NodeList) Sweep(now time.Time, timeout time.Duration) []node.Node {
	l.mu.Lock()
	var gone []node.Node
	for _, n := range l.nodes {
		if n.IsStale(now, timeout) {
			gone = append(gone, n)
			l.deleteLocked(n)
		}
	}
	l.mu.Unlock()

	for _, n := range gone {
		l.depart(n)
	}
	return gone
}

func (l *NodeList) OnDeparture(fn portnodelist.DepartureFunc) {
	l.cbMu.Lock()
	l.departures = append(l.departures, fn)
	l.cbMu.Unlock()
}

func (l *NodeList) deleteLocked(n node.Node) {
	delete(l.nodes, n.ID)
	k := addrKey{n.Public, n.Type}
	if l.byAddr[k] == n.ID {
		delete(l.byAddr, k)
	}
}

func (l *NodeList) depart(n node.Node) {
	l.cbMu.RLock()
	fns := l.departures
	l.cbMu.RUnlock()
	for _, fn := range fns {
		fn(n)
	}
}
