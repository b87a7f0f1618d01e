package nodelist

import (
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/alanyang/domain-server/internal/domain/node"
)

// DepartureFunc is invoked once per node that leaves the list through Remove
// or Sweep. It runs outside the list's lock.
type DepartureFunc func(n node.Node)

// Registry is the set of active nodes. UUIDs are unique among entries.
type Registry interface {
	// Upsert inserts or replaces the node keyed by its UUID and reports
	// whether it was new.
	Upsert(n node.Node) (created bool)
	Get(id uuid.UUID) (node.Node, bool)
	FindByAddr(public netip.AddrPort, t node.Type) (node.Node, bool)
	Remove(id uuid.UUID) bool
	// All returns a snapshot copy of every active node.
	All() []node.Node
	// Sweep removes nodes idle beyond timeout and returns them.
	Sweep(now time.Time, timeout time.Duration) []node.Node
	OnDeparture(fn DepartureFunc)
}
