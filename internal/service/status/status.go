// Package status builds the read-only operator views of the domain.
package status

import (
	"bytes"
	"net/netip"
	"slices"
	"time"

	"github.com/google/uuid"

	domainassignment "github.com/alanyang/domain-server/internal/domain/assignment"
	"github.com/alanyang/domain-server/internal/domain/node"
	"github.com/alanyang/domain-server/internal/port/nodelist"
	svcassignment "github.com/alanyang/domain-server/internal/service/assignment"
)

// SessionCounter reports established secured sessions.
type SessionCounter interface {
	Sessions() int
}

type Service struct {
	domainID    uuid.UUID
	nodes       nodelist.Registry
	assignments *svcassignment.Registry
	sessions    SessionCounter
	started     time.Time
	now         func() time.Time
}

// NewService creates the view. sessions may be nil when DTLS is disabled.
func NewService(domainID uuid.UUID, nodes nodelist.Registry, assignments *svcassignment.Registry, sessions SessionCounter) *Service {
	return &Service{
		domainID:    domainID,
		nodes:       nodes,
		assignments: assignments,
		sessions:    sessions,
		started:     time.Now(),
		now:         time.Now,
	}
}

type NodeView struct {
	ID     uuid.UUID      `json:"uuid"`
	Type   node.Type      `json:"type"`
	Public netip.AddrPort `json:"public"`
	Local  netip.AddrPort `json:"local"`
}

type StaticView struct {
	ID   uuid.UUID             `json:"uuid"`
	Type domainassignment.Type `json:"type"`
	Pool string                `json:"pool"`
}

type AssignmentSummary struct {
	Static []StaticView `json:"static"`
	Queued int          `json:"queued"`
}

// Overview is the GET /nodes document.
type Overview struct {
	Nodes       []NodeView        `json:"nodes"`
	NodesByType map[string]int    `json:"nodes_by_type"`
	Assignments AssignmentSummary `json:"assignments"`
}

type Stats struct {
	DomainID        uuid.UUID      `json:"domain_id"`
	Nodes           int            `json:"nodes"`
	NodesByType     map[string]int `json:"nodes_by_type"`
	QueueDepth      int            `json:"queue_depth"`
	Held            int            `json:"held"`
	Deployed        int            `json:"deployed"`
	SecuredSessions int            `json:"secured_sessions"`
	UptimeSeconds   int64          `json:"uptime_seconds"`
}

// Nodes lists active nodes ordered by type, then UUID.
func (s *Service) Nodes() []NodeView {
	all := s.nodes.All()
	slices.SortFunc(all, func(a, b node.Node) int {
		if a.Type != b.Type {
			return int(a.Type) - int(b.Type)
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})

	out := make([]NodeView, len(all))
	for i, n := range all {
		out[i] = NodeView{ID: n.ID, Type: n.Type, Public: n.Public, Local: n.Local}
	}
	return out
}

func (s *Service) Overview() Overview {
	snap := s.assignments.Snapshot()
	static := make([]StaticView, len(snap.Static))
	for i, a := range snap.Static {
		static[i] = StaticView{ID: a.ID, Type: a.Type, Pool: a.Pool}
	}
	nodes := s.Nodes()
	byType := make(map[string]int)
	for _, n := range nodes {
		byType[n.Type.String()]++
	}
	return Overview{
		Nodes:       nodes,
		NodesByType: byType,
		Assignments: AssignmentSummary{Static: static, Queued: snap.Queued},
	}
}

func (s *Service) Assignments() svcassignment.Snapshot {
	return s.assignments.Snapshot()
}

func (s *Service) Assignment(id uuid.UUID) (domainassignment.Assignment, bool) {
	return s.assignments.Get(id)
}

func (s *Service) Stats() Stats {
	all := s.nodes.All()
	byType := make(map[string]int)
	for _, n := range all {
		byType[n.Type.String()]++
	}
	snap := s.assignments.Snapshot()

	st := Stats{
		DomainID:      s.domainID,
		Nodes:         len(all),
		NodesByType:   byType,
		QueueDepth:    snap.Queued,
		Held:          snap.Held,
		Deployed:      snap.Deployed,
		UptimeSeconds: int64(s.now().Sub(s.started) / time.Second),
	}
	if s.sessions != nil {
		st.SecuredSessions = s.sessions.Sessions()
	}
	return st
}
