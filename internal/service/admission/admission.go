package admission

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	domainassignment "github.com/alanyang/domain-server/internal/domain/assignment"
	"github.com/alanyang/domain-server/internal/domain/event"
	"github.com/alanyang/domain-server/internal/domain/node"
	"github.com/alanyang/domain-server/internal/domain/packet"
	portbus "github.com/alanyang/domain-server/internal/port/eventbus"
	"github.com/alanyang/domain-server/internal/port/nodelist"
	portverifier "github.com/alanyang/domain-server/internal/port/verifier"
)

var (
	ErrMalformed       = errors.New("admission: malformed packet")
	ErrUnauthenticated = errors.New("admission: authentication failed")
	ErrRejected        = errors.New("admission: node type not admitted")
	ErrUntrusted       = errors.New("admission: sender not trusted")
)

// Assignments is the part of the assignment registry admission drives.
type Assignments interface {
	MatchStaticAssignment(ctx context.Context, id uuid.UUID, nodeType node.Type) (domainassignment.Assignment, bool)
	DeployableAssignment(ctx context.Context, t domainassignment.Type, pool string) (domainassignment.Assignment, bool)
	DeployForRequest(ctx context.Context, t domainassignment.Type, pool string) (domainassignment.Assignment, bool)
	ClaimDeployed(ctx context.Context, id uuid.UUID, nodeType node.Type) (domainassignment.Assignment, bool)
	ReleaseAssignment(ctx context.Context, id uuid.UUID)
	EnqueueDynamic(ctx context.Context, a domainassignment.Assignment) (domainassignment.Assignment, error)
}

type Config struct {
	Policy        node.Policy
	VerifyTimeout time.Duration
	// Trusted decides who may submit CreateAssignment.
	Trusted func(netip.Addr) bool
}

// Service turns check-ins into membership. It owns no state of its own: nodes
// live in the node registry and assignments in the assignment registry.
//
// mu orders admissions against departures so that a node refreshed while it
// is being swept keeps its assignment exactly once.
type Service struct {
	nodes       nodelist.Registry
	assignments Assignments
	verifier    portverifier.Verifier
	bus         portbus.EventBus
	cfg         Config
	now         func() time.Time

	mu sync.Mutex
}

func NewService(nodes nodelist.Registry, assignments Assignments, verifier portverifier.Verifier, bus portbus.EventBus, cfg Config) *Service {
	if cfg.Policy == nil {
		cfg.Policy = node.DefaultPolicy
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 2 * time.Second
	}
	if cfg.Trusted == nil {
		cfg.Trusted = func(a netip.Addr) bool { return a.IsLoopback() }
	}
	return &Service{
		nodes:       nodes,
		assignments: assignments,
		verifier:    verifier,
		bus:         bus,
		cfg:         cfg,
		now:         time.Now,
	}
}

// HandleCheckIn admits, refreshes or turns away the sender of a CheckIn and
// returns the DomainList datagrams to send back. Errors carry no replies: the
// sender is ignored.
func (s *Service) HandleCheckIn(ctx context.Context, raw []byte, from netip.AddrPort) (replies [][]byte, err error) {
	c := checkIn{state: StateReceived, from: unmap(from)}
	defer func() {
		if err != nil {
			c.state = StateRejected
		}
		slog.DebugContext(ctx, "check-in processed",
			"from", c.from, "state", c.state, "node_type", c.in.NodeType, "node_id", c.id, "error", err)
	}()

	if c.in, err = packet.DecodeCheckIn(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	c.state = StateParsed

	rule, ok := s.cfg.Policy.Rule(c.in.NodeType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRejected, c.in.NodeType)
	}
	c.rule = rule

	if err := s.authenticate(ctx, &c); err != nil {
		return nil, err
	}
	c.state = StateAuthenticated

	n, ok := s.admit(ctx, &c)
	if !ok {
		// Workers without work are told so and not admitted.
		c.id = c.in.ID
		replies, _ = packet.EncodeDomainList(packet.StatusNoWork, c.in.ID, c.in.NodeType, nil)
		c.state = StateResponded
		return replies, nil
	}

	status := packet.StatusUnassigned
	if n.HasAssignment() {
		status = packet.StatusAssigned
	}
	replies, dropped := packet.EncodeDomainList(status, n.ID, n.Type, s.peers(n))
	if dropped > 0 {
		slog.WarnContext(ctx, "domain list truncated", "node_id", n.ID, "dropped", dropped)
	}
	c.state = StateResponded
	return replies, nil
}

// checkIn carries one check-in through the admission states.
type checkIn struct {
	state State
	from  netip.AddrPort
	in    packet.CheckIn
	rule  node.Rule

	identity uuid.UUID
	reused   *node.Node
	assigned *uuid.UUID
	id       uuid.UUID
}

func (s *Service) authenticate(ctx context.Context, c *checkIn) error {
	if len(c.in.Token) == 0 {
		if c.rule.RequiresAuth {
			return fmt.Errorf("%w: ticket required for %s", ErrUnauthenticated, c.in.NodeType)
		}
		return nil
	}

	vctx, cancel := context.WithTimeout(ctx, s.cfg.VerifyTimeout)
	defer cancel()
	id, err := s.verifier.Verify(vctx, c.in.Token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	c.identity = id
	return nil
}

// admit matches and registers c in one step. It reports false for a worker
// left without work.
func (s *Service) admit(ctx context.Context, c *checkIn) (node.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.match(ctx, c)
	c.state = StateMatched
	if c.assigned == nil && c.rule.RequiresAssignment {
		return node.Node{}, false
	}

	n := s.register(ctx, c)
	c.state = StateRegistered
	return n, true
}

func (s *Service) match(ctx context.Context, c *checkIn) {
	// A resend of a first check-in that was already admitted.
	if n, ok := s.nodes.FindByAddr(c.from, c.in.NodeType); ok {
		c.reused = &n
		c.assigned = n.AssignmentID
		return
	}

	if c.in.HasID() {
		if a, ok := s.assignments.MatchStaticAssignment(ctx, c.in.ID, c.in.NodeType); ok {
			c.assigned = &a.ID
			return
		}
		if a, ok := s.assignments.ClaimDeployed(ctx, c.in.ID, c.in.NodeType); ok {
			c.assigned = &a.ID
			return
		}
		if n, ok := s.nodes.Get(c.in.ID); ok && n.Type == c.in.NodeType {
			if n.Public != c.from {
				slog.WarnContext(ctx, "claimed node ID active at another address, taking over",
					"node_id", n.ID, "type", n.Type, "previous", n.Public, "from", c.from, "assigned", n.HasAssignment())
			}
			c.reused = &n
			c.assigned = n.AssignmentID
			return
		}
	}

	if !c.rule.RequiresAssignment {
		return
	}
	t, ok := domainassignment.ForNodeType(c.in.NodeType)
	if !ok {
		return
	}
	if a, ok := s.assignments.DeployableAssignment(ctx, t, c.in.Pool); ok {
		c.assigned = &a.ID
	}
}

func (s *Service) register(ctx context.Context, c *checkIn) node.Node {
	now := s.now()

	switch {
	case c.reused != nil:
		c.id = c.reused.ID
	case c.assigned != nil:
		c.id = *c.assigned
	case c.identity != uuid.Nil:
		c.id = c.identity
	case c.in.HasID():
		c.id = c.in.ID
	default:
		c.id = uuid.New()
	}

	n := node.Node{
		ID:         c.id,
		Type:       c.in.NodeType,
		Public:     c.from,
		Local:      c.in.Local,
		Interests:  slices.Clone(c.in.Interests),
		CreatedAt:  now,
		LastActive: now,
	}
	if c.assigned != nil {
		id := *c.assigned
		n.AssignmentID = &id
	}

	replaced := false
	if prev, ok := s.nodes.Get(n.ID); ok {
		if prev.Type == n.Type && sameAssignment(prev.AssignmentID, n.AssignmentID) {
			n.CreatedAt = prev.CreatedAt
		} else {
			// Another node holds this UUID; it departs and the new one takes
			// its record.
			if sameAssignment(prev.AssignmentID, n.AssignmentID) {
				prev.AssignmentID = nil
			}
			s.depart(ctx, prev)
			replaced = true
		}
	}

	if s.nodes.Upsert(n) || replaced {
		slog.InfoContext(ctx, "node added", "node_id", n.ID, "type", n.Type, "public", n.Public, "assigned", n.HasAssignment())
		s.publish(ctx, event.TypeNodeAdded, n)
	}
	return n
}

func sameAssignment(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// peers lists every other active node n is interested in, ordered by the
// position of its type in n's interest list and then by UUID.
func (s *Service) peers(n node.Node) []packet.Entry {
	rank := make(map[node.Type]int, len(n.Interests))
	for i, t := range n.Interests {
		if _, seen := rank[t]; !seen {
			rank[t] = i
		}
	}

	var out []node.Node
	for _, other := range s.nodes.All() {
		if other.ID == n.ID {
			continue
		}
		if _, ok := rank[other.Type]; ok {
			out = append(out, other)
		}
	}
	slices.SortFunc(out, func(a, b node.Node) int {
		if c := cmp.Compare(rank[a.Type], rank[b.Type]); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})

	entries := make([]packet.Entry, len(out))
	for i, o := range out {
		entries[i] = packet.Entry{ID: o.ID, Type: o.Type, Public: o.Public, Local: o.Local}
	}
	return entries
}

// RequestAssignment hands an idle assignment client the next matching work.
// No match means no reply.
func (s *Service) RequestAssignment(ctx context.Context, raw []byte, from netip.AddrPort) ([][]byte, error) {
	req, err := packet.DecodeRequestAssignment(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	a, ok := s.assignments.DeployForRequest(ctx, req.Type, req.Pool)
	if !ok {
		slog.DebugContext(ctx, "no assignment for request", "from", from, "type", req.Type, "pool", req.Pool)
		return nil, nil
	}

	b, err := packet.EncodeAssignmentDeploy(packet.AssignmentDeploy{
		ID:      a.ID,
		Type:    a.Type,
		Pool:    a.Pool,
		Payload: a.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode assignment deploy: %w", err)
	}
	slog.InfoContext(ctx, "assignment deployed on request", "assignment_id", a.ID, "type", a.Type, "to", from)
	return [][]byte{b}, nil
}

// CreateAssignment queues dynamic work submitted by a trusted sender.
func (s *Service) CreateAssignment(ctx context.Context, raw []byte, from netip.AddrPort) ([][]byte, error) {
	if !s.cfg.Trusted(from.Addr().Unmap()) {
		return nil, fmt.Errorf("%w: %s", ErrUntrusted, from)
	}

	req, err := packet.DecodeCreateAssignment(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	a, err := s.assignments.EnqueueDynamic(ctx, domainassignment.NewDynamic(req.Type, req.Pool, req.Payload))
	if err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}

	b, err := packet.EncodeAssignmentCreated(packet.AssignmentCreated{ID: a.ID})
	if err != nil {
		return nil, fmt.Errorf("encode assignment created: %w", err)
	}
	slog.InfoContext(ctx, "assignment created", "assignment_id", a.ID, "type", a.Type, "pool", a.Pool, "from", from)
	return [][]byte{b}, nil
}

// Depart releases what a departed node held. It is registered as the node
// registry's departure callback. A node that was admitted again under the
// same UUID and assignment while it was leaving keeps its assignment.
func (s *Service) Depart(ctx context.Context, n node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.nodes.Get(n.ID); ok && cur.Type == n.Type && sameAssignment(cur.AssignmentID, n.AssignmentID) {
		slog.DebugContext(ctx, "departed node already re-admitted", "node_id", n.ID, "public", cur.Public)
		return
	}
	s.depart(ctx, n)
}

func (s *Service) depart(ctx context.Context, n node.Node) {
	if n.AssignmentID != nil {
		s.assignments.ReleaseAssignment(ctx, *n.AssignmentID)
	}
	slog.InfoContext(ctx, "node killed", "node_id", n.ID, "type", n.Type, "public", n.Public)
	s.publish(ctx, event.TypeNodeKilled, n)
}

func (s *Service) publish(ctx context.Context, t event.Type, n node.Node) {
	if err := s.bus.Publish(ctx, event.New(t, n.ID, n.Type.String())); err != nil {
		slog.ErrorContext(ctx, "failed to publish node event", "type", t, "node_id", n.ID, "error", err)
	}
}

func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
