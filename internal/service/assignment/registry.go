package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyang/domain-server/internal/config"
	domainassignment "github.com/alanyang/domain-server/internal/domain/assignment"
	"github.com/alanyang/domain-server/internal/domain/event"
	"github.com/alanyang/domain-server/internal/domain/node"
	portassignment "github.com/alanyang/domain-server/internal/port/assignment"
	portbus "github.com/alanyang/domain-server/internal/port/eventbus"
)

var (
	ErrInvalidConfig = errors.New("assignment: invalid configuration")
	ErrDuplicate     = errors.New("assignment: duplicate id")
)

type queueEntry struct {
	id  uuid.UUID
	seq uint64
}

type pending struct {
	a  domainassignment.Assignment
	at time.Time
}

// Registry owns every assignment record: the static table built from
// configuration, queued and held dynamic work, and dynamic work handed out on
// request that has not checked in yet. The queue only carries keys into those
// tables. Every operation runs under one mutex so a match is removed in the
// same step that finds it.
type Registry struct {
	namespace uuid.UUID
	store     portassignment.Store
	bus       portbus.EventBus
	now       func() time.Time

	mu          sync.Mutex
	static      map[uuid.UUID]domainassignment.Assignment
	staticOrder []uuid.UUID
	dynamic     map[uuid.UUID]domainassignment.Assignment
	queue       []queueEntry
	queued      map[uuid.UUID]struct{}
	held        map[uuid.UUID]struct{}
	deployed    map[uuid.UUID]pending
	seq         uint64
}

// NewRegistry creates an empty registry. namespace seeds static UUIDs.
func NewRegistry(namespace uuid.UUID, store portassignment.Store, bus portbus.EventBus) *Registry {
	return &Registry{
		namespace: namespace,
		store:     store,
		bus:       bus,
		now:       time.Now,
		static:    make(map[uuid.UUID]domainassignment.Assignment),
		dynamic:   make(map[uuid.UUID]domainassignment.Assignment),
		queued:    make(map[uuid.UUID]struct{}),
		held:      make(map[uuid.UUID]struct{}),
		deployed:  make(map[uuid.UUID]pending),
	}
}

// Configure builds the static table from defs plus one default slot for every
// default type that is neither configured nor excluded, then restores queued
// dynamic assignments from the store. Configuring again with the same input
// changes nothing.
func (r *Registry) Configure(ctx context.Context, defs []config.AssignmentDef, excluded map[domainassignment.Type]bool) error {
	var slots []domainassignment.Assignment
	configured := make(map[domainassignment.Type]bool)
	next := make(map[string]int)

	for i, def := range defs {
		t, err := domainassignment.ParseName(def.Type)
		if err != nil {
			return fmt.Errorf("%w: assignments[%d]: %v", ErrInvalidConfig, i, err)
		}
		if def.Count < 1 {
			return fmt.Errorf("%w: assignments[%d]: count %d", ErrInvalidConfig, i, def.Count)
		}
		configured[t] = true

		key := t.String() + "/" + def.Pool
		for n := 0; n < def.Count; n++ {
			var payload []byte
			if def.Payload != "" {
				payload = []byte(def.Payload)
			}
			slots = append(slots, domainassignment.NewStatic(r.namespace, t, def.Pool, next[key], payload))
			next[key]++
		}
	}

	for _, t := range domainassignment.DefaultStaticTypes {
		if configured[t] || excluded[t] {
			continue
		}
		slots = append(slots, domainassignment.NewStatic(r.namespace, t, "", 0, nil))
	}

	stored, err := r.store.ListQueued(ctx)
	if err != nil {
		return fmt.Errorf("restore queued assignments: %w", err)
	}

	r.mu.Lock()
	added := 0
	for _, a := range slots {
		if _, ok := r.static[a.ID]; ok {
			continue
		}
		r.static[a.ID] = a
		r.staticOrder = append(r.staticOrder, a.ID)
		r.enqueueLocked(a.ID)
		added++
	}
	restored := 0
	for _, a := range stored {
		a.Static = false
		if _, ok := r.dynamic[a.ID]; ok {
			continue
		}
		if _, ok := r.static[a.ID]; ok {
			continue
		}
		r.dynamic[a.ID] = a
		r.enqueueLocked(a.ID)
		restored++
	}
	total := len(r.static)
	r.mu.Unlock()

	slog.InfoContext(ctx, "assignments configured", "static_added", added, "static_total", total, "dynamic_restored", restored)
	return nil
}

// MatchStaticAssignment hands a checking-in node the static slot whose UUID it
// claims, provided the slot is queued and of the node's type.
func (r *Registry) MatchStaticAssignment(ctx context.Context, id uuid.UUID, nodeType node.Type) (domainassignment.Assignment, bool) {
	r.mu.Lock()
	a, ok := r.static[id]
	if !ok || a.Type.NodeType() != nodeType {
		r.mu.Unlock()
		return domainassignment.Assignment{}, false
	}
	if !r.dequeueLocked(id) {
		r.mu.Unlock()
		return domainassignment.Assignment{}, false
	}
	r.held[id] = struct{}{}
	r.mu.Unlock()

	r.publish(ctx, event.TypeAssignmentDeployed, a)
	return a, true
}

// DeployableAssignment removes and holds the oldest queued assignment that
// matches t and pool. An empty pool matches any pool.
func (r *Registry) DeployableAssignment(ctx context.Context, t domainassignment.Type, pool string) (domainassignment.Assignment, bool) {
	r.mu.Lock()
	a, idx, ok := r.firstMatchLocked(t, pool)
	if !ok {
		r.mu.Unlock()
		return domainassignment.Assignment{}, false
	}
	r.removeAtLocked(idx)
	r.held[a.ID] = struct{}{}
	r.mu.Unlock()

	if !a.Static {
		if err := r.store.Delete(ctx, a.ID); err != nil {
			slog.ErrorContext(ctx, "failed to delete deployed assignment from store", "assignment_id", a.ID, "error", err)
		}
	}
	r.publish(ctx, event.TypeAssignmentDeployed, a)
	return a, true
}

// DeployForRequest serves an idle assignment client asking for work. Static
// slots go straight to the back of the queue so they can be handed out again;
// dynamic work waits in the deployed table for its worker to check in.
func (r *Registry) DeployForRequest(ctx context.Context, t domainassignment.Type, pool string) (domainassignment.Assignment, bool) {
	r.mu.Lock()
	a, idx, ok := r.firstMatchLocked(t, pool)
	if !ok {
		r.mu.Unlock()
		return domainassignment.Assignment{}, false
	}
	if a.Static {
		r.enqueueLocked(a.ID)
		r.mu.Unlock()
		return a, true
	}
	r.removeAtLocked(idx)
	delete(r.dynamic, a.ID)
	r.deployed[a.ID] = pending{a: a, at: r.now()}
	r.mu.Unlock()

	if err := r.store.Delete(ctx, a.ID); err != nil {
		slog.ErrorContext(ctx, "failed to delete deployed assignment from store", "assignment_id", a.ID, "error", err)
	}
	r.publish(ctx, event.TypeAssignmentDeployed, a)
	return a, true
}

// ClaimDeployed binds a worker checking in with a UUID it received through
// DeployForRequest.
func (r *Registry) ClaimDeployed(ctx context.Context, id uuid.UUID, nodeType node.Type) (domainassignment.Assignment, bool) {
	r.mu.Lock()
	p, ok := r.deployed[id]
	if !ok || p.a.Type.NodeType() != nodeType {
		r.mu.Unlock()
		return domainassignment.Assignment{}, false
	}
	delete(r.deployed, id)
	r.dynamic[id] = p.a
	r.held[id] = struct{}{}
	r.mu.Unlock()
	return p.a, true
}

// RequeueStatic returns a held static slot to the back of the queue.
func (r *Registry) RequeueStatic(ctx context.Context, a domainassignment.Assignment) {
	r.mu.Lock()
	if _, ok := r.static[a.ID]; !ok {
		r.mu.Unlock()
		slog.WarnContext(ctx, "requeue of non-static assignment ignored", "assignment_id", a.ID)
		return
	}
	delete(r.held, a.ID)
	r.enqueueLocked(a.ID)
	r.mu.Unlock()

	r.publish(ctx, event.TypeAssignmentQueued, a)
}

// ReleaseAssignment ends the hold a departed node had on its assignment.
// Static slots are requeued; dynamic work is discarded.
func (r *Registry) ReleaseAssignment(ctx context.Context, id uuid.UUID) {
	r.mu.Lock()
	if _, ok := r.held[id]; !ok {
		r.mu.Unlock()
		slog.WarnContext(ctx, "release of assignment that is not held", "assignment_id", id)
		return
	}
	delete(r.held, id)

	if a, ok := r.static[id]; ok {
		r.enqueueLocked(id)
		r.mu.Unlock()
		r.publish(ctx, event.TypeAssignmentReleased, a)
		r.publish(ctx, event.TypeAssignmentQueued, a)
		return
	}

	a := r.dynamic[id]
	delete(r.dynamic, id)
	r.mu.Unlock()
	r.publish(ctx, event.TypeAssignmentReleased, a)
	r.publish(ctx, event.TypeAssignmentDiscarded, a)
}

// EnqueueDynamic persists a and appends it to the queue. A nil ID is replaced
// with a fresh one.
func (r *Registry) EnqueueDynamic(ctx context.Context, a domainassignment.Assignment) (domainassignment.Assignment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now().UTC()
	}
	a.Static = false

	r.mu.Lock()
	_, isStatic := r.static[a.ID]
	_, isDynamic := r.dynamic[a.ID]
	_, isDeployed := r.deployed[a.ID]
	r.mu.Unlock()
	if isStatic || isDynamic || isDeployed {
		return domainassignment.Assignment{}, fmt.Errorf("%w: %s", ErrDuplicate, a.ID)
	}

	if err := r.store.Save(ctx, a); err != nil {
		return domainassignment.Assignment{}, fmt.Errorf("enqueue assignment: %w", err)
	}

	r.mu.Lock()
	r.dynamic[a.ID] = a
	r.enqueueLocked(a.ID)
	r.mu.Unlock()

	r.publish(ctx, event.TypeAssignmentQueued, a)
	return a, nil
}

// SweepDeployed discards dynamic work handed out more than ttl ago whose worker
// never checked in.
func (r *Registry) SweepDeployed(ctx context.Context, ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	var stale []domainassignment.Assignment
	for id, p := range r.deployed {
		if p.at.Before(cutoff) {
			stale = append(stale, p.a)
			delete(r.deployed, id)
		}
	}
	r.mu.Unlock()

	for _, a := range stale {
		slog.InfoContext(ctx, "deployed assignment expired", "assignment_id", a.ID, "type", a.Type)
		r.publish(ctx, event.TypeAssignmentDiscarded, a)
	}
	return len(stale)
}

// Snapshot is a consistent read-only view of the registry.
type Snapshot struct {
	Static   []domainassignment.Assignment `json:"static"`
	Queue    []domainassignment.Assignment `json:"queue"`
	Queued   int                           `json:"queued"`
	Held     int                           `json:"held"`
	Deployed int                           `json:"deployed"`
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Static:   make([]domainassignment.Assignment, 0, len(r.staticOrder)),
		Queue:    make([]domainassignment.Assignment, 0, len(r.queue)),
		Queued:   len(r.queue),
		Held:     len(r.held),
		Deployed: len(r.deployed),
	}
	for _, id := range r.staticOrder {
		s.Static = append(s.Static, r.static[id])
	}
	for _, e := range r.queue {
		if a, ok := r.lookupLocked(e.id); ok {
			s.Queue = append(s.Queue, a)
		}
	}
	return s
}

// Get returns any known assignment by UUID.
func (r *Registry) Get(id uuid.UUID) (domainassignment.Assignment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.lookupLocked(id); ok {
		return a, true
	}
	if p, ok := r.deployed[id]; ok {
		return p.a, true
	}
	return domainassignment.Assignment{}, false
}

// ── helpers (r.mu held) ──────────────────────────────────────────────────────

func (r *Registry) lookupLocked(id uuid.UUID) (domainassignment.Assignment, bool) {
	if a, ok := r.static[id]; ok {
		return a, true
	}
	a, ok := r.dynamic[id]
	return a, ok
}

// enqueueLocked appends id with a fresh sequence number, moving it to the back
// if it is already queued.
func (r *Registry) enqueueLocked(id uuid.UUID) {
	if _, ok := r.queued[id]; ok {
		r.dequeueLocked(id)
	}
	r.seq++
	r.queue = append(r.queue, queueEntry{id: id, seq: r.seq})
	r.queued[id] = struct{}{}
}

func (r *Registry) dequeueLocked(id uuid.UUID) bool {
	if _, ok := r.queued[id]; !ok {
		return false
	}
	idx := slices.IndexFunc(r.queue, func(e queueEntry) bool { return e.id == id })
	r.removeAtLocked(idx)
	return true
}

func (r *Registry) removeAtLocked(idx int) {
	delete(r.queued, r.queue[idx].id)
	r.queue = slices.Delete(r.queue, idx, idx+1)
}

func (r *Registry) firstMatchLocked(t domainassignment.Type, pool string) (domainassignment.Assignment, int, bool) {
	for i, e := range r.queue {
		a, ok := r.lookupLocked(e.id)
		if ok && a.Matches(t, pool) {
			return a, i, true
		}
	}
	return domainassignment.Assignment{}, -1, false
}

func (r *Registry) publish(ctx context.Context, t event.Type, a domainassignment.Assignment) {
	if err := r.bus.Publish(ctx, event.New(t, a.ID, a.Type.String())); err != nil {
		slog.ErrorContext(ctx, "failed to publish assignment event", "type", t, "assignment_id", a.ID, "error", err)
	}
}
