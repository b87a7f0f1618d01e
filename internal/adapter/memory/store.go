package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	domainassignment "github.com/alanyang/domain-server/internal/domain/assignment"
)

// AssignmentStore keeps queued dynamic assignments for the life of the
// process only.
type AssignmentStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]domainassignment.Assignment
}

func NewAssignmentStore() *AssignmentStore {
	return &AssignmentStore{items: make(map[uuid.UUID]domainassignment.Assignment)}
}

func (s *AssignmentStore) Save(_ context.Context, a domainassignment.Assignment) error {
	s.mu.Lock()
	s.items[a.ID] = a
	s.mu.Unlock()
	return nil
}

func (s *AssignmentStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

func (s *AssignmentStore) ListQueued(_ context.Context) ([]domainassignment.Assignment, error) {
	s.mu.Lock()
	out := make([]domainassignment.Assignment, 0, len(s.items))
	for _, a := range s.items {
		out = append(out, a)
	}
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b domainassignment.Assignment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}
