package assignment

import (
	"context"

	"github.com/google/uuid"

	domainassignment "github.com/alanyang/domain-server/internal/domain/assignment"
)

// Store persists queued dynamic assignments so they survive a restart.
// Static assignments are rebuilt from configuration and never stored.
type Store interface {
	Save(ctx context.Context, a domainassignment.Assignment) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListQueued returns stored assignments oldest first.
	ListQueued(ctx context.Context) ([]domainassignment.Assignment, error)
}
