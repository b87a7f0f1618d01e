package assignment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainassignment "github.com/alanyang/domain-server/internal/domain/assignment"
)

// Store implements port/assignment.Store using Postgres. Rows are scoped to a
// domain so several domains can share one database.
type Store struct {
	pool     *pgxpool.Pool
	domainID uuid.UUID
}

func New(pool *pgxpool.Pool, domainID uuid.UUID) *Store {
	return &Store{pool: pool, domainID: domainID}
}

func (s *Store) Save(ctx context.Context, a domainassignment.Assignment) error {
	query := `
		INSERT INTO dynamic_assignments (id, domain_id, type, pool, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET type = EXCLUDED.type, pool = EXCLUDED.pool, payload = EXCLUDED.payload`

	_, err := s.pool.Exec(ctx, query, a.ID, s.domainID, int16(a.Type), a.Pool, a.Payload, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving assignment %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dynamic_assignments WHERE id = $1 AND domain_id = $2`, id, s.domainID)
	if err != nil {
		return fmt.Errorf("deleting assignment %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListQueued(ctx context.Context) ([]domainassignment.Assignment, error) {
	query := `
		SELECT id, type, pool, payload, created_at
		FROM dynamic_assignments
		WHERE domain_id = $1
		ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, s.domainID)
	if err != nil {
		return nil, fmt.Errorf("querying assignments: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domainassignment.Assignment, error) {
		var (
			a   domainassignment.Assignment
			typ int16
		)
		if err := row.Scan(&a.ID, &typ, &a.Pool, &a.Payload, &a.CreatedAt); err != nil {
			return domainassignment.Assignment{}, err
		}
		t, err := domainassignment.ParseType(byte(typ))
		if err != nil {
			return domainassignment.Assignment{}, err
		}
		a.Type = t
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning assignments: %w", err)
	}
	return out, nil
}
