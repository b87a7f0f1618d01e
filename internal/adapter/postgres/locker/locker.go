package locker

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Locker serialises work across domain server processes sharing one database,
// using Postgres session advisory locks. Lock and unlock run on the same
// acquired connection; pg_advisory_unlock on another session is a no-op.
type Locker struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Locker {
	return &Locker{pool: pool}
}

// Key maps a lock name to an advisory lock key.
func Key(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name)) //nolint:errcheck
	return int64(h.Sum64())
}

func (l *Locker) WithLock(ctx context.Context, key int64, fn func(ctx context.Context) error) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for advisory lock: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	// Background so the unlock still runs when ctx is cancelled inside fn.
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key) //nolint:errcheck

	return fn(ctx)
}
