//go:build integration

package assignment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgassignment "github.com/alanyang/domain-server/internal/adapter/postgres/assignment"
	domainassignment "github.com/alanyang/domain-server/internal/domain/assignment"
	"github.com/alanyang/domain-server/internal/testutil"
)

func TestAssignmentStore_SaveListDelete(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := pgassignment.New(pool, uuid.New())

	base := time.Now().UTC().Truncate(time.Microsecond)
	older := domainassignment.NewDynamic(domainassignment.TypeAgent, "bots", []byte("script.js"))
	older.CreatedAt = base
	newer := domainassignment.NewDynamic(domainassignment.TypeVoxelServer, "", nil)
	newer.CreatedAt = base.Add(time.Second)

	require.NoError(t, store.Save(ctx, newer))
	require.NoError(t, store.Save(ctx, older))

	list, err := store.ListQueued(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.ID, list[0].ID)
	assert.Equal(t, domainassignment.TypeAgent, list[0].Type)
	assert.Equal(t, "bots", list[0].Pool)
	assert.Equal(t, []byte("script.js"), list[0].Payload)
	assert.True(t, older.CreatedAt.Equal(list[0].CreatedAt))
	assert.Equal(t, newer.ID, list[1].ID)

	require.NoError(t, store.Delete(ctx, older.ID))
	list, err = store.ListQueued(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, newer.ID, list[0].ID)
}

func TestAssignmentStore_ScopedByDomain(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()
	a := pgassignment.New(pool, uuid.New())
	b := pgassignment.New(pool, uuid.New())

	require.NoError(t, a.Save(ctx, domainassignment.NewDynamic(domainassignment.TypeAgent, "", nil)))

	list, err := b.ListQueued(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
