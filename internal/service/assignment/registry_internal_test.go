package assignment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainassignment "github.com/alanyang/domain-server/internal/domain/assignment"
	"github.com/alanyang/domain-server/internal/domain/node"
	"github.com/alanyang/domain-server/internal/mocks"
)

func TestSweepDeployed(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockAssignmentStore(ctrl)
	bus := mocks.NewMockEventBus(ctrl)
	store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	bus.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(uuid.New(), store, bus)
	r.now = func() time.Time { return clock }
	ctx := context.Background()

	old, err := r.EnqueueDynamic(ctx, domainassignment.NewDynamic(domainassignment.TypeAgent, "", nil))
	require.NoError(t, err)
	_, ok := r.DeployForRequest(ctx, domainassignment.TypeAgent, "")
	require.True(t, ok)

	clock = clock.Add(8 * time.Second)
	fresh, err := r.EnqueueDynamic(ctx, domainassignment.NewDynamic(domainassignment.TypeAgent, "", nil))
	require.NoError(t, err)
	_, ok = r.DeployForRequest(ctx, domainassignment.TypeAgent, "")
	require.True(t, ok)

	clock = clock.Add(4 * time.Second)
	assert.Equal(t, 1, r.SweepDeployed(ctx, 10*time.Second))

	_, ok = r.ClaimDeployed(ctx, old.ID, node.TypeAgent)
	assert.False(t, ok, "expired work cannot be claimed")
	_, ok = r.ClaimDeployed(ctx, fresh.ID, node.TypeAgent)
	assert.True(t, ok)
}

func TestQueueKeysAreUnique(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := NewRegistry(uuid.New(), mocks.NewMockAssignmentStore(ctrl), mocks.NewMockEventBus(ctrl))
	id := uuid.New()

	r.enqueueLocked(id)
	r.enqueueLocked(uuid.New())
	r.enqueueLocked(id)

	require.Len(t, r.queue, 2)
	assert.Equal(t, id, r.queue[1].id)
	assert.Greater(t, r.queue[1].seq, r.queue[0].seq)
}
