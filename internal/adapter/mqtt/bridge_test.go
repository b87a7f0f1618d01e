package mqtt_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/alanyang/domain-server/internal/adapter/memory"
	mqttadapter "github.com/alanyang/domain-server/internal/adapter/mqtt"
	"github.com/alanyang/domain-server/internal/domain/event"
	"github.com/alanyang/domain-server/internal/mocks"
)

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu  sync.Mutex
	got []published
	ch  chan struct{}
}

func (f *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	f.got = append(f.got, published{topic, payload})
	f.mu.Unlock()
	f.ch <- struct{}{}
	return nil
}

func TestBridge_ForwardsEvents(t *testing.T) {
	bus := memory.NewEventBus()
	pub := &fakePublisher{ch: make(chan struct{}, 8)}
	b := mqttadapter.NewBridge(pub, "domain")
	ctx := context.Background()

	require.NoError(t, b.Start(ctx, bus))
	defer b.Stop()

	e := event.New(event.TypeNodeAdded, uuid.New(), "agent")
	require.NoError(t, bus.Publish(ctx, e))

	select {
	case <-pub.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no mqtt publish")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.got, 1)
	assert.Equal(t, "domain/node/node_added", pub.got[0].topic)

	var decoded event.Event
	require.NoError(t, json.Unmarshal(pub.got[0].payload, &decoded))
	assert.Equal(t, e.EntityID, decoded.EntityID)
}

func TestBridge_StartFailureUnsubscribes(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockEventBus(ctrl)
	sub := &countingSub{}

	bus.EXPECT().Subscribe(gomock.Any(), event.ChannelNode, gomock.Any()).Return(sub, nil)
	bus.EXPECT().Subscribe(gomock.Any(), event.ChannelAssignment, gomock.Any()).Return(nil, errors.New("no conn"))

	b := mqttadapter.NewBridge(&fakePublisher{ch: make(chan struct{}, 1)}, "domain")
	err := b.Start(context.Background(), bus)
	assert.ErrorContains(t, err, "subscribing mqtt bridge")
	assert.Equal(t, 1, sub.n)
}

type countingSub struct{ n int }

func (s *countingSub) Unsubscribe() { s.n++ }
