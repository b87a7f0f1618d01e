package memory

import (
	"context"
	"sync"

	"github.com/alanyang/domain-server/internal/domain/event"
	porteventbus "github.com/alanyang/domain-server/internal/port/eventbus"
)

// EventBus fans events out to in-process subscribers. It is the default bus
// when no database is configured.
type EventBus struct {
	mu   sync.RWMutex
	subs map[event.Channel]map[*subscription]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[event.Channel]map[*subscription]struct{}),
	}
}

// Publish queues e for every subscriber of its channel. Delivery is
// asynchronous and in publish order per subscriber; a full buffer drops the
// event for that subscriber only.
func (eb *EventBus) Publish(_ context.Context, e event.Event) error {
	ch := event.ChannelFor(e.Type)

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for sub := range eb.subs[ch] {
		select {
		case sub.events <- e:
		default:
		}
	}
	return nil
}

func (eb *EventBus) Subscribe(ctx context.Context, ch event.Channel, handler porteventbus.Handler) (porteventbus.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		events: make(chan event.Event, 256),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	eb.mu.Lock()
	if eb.subs[ch] == nil {
		eb.subs[ch] = make(map[*subscription]struct{})
	}
	eb.subs[ch][sub] = struct{}{}
	eb.mu.Unlock()

	go func() {
		defer func() {
			eb.mu.Lock()
			delete(eb.subs[ch], sub)
			eb.mu.Unlock()
			close(sub.done)
		}()
		for {
			select {
			case <-subCtx.Done():
				return
			case e := <-sub.events:
				handler(subCtx, e)
			}
		}
	}()

	return sub, nil
}

type subscription struct {
	events chan event.Event
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}
