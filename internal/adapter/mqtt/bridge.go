package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyang/domain-server/internal/domain/event"
	porteventbus "github.com/alanyang/domain-server/internal/port/eventbus"
)

// Publisher is the part of Client the bridge needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Bridge mirrors membership and assignment events onto MQTT topics
// "<prefix>/<channel>/<type>" for external dashboards and tooling.
type Bridge struct {
	pub    Publisher
	prefix string
	subs   []porteventbus.Subscription
}

func NewBridge(pub Publisher, prefix string) *Bridge {
	return &Bridge{pub: pub, prefix: prefix}
}

// Start subscribes to every event channel on bus.
func (b *Bridge) Start(ctx context.Context, bus porteventbus.EventBus) error {
	for _, ch := range event.Channels {
		sub, err := bus.Subscribe(ctx, ch, b.forward)
		if err != nil {
			b.Stop()
			return fmt.Errorf("subscribing mqtt bridge to %s: %w", ch, err)
		}
		b.subs = append(b.subs, sub)
	}
	return nil
}

func (b *Bridge) Stop() {
	for _, s := range b.subs {
		s.Unsubscribe()
	}
	b.subs = nil
}

func (b *Bridge) Topic(e event.Event) string {
	return fmt.Sprintf("%s/%s/%s", b.prefix, event.ChannelFor(e.Type), e.Type)
}

func (b *Bridge) forward(ctx context.Context, e event.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.ErrorContext(ctx, "mqtt bridge: marshal failed", "error", err)
		return
	}
	if err := b.pub.Publish(b.Topic(e), payload, 0, false); err != nil {
		slog.ErrorContext(ctx, "mqtt bridge: publish failed", "type", e.Type, "error", err)
	}
}
