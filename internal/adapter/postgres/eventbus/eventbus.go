// Package eventbus fans domain events out across replicas that share one
// Postgres database, using NOTIFY to publish and a dedicated LISTEN
// connection per subscription.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/domain-server/internal/domain/event"
	porteventbus "github.com/alanyang/domain-server/internal/port/eventbus"
)

type EventBus struct {
	pool   *pgxpool.Pool
	domain string
}

// New scopes channels to domainID so domains sharing a database stay apart.
func New(pool *pgxpool.Pool, domainID uuid.UUID) *EventBus {
	return &EventBus{
		pool:   pool,
		domain: strings.ReplaceAll(domainID.String(), "-", ""),
	}
}

func (eb *EventBus) Publish(ctx context.Context, e event.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	channel := eb.channel(event.ChannelFor(e.Type))
	if _, err := eb.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

// Subscribe holds a pooled connection on LISTEN until Unsubscribe or ctx ends.
// A broken connection ends the subscription.
func (eb *EventBus) Subscribe(ctx context.Context, ch event.Channel, handler porteventbus.Handler) (porteventbus.Subscription, error) {
	conn, err := eb.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	channel := eb.channel(ch)
	ident := pgx.Identifier{channel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+ident); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	lctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer conn.Release()
		defer func() {
			if _, err := conn.Exec(context.Background(), "UNLISTEN "+ident); err != nil {
				slog.Debug("unlisten failed", "channel", channel, "error", err)
			}
		}()

		for {
			n, err := conn.Conn().WaitForNotification(lctx)
			if err != nil {
				if lctx.Err() == nil {
					slog.Error("event subscription lost", "channel", channel, "error", err)
				}
				return
			}
			var e event.Event
			if err := json.Unmarshal([]byte(n.Payload), &e); err != nil {
				slog.Warn("dropping undecodable event", "channel", channel, "error", err)
				continue
			}
			handler(lctx, e)
		}
	}()
	return sub, nil
}

// channel names are lowercase and unquoted-safe: domain_<hex id>_<channel>.
func (eb *EventBus) channel(ch event.Channel) string {
	return "domain_" + eb.domain + "_" + string(ch)
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}
