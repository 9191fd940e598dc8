package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vietddude/taskgraph/internal/core/domain"
	"github.com/vietddude/taskgraph/internal/core/events"
)

// Broadcaster relays change events between processes sharing a store, so
// each process can drop cache entries another one made stale.
type Broadcaster struct {
	client *Client
	bus    *events.Bus
	origin string
	apply  func(domain.ChangeEvent)
	log    *slog.Logger
}

// NewBroadcaster forwards local events from bus and hands remote events to
// apply. Events whose origin is not origin are never re-published.
func NewBroadcaster(client *Client, bus *events.Bus, origin string, apply func(domain.ChangeEvent), log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{client: client, bus: bus, origin: origin, apply: apply, log: log}
}

// Run relays events until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	pubsub := b.client.rdb.Subscribe(ctx, b.client.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.client.channel, err)
	}

	local, cancel := b.bus.Subscribe(events.DefaultBuffer)
	defer cancel()
	remote := pubsub.Channel()

	b.log.Info("Change broadcaster started", "channel", b.client.channel, "origin", b.origin)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-local:
			if !ok {
				return nil
			}
			if ev.Origin != b.origin {
				continue
			}
			if err := b.publish(ctx, ev); err != nil {
				b.log.Warn("Failed to broadcast change", "entity", ev.Entity, "id", ev.ID, "error", err)
			}
		case msg, ok := <-remote:
			if !ok {
				return nil
			}
			ev, err := decodeEvent(msg.Payload)
			if err != nil {
				b.log.Warn("Dropping malformed change event", "error", err)
				continue
			}
			if ev.Origin == b.origin {
				continue
			}
			b.apply(ev)
		}
	}
}

func (b *Broadcaster) publish(ctx context.Context, ev domain.ChangeEvent) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return b.client.rdb.Publish(ctx, b.client.channel, payload).Err()
}

func encodeEvent(ev domain.ChangeEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode change event: %w", err)
	}
	return string(data), nil
}

func decodeEvent(payload string) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decode change event: %w", err)
	}
	if ev.Entity == "" || ev.Origin == "" {
		return ev, fmt.Errorf("decode change event: missing entity or origin")
	}
	return ev, nil
}
