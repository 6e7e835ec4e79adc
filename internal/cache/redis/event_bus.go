package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/convertfi/bondd/internal/domain"
)

// EventBus implements domain.EventBus using Redis Pub/Sub for live fan-out
// and a Redis Stream per bond for durable, ordered delivery to catch-up
// consumers.
type EventBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewEventBus creates an EventBus backed by the given Client. maxLen bounds
// each bond's stream via XADD MAXLEN ~.
func NewEventBus(c *Client, maxLen int64) *EventBus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &EventBus{rdb: c.Underlying(), maxLen: maxLen}
}

func eventChannel(bondID string) string { return "ch:bond:" + bondID }
func eventStream(bondID string) string  { return "stream:bond:" + bondID }

// wireEvent is the JSON representation published on the bus.
type wireEvent struct {
	BondID     string    `json:"bond_id"`
	Type       string    `json:"type"`
	Actor      string    `json:"actor"`
	Amount     string    `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

func encodeEvent(ev domain.Event) ([]byte, error) {
	return json.Marshal(wireEvent{
		BondID:     ev.BondID,
		Type:       string(ev.Type),
		Actor:      ev.Actor.Hex(),
		Amount:     ev.Amount.Dec(),
		OccurredAt: ev.OccurredAt,
	})
}

func decodeEvent(data []byte) (domain.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.Event{}, err
	}
	amount, err := uint256.FromDecimal(w.Amount)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{
		BondID:     w.BondID,
		Type:       domain.EventType(w.Type),
		Actor:      common.HexToAddress(w.Actor),
		Amount:     amount,
		OccurredAt: w.OccurredAt,
	}, nil
}

// Publish sends the event to the bond's Pub/Sub channel and appends it to
// the bond's stream.
func (b *EventBus) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}

	if err := b.rdb.Publish(ctx, eventChannel(ev.BondID), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", ev.BondID, err)
	}

	args := &redis.XAddArgs{
		Stream: eventStream(ev.BondID),
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", ev.BondID, err)
	}
	return nil
}

// Subscribe returns a channel of events for one bond, or for every bond
// when bondID is "*". The returned stop function closes the subscription
// and the channel.
func (b *EventBus) Subscribe(ctx context.Context, bondID string) (<-chan domain.Event, func(), error) {
	channel := eventChannel(bondID)
	var pubsub *redis.PubSub
	if bondID == "*" {
		pubsub = b.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = b.rdb.Subscribe(ctx, channel)
	}

	// Verify the subscription is established before handing it out.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan domain.Event, 128)
	done := make(chan struct{})
	stop := func() {
		close(done)
		_ = pubsub.Close()
	}

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := decodeEvent([]byte(msg.Payload))
				if err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	return out, stop, nil
}

// Compile-time interface check.
var _ domain.EventBus = (*EventBus)(nil)
