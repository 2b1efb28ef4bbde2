package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/kinesia/kinesia/internal/shared"
)

const callsChannel = "kinesia:queue:calls"

// Broker fans call events out to every waiting-room display through Redis pub/sub.
type Broker struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewBroker constructs a Broker.
func NewBroker(client redis.UniversalClient, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{client: client, logger: logger}
}

// Publish sends ev to every subscriber.
func (b *Broker) Publish(ctx context.Context, ev CallEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, callsChannel, raw).Err(); err != nil {
		return fmt.Errorf("queue: publish call: %w: %w", shared.ErrTransport, err)
	}
	return nil
}

// Subscribe streams call events until ctx is done. The subscription is confirmed
// before Subscribe returns so no event published afterwards is missed.
func (b *Broker) Subscribe(ctx context.Context) (<-chan CallEvent, error) {
	sub := b.client.Subscribe(ctx, callsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("queue: subscribe: %w: %w", shared.ErrTransport, err)
	}
	out := make(chan CallEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev CallEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("queue: drop malformed call event", slog.Any("error", err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
