package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

// Producer publishes lifecycle events keyed by order id.
type Producer struct {
	broker Broker
	topic  string
	log    *slog.Logger
}

var _ domain.EventPublisher = (*Producer)(nil)

func NewProducer(b Broker, topic string, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	return &Producer{broker: b, topic: topic, log: log.With("component", "producer")}
}

// Publish is fire-and-forget: the outcome is only logged, and a failed event
// is dropped.
func (p *Producer) Publish(ctx context.Context, ev OrderEvent) error {
	msg, err := p.encode(ev)
	if err != nil {
		return err
	}
	p.log.InfoContext(ctx, "publishing order event", "event_type", ev.EventType, "order_id", ev.Order.ID)
	p.broker.Publish(ctx, msg, func(m Message, err error) {
		if err != nil {
			p.log.Error("failed to publish order event",
				"event_type", ev.EventType, "order_id", ev.Order.ID, "event_id", ev.EventID, "error", err)
			return
		}
		p.log.Info("order event published",
			"event_type", ev.EventType, "order_id", ev.Order.ID, "partition", m.Partition, "offset", m.Offset)
	})
	return nil
}

// PublishSync returns only after the broker acknowledged the event.
func (p *Producer) PublishSync(ctx context.Context, ev OrderEvent) error {
	msg, err := p.encode(ev)
	if err != nil {
		return err
	}
	m, err := p.broker.PublishSync(ctx, msg)
	if err != nil {
		return fmt.Errorf("publish %s for order %s: %w", ev.EventType, ev.Order.ID, err)
	}
	p.log.InfoContext(ctx, "order event published",
		"event_type", ev.EventType, "order_id", ev.Order.ID, "partition", m.Partition, "offset", m.Offset)
	return nil
}

func (p *Producer) PublishOrderCreated(ctx context.Context, o *domain.Order) error {
	return p.Publish(ctx, OrderCreated(o))
}

func (p *Producer) PublishOrderUpdated(ctx context.Context, o *domain.Order, oldStatus domain.OrderStatus) error {
	return p.Publish(ctx, OrderUpdated(o, oldStatus))
}

func (p *Producer) PublishOrderCancelled(ctx context.Context, o *domain.Order) error {
	return p.Publish(ctx, OrderCancelled(o))
}

func (p *Producer) encode(ev OrderEvent) (Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s event: %w", ev.EventType, err)
	}
	return Message{Topic: p.topic, Key: []byte(ev.Key()), Value: body, Time: ev.Timestamp}, nil
}
