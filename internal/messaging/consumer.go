package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

// Consumer dispatches delivered lifecycle events to the notifier. Failures
// are logged at the message boundary and the message is still acknowledged.
type Consumer struct {
	broker      Broker
	notifier    domain.Notifier
	topic       string
	group       string
	concurrency int
	log         *slog.Logger
}

type ConsumerConfig struct {
	Topic       string
	Group       string
	Concurrency int
}

func NewConsumer(b Broker, n domain.Notifier, cfg ConsumerConfig, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Consumer{
		broker:      b,
		notifier:    n,
		topic:       cfg.Topic,
		group:       cfg.Group,
		concurrency: cfg.Concurrency,
		log:         log.With("component", "consumer"),
	}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consumer starting", "topic", c.topic, "group", c.group, "concurrency", c.concurrency)
	return c.broker.Subscribe(ctx, c.topic, c.group, c.concurrency, c.Handle)
}

// Handle processes one message. It never panics and never reports failure
// to the broker.
func (c *Consumer) Handle(ctx context.Context, msg Message) {
	log := c.log.With("partition", msg.Partition, "offset", msg.Offset)
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "panic while processing order event", "panic", r)
		}
	}()

	var ev OrderEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		log.ErrorContext(ctx, "undecodable order event", "error", err)
		return
	}
	log = log.With("event_type", ev.EventType, "order_id", ev.Order.ID, "event_id", ev.EventID)
	log.InfoContext(ctx, "received order event")

	if err := c.dispatch(ctx, ev); err != nil {
		log.ErrorContext(ctx, "error processing order event", "error", err)
		return
	}
	log.InfoContext(ctx, "processed order event")
}

func (c *Consumer) dispatch(ctx context.Context, ev OrderEvent) error {
	var err error
	switch ev.EventType {
	case EventOrderCreated:
		err = c.notifier.SendConfirmation(ctx, ev.EventID, ev.Order)
	case EventOrderUpdated:
		err = c.notifier.SendStatusUpdate(ctx, ev.EventID, ev.Order, ParseOldStatus(ev.Message))
	case EventOrderCancelled:
		err = c.notifier.SendCancellation(ctx, ev.EventID, ev.Order)
	default:
		c.log.WarnContext(ctx, "unknown event type", "event_type", ev.EventType)
	}
	if err != nil {
		err = fmt.Errorf("%s notification: %w", ev.EventType, err)
	}

	// Email and broadcast are independent sinks; one failing does not
	// suppress the other.
	if ev.Order.ID == "" {
		return err
	}
	if berr := c.notifier.Broadcast(ctx, ev.EventID, ev.Order); berr != nil {
		err = errors.Join(err, fmt.Errorf("broadcast: %w", berr))
	}
	return err
}
