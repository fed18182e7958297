// Package notification delivers the downstream effects of lifecycle events:
// customer email and a live broadcast of the order snapshot. Every action is
// claimed once per event id, so a redelivered event does not send twice.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

// OrdersTopic is the broadcast topic every order snapshot goes to.
const OrdersTopic = "orders"

type Notifier struct {
	mailer Mailer
	hub    Hub
	dedupe Deduper
	log    *slog.Logger
}

var _ domain.Notifier = (*Notifier)(nil)

func NewNotifier(mailer Mailer, hub Hub, dedupe Deduper, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{mailer: mailer, hub: hub, dedupe: dedupe, log: log.With("component", "notifier")}
}

// once runs fn unless eventID+action was already claimed. A failed fn gives
// the claim back so a later delivery can retry. If the deduper itself is
// unreachable fn still runs.
func (n *Notifier) once(ctx context.Context, eventID, action string, fn func() error) error {
	if eventID == "" || n.dedupe == nil {
		return fn()
	}
	key := eventID + ":" + action
	claimed, err := n.dedupe.Claim(ctx, key)
	if err != nil {
		n.log.WarnContext(ctx, "dedupe unavailable", "key", key, "error", err)
	} else if !claimed {
		n.log.InfoContext(ctx, "duplicate notification suppressed", "event_id", eventID, "action", action)
		return nil
	}
	if err := fn(); err != nil {
		if claimed {
			if rerr := n.dedupe.Release(ctx, key); rerr != nil {
				n.log.WarnContext(ctx, "dedupe release failed", "key", key, "error", rerr)
			}
		}
		return err
	}
	return nil
}

func (n *Notifier) email(ctx context.Context, eventID, action string, e Email) error {
	return n.once(ctx, eventID, action, func() error {
		return n.mailer.Send(ctx, e)
	})
}

func (n *Notifier) SendConfirmation(ctx context.Context, eventID string, o domain.Order) error {
	return n.email(ctx, eventID, "confirmation", Email{
		To:      o.CustomerEmail,
		Subject: "Order Confirmation - #" + o.ID,
		Body: fmt.Sprintf("Dear %s,\n\nThank you for your order.\n\n%s",
			o.CustomerName, summary(o)),
	})
}

func (n *Notifier) SendStatusUpdate(ctx context.Context, eventID string, o domain.Order, oldStatus string) error {
	return n.email(ctx, eventID, "status-update", Email{
		To:      o.CustomerEmail,
		Subject: "Order Status Update - #" + o.ID,
		Body: fmt.Sprintf("Dear %s,\n\nYour order status changed from %s to %s.\n\n%s",
			o.CustomerName, oldStatus, o.Status, summary(o)),
	})
}

func (n *Notifier) SendCancellation(ctx context.Context, eventID string, o domain.Order) error {
	return n.email(ctx, eventID, "cancellation", Email{
		To:      o.CustomerEmail,
		Subject: "Order Cancelled - #" + o.ID,
		Body: fmt.Sprintf("Dear %s,\n\nYour order has been cancelled.\n\n%s",
			o.CustomerName, summary(o)),
	})
}

func (n *Notifier) Broadcast(ctx context.Context, eventID string, o domain.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	return n.once(ctx, eventID, "broadcast", func() error {
		n.log.InfoContext(ctx, "broadcasting order update", "order_id", o.ID)
		return n.hub.Publish(ctx, OrdersTopic, payload)
	})
}

func summary(o domain.Order) string {
	return fmt.Sprintf("Order: %s\nProduct: %s\nQuantity: %d\nTotal: %s\nStatus: %s\n",
		o.ID, o.ProductDescription, o.Quantity, o.TotalPrice.StringFixed(2), o.Status)
}
