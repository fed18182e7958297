// Package messaging defines the order lifecycle event envelope and the
// producer and consumer that carry it over a partitioned broker.
package messaging

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

// Event type constants for order lifecycle events.
const (
	EventOrderCreated   = "ORDER_CREATED"
	EventOrderUpdated   = "ORDER_UPDATED"
	EventOrderCancelled = "ORDER_CANCELLED"
)

// UnknownStatus is reported when an UPDATED event's message does not carry a
// recognizable prior status.
const UnknownStatus = "UNKNOWN"

// OrderEvent is the broker message envelope for order lifecycle events. It is
// keyed by Order.ID so all events of one order land on one partition.
type OrderEvent struct {
	EventID   string       `json:"eventId"`
	EventType string       `json:"eventType"`
	Timestamp time.Time    `json:"timestamp"`
	Order     domain.Order `json:"order"`
	Message   string       `json:"message,omitempty"`
}

// Key is the partitioning key.
func (e OrderEvent) Key() string { return e.Order.ID }

func newEvent(eventType string, o *domain.Order, msg string) OrderEvent {
	return OrderEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Order:     *o,
		Message:   msg,
	}
}

func OrderCreated(o *domain.Order) OrderEvent {
	return newEvent(EventOrderCreated, o, "New order created for customer: "+o.CustomerName)
}

// OrderUpdated encodes the prior status into the message text, which is what
// downstream consumers parse it back from.
func OrderUpdated(o *domain.Order, oldStatus domain.OrderStatus) OrderEvent {
	return newEvent(EventOrderUpdated, o,
		fmt.Sprintf("Order updated: status changed from %s to %s", oldStatus, o.Status))
}

func OrderCancelled(o *domain.Order) OrderEvent {
	return newEvent(EventOrderCancelled, o, "Order cancelled: "+o.ID)
}

// ParseOldStatus recovers the prior status from an UPDATED message. Anything
// that does not look like "... from <old> to ..." yields UnknownStatus.
func ParseOldStatus(message string) string {
	const marker, separator = "from ", " to "
	if strings.TrimSpace(message) == "" {
		return UnknownStatus
	}
	start := strings.Index(message, marker)
	end := strings.Index(message, separator)
	if start == -1 || end == -1 || end <= start+len(marker) {
		return UnknownStatus
	}
	old := strings.TrimSpace(message[start+len(marker) : end])
	if old == "" {
		return UnknownStatus
	}
	return old
}
