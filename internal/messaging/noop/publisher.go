package noop

import (
	"context"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

// Publisher is a no-op EventPublisher used when event publication is
// switched off (BROKER=none).
type Publisher struct{}

var _ domain.EventPublisher = Publisher{}

func (Publisher) PublishOrderCreated(_ context.Context, _ *domain.Order) error { return nil }

func (Publisher) PublishOrderUpdated(_ context.Context, _ *domain.Order, _ domain.OrderStatus) error {
	return nil
}

func (Publisher) PublishOrderCancelled(_ context.Context, _ *domain.Order) error { return nil }
