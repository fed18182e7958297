package domain

import (
	"context"
	"time"
)

// OrderRepository is the durable store and the sole owner of an order's
// authoritative state and version.
type OrderRepository interface {
	// Create assigns ID, CreatedAt, UpdatedAt and Version=0 on o.
	Create(ctx context.Context, o *Order) error
	// UpdateStatus persists o.Status only if the stored version still equals
	// o.Version, then bumps o.Version and o.UpdatedAt. A stale version yields
	// ErrConcurrentModification; a missing row yields ErrOrderNotFound.
	UpdateStatus(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindAll(ctx context.Context) ([]Order, error)
	FindByCustomerName(ctx context.Context, name string) ([]Order, error)
	FindByStatus(ctx context.Context, status OrderStatus) ([]Order, error)
	FindByCreatedBetween(ctx context.Context, start, end time.Time) ([]Order, error)
	Find(ctx context.Context, f OrderFilter) ([]Order, error)
	// Delete removes o under the same version condition as UpdateStatus.
	Delete(ctx context.Context, o *Order) error
	Summarize(ctx context.Context) (Analytics, error)
}

// InventoryCoordinator owns stock for SKUs. It provides its own
// concurrency safety.
type InventoryCoordinator interface {
	// Reserve fails with ErrInventoryUnavailable when qty cannot be held.
	Reserve(ctx context.Context, sku string, qty int) error
	Release(ctx context.Context, sku string, qty int) error
	Consume(ctx context.Context, sku string, qty int) error
}

// OrderCache is a disposable read-through copy of single orders and of the
// full order list. Mutations only ever invalidate it.
type OrderCache interface {
	GetOrder(ctx context.Context, id string) (*Order, bool, error)
	SetOrder(ctx context.Context, o *Order) error
	GetAll(ctx context.Context) ([]Order, bool, error)
	SetAll(ctx context.Context, orders []Order) error
	// Invalidate drops the full-list entry and the entries for ids.
	Invalidate(ctx context.Context, ids ...string) error
}

// SearchProjector maintains the search projection. Its methods absorb and
// log backend failures; queries degrade to an empty result.
type SearchProjector interface {
	Index(ctx context.Context, o *Order)
	Remove(ctx context.Context, id string)
	Search(ctx context.Context, text string) []SearchDocument
	SearchByStatus(ctx context.Context, status OrderStatus) []SearchDocument
	SearchByDateRange(ctx context.Context, start, end time.Time) []SearchDocument
	// Rebuild replaces the whole projection with orders.
	Rebuild(ctx context.Context, orders []Order) error
}

// EventPublisher emits lifecycle events for committed mutations. Publishing
// is fire-and-forget; a returned error means the event never left the process.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, o *Order) error
	PublishOrderUpdated(ctx context.Context, o *Order, oldStatus OrderStatus) error
	PublishOrderCancelled(ctx context.Context, o *Order) error
}

// Notifier is the downstream fan-out driven by consumed events. eventID
// identifies the originating event so repeated deliveries are suppressed.
type Notifier interface {
	SendConfirmation(ctx context.Context, eventID string, o Order) error
	SendStatusUpdate(ctx context.Context, eventID string, o Order, oldStatus string) error
	SendCancellation(ctx context.Context, eventID string, o Order) error
	Broadcast(ctx context.Context, eventID string, o Order) error
}
