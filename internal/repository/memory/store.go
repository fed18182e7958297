// Package memory is the process-local order store used when no DATABASE_URL
// is configured, and by tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	now    func() time.Time
}

var _ domain.OrderRepository = (*OrderStore)(nil)

func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: make(map[string]domain.Order),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the timestamp source.
func (s *OrderStore) WithClock(now func() time.Time) *OrderStore {
	s.now = now
	return s
}

func (s *OrderStore) Create(ctx context.Context, o *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	o.ID = uuid.NewString()
	o.CreatedAt = now
	o.UpdatedAt = now
	o.Version = 0
	s.orders[o.ID] = *o
	return nil
}

func (s *OrderStore) UpdateStatus(ctx context.Context, o *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[o.ID]
	if !ok {
		return domain.NotFound(o.ID)
	}
	if cur.Version != o.Version {
		return domain.ErrConcurrentModification
	}
	cur.Status = o.Status
	cur.UpdatedAt = s.now()
	cur.Version++
	s.orders[o.ID] = cur
	*o = cur
	return nil
}

func (s *OrderStore) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.NotFound(id)
	}
	return &o, nil
}

func (s *OrderStore) filter(ctx context.Context, keep func(domain.Order) bool) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	s.mu.RUnlock()
	domain.SortOrders(out)
	return out, nil
}

func (s *OrderStore) FindAll(ctx context.Context) ([]domain.Order, error) {
	return s.filter(ctx, func(domain.Order) bool { return true })
}

func (s *OrderStore) FindByCustomerName(ctx context.Context, name string) ([]domain.Order, error) {
	name = strings.TrimSpace(name)
	return s.filter(ctx, func(o domain.Order) bool { return strings.EqualFold(o.CustomerName, name) })
}

func (s *OrderStore) FindByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	return s.filter(ctx, func(o domain.Order) bool { return o.Status == status })
}

func (s *OrderStore) FindByCreatedBetween(ctx context.Context, start, end time.Time) ([]domain.Order, error) {
	return s.filter(ctx, func(o domain.Order) bool {
		return !o.CreatedAt.Before(start) && !o.CreatedAt.After(end)
	})
}

func (s *OrderStore) Find(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	return s.filter(ctx, f.Matches)
}

func (s *OrderStore) Delete(ctx context.Context, o *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[o.ID]
	if !ok {
		return domain.NotFound(o.ID)
	}
	if cur.Version != o.Version {
		return domain.ErrConcurrentModification
	}
	delete(s.orders, o.ID)
	return nil
}

func (s *OrderStore) Summarize(ctx context.Context) (domain.Analytics, error) {
	all, err := s.FindAll(ctx)
	if err != nil {
		return domain.Analytics{}, err
	}
	return domain.Summarize(all), nil
}
