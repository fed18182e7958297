package cache

import (
	"context"
	"sync"
	"time"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

type entry[T any] struct {
	value   T
	expires time.Time
}

func (e entry[T]) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// MemoryCache is a process-local OrderCache with per-entry expiry. Values
// are copied on the way in and out.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.RWMutex
	orders map[string]entry[domain.Order]
	all    *entry[[]domain.Order]
}

var _ domain.OrderCache = (*MemoryCache)(nil)

// NewMemoryCache returns a cache whose entries expire after ttl; zero keeps
// them until invalidated.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, orders: make(map[string]entry[domain.Order])}
}

func (c *MemoryCache) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func (c *MemoryCache) GetOrder(_ context.Context, id string) (*domain.Order, bool, error) {
	c.mu.RLock()
	e, ok := c.orders[id]
	c.mu.RUnlock()
	if !ok || !e.live(c.now()) {
		return nil, false, nil
	}
	o := e.value
	return &o, true, nil
}

func (c *MemoryCache) SetOrder(_ context.Context, o *domain.Order) error {
	c.mu.Lock()
	c.orders[o.ID] = entry[domain.Order]{value: *o, expires: c.expiry()}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) GetAll(_ context.Context) ([]domain.Order, bool, error) {
	c.mu.RLock()
	e := c.all
	c.mu.RUnlock()
	if e == nil || !e.live(c.now()) {
		return nil, false, nil
	}
	return append([]domain.Order(nil), e.value...), true, nil
}

func (c *MemoryCache) SetAll(_ context.Context, orders []domain.Order) error {
	e := &entry[[]domain.Order]{value: append([]domain.Order(nil), orders...), expires: c.expiry()}
	c.mu.Lock()
	c.all = e
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = nil
	for _, id := range ids {
		delete(c.orders, id)
	}
	return nil
}
