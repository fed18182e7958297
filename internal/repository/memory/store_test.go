package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

func newOrder(name string, st domain.OrderStatus) *domain.Order {
	return &domain.Order{
		CustomerName:       name,
		CustomerEmail:      "c@example.com",
		ProductDescription: "Widget",
		Quantity:           1,
		TotalPrice:         decimal.RequireFromString("10.00"),
		Status:             st,
	}
}

// steppingClock advances one minute per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

func TestOrderStore_CreateAssignsIdentity(t *testing.T) {
	s := NewOrderStore()
	o := newOrder("Jane", domain.StatusPending)
	require.NoError(t, s.Create(context.Background(), o))

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, int64(0), o.Version)
	assert.False(t, o.CreatedAt.IsZero())
	assert.Equal(t, o.CreatedAt, o.UpdatedAt)

	got, err := s.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, *o, *got)
}

func TestOrderStore_UpdateStatusVersioning(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	o := newOrder("Jane", domain.StatusPending)
	require.NoError(t, s.Create(ctx, o))

	stale := *o
	o.Status = domain.StatusConfirmed
	require.NoError(t, s.UpdateStatus(ctx, o))
	assert.Equal(t, int64(1), o.Version)

	stale.Status = domain.StatusCancelled
	err := s.UpdateStatus(ctx, &stale)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	missing := newOrder("Ghost", domain.StatusPending)
	missing.ID = "nope"
	assert.ErrorIs(t, s.UpdateStatus(ctx, missing), domain.ErrOrderNotFound)
}

func TestOrderStore_ConcurrentUpdatesExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	o := newOrder("Jane", domain.StatusPending)
	require.NoError(t, s.Create(ctx, o))

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, clash int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := *o
			c.Status = domain.StatusShipped
			err := s.UpdateStatus(ctx, &c)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrConcurrentModification):
				clash++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, clash)
	got, err := s.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestOrderStore_Lookups(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewOrderStore().WithClock(steppingClock(base))

	a := newOrder("Jane Doe", domain.StatusPending)
	b := newOrder("john smith", domain.StatusShipped)
	c := newOrder("JANE DOE", domain.StatusShipped)
	for _, o := range []*domain.Order{a, b, c} {
		require.NoError(t, s.Create(ctx, o))
	}

	all, err := s.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, ids(all))

	byName, err := s.FindByCustomerName(ctx, "jane doe")
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, c.ID}, ids(byName))

	byStatus, err := s.FindByStatus(ctx, domain.StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, c.ID}, ids(byStatus))

	between, err := s.FindByCreatedBetween(ctx, b.CreatedAt, c.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, c.ID}, ids(between))

	filtered, err := s.Find(ctx, domain.OrderFilter{Status: domain.StatusShipped, CustomerName: "jane"})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, ids(filtered))
}

func TestOrderStore_DeleteAndSummarize(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	a := newOrder("A", domain.StatusPending)
	b := newOrder("B", domain.StatusDelivered)
	b.TotalPrice = decimal.RequireFromString("5.01")
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Create(ctx, b))

	stats, err := s.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalOrders)
	assert.True(t, decimal.RequireFromString("15.01").Equal(stats.TotalRevenue))
	assert.True(t, decimal.RequireFromString("7.51").Equal(stats.AverageOrderValue))

	stale := *a
	stale.Version = 7
	assert.ErrorIs(t, s.Delete(ctx, &stale), domain.ErrConcurrentModification)

	require.NoError(t, s.Delete(ctx, a))
	_, err = s.FindByID(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.ErrorIs(t, s.Delete(ctx, a), domain.ErrOrderNotFound)
}

func ids(orders []domain.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}
