package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() CreateOrderRequest {
	return CreateOrderRequest{
		CustomerName:       "Ada Lovelace",
		CustomerEmail:      "ada@example.com",
		ProductDescription: "Analytical engine gears",
		ProductSKU:         " abc123 ",
		Quantity:           5,
		TotalPrice:         decimal.RequireFromString("49.90"),
	}
}

func TestCreateOrderRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CreateOrderRequest)
		wantKey string
	}{
		{name: "valid", mutate: func(*CreateOrderRequest) {}},
		{name: "short name", mutate: func(r *CreateOrderRequest) { r.CustomerName = "A" }, wantKey: "customerName"},
		{name: "bad email", mutate: func(r *CreateOrderRequest) { r.CustomerEmail = "not-an-email" }, wantKey: "customerEmail"},
		{name: "blank description", mutate: func(r *CreateOrderRequest) { r.ProductDescription = "  " }, wantKey: "productDescription"},
		{name: "zero quantity", mutate: func(r *CreateOrderRequest) { r.Quantity = 0 }, wantKey: "quantity"},
		{name: "quantity upper bound", mutate: func(r *CreateOrderRequest) { r.Quantity = MaxQuantity }},
		{name: "quantity over bound", mutate: func(r *CreateOrderRequest) { r.Quantity = MaxQuantity + 1 }, wantKey: "quantity"},
		{name: "zero price", mutate: func(r *CreateOrderRequest) { r.TotalPrice = decimal.Zero }, wantKey: "totalPrice"},
		{name: "max price", mutate: func(r *CreateOrderRequest) { r.TotalPrice = MaxTotalPrice }},
		{name: "price over max", mutate: func(r *CreateOrderRequest) { r.TotalPrice = decimal.RequireFromString("100000000") }, wantKey: "totalPrice"},
		{name: "sub-cent price", mutate: func(r *CreateOrderRequest) { r.TotalPrice = decimal.RequireFromString("1.005") }, wantKey: "totalPrice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantKey == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.wantKey)
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus(" shipped ")
	require.True(t, ok)
	assert.Equal(t, StatusShipped, st)

	_, ok = ParseStatus("LOST")
	assert.False(t, ok)

	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusDelivered.Terminal())
	assert.False(t, StatusShipped.Terminal())
}

func TestNormalizeSKU(t *testing.T) {
	assert.Equal(t, "ABC123", NormalizeSKU("  abc123 "))
	assert.Equal(t, "", NormalizeSKU("   "))
}

func TestOrderFilter_Matches(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := Order{CustomerName: "Grace Hopper", Status: StatusShipped, CreatedAt: created}

	assert.True(t, OrderFilter{}.Matches(o))
	assert.True(t, OrderFilter{CustomerName: "hop"}.Matches(o))
	assert.False(t, OrderFilter{Status: StatusPending}.Matches(o))
	assert.True(t, OrderFilter{CreatedFrom: created, CreatedTo: created}.Matches(o))
	assert.False(t, OrderFilter{CreatedFrom: created.Add(time.Second)}.Matches(o))
}

func TestSummarize(t *testing.T) {
	orders := []Order{
		{Status: StatusPending, TotalPrice: decimal.RequireFromString("10.00")},
		{Status: StatusPending, TotalPrice: decimal.RequireFromString("5.00")},
		{Status: StatusCancelled, TotalPrice: decimal.RequireFromString("0.01")},
	}

	a := Summarize(orders)

	assert.Equal(t, int64(3), a.TotalOrders)
	assert.True(t, a.TotalRevenue.Equal(decimal.RequireFromString("15.01")))
	assert.True(t, a.AverageOrderValue.Equal(decimal.RequireFromString("5.00")), a.AverageOrderValue.String())
	assert.Equal(t, int64(2), a.OrdersByStatus["PENDING"])
	assert.True(t, a.RevenueByStatus["CANCELLED"].Equal(decimal.RequireFromString("0.01")))
}

func TestSummarize_Empty(t *testing.T) {
	a := Summarize(nil)
	assert.Zero(t, a.TotalOrders)
	assert.True(t, a.AverageOrderValue.IsZero())
}
