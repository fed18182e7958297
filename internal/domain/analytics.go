package domain

import "github.com/shopspring/decimal"

// Analytics summarizes every stored order.
type Analytics struct {
	TotalOrders       int64                      `json:"totalOrders"`
	TotalRevenue      decimal.Decimal            `json:"totalRevenue"`
	AverageOrderValue decimal.Decimal            `json:"averageOrderValue"`
	OrdersByStatus    map[string]int64           `json:"ordersByStatus"`
	RevenueByStatus   map[string]decimal.Decimal `json:"revenueByStatus"`
}

// Summarize folds orders into Analytics. Stores without aggregate queries use
// it directly.
func Summarize(orders []Order) Analytics {
	a := Analytics{
		TotalRevenue:    decimal.Zero,
		OrdersByStatus:  make(map[string]int64),
		RevenueByStatus: make(map[string]decimal.Decimal),
	}
	for _, o := range orders {
		a.TotalOrders++
		a.TotalRevenue = a.TotalRevenue.Add(o.TotalPrice)
		key := o.Status.String()
		a.OrdersByStatus[key]++
		a.RevenueByStatus[key] = a.RevenueByStatus[key].Add(o.TotalPrice)
	}
	a.AverageOrderValue = AverageOrderValue(a.TotalRevenue, a.TotalOrders)
	return a
}

// AverageOrderValue divides revenue by count, rounded half-up to cents.
func AverageOrderValue(revenue decimal.Decimal, count int64) decimal.Decimal {
	if count <= 0 {
		return decimal.Zero
	}
	return revenue.DivRound(decimal.NewFromInt(count), 2)
}
