// Package domain holds the order entity, its status set, and the ports the
// lifecycle service depends on.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfillment label of an order. Any status may be set to
// any other; only the inventory consequences of a change are enforced.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusShipped    OrderStatus = "SHIPPED"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

// ParseStatus accepts a status name in any letter case.
func ParseStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Statuses {
		if st == known {
			return st, true
		}
	}
	return "", false
}

// Terminal reports whether no further fulfillment happens after this status.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s OrderStatus) String() string { return string(s) }

// Order is the authoritative record of a customer purchase. ID, CreatedAt,
// UpdatedAt and Version are assigned by the store.
type Order struct {
	ID                 string          `json:"id"`
	CustomerName       string          `json:"customerName"`
	CustomerEmail      string          `json:"customerEmail"`
	ProductDescription string          `json:"productDescription"`
	ProductSKU         string          `json:"productSku,omitempty"`
	Quantity           int             `json:"quantity"`
	TotalPrice         decimal.Decimal `json:"totalPrice"`
	Status             OrderStatus     `json:"status"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	Version            int64           `json:"version"`
}

// HasSKU reports whether the order is tied to an inventory line item.
func (o *Order) HasSKU() bool { return o.ProductSKU != "" }

// NormalizeSKU trims and upper-cases a SKU. A blank SKU normalizes to "",
// meaning the order carries no inventory line item.
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// OrderFilter narrows a listing. Zero fields are ignored.
type OrderFilter struct {
	Status       OrderStatus
	CustomerName string // case-insensitive substring
	CreatedFrom  time.Time
	CreatedTo    time.Time
}

// Matches applies the filter to a single order.
func (f OrderFilter) Matches(o Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if name := strings.TrimSpace(f.CustomerName); name != "" &&
		!strings.Contains(strings.ToLower(o.CustomerName), strings.ToLower(name)) {
		return false
	}
	if !f.CreatedFrom.IsZero() && o.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && o.CreatedAt.After(f.CreatedTo) {
		return false
	}
	return true
}
