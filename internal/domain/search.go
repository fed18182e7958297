package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// SearchDocument is the denormalized, never-authoritative projection of an
// order used for querying.
type SearchDocument struct {
	ID                 string          `json:"id"`
	CustomerName       string          `json:"customerName"`
	CustomerEmail      string          `json:"customerEmail"`
	ProductDescription string          `json:"productDescription"`
	ProductSKU         string          `json:"productSku,omitempty"`
	Quantity           int             `json:"quantity"`
	TotalPrice         decimal.Decimal `json:"totalPrice"`
	Status             OrderStatus     `json:"status"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// NewSearchDocument projects o.
func NewSearchDocument(o *Order) SearchDocument {
	return SearchDocument{
		ID:                 o.ID,
		CustomerName:       o.CustomerName,
		CustomerEmail:      o.CustomerEmail,
		ProductDescription: o.ProductDescription,
		ProductSKU:         o.ProductSKU,
		Quantity:           o.Quantity,
		TotalPrice:         o.TotalPrice,
		Status:             o.Status,
		CreatedAt:          o.CreatedAt,
	}
}

// SortDocuments orders documents oldest first, ties broken by id.
func SortDocuments(docs []SearchDocument) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
}

// SortOrders orders orders oldest first, ties broken by id.
func SortOrders(orders []Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}
