package domain

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	MinQuantity = 1
	MaxQuantity = 10000
)

// MaxTotalPrice is the largest total a NUMERIC(10,2) column holds.
var MaxTotalPrice = decimal.RequireFromString("99999999.99")

// CreateOrderRequest is the caller's intent to place an order. Status is
// accepted for wire compatibility but never honored: new orders are PENDING.
type CreateOrderRequest struct {
	CustomerName       string          `json:"customerName"`
	CustomerEmail      string          `json:"customerEmail"`
	ProductDescription string          `json:"productDescription"`
	ProductSKU         string          `json:"productSku,omitempty"`
	Quantity           int             `json:"quantity"`
	TotalPrice         decimal.Decimal `json:"totalPrice"`
	Status             string          `json:"status,omitempty"`
}

// Validate checks field bounds and returns a *ValidationError listing every
// offending field, or nil.
func (r CreateOrderRequest) Validate() error {
	fields := make(map[string]string)

	name := strings.TrimSpace(r.CustomerName)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		fields["customerName"] = "Customer name is required"
	case n < 2 || n > 100:
		fields["customerName"] = "Customer name must be between 2 and 100 characters"
	}

	email := strings.TrimSpace(r.CustomerEmail)
	if email == "" {
		fields["customerEmail"] = "Customer email is required"
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fields["customerEmail"] = "Please provide a valid email address"
	}

	desc := strings.TrimSpace(r.ProductDescription)
	if desc == "" {
		fields["productDescription"] = "Product description is required"
	} else if utf8.RuneCountInString(r.ProductDescription) > 500 {
		fields["productDescription"] = "Product description cannot exceed 500 characters"
	}

	if utf8.RuneCountInString(NormalizeSKU(r.ProductSKU)) > 64 {
		fields["productSku"] = "Product SKU cannot exceed 64 characters"
	}

	if r.Quantity < MinQuantity {
		fields["quantity"] = "Quantity must be at least 1"
	} else if r.Quantity > MaxQuantity {
		fields["quantity"] = "Quantity cannot exceed 10000"
	}

	switch {
	case !r.TotalPrice.IsPositive():
		fields["totalPrice"] = "Total price must be greater than 0"
	case r.TotalPrice.GreaterThan(MaxTotalPrice):
		fields["totalPrice"] = "Total price exceeds maximum allowed"
	case !r.TotalPrice.Equal(r.TotalPrice.Round(2)):
		fields["totalPrice"] = "Total price cannot have more than 2 decimal places"
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
