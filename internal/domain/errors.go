package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrConcurrentModification = errors.New("order was modified concurrently")
	ErrInventoryUnavailable   = errors.New("inventory unavailable")
	ErrValidation             = errors.New("validation failed")
)

// ValidationError carries per-field messages. It matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFound wraps ErrOrderNotFound with the missing id.
func NotFound(id string) error {
	return fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
}

// Unavailable wraps ErrInventoryUnavailable with the SKU and requested amount.
func Unavailable(sku string, qty int) error {
	return fmt.Errorf("sku %s: cannot reserve %d units: %w", sku, qty, ErrInventoryUnavailable)
}
