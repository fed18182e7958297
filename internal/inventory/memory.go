// Package inventory tracks stock per SKU. A reservation moves units from
// available to reserved; release moves them back, consume retires them.
package inventory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

// Level is the stock position of one SKU.
type Level struct {
	Available int `json:"available"`
	Reserved  int `json:"reserved"`
}

type Memory struct {
	mu     sync.Mutex
	levels map[string]*Level
}

var _ domain.InventoryCoordinator = (*Memory)(nil)

// NewMemory seeds available stock per SKU. SKUs are normalized.
func NewMemory(seed map[string]int) *Memory {
	m := &Memory{levels: make(map[string]*Level, len(seed))}
	for sku, n := range seed {
		m.levels[domain.NormalizeSKU(sku)] = &Level{Available: n}
	}
	return m
}

func (m *Memory) Reserve(_ context.Context, sku string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.levels[sku]
	if !ok || qty <= 0 || l.Available < qty {
		return domain.Unavailable(sku, qty)
	}
	l.Available -= qty
	l.Reserved += qty
	return nil
}

func (m *Memory) Release(_ context.Context, sku string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.levels[sku]
	if !ok {
		l = &Level{}
		m.levels[sku] = l
	}
	l.Available += qty
	l.Reserved = max(l.Reserved-qty, 0)
	return nil
}

func (m *Memory) Consume(_ context.Context, sku string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.levels[sku]; ok {
		l.Reserved = max(l.Reserved-qty, 0)
	}
	return nil
}

// Level reports the current position of sku.
func (m *Memory) Level(sku string) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.levels[domain.NormalizeSKU(sku)]; ok {
		return *l
	}
	return Level{}
}

// ParseSeed reads "SKU=qty,SKU=qty" into a stock map.
func ParseSeed(s string) (map[string]int, error) {
	out := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sku, n, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("inventory seed %q: want SKU=qty", part)
		}
		qty, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil || qty < 0 {
			return nil, fmt.Errorf("inventory seed %q: bad quantity", part)
		}
		out[domain.NormalizeSKU(sku)] = qty
	}
	return out, nil
}
