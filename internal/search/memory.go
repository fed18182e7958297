package search

import (
	"context"
	"sync"
	"time"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]domain.SearchDocument
}

var _ Index = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]domain.SearchDocument)}
}

func (m *MemoryIndex) Upsert(_ context.Context, doc domain.SearchDocument) error {
	m.mu.Lock()
	m.docs[doc.ID] = doc
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.docs, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) collect(keep func(domain.SearchDocument) bool) []domain.SearchDocument {
	m.mu.RLock()
	out := make([]domain.SearchDocument, 0, len(m.docs))
	for _, d := range m.docs {
		if keep(d) {
			out = append(out, d)
		}
	}
	m.mu.RUnlock()
	domain.SortDocuments(out)
	return out
}

func (m *MemoryIndex) All(context.Context) ([]domain.SearchDocument, error) {
	return m.collect(func(domain.SearchDocument) bool { return true }), nil
}

func (m *MemoryIndex) ByStatus(_ context.Context, status domain.OrderStatus) ([]domain.SearchDocument, error) {
	return m.collect(func(d domain.SearchDocument) bool { return d.Status == status }), nil
}

func (m *MemoryIndex) ByCreatedBetween(_ context.Context, start, end time.Time) ([]domain.SearchDocument, error) {
	return m.collect(func(d domain.SearchDocument) bool {
		return !d.CreatedAt.Before(start) && !d.CreatedAt.After(end)
	}), nil
}

func (m *MemoryIndex) Reset(context.Context) error {
	m.mu.Lock()
	m.docs = make(map[string]domain.SearchDocument)
	m.mu.Unlock()
	return nil
}
