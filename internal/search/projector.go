// Package search maintains the queryable projection of orders. The
// projection is never authoritative: a failing backend is logged and
// queries answer with an empty result.
package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

// Index is a search backend. Unlike Projector, it reports failures.
type Index interface {
	Upsert(ctx context.Context, doc domain.SearchDocument) error
	Delete(ctx context.Context, id string) error
	All(ctx context.Context) ([]domain.SearchDocument, error)
	ByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.SearchDocument, error)
	ByCreatedBetween(ctx context.Context, start, end time.Time) ([]domain.SearchDocument, error)
	Reset(ctx context.Context) error
}

type Projector struct {
	index   Index
	enabled bool
	log     *slog.Logger
}

var _ domain.SearchProjector = (*Projector)(nil)

func NewProjector(index Index, enabled bool, log *slog.Logger) *Projector {
	if log == nil {
		log = slog.Default()
	}
	return &Projector{index: index, enabled: enabled && index != nil, log: log.With("component", "search")}
}

func (p *Projector) Index(ctx context.Context, o *domain.Order) {
	if !p.enabled {
		return
	}
	if err := p.index.Upsert(ctx, domain.NewSearchDocument(o)); err != nil {
		p.log.WarnContext(ctx, "failed to index order", "order_id", o.ID, "error", err)
		return
	}
	p.log.DebugContext(ctx, "indexed order", "order_id", o.ID)
}

func (p *Projector) Remove(ctx context.Context, id string) {
	if !p.enabled {
		return
	}
	if err := p.index.Delete(ctx, id); err != nil {
		p.log.WarnContext(ctx, "failed to remove order from index", "order_id", id, "error", err)
		return
	}
	p.log.DebugContext(ctx, "removed order from index", "order_id", id)
}

// Search matches text case-insensitively against customer name and product
// description. Blank text matches every document.
func (p *Projector) Search(ctx context.Context, text string) []domain.SearchDocument {
	if !p.enabled {
		return []domain.SearchDocument{}
	}
	docs, err := p.index.All(ctx)
	if err != nil {
		p.log.WarnContext(ctx, "search query failed", "error", err)
		return []domain.SearchDocument{}
	}
	needle := strings.ToLower(strings.TrimSpace(text))
	out := make([]domain.SearchDocument, 0, len(docs))
	for _, d := range docs {
		if strings.Contains(strings.ToLower(d.CustomerName), needle) ||
			strings.Contains(strings.ToLower(d.ProductDescription), needle) {
			out = append(out, d)
		}
	}
	return out
}

func (p *Projector) SearchByStatus(ctx context.Context, status domain.OrderStatus) []domain.SearchDocument {
	if !p.enabled {
		return []domain.SearchDocument{}
	}
	docs, err := p.index.ByStatus(ctx, status)
	if err != nil {
		p.log.WarnContext(ctx, "search status query failed", "status", status, "error", err)
		return []domain.SearchDocument{}
	}
	return docs
}

func (p *Projector) SearchByDateRange(ctx context.Context, start, end time.Time) []domain.SearchDocument {
	if !p.enabled {
		return []domain.SearchDocument{}
	}
	docs, err := p.index.ByCreatedBetween(ctx, start, end)
	if err != nil {
		p.log.WarnContext(ctx, "search date range query failed", "error", err)
		return []domain.SearchDocument{}
	}
	return docs
}

// Rebuild is the one projector call that reports failure, since a caller
// asked for it explicitly.
func (p *Projector) Rebuild(ctx context.Context, orders []domain.Order) error {
	if !p.enabled {
		return nil
	}
	if err := p.index.Reset(ctx); err != nil {
		return err
	}
	for i := range orders {
		if err := p.index.Upsert(ctx, domain.NewSearchDocument(&orders[i])); err != nil {
			return err
		}
	}
	p.log.InfoContext(ctx, "search index rebuilt", "documents", len(orders))
	return nil
}
