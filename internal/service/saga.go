package service

import (
	"context"
	"log/slog"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

// step is one unit of a create saga. Compensate undoes a successful Execute.
type step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// runSaga executes steps in order. When one fails, every step that already
// succeeded is compensated in reverse order and the failure is returned.
// Compensation runs detached from ctx so a cancelled request still gives
// back what it took.
func runSaga(ctx context.Context, log *slog.Logger, steps ...step) error {
	done := make([]step, 0, len(steps))
	for _, s := range steps {
		if err := s.Execute(ctx); err != nil {
			log.WarnContext(ctx, "saga step failed, compensating", "step", s.Name(), "error", err)
			cctx := context.WithoutCancel(ctx)
			for i := len(done) - 1; i >= 0; i-- {
				if cerr := done[i].Compensate(cctx); cerr != nil {
					log.ErrorContext(ctx, "compensation failed", "step", done[i].Name(), "error", cerr)
				}
			}
			return err
		}
		done = append(done, s)
	}
	return nil
}

type reserveStep struct {
	inventory domain.InventoryCoordinator
	sku       string
	qty       int
}

func (s reserveStep) Name() string { return "reserve_inventory" }

func (s reserveStep) Execute(ctx context.Context) error {
	return s.inventory.Reserve(ctx, s.sku, s.qty)
}

func (s reserveStep) Compensate(ctx context.Context) error {
	return s.inventory.Release(ctx, s.sku, s.qty)
}

type commitStep struct {
	repo  domain.OrderRepository
	order *domain.Order
}

func (s commitStep) Name() string { return "commit_order" }

func (s commitStep) Execute(ctx context.Context) error { return s.repo.Create(ctx, s.order) }

// Compensate is a no-op: commit is always the last step.
func (s commitStep) Compensate(context.Context) error { return nil }
