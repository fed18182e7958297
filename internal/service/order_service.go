// Package service is the order lifecycle orchestrator. The store commit is
// the only step whose failure reaches the caller; cache, search and event
// propagation are logged and absorbed.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

const (
	defaultSideEffectTimeout = 5 * time.Second
	sideEffectQueue          = 1024
	loadTimeout              = 10 * time.Second
	rebuildTimeout           = time.Minute
)

var ErrClosed = errors.New("order service closed")

type Deps struct {
	Repo      domain.OrderRepository
	Inventory domain.InventoryCoordinator
	Cache     domain.OrderCache
	Search    domain.SearchProjector
	Events    domain.EventPublisher
	Log       *slog.Logger
	// SideEffectTimeout bounds each background search update.
	SideEffectTimeout time.Duration
}

type OrderService struct {
	repo      domain.OrderRepository
	inventory domain.InventoryCoordinator
	cache     domain.OrderCache
	search    domain.SearchProjector
	events    domain.EventPublisher
	log       *slog.Logger
	timeout   time.Duration

	reads singleflight.Group
	// epoch advances on every invalidation. A read only fills the cache if
	// no invalidation happened while it was loading.
	epoch atomic.Uint64

	mu     sync.Mutex
	closed bool
	tasks  chan func(context.Context)
	done   chan struct{}
}

func NewOrderService(d Deps) *OrderService {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	timeout := d.SideEffectTimeout
	if timeout <= 0 {
		timeout = defaultSideEffectTimeout
	}
	s := &OrderService{
		repo:      d.Repo,
		inventory: d.Inventory,
		cache:     d.Cache,
		search:    d.Search,
		events:    d.Events,
		log:       log.With("component", "order_service"),
		timeout:   timeout,
		tasks:     make(chan func(context.Context), sideEffectQueue),
		done:      make(chan struct{}),
	}
	go s.runSideEffects()
	return s
}

// runSideEffects applies background work one task at a time in submission
// order, so projections of one order are written in commit order.
func (s *OrderService) runSideEffects() {
	defer close(s.done)
	for task := range s.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		task(ctx)
		cancel()
	}
}

// background queues fn without blocking. A full queue drops the task; the
// search projection is rebuildable from the store.
func (s *OrderService) background(ctx context.Context, what, orderID string, fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.log.WarnContext(ctx, "side effect dropped after shutdown", "task", what, "order_id", orderID)
		return
	}
	select {
	case s.tasks <- fn:
	default:
		s.log.WarnContext(ctx, "side effect queue full, task dropped", "task", what, "order_id", orderID)
	}
}

// Flush blocks until every side effect queued before the call has run.
func (s *OrderService) Flush(ctx context.Context) error {
	return s.await(ctx, func(context.Context) {})
}

// await queues fn behind every side effect already submitted and waits for
// it to finish. Unlike background it never drops fn.
func (s *OrderService) await(ctx context.Context, fn func(context.Context)) error {
	reached := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	select {
	case s.tasks <- func(tctx context.Context) { defer close(reached); fn(tctx) }:
	case <-ctx.Done():
		s.mu.Unlock()
		return ctx.Err()
	}
	s.mu.Unlock()

	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting side effects and waits for queued ones to finish or
// ctx to end.
func (s *OrderService) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.tasks)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *OrderService) invalidate(ctx context.Context, id string) {
	s.epoch.Add(1)
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.log.WarnContext(ctx, "cache invalidation failed", "order_id", id, "error", err)
	}
}

func (s *OrderService) reindex(ctx context.Context, o *domain.Order) {
	snapshot := *o
	s.background(ctx, "index", o.ID, func(bctx context.Context) {
		s.search.Index(bctx, &snapshot)
	})
}

// Create reserves stock for a SKU line before committing, and gives the
// reservation back if the commit fails. The stored status is always PENDING.
func (s *OrderService) Create(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	o := &domain.Order{
		CustomerName:       req.CustomerName,
		CustomerEmail:      req.CustomerEmail,
		ProductDescription: req.ProductDescription,
		ProductSKU:         domain.NormalizeSKU(req.ProductSKU),
		Quantity:           req.Quantity,
		TotalPrice:         req.TotalPrice,
		Status:             domain.StatusPending,
	}

	var steps []step
	if o.HasSKU() {
		steps = append(steps, reserveStep{inventory: s.inventory, sku: o.ProductSKU, qty: o.Quantity})
	}
	steps = append(steps, commitStep{repo: s.repo, order: o})
	if err := runSaga(ctx, s.log, steps...); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "order created", "order_id", o.ID, "sku", o.ProductSKU, "quantity", o.Quantity)

	s.invalidate(ctx, o.ID)
	s.reindex(ctx, o)
	if err := s.events.PublishOrderCreated(ctx, o); err != nil {
		s.log.ErrorContext(ctx, "failed to publish event", "event_type", "ORDER_CREATED", "order_id", o.ID, "error", err)
	}
	return o, nil
}

// load runs fn once per key for all concurrent callers. The shared load is
// detached from any one caller's cancellation; each caller still stops
// waiting when its own ctx ends.
func (s *OrderService) load(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.reads.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return fn(lctx)
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fill writes a loaded value to the cache unless an invalidation happened
// since epoch was read. An invalidation that lands between the check and
// the write is caught by the second check, which drops the entry again.
func (s *OrderService) fill(ctx context.Context, epoch uint64, attr, val string, set func() error, ids ...string) {
	if s.epoch.Load() != epoch {
		return
	}
	if err := set(); err != nil {
		s.log.WarnContext(ctx, "cache fill failed", attr, val, "error", err)
		return
	}
	if s.epoch.Load() != epoch {
		if err := s.cache.Invalidate(ctx, ids...); err != nil {
			s.log.WarnContext(ctx, "cache invalidation failed", attr, val, "error", err)
		}
	}
}

// Get is read-through: a cache miss loads from the store and fills the cache.
func (s *OrderService) Get(ctx context.Context, id string) (*domain.Order, error) {
	if o, ok, err := s.cache.GetOrder(ctx, id); err != nil {
		s.log.WarnContext(ctx, "cache read failed", "order_id", id, "error", err)
	} else if ok {
		return o, nil
	}

	epoch := s.epoch.Load()
	v, err := s.load(ctx, "order:"+id+"@"+strconv.FormatUint(epoch, 10), func(lctx context.Context) (any, error) {
		o, err := s.repo.FindByID(lctx, id)
		if err != nil {
			return nil, err
		}
		s.fill(lctx, epoch, "order_id", id, func() error { return s.cache.SetOrder(lctx, o) }, id)
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	o := *v.(*domain.Order)
	return &o, nil
}

// List returns every order, oldest first, read-through cached as one entry.
func (s *OrderService) List(ctx context.Context) ([]domain.Order, error) {
	if all, ok, err := s.cache.GetAll(ctx); err != nil {
		s.log.WarnContext(ctx, "cache read failed", "key", "all", "error", err)
	} else if ok {
		return all, nil
	}

	epoch := s.epoch.Load()
	v, err := s.load(ctx, "all@"+strconv.FormatUint(epoch, 10), func(lctx context.Context) (any, error) {
		all, err := s.repo.FindAll(lctx)
		if err != nil {
			return nil, err
		}
		s.fill(lctx, epoch, "key", "all", func() error { return s.cache.SetAll(lctx, all) })
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]domain.Order)
	out := make([]domain.Order, len(shared))
	copy(out, shared)
	return out, nil
}

// ListFiltered applies status, customer name and creation window together.
// It always reads the store.
func (s *OrderService) ListFiltered(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	if err := checkRange(f.CreatedFrom, f.CreatedTo); err != nil {
		return nil, err
	}
	return s.repo.Find(ctx, f)
}

func (s *OrderService) ListByCustomer(ctx context.Context, name string) ([]domain.Order, error) {
	return s.repo.FindByCustomerName(ctx, name)
}

func (s *OrderService) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	return s.repo.FindByStatus(ctx, status)
}

func (s *OrderService) ListByDateRange(ctx context.Context, start, end time.Time) ([]domain.Order, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return s.repo.FindByCreatedBetween(ctx, start, end)
}

func checkRange(start, end time.Time) error {
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return &domain.ValidationError{Fields: map[string]string{"startDate": "must not be after endDate"}}
	}
	return nil
}

// inventoryEffect is the stock consequence of moving o from old to next.
type inventoryEffect int

const (
	effectNone inventoryEffect = iota
	effectRelease
	effectConsume
)

func effectOf(o *domain.Order, old, next domain.OrderStatus) inventoryEffect {
	if !o.HasSKU() || old == next {
		return effectNone
	}
	switch next {
	case domain.StatusCancelled:
		return effectRelease
	case domain.StatusDelivered:
		return effectConsume
	}
	return effectNone
}

// applyEffect runs after the commit, so a losing concurrent writer never
// touches stock. Failures are logged; the order change already stands.
func (s *OrderService) applyEffect(ctx context.Context, o *domain.Order, e inventoryEffect) {
	var err error
	switch e {
	case effectRelease:
		err = s.inventory.Release(ctx, o.ProductSKU, o.Quantity)
	case effectConsume:
		err = s.inventory.Consume(ctx, o.ProductSKU, o.Quantity)
	default:
		return
	}
	if err != nil {
		s.log.ErrorContext(ctx, "inventory adjustment failed",
			"order_id", o.ID, "sku", o.ProductSKU, "quantity", o.Quantity, "error", err)
	}
}

// UpdateStatus changes an order's status under optimistic concurrency. Any
// status may follow any other; only the inventory consequences differ.
func (s *OrderService) UpdateStatus(ctx context.Context, id string, next domain.OrderStatus) (*domain.Order, error) {
	o, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	old := o.Status
	effect := effectOf(o, old, next)

	o.Status = next
	if err := s.repo.UpdateStatus(ctx, o); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "order status updated", "order_id", id, "from", old, "to", next, "version", o.Version)

	s.applyEffect(ctx, o, effect)
	s.invalidate(ctx, id)
	s.reindex(ctx, o)

	if next == domain.StatusCancelled {
		err = s.events.PublishOrderCancelled(ctx, o)
	} else {
		err = s.events.PublishOrderUpdated(ctx, o, old)
	}
	if err != nil {
		s.log.ErrorContext(ctx, "failed to publish event", "order_id", id, "error", err)
	}
	return o, nil
}

// Delete removes an order. A live SKU order gives its reservation back as if
// cancelled. No lifecycle event is published.
func (s *OrderService) Delete(ctx context.Context, id string) error {
	o, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, o); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "order deleted", "order_id", id)

	if o.HasSKU() && !o.Status.Terminal() {
		s.applyEffect(ctx, o, effectRelease)
	}
	s.invalidate(ctx, id)
	s.background(ctx, "unindex", id, func(bctx context.Context) {
		s.search.Remove(bctx, id)
	})
	return nil
}

func (s *OrderService) Search(ctx context.Context, text string) []domain.SearchDocument {
	return s.search.Search(ctx, text)
}

func (s *OrderService) SearchByStatus(ctx context.Context, status domain.OrderStatus) []domain.SearchDocument {
	return s.search.SearchByStatus(ctx, status)
}

func (s *OrderService) SearchByDateRange(ctx context.Context, start, end time.Time) ([]domain.SearchDocument, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return s.search.SearchByDateRange(ctx, start, end), nil
}

func (s *OrderService) Analytics(ctx context.Context) (domain.Analytics, error) {
	return s.repo.Summarize(ctx)
}

// RebuildSearchIndex re-projects every stored order and returns how many
// documents were written. It runs on the side-effect queue, so index updates
// queued before it land first and later ones are applied on top.
func (s *OrderService) RebuildSearchIndex(ctx context.Context) (int, error) {
	var (
		n   int
		err error
	)
	qerr := s.await(ctx, func(context.Context) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rebuildTimeout)
		defer cancel()
		var all []domain.Order
		if all, err = s.repo.FindAll(rctx); err != nil {
			return
		}
		if err = s.search.Rebuild(rctx, all); err != nil {
			return
		}
		n = len(all)
	})
	if qerr != nil {
		return 0, qerr
	}
	return n, err
}
