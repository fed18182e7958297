// Package postgres is the durable order store backed by PostgreSQL through
// pgx. Every mutation is a single conditional statement, so commits are
// atomic per order and a stale version never overwrites a newer one.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

const orderColumns = `id, customer_name, customer_email, product_description, product_sku,
	quantity, total_price::text, status, created_at, updated_at, version`

type OrderStore struct {
	Pool *pgxpool.Pool
}

var _ domain.OrderRepository = (*OrderStore)(nil)

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{Pool: pool}
}

// EnsureSchema creates the orders table and its lookup indexes if absent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS orders (
  id                  text PRIMARY KEY,
  customer_name       varchar(100) NOT NULL,
  customer_email      varchar(254) NOT NULL,
  product_description varchar(500) NOT NULL,
  product_sku         varchar(64),
  quantity            integer NOT NULL CHECK (quantity > 0),
  total_price         numeric(10,2) NOT NULL CHECK (total_price > 0),
  status              varchar(20) NOT NULL,
  created_at          timestamptz NOT NULL,
  updated_at          timestamptz NOT NULL,
  version             bigint NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_orders_customer_name ON orders (lower(customer_name));
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);
CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders (created_at);`)
	if err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o     domain.Order
		sku   *string
		price string
	)
	err := row.Scan(&o.ID, &o.CustomerName, &o.CustomerEmail, &o.ProductDescription, &sku,
		&o.Quantity, &price, &o.Status, &o.CreatedAt, &o.UpdatedAt, &o.Version)
	if err != nil {
		return o, err
	}
	if sku != nil {
		o.ProductSKU = *sku
	}
	if o.TotalPrice, err = decimal.NewFromString(price); err != nil {
		return o, fmt.Errorf("parse total_price %q: %w", price, err)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *OrderStore) Create(ctx context.Context, o *domain.Order) error {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.NewString()
	_, err := s.Pool.Exec(ctx, `
INSERT INTO orders (id, customer_name, customer_email, product_description, product_sku,
  quantity, total_price, status, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, 0)`,
		id, o.CustomerName, o.CustomerEmail, o.ProductDescription, nullable(o.ProductSKU),
		o.Quantity, o.TotalPrice.StringFixed(2), string(o.Status), now)
	if err != nil {
		return fmt.Errorf("postgres: insert order: %w", err)
	}
	o.ID = id
	o.CreatedAt = now
	o.UpdatedAt = now
	o.Version = 0
	return nil
}

// missOrConflict tells a vanished row from a version mismatch after a
// conditional statement touched nothing.
func (s *OrderStore) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check order %s: %w", id, err)
	}
	if !exists {
		return domain.NotFound(id)
	}
	return domain.ErrConcurrentModification
}

func (s *OrderStore) UpdateStatus(ctx context.Context, o *domain.Order) error {
	row := s.Pool.QueryRow(ctx, `
UPDATE orders SET status = $1, updated_at = $2, version = version + 1
WHERE id = $3 AND version = $4
RETURNING `+orderColumns,
		string(o.Status), time.Now().UTC().Truncate(time.Microsecond), o.ID, o.Version)
	updated, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.missOrConflict(ctx, o.ID)
	}
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	*o = updated
	return nil
}

func (s *OrderStore) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find order %s: %w", id, err)
	}
	return &o, nil
}

func (s *OrderStore) query(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders`
	if where != "" {
		sql += ` WHERE ` + where
	}
	sql += ` ORDER BY created_at, id`

	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query orders: %w", err)
	}
	defer rows.Close()

	out := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *OrderStore) FindAll(ctx context.Context) ([]domain.Order, error) {
	return s.query(ctx, "")
}

func (s *OrderStore) FindByCustomerName(ctx context.Context, name string) ([]domain.Order, error) {
	return s.query(ctx, `lower(customer_name) = lower($1)`, strings.TrimSpace(name))
}

func (s *OrderStore) FindByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	return s.query(ctx, `status = $1`, string(status))
}

func (s *OrderStore) FindByCreatedBetween(ctx context.Context, start, end time.Time) ([]domain.Order, error) {
	return s.query(ctx, `created_at BETWEEN $1 AND $2`, start, end)
}

func (s *OrderStore) Find(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Status != "" {
		add(`status = ?`, string(f.Status))
	}
	if name := strings.TrimSpace(f.CustomerName); name != "" {
		add(`strpos(lower(customer_name), lower(?)) > 0`, name)
	}
	if !f.CreatedFrom.IsZero() {
		add(`created_at >= ?`, f.CreatedFrom)
	}
	if !f.CreatedTo.IsZero() {
		add(`created_at <= ?`, f.CreatedTo)
	}
	return s.query(ctx, strings.Join(conds, " AND "), args...)
}

func (s *OrderStore) Delete(ctx context.Context, o *domain.Order) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM orders WHERE id = $1 AND version = $2`, o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("postgres: delete order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, o.ID)
	}
	return nil
}

func (s *OrderStore) Summarize(ctx context.Context) (domain.Analytics, error) {
	rows, err := s.Pool.Query(ctx, `SELECT status, count(*), sum(total_price)::text FROM orders GROUP BY status`)
	if err != nil {
		return domain.Analytics{}, fmt.Errorf("postgres: summarize orders: %w", err)
	}
	defer rows.Close()

	a := domain.Analytics{
		TotalRevenue:    decimal.Zero,
		OrdersByStatus:  make(map[string]int64),
		RevenueByStatus: make(map[string]decimal.Decimal),
	}
	for rows.Next() {
		var (
			status  string
			count   int64
			revenue string
		)
		if err := rows.Scan(&status, &count, &revenue); err != nil {
			return domain.Analytics{}, fmt.Errorf("postgres: scan summary: %w", err)
		}
		r, err := decimal.NewFromString(revenue)
		if err != nil {
			return domain.Analytics{}, fmt.Errorf("postgres: parse revenue %q: %w", revenue, err)
		}
		a.TotalOrders += count
		a.TotalRevenue = a.TotalRevenue.Add(r)
		a.OrdersByStatus[status] = count
		a.RevenueByStatus[status] = r
	}
	if err := rows.Err(); err != nil {
		return domain.Analytics{}, fmt.Errorf("postgres: summarize orders: %w", err)
	}
	a.AverageOrderValue = domain.AverageOrderValue(a.TotalRevenue, a.TotalOrders)
	return a, nil
}
