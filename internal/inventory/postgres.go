package inventory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

// PostgresCoordinator keeps stock in the inventory table. Each operation is
// one guarded UPDATE, so concurrent reservations never oversell.
type PostgresCoordinator struct {
	Pool *pgxpool.Pool
}

var _ domain.InventoryCoordinator = (*PostgresCoordinator)(nil)

func NewPostgresCoordinator(pool *pgxpool.Pool) *PostgresCoordinator {
	return &PostgresCoordinator{Pool: pool}
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS inventory (
  sku       varchar(64) PRIMARY KEY,
  available integer NOT NULL CHECK (available >= 0),
  reserved  integer NOT NULL DEFAULT 0 CHECK (reserved >= 0)
);`)
	if err != nil {
		return fmt.Errorf("postgres: ensure inventory schema: %w", err)
	}
	return nil
}

// Seed inserts stock for SKUs that have no row yet.
func (c *PostgresCoordinator) Seed(ctx context.Context, stock map[string]int) error {
	for sku, n := range stock {
		_, err := c.Pool.Exec(ctx,
			`INSERT INTO inventory (sku, available) VALUES ($1, $2) ON CONFLICT (sku) DO NOTHING`,
			domain.NormalizeSKU(sku), n)
		if err != nil {
			return fmt.Errorf("postgres: seed inventory %s: %w", sku, err)
		}
	}
	return nil
}

func (c *PostgresCoordinator) Reserve(ctx context.Context, sku string, qty int) error {
	tag, err := c.Pool.Exec(ctx, `
UPDATE inventory SET available = available - $2, reserved = reserved + $2
WHERE sku = $1 AND available >= $2 AND $2 > 0`, sku, qty)
	if err != nil {
		return fmt.Errorf("postgres: reserve %s: %w", sku, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Unavailable(sku, qty)
	}
	return nil
}

func (c *PostgresCoordinator) Release(ctx context.Context, sku string, qty int) error {
	_, err := c.Pool.Exec(ctx, `
INSERT INTO inventory (sku, available) VALUES ($1, $2)
ON CONFLICT (sku) DO UPDATE
SET available = inventory.available + $2, reserved = GREATEST(inventory.reserved - $2, 0)`, sku, qty)
	if err != nil {
		return fmt.Errorf("postgres: release %s: %w", sku, err)
	}
	return nil
}

func (c *PostgresCoordinator) Consume(ctx context.Context, sku string, qty int) error {
	_, err := c.Pool.Exec(ctx,
		`UPDATE inventory SET reserved = GREATEST(reserved - $2, 0) WHERE sku = $1`, sku, qty)
	if err != nil {
		return fmt.Errorf("postgres: consume %s: %w", sku, err)
	}
	return nil
}

// Level reads the current position of sku.
func (c *PostgresCoordinator) Level(ctx context.Context, sku string) (Level, error) {
	var l Level
	err := c.Pool.QueryRow(ctx, `SELECT available, reserved FROM inventory WHERE sku = $1`,
		domain.NormalizeSKU(sku)).Scan(&l.Available, &l.Reserved)
	if err != nil {
		return Level{}, fmt.Errorf("postgres: inventory level %s: %w", sku, err)
	}
	return l, nil
}
