package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/fieldline-dms/fieldline/internal/shared"
)

// ErrNegativeStock is returned when applying a delta would drive a warehouse
// balance below zero.
var ErrNegativeStock = fmt.Errorf("%w: negative stock not allowed", shared.ErrValidation)

// Applier executes side-effect instructions within a caller-owned
// transactional boundary.
type Applier interface {
	Apply(ctx context.Context, tenantID int64, instructions []Instruction) error
}

// ApplyTx applies instructions against stock_balances/stock_ledger and
// cash_ledger using the caller's transaction. Balances never go negative.
func ApplyTx(ctx context.Context, tx pgx.Tx, tenantID int64, instructions []Instruction) error {
	if tenantID <= 0 {
		return shared.ErrNoTenant
	}
	for _, in := range instructions {
		if err := in.Validate(); err != nil {
			return err
		}
		if in.Kind == KindCash {
			if err := applyCash(ctx, tx, tenantID, in); err != nil {
				return err
			}
			continue
		}
		if err := applyStock(ctx, tx, tenantID, in); err != nil {
			return err
		}
	}
	return nil
}

func applyStock(ctx context.Context, tx pgx.Tx, tenantID int64, in Instruction) error {
	delta := in.QtyDelta()

	var current decimal.Decimal
	err := tx.QueryRow(ctx, `SELECT quantity FROM stock_balances
WHERE tenant_id=$1 AND warehouse_id=$2 AND product_id=$3 FOR UPDATE`,
		tenantID, in.WarehouseID, in.ProductID).Scan(&current)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("ledger: read balance: %w", err)
		}
		current = decimal.Zero
	}

	next := current.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("%w: warehouse %d product %d would reach %s",
			ErrNegativeStock, in.WarehouseID, in.ProductID, next)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO stock_balances (tenant_id, warehouse_id, product_id, quantity, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (tenant_id, warehouse_id, product_id)
DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()`,
		tenantID, in.WarehouseID, in.ProductID, next); err != nil {
		return fmt.Errorf("ledger: upsert balance: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO stock_ledger (tenant_id, warehouse_id, product_id, kind, qty_delta, balance_after, ref_family, ref_number, reason, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
		tenantID, in.WarehouseID, in.ProductID, string(in.Kind), delta, next,
		in.RefFamily, in.RefNumber, in.Reason); err != nil {
		return fmt.Errorf("ledger: append entry: %w", err)
	}
	return nil
}

func applyCash(ctx context.Context, tx pgx.Tx, tenantID int64, in Instruction) error {
	if _, err := tx.Exec(ctx, `INSERT INTO cash_ledger (tenant_id, amount, ref_family, ref_number, reason, posted_at)
VALUES ($1, $2, $3, $4, $5, NOW())`,
		tenantID, in.Amount, in.RefFamily, in.RefNumber, in.Reason); err != nil {
		return fmt.Errorf("ledger: append cash entry: %w", err)
	}
	return nil
}
