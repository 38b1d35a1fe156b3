package purchasing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldline-dms/fieldline/internal/ledger"
	"github.com/fieldline-dms/fieldline/internal/shared"
)

// Repository provides PostgreSQL backed persistence. Every query carries the
// tenant predicate so rows from another tenant read as absent.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("purchasing: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("purchasing: commit tx: %w", err)
	}
	return nil
}

const poColumns = `id, tenant_id, number, supplier_id, warehouse_id, order_date,
COALESCE(expected_date, 'epoch'::timestamptz), status, tax_rate, discount, COALESCE(notes, ''),
created_by, created_at, updated_at,
COALESCE(approved_by, 0), COALESCE(approved_at, 'epoch'::timestamptz),
COALESCE(received_by, 0), COALESCE(received_at, 'epoch'::timestamptz),
COALESCE(receive_notes, ''), COALESCE(cancelled_reason, '')`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.TenantID, &po.Number, &po.SupplierID, &po.WarehouseID,
		&po.OrderDate, &po.ExpectedDate, &po.Status, &po.TaxRate, &po.Discount, &po.Notes,
		&po.CreatedBy, &po.CreatedAt, &po.UpdatedAt,
		&po.ApprovedBy, &po.ApprovedAt, &po.ReceivedBy, &po.ReceivedAt,
		&po.ReceiveNotes, &po.CancelledReason)
	return po, err
}

// Get returns a purchase order and its items scoped to a tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id int64) (PurchaseOrder, []Item, error) {
	po, err := scanPO(r.pool.QueryRow(ctx,
		`SELECT `+poColumns+` FROM purchase_orders WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, fmt.Errorf("%w: purchase order %d", shared.ErrNotFound, id)
		}
		return PurchaseOrder{}, nil, fmt.Errorf("purchasing: get: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id, po_id, product_id, quantity, unit_price, received_quantity, COALESCE(notes, '')
FROM purchase_order_items WHERE po_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, nil, fmt.Errorf("purchasing: get items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.POID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.ReceivedQuantity, &it.Notes); err != nil {
			return PurchaseOrder{}, nil, fmt.Errorf("purchasing: scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, items, nil
}

// List returns tenant-scoped headers, newest first.
func (r *Repository) List(ctx context.Context, tenantID int64, filter ListFilter) ([]PurchaseOrder, error) {
	sql := `SELECT ` + poColumns + ` FROM purchase_orders WHERE tenant_id=$1`
	args := []any{tenantID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		sql += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if filter.SupplierID > 0 {
		args = append(args, filter.SupplierID)
		sql += fmt.Sprintf(" AND supplier_id=$%d", len(args))
	}
	if !filter.FromDate.IsZero() {
		args = append(args, filter.FromDate)
		sql += fmt.Sprintf(" AND order_date >= $%d", len(args))
	}
	if !filter.ToDate.IsZero() {
		args = append(args, filter.ToDate)
		sql += fmt.Sprintf(" AND order_date <= $%d", len(args))
	}
	sql += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("purchasing: list: %w", err)
	}
	defer rows.Close()

	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, fmt.Errorf("purchasing: scan: %w", err)
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

// Stats counts orders per status for one tenant.
func (r *Repository) Stats(ctx context.Context, tenantID int64) (Stats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM purchase_orders WHERE tenant_id=$1 GROUP BY status`, tenantID)
	if err != nil {
		return Stats{}, fmt.Errorf("purchasing: stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		stats.Total += n
		switch Status(status) {
		case StatusDraft:
			stats.Draft = n
		case StatusApproved:
			stats.Approved = n
		case StatusReceived:
			stats.Received = n
		case StatusCancelled:
			stats.Cancelled = n
		}
	}
	return stats, rows.Err()
}

func (t *txRepo) Insert(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders
(tenant_id, number, supplier_id, warehouse_id, order_date, expected_date, status, tax_rate, discount, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, 'epoch'::timestamptz), $7, $8, $9, $10, $11, $12, $13)
RETURNING id`,
		po.TenantID, po.Number, po.SupplierID, po.WarehouseID, po.OrderDate, po.ExpectedDate,
		string(po.Status), po.TaxRate, po.Discount, po.Notes, po.CreatedBy, po.CreatedAt, po.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("purchasing: insert: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertItems(ctx context.Context, poID int64, items []Item) error {
	for _, it := range items {
		if _, err := t.tx.Exec(ctx, `INSERT INTO purchase_order_items
(po_id, product_id, quantity, unit_price, notes) VALUES ($1, $2, $3, $4, $5)`,
			poID, it.ProductID, it.Quantity, it.UnitPrice, it.Notes); err != nil {
			return fmt.Errorf("purchasing: insert item: %w", err)
		}
	}
	return nil
}

func (t *txRepo) ReplaceItems(ctx context.Context, poID int64, items []Item) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE po_id=$1`, poID); err != nil {
		return fmt.Errorf("purchasing: clear items: %w", err)
	}
	return t.InsertItems(ctx, poID, items)
}

// UpdateDraft edits a header while it is still draft. Returns false when the
// row is missing or has left draft.
func (t *txRepo) UpdateDraft(ctx context.Context, po PurchaseOrder) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET
supplier_id=$1, warehouse_id=$2, expected_date=NULLIF($3, 'epoch'::timestamptz),
tax_rate=$4, discount=$5, notes=$6, updated_at=$7
WHERE tenant_id=$8 AND id=$9 AND status=$10`,
		po.SupplierID, po.WarehouseID, po.ExpectedDate, po.TaxRate, po.Discount, po.Notes, po.UpdatedAt,
		po.TenantID, po.ID, string(StatusDraft))
	if err != nil {
		return false, fmt.Errorf("purchasing: update draft: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Transition performs a compare-and-swap on the status column. Zero rows
// affected means another writer transitioned the order first.
func (t *txRepo) Transition(ctx context.Context, po PurchaseOrder, from Status) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET
status=$1, updated_at=$2,
approved_by=NULLIF($3, 0), approved_at=NULLIF($4, 'epoch'::timestamptz),
received_by=NULLIF($5, 0), received_at=NULLIF($6, 'epoch'::timestamptz),
receive_notes=NULLIF($7, ''), cancelled_reason=NULLIF($8, '')
WHERE tenant_id=$9 AND id=$10 AND status=$11`,
		string(po.Status), po.UpdatedAt,
		po.ApprovedBy, po.ApprovedAt, po.ReceivedBy, po.ReceivedAt,
		po.ReceiveNotes, po.CancelledReason,
		po.TenantID, po.ID, string(from))
	if err != nil {
		return false, fmt.Errorf("purchasing: transition: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) SetItemReceived(ctx context.Context, poID int64, item Item) error {
	if _, err := t.tx.Exec(ctx, `UPDATE purchase_order_items
SET received_quantity=$1, notes=COALESCE(NULLIF($2, ''), notes)
WHERE po_id=$3 AND product_id=$4`,
		item.ReceivedQuantity, item.Notes, poID, item.ProductID); err != nil {
		return fmt.Errorf("purchasing: set received: %w", err)
	}
	return nil
}

func (t *txRepo) Delete(ctx context.Context, tenantID, id int64) (bool, error) {
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM purchase_order_items WHERE po_id=$1`, id); err != nil {
		return false, fmt.Errorf("purchasing: delete items: %w", err)
	}
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM purchase_orders WHERE tenant_id=$1 AND id=$2 AND status=$3`,
		tenantID, id, string(StatusDraft))
	if err != nil {
		return false, fmt.Errorf("purchasing: delete: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) ApplyLedger(ctx context.Context, tenantID int64, instructions []ledger.Instruction) error {
	return ledger.ApplyTx(ctx, t.tx, tenantID, instructions)
}

var _ RepositoryPort = (*Repository)(nil)
