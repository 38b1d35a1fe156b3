package counts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldline-dms/fieldline/internal/ledger"
	"github.com/fieldline-dms/fieldline/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
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
		return fmt.Errorf("counts: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("counts: commit tx: %w", err)
	}
	return nil
}

const countColumns = `id, tenant_id, number, warehouse_id, count_date, count_type, status,
COALESCE(notes, ''), created_by, created_at, updated_at,
COALESCE(completed_by, 0), COALESCE(completed_at, 'epoch'::timestamptz),
COALESCE(cancelled_reason, '')`

func scanCount(row pgx.Row) (StockCount, error) {
	var c StockCount
	err := row.Scan(&c.ID, &c.TenantID, &c.Number, &c.WarehouseID, &c.CountDate, &c.CountType,
		&c.Status, &c.Notes, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
		&c.CompletedBy, &c.CompletedAt, &c.CancelledReason)
	return c, err
}

// Get returns a stock count and its items scoped to a tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id int64) (StockCount, []Item, error) {
	c, err := scanCount(r.pool.QueryRow(ctx,
		`SELECT `+countColumns+` FROM stock_counts WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockCount{}, nil, fmt.Errorf("%w: stock count %d", shared.ErrNotFound, id)
		}
		return StockCount{}, nil, fmt.Errorf("counts: get: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id, count_id, product_id, system_quantity, counted_quantity, COALESCE(notes, '')
FROM stock_count_items WHERE count_id=$1 ORDER BY id`, id)
	if err != nil {
		return StockCount{}, nil, fmt.Errorf("counts: get items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.CountID, &it.ProductID, &it.SystemQty, &it.CountedQty, &it.Notes); err != nil {
			return StockCount{}, nil, fmt.Errorf("counts: scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return StockCount{}, nil, err
	}
	return c, items, nil
}

// List returns tenant-scoped count headers, newest first.
func (r *Repository) List(ctx context.Context, tenantID int64, filter ListFilter) ([]StockCount, error) {
	sql := `SELECT ` + countColumns + ` FROM stock_counts WHERE tenant_id=$1`
	args := []any{tenantID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		sql += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if filter.WarehouseID > 0 {
		args = append(args, filter.WarehouseID)
		sql += fmt.Sprintf(" AND warehouse_id=$%d", len(args))
	}
	if !filter.FromDate.IsZero() {
		args = append(args, filter.FromDate)
		sql += fmt.Sprintf(" AND count_date >= $%d", len(args))
	}
	if !filter.ToDate.IsZero() {
		args = append(args, filter.ToDate)
		sql += fmt.Sprintf(" AND count_date <= $%d", len(args))
	}
	sql += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("counts: list: %w", err)
	}
	defer rows.Close()

	var out []StockCount
	for rows.Next() {
		c, err := scanCount(rows)
		if err != nil {
			return nil, fmt.Errorf("counts: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *txRepo) Insert(ctx context.Context, c StockCount) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_counts
(tenant_id, number, warehouse_id, count_date, count_type, status, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`,
		c.TenantID, c.Number, c.WarehouseID, c.CountDate, string(c.CountType), string(c.Status),
		c.Notes, c.CreatedBy, c.CreatedAt, c.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("counts: insert: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertItems(ctx context.Context, countID int64, items []Item) error {
	for _, it := range items {
		if _, err := t.tx.Exec(ctx, `INSERT INTO stock_count_items
(count_id, product_id, system_quantity, notes) VALUES ($1, $2, $3, $4)`,
			countID, it.ProductID, it.SystemQty, it.Notes); err != nil {
			return fmt.Errorf("counts: insert item: %w", err)
		}
	}
	return nil
}

// Transition performs a compare-and-swap on the status column.
func (t *txRepo) Transition(ctx context.Context, c StockCount, from Status) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_counts SET
status=$1, updated_at=$2,
completed_by=NULLIF($3, 0), completed_at=NULLIF($4, 'epoch'::timestamptz),
cancelled_reason=NULLIF($5, '')
WHERE tenant_id=$6 AND id=$7 AND status=$8`,
		string(c.Status), c.UpdatedAt,
		c.CompletedBy, c.CompletedAt, c.CancelledReason,
		c.TenantID, c.ID, string(from))
	if err != nil {
		return false, fmt.Errorf("counts: transition: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) SetItemCounted(ctx context.Context, countID int64, item Item) error {
	if _, err := t.tx.Exec(ctx, `UPDATE stock_count_items
SET counted_quantity=$1, notes=COALESCE(NULLIF($2, ''), notes)
WHERE count_id=$3 AND product_id=$4`,
		item.CountedQty, item.Notes, countID, item.ProductID); err != nil {
		return fmt.Errorf("counts: set counted: %w", err)
	}
	return nil
}

func (t *txRepo) Delete(ctx context.Context, tenantID, id int64) (bool, error) {
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM stock_count_items WHERE count_id=$1`, id); err != nil {
		return false, fmt.Errorf("counts: delete items: %w", err)
	}
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM stock_counts WHERE tenant_id=$1 AND id=$2 AND status=$3`,
		tenantID, id, string(StatusDraft))
	if err != nil {
		return false, fmt.Errorf("counts: delete: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) ApplyLedger(ctx context.Context, tenantID int64, instructions []ledger.Instruction) error {
	return ledger.ApplyTx(ctx, t.tx, tenantID, instructions)
}

var _ RepositoryPort = (*Repository)(nil)
