package movements

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
		return fmt.Errorf("movements: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("movements: commit tx: %w", err)
	}
	return nil
}

const movementColumns = `id, tenant_id, number, kind, product_id,
COALESCE(from_warehouse_id, 0), COALESCE(to_warehouse_id, 0),
quantity, received_quantity, variance, movement_date,
COALESCE(reason, ''), COALESCE(notes, ''), status,
created_by, created_at, updated_at,
COALESCE(approved_by, 0), COALESCE(approved_at, 'epoch'::timestamptz),
COALESCE(completed_by, 0), COALESCE(completed_at, 'epoch'::timestamptz),
COALESCE(cancelled_reason, '')`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.TenantID, &m.Number, &m.Kind, &m.ProductID,
		&m.FromWarehouseID, &m.ToWarehouseID,
		&m.Quantity, &m.ReceivedQty, &m.Variance, &m.MovementDate,
		&m.Reason, &m.Notes, &m.Status,
		&m.CreatedBy, &m.CreatedAt, &m.UpdatedAt,
		&m.ApprovedBy, &m.ApprovedAt, &m.CompletedBy, &m.CompletedAt,
		&m.CancelledReason)
	return m, err
}

// Get returns a movement scoped to a tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id int64) (Movement, error) {
	m, err := scanMovement(r.pool.QueryRow(ctx,
		`SELECT `+movementColumns+` FROM stock_movements WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, fmt.Errorf("%w: stock movement %d", shared.ErrNotFound, id)
		}
		return Movement{}, fmt.Errorf("movements: get: %w", err)
	}
	return m, nil
}

// List returns tenant-scoped movements, newest first.
func (r *Repository) List(ctx context.Context, tenantID int64, filter ListFilter) ([]Movement, error) {
	sql := `SELECT ` + movementColumns + ` FROM stock_movements WHERE tenant_id=$1`
	args := []any{tenantID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		sql += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		sql += fmt.Sprintf(" AND kind=$%d", len(args))
	}
	if filter.WarehouseID > 0 {
		args = append(args, filter.WarehouseID)
		sql += fmt.Sprintf(" AND (from_warehouse_id=$%d OR to_warehouse_id=$%d)", len(args), len(args))
	}
	if !filter.FromDate.IsZero() {
		args = append(args, filter.FromDate)
		sql += fmt.Sprintf(" AND movement_date >= $%d", len(args))
	}
	if !filter.ToDate.IsZero() {
		args = append(args, filter.ToDate)
		sql += fmt.Sprintf(" AND movement_date <= $%d", len(args))
	}
	sql += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("movements: list: %w", err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("movements: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Stats counts movements grouped by kind and status for one tenant.
func (r *Repository) Stats(ctx context.Context, tenantID int64) ([]StatsRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT kind, status, COUNT(*)
FROM stock_movements WHERE tenant_id=$1 GROUP BY kind, status ORDER BY kind, status`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("movements: stats: %w", err)
	}
	defer rows.Close()

	var out []StatsRow
	for rows.Next() {
		var row StatsRow
		if err := rows.Scan(&row.Kind, &row.Status, &row.Count); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *txRepo) Insert(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_movements
(tenant_id, number, kind, product_id, from_warehouse_id, to_warehouse_id,
 quantity, movement_date, reason, notes, status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, 0), NULLIF($6, 0), $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id`,
		m.TenantID, m.Number, string(m.Kind), m.ProductID, m.FromWarehouseID, m.ToWarehouseID,
		m.Quantity, m.MovementDate, m.Reason, m.Notes, string(m.Status),
		m.CreatedBy, m.CreatedAt, m.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("movements: insert: %w", err)
	}
	return id, nil
}

func (t *txRepo) UpdatePending(ctx context.Context, m Movement) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_movements SET
quantity=$1, movement_date=$2, reason=$3, notes=$4, updated_at=$5
WHERE tenant_id=$6 AND id=$7 AND status=$8`,
		m.Quantity, m.MovementDate, m.Reason, m.Notes, m.UpdatedAt,
		m.TenantID, m.ID, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("movements: update pending: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Transition performs a compare-and-swap on the status column.
func (t *txRepo) Transition(ctx context.Context, m Movement, from Status) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_movements SET
status=$1, updated_at=$2, received_quantity=$3, variance=$4,
approved_by=NULLIF($5, 0), approved_at=NULLIF($6, 'epoch'::timestamptz),
completed_by=NULLIF($7, 0), completed_at=NULLIF($8, 'epoch'::timestamptz),
cancelled_reason=NULLIF($9, '')
WHERE tenant_id=$10 AND id=$11 AND status=$12`,
		string(m.Status), m.UpdatedAt, m.ReceivedQty, m.Variance,
		m.ApprovedBy, m.ApprovedAt, m.CompletedBy, m.CompletedAt,
		m.CancelledReason,
		m.TenantID, m.ID, string(from))
	if err != nil {
		return false, fmt.Errorf("movements: transition: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) Delete(ctx context.Context, tenantID, id int64) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM stock_movements WHERE tenant_id=$1 AND id=$2 AND status=$3`,
		tenantID, id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("movements: delete: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) ApplyLedger(ctx context.Context, tenantID int64, instructions []ledger.Instruction) error {
	return ledger.ApplyTx(ctx, t.tx, tenantID, instructions)
}

var _ RepositoryPort = (*Repository)(nil)
