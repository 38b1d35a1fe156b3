package cash

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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
		return fmt.Errorf("cash: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cash: commit tx: %w", err)
	}
	return nil
}

const collectionColumns = `id, tenant_id, number, agent_id, customer_id, amount, collected_at,
status, COALESCE(deposit_id, 0), COALESCE(notes, ''), created_by, created_at, updated_at`

func scanCollection(row pgx.Row) (Collection, error) {
	var c Collection
	err := row.Scan(&c.ID, &c.TenantID, &c.Number, &c.AgentID, &c.CustomerID, &c.Amount,
		&c.CollectedAt, &c.Status, &c.DepositID, &c.Notes, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetCollection returns a collection scoped to a tenant.
func (r *Repository) GetCollection(ctx context.Context, tenantID, id int64) (Collection, error) {
	c, err := scanCollection(r.pool.QueryRow(ctx,
		`SELECT `+collectionColumns+` FROM cash_collections WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Collection{}, fmt.Errorf("%w: cash collection %d", shared.ErrNotFound, id)
		}
		return Collection{}, fmt.Errorf("cash: get collection: %w", err)
	}
	return c, nil
}

// ListCollections returns tenant-scoped collections, newest first.
func (r *Repository) ListCollections(ctx context.Context, tenantID int64, filter CollectionFilter) ([]Collection, error) {
	sql := `SELECT ` + collectionColumns + ` FROM cash_collections WHERE tenant_id=$1`
	args := []any{tenantID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		sql += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if filter.AgentID > 0 {
		args = append(args, filter.AgentID)
		sql += fmt.Sprintf(" AND agent_id=$%d", len(args))
	}
	sql += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("cash: list collections: %w", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("cash: scan collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SumPendingCollections totals an agent's undeposited cash.
func (r *Repository) SumPendingCollections(ctx context.Context, tenantID, agentID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM cash_collections
WHERE tenant_id=$1 AND agent_id=$2 AND status=$3`,
		tenantID, agentID, string(CollectionPending)).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cash: sum pending: %w", err)
	}
	return sum, nil
}

const depositColumns = `id, tenant_id, number, agent_id, amount, COALESCE(bank_ref, ''), deposited_at,
status, COALESCE(confirmed_by, 0), COALESCE(confirmed_at, 'epoch'::timestamptz),
created_by, created_at, updated_at`

func scanDeposit(row pgx.Row) (Deposit, error) {
	var d Deposit
	err := row.Scan(&d.ID, &d.TenantID, &d.Number, &d.AgentID, &d.Amount, &d.BankRef, &d.DepositedAt,
		&d.Status, &d.ConfirmedBy, &d.ConfirmedAt, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// GetDeposit returns a deposit scoped to a tenant.
func (r *Repository) GetDeposit(ctx context.Context, tenantID, id int64) (Deposit, error) {
	d, err := scanDeposit(r.pool.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM cash_deposits WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deposit{}, fmt.Errorf("%w: cash deposit %d", shared.ErrNotFound, id)
		}
		return Deposit{}, fmt.Errorf("cash: get deposit: %w", err)
	}
	return d, nil
}

// ListDeposits returns tenant-scoped deposits, newest first.
func (r *Repository) ListDeposits(ctx context.Context, tenantID int64) ([]Deposit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+depositColumns+` FROM cash_deposits WHERE tenant_id=$1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("cash: list deposits: %w", err)
	}
	defer rows.Close()

	var out []Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("cash: scan deposit: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const reconciliationColumns = `id, tenant_id, number, agent_id, reconciliation_date,
expected_cash, actual_cash, variance, COALESCE(notes, ''), status,
COALESCE(approved_by, 0), COALESCE(approved_at, 'epoch'::timestamptz),
created_by, created_at, updated_at`

func scanReconciliation(row pgx.Row) (Reconciliation, error) {
	var rec Reconciliation
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Number, &rec.AgentID, &rec.Date,
		&rec.ExpectedCash, &rec.ActualCash, &rec.Variance, &rec.Notes, &rec.Status,
		&rec.ApprovedBy, &rec.ApprovedAt, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// GetReconciliation returns a reconciliation scoped to a tenant.
func (r *Repository) GetReconciliation(ctx context.Context, tenantID, id int64) (Reconciliation, error) {
	rec, err := scanReconciliation(r.pool.QueryRow(ctx,
		`SELECT `+reconciliationColumns+` FROM cash_reconciliations WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reconciliation{}, fmt.Errorf("%w: cash reconciliation %d", shared.ErrNotFound, id)
		}
		return Reconciliation{}, fmt.Errorf("cash: get reconciliation: %w", err)
	}
	return rec, nil
}

// ListReconciliations returns tenant-scoped reconciliations, newest first.
func (r *Repository) ListReconciliations(ctx context.Context, tenantID int64) ([]Reconciliation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+reconciliationColumns+` FROM cash_reconciliations WHERE tenant_id=$1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("cash: list reconciliations: %w", err)
	}
	defer rows.Close()

	var out []Reconciliation
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, fmt.Errorf("cash: scan reconciliation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertCollection(ctx context.Context, c Collection) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO cash_collections
(tenant_id, number, agent_id, customer_id, amount, collected_at, status, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`,
		c.TenantID, c.Number, c.AgentID, c.CustomerID, c.Amount, c.CollectedAt,
		string(c.Status), c.Notes, c.CreatedBy, c.CreatedAt, c.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("cash: insert collection: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertDeposit(ctx context.Context, d Deposit) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO cash_deposits
(tenant_id, number, agent_id, amount, bank_ref, deposited_at, status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`,
		d.TenantID, d.Number, d.AgentID, d.Amount, d.BankRef, d.DepositedAt,
		string(d.Status), d.CreatedBy, d.CreatedAt, d.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("cash: insert deposit: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertReconciliation(ctx context.Context, rec Reconciliation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO cash_reconciliations
(tenant_id, number, agent_id, reconciliation_date, expected_cash, actual_cash, variance, notes, status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`,
		rec.TenantID, rec.Number, rec.AgentID, rec.Date, rec.ExpectedCash, rec.ActualCash,
		rec.Variance, rec.Notes, string(rec.Status), rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("cash: insert reconciliation: %w", err)
	}
	return id, nil
}

// LinkCollection moves a pending collection into a deposit; the status
// predicate makes concurrent double-deposits lose the race.
func (t *txRepo) LinkCollection(ctx context.Context, tenantID, collectionID, depositID int64, now time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE cash_collections
SET status=$1, deposit_id=$2, updated_at=$3
WHERE tenant_id=$4 AND id=$5 AND status=$6`,
		string(CollectionDeposited), depositID, now,
		tenantID, collectionID, string(CollectionPending))
	if err != nil {
		return false, fmt.Errorf("cash: link collection: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) TransitionDeposit(ctx context.Context, d Deposit, from DepositStatus) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE cash_deposits SET
status=$1, updated_at=$2,
confirmed_by=NULLIF($3, 0), confirmed_at=NULLIF($4, 'epoch'::timestamptz)
WHERE tenant_id=$5 AND id=$6 AND status=$7`,
		string(d.Status), d.UpdatedAt, d.ConfirmedBy, d.ConfirmedAt,
		d.TenantID, d.ID, string(from))
	if err != nil {
		return false, fmt.Errorf("cash: transition deposit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) TransitionReconciliation(ctx context.Context, rec Reconciliation, from ReconciliationStatus) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE cash_reconciliations SET
status=$1, updated_at=$2,
approved_by=NULLIF($3, 0), approved_at=NULLIF($4, 'epoch'::timestamptz)
WHERE tenant_id=$5 AND id=$6 AND status=$7`,
		string(rec.Status), rec.UpdatedAt, rec.ApprovedBy, rec.ApprovedAt,
		rec.TenantID, rec.ID, string(from))
	if err != nil {
		return false, fmt.Errorf("cash: transition reconciliation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) ApplyLedger(ctx context.Context, tenantID int64, instructions []ledger.Instruction) error {
	return ledger.ApplyTx(ctx, t.tx, tenantID, instructions)
}

var _ RepositoryPort = (*Repository)(nil)
