package refnum

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements Generator on top of a per-(tenant, family) counter
// row. The upsert increments and returns in a single statement, which keeps
// concurrent creators from ever observing the same value.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres-backed generator.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Next reserves and returns the next reference number.
func (r *Repository) Next(ctx context.Context, tenantID int64, family Family) (string, error) {
	if tenantID <= 0 {
		return "", fmt.Errorf("refnum: tenant id required")
	}
	if !validFamily(family) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
	var value int64
	err := r.pool.QueryRow(ctx, `INSERT INTO reference_counters (tenant_id, family, value)
VALUES ($1, $2, 1)
ON CONFLICT (tenant_id, family) DO UPDATE SET value = reference_counters.value + 1
RETURNING value`, tenantID, string(family)).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("refnum: next %s: %w", family, err)
	}
	return Format(family, value), nil
}
