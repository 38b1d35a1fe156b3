package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/fieldline-dms/fieldline/internal/jobs"
	"github.com/fieldline-dms/fieldline/internal/purchasing"
)

// StatsSource loads the stats projection for one tenant.
type StatsSource interface {
	Stats(ctx context.Context, tenantID int64) (purchasing.Stats, error)
}

// StatsCache stores the warmed projection under the service's cache key.
type StatsCache interface {
	SetJSON(ctx context.Context, key string, value any) error
}

// StatsWarmupJob pre-populates the per-tenant purchase order stats cache so
// the first dashboard read of the day does not hit Postgres.
type StatsWarmupJob struct {
	Source  StatsSource
	Cache   StatsCache
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStatsWarmupJob wires dependencies for the warmup handler.
func NewStatsWarmupJob(source StatsSource, cache StatsCache, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatsWarmupJob {
	return &StatsWarmupJob{Source: source, Cache: cache, Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle processes TaskStatsWarmup tasks.
func (j *StatsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil || j.Cache == nil {
		return errors.New("stats warmup: handler not configured")
	}
	var payload StatsWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskStatsWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("job_id", payload.JobID))
	tenants, err := j.fetchTenants(ctx)
	if err != nil {
		resultErr = err
		logger.Error("load warmup tenants", slog.Any("error", err))
		return resultErr
	}
	if len(tenants) == 0 {
		logger.Info("no tenants discovered for warmup")
		return resultErr
	}

	warmed := 0
	for _, tenantID := range tenants {
		if err := j.warmTenant(ctx, tenantID); err != nil {
			resultErr = err
			logger.Error("warm tenant", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}
	logger.Info("completed stats warmup", slog.Int("tenants", warmed))
	return resultErr
}

func (j *StatsWarmupJob) warmTenant(ctx context.Context, tenantID int64) error {
	tenantCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stats, err := j.Source.Stats(tenantCtx, tenantID)
	if err != nil {
		return err
	}
	return j.Cache.SetJSON(tenantCtx, purchasing.StatsKey(tenantID), stats)
}

func (j *StatsWarmupJob) fetchTenants(ctx context.Context) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("stats warmup: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT DISTINCT tenant_id FROM purchase_orders ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := make([]int64, 0)
	for rows.Next() {
		var tenantID int64
		if err := rows.Scan(&tenantID); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenantID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tenants, nil
}

func (j *StatsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStatsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskStatsWarmup))
}

func (j *StatsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
