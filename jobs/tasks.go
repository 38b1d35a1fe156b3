package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
	// TaskStatsWarmup pre-populates per-tenant stats caches.
	TaskStatsWarmup = "stats:warmup"
)

// IdempotencyCleanupPayload describes one cleanup run. The job id correlates
// scheduler, worker and audit log lines for a single run.
type IdempotencyCleanupPayload struct {
	JobID     string `json:"job_id"`
	Retention string `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task for the given
// retention window.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{
		JobID:     uuid.NewString(),
		Retention: retention.String(),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// StatsWarmupPayload describes one stats warmup run.
type StatsWarmupPayload struct {
	JobID string `json:"job_id"`
}

// NewStatsWarmupTask constructs a stats warmup task.
func NewStatsWarmupTask() (*asynq.Task, error) {
	data, err := json.Marshal(StatsWarmupPayload{JobID: uuid.NewString()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatsWarmup, data), nil
}
