package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/fieldline-dms/fieldline/internal/shared"
)

func TestIdempotencyCleanupTaskPayload(t *testing.T) {
	task, err := NewIdempotencyCleanupTask(72 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, TaskIdempotencyCleanup, task.Type())

	var payload IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "72h0m0s", payload.Retention)

	_, err = uuid.Parse(payload.JobID)
	require.NoError(t, err)
}

func TestStatsWarmupTaskPayloadHasUniqueJobID(t *testing.T) {
	first, err := NewStatsWarmupTask()
	require.NoError(t, err)
	second, err := NewStatsWarmupTask()
	require.NoError(t, err)

	var a, b StatsWarmupPayload
	require.NoError(t, json.Unmarshal(first.Payload(), &a))
	require.NoError(t, json.Unmarshal(second.Payload(), &b))
	require.NotEmpty(t, a.JobID)
	require.NotEqual(t, a.JobID, b.JobID)
}

func TestCleanupJobSkipsRetryOnBadPayload(t *testing.T) {
	job := NewIdempotencyCleanupJob(shared.NewIdempotencyStore(nil), nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte(`{"retention":"soon"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestCleanupJobRequiresStore(t *testing.T) {
	job := &IdempotencyCleanupJob{}
	err := job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte(`{}`)))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestWarmupJobRequiresDependencies(t *testing.T) {
	job := &StatsWarmupJob{}
	err := job.Handle(context.Background(), asynq.NewTask(TaskStatsWarmup, []byte(`{}`)))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}
