package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-deals/internal/jobs"
)

// TaskIdempotencyCleanup purges expired payment idempotency keys.
const TaskIdempotencyCleanup = "deals:idempotency_cleanup"

// KeyCleaner removes idempotency keys older than a retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// IdempotencyCleanupHandler returns the task handler for TaskIdempotencyCleanup.
func IdempotencyCleanupHandler(cleaner KeyCleaner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) TaskHandler {
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	return TaskHandler{
		Type: TaskIdempotencyCleanup,
		Handler: func(ctx context.Context, _ *asynq.Task) error {
			tracker := metrics.Track(TaskIdempotencyCleanup)
			err := cleaner.Cleanup(ctx, retention)
			if err == nil && logger != nil {
				logger.Info("idempotency keys purged", slog.Duration("retention", retention))
			}
			return tracker.End(err)
		},
	}
}
