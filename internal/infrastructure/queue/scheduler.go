package queue

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// NewExpiryScheduler registers the periodic payments:expire task.
func NewExpiryScheduler(redis asynq.RedisConnOpt, interval time.Duration, logger *slog.Logger) (*asynq.Scheduler, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{
		Location: time.UTC,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logger.Warn("failed to enqueue scheduled task", slog.String("error", err.Error()))
			}
		},
	})

	every := fmt.Sprintf("@every %s", interval)
	if _, err := scheduler.Register(every, asynq.NewTask(TypePaymentsExpire, nil),
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(0),
		asynq.Unique(interval),
	); err != nil {
		return nil, fmt.Errorf("failed to register expiry schedule: %w", err)
	}
	return scheduler, nil
}
