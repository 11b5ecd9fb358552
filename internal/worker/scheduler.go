package worker

import (
	"fmt"
	"time"

	"github.com/coldbrewhq/coldbrew/internal/config"
	"github.com/hibiken/asynq"
)

// StartScheduler registers the periodic maintenance tasks and starts an
// asynq Scheduler. Returns a stop function for graceful shutdown.
func StartScheduler(cfg *config.Config) (stop func(), err error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := NewLogger(cfg.LogLevel, cfg.LogFormat)

	scheduler := asynq.NewScheduler(
		redisOpt,
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.InfoLevel,
			Logger:   &asynqLoggerAdapter{logger: logger},
		},
	)

	pruneTask := asynq.NewTask(
		TaskPruneEmails,
		nil,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Retention(24*time.Hour),
		asynq.Unique(24*time.Hour), // prevent duplicate if scheduler runs twice
	)
	if _, err := scheduler.Register(cfg.MaintenanceSchedule, pruneTask); err != nil {
		return nil, fmt.Errorf("failed to register prune schedule: %w", err)
	}

	resetTask := asynq.NewTask(
		TaskResetUsage,
		nil,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Retention(24*time.Hour),
		asynq.Unique(24*time.Hour),
	)
	// Usage periods are monthly; run shortly after each UTC month starts
	if _, err := scheduler.Register("15 0 1 * *", resetTask); err != nil {
		return nil, fmt.Errorf("failed to register usage reset schedule: %w", err)
	}

	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info("Maintenance scheduler started", "prune_schedule", cfg.MaintenanceSchedule)
	return func() { scheduler.Shutdown() }, nil
}
