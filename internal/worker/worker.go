// Package worker runs periodic maintenance over asynq: hard-pruning
// soft-deleted emails past the retention window and rolling over free-tier
// usage periods.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldbrewhq/coldbrew/internal/config"
	"github.com/coldbrewhq/coldbrew/internal/models"
	"github.com/coldbrewhq/coldbrew/internal/subscription"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

// Task type constants
const (
	TaskPruneEmails = "maintenance:prune_emails"
	TaskResetUsage  = "maintenance:reset_usage"
)

// asynqLoggerAdapter wraps slog.Logger to implement asynq.Logger
type asynqLoggerAdapter struct {
	logger *slog.Logger
}

func (a *asynqLoggerAdapter) Debug(args ...interface{}) {
	a.logger.Debug(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Info(args ...interface{}) {
	a.logger.Info(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Warn(args ...interface{}) {
	a.logger.Warn(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Error(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
	panic(fmt.Sprint(args...))
}

// Start starts the asynq worker in non-blocking mode and returns a stop
// function so the caller can coordinate shutdown.
func Start(cfg *config.Config, db *gorm.DB, gate *subscription.Gate) (stop func(), err error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := NewLogger(cfg.LogLevel, cfg.LogFormat)

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     2,
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler:    asynq.ErrorHandlerFunc(makeErrorHandler(logger)),
			Logger:          &asynqLoggerAdapter{logger: logger},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskPruneEmails, handlePruneEmails(logger, db, cfg.EmailRetentionDays))
	mux.HandleFunc(TaskResetUsage, handleResetUsage(logger, gate))

	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	logger.Info("Maintenance worker started", "redis", cfg.RedisURL)
	return func() { srv.Shutdown() }, nil
}

// handlePruneEmails hard-deletes email rows that were soft-deleted longer
// than the retention window ago.
func handlePruneEmails(logger *slog.Logger, db *gorm.DB, retentionDays int) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

		result := db.WithContext(ctx).Unscoped().
			Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
			Delete(&models.GeneratedEmail{})
		if result.Error != nil {
			return fmt.Errorf("failed to prune emails: %w", result.Error)
		}

		logger.Info(
			"Pruned soft-deleted emails",
			"removed", result.RowsAffected,
			"cutoff", cutoff,
		)
		return nil
	}
}

// handleResetUsage zeroes free-tier usage counters for expired periods.
func handleResetUsage(logger *slog.Logger, gate *subscription.Gate) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		reset, err := gate.ResetExpiredPeriods(ctx)
		if err != nil {
			return fmt.Errorf("failed to reset usage periods: %w", err)
		}

		logger.Info("Reset expired usage periods", "profiles", reset)
		return nil
	}
}

// makeErrorHandler creates an error handler function with logger closure.
func makeErrorHandler(logger *slog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		logger.Error(
			"Task execution failed",
			"task_type", task.Type(),
			"error", err.Error(),
			"retry_count", retried,
			"max_retry", maxRetry,
		)
	}
}
