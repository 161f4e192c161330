package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hornero-erp/hornero-erp/internal/alerts"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAlertsRefresh recomputes expiry, low-stock and invoice-due alerts.
	TaskAlertsRefresh = "alerts:refresh"
	// TaskIdempotencyCleanup prunes aged idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// AlertsRefreshPayload pins the evaluation date of a refresh run. A zero AsOf
// means "today at processing time".
type AlertsRefreshPayload struct {
	AsOf time.Time `json:"as_of"`
}

// NewAlertsRefreshTask constructs an alerts refresh task.
func NewAlertsRefreshTask(asOf time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(AlertsRefreshPayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAlertsRefresh, body, asynq.Queue(QueueDefault)), nil
}

// AlertRefresher is the slice of the alert engine the worker needs.
type AlertRefresher interface {
	Refresh(ctx context.Context, today time.Time) (alerts.RefreshStats, error)
}

// NewAlertsRefreshHandler builds the handler that runs the alert engine.
func NewAlertsRefreshHandler(refresher AlertRefresher, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AlertsRefreshPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		asOf := payload.AsOf
		if asOf.IsZero() {
			asOf = time.Now().UTC()
		}
		stats, err := refresher.Refresh(ctx, asOf)
		if err != nil {
			logger.Error("alerts refresh failed", slog.Any("error", err))
			return err
		}
		logger.Info("alerts refreshed",
			slog.Time("as_of", asOf),
			slog.Int("created", stats.Created),
			slog.Int("updated", stats.Updated),
			slog.Int("resolved", stats.Resolved))
		return nil
	}
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// KeyCleaner prunes stale idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewIdempotencyCleanupHandler builds the cleanup handler.
func NewIdempotencyCleanupHandler(cleaner KeyCleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		retention := payload.Retention
		if retention <= 0 {
			retention = 72 * time.Hour
		}
		if err := cleaner.Cleanup(ctx, retention); err != nil {
			logger.Error("idempotency cleanup failed", slog.Any("error", err))
			return err
		}
		logger.Info("idempotency keys pruned", slog.Duration("retention", retention))
		return nil
	}
}
