package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yang123apple/EHS-system-sub002/internal/application/service"
)

// NewNotificationWorker polls the notification outbox and delivers pending records
func NewNotificationWorker(svc service.NotificationService, interval time.Duration, logger *zap.Logger) *PollWorker {
	return NewPollWorker("NotificationWorker", interval, 0, func(ctx context.Context) error {
		_, err := svc.DeliverPending(ctx)
		return err
	}, logger)
}

// NewStaleRepairWorker resyncs items whose visibility rows failed to update
func NewStaleRepairWorker(svc service.VisibilityService, interval time.Duration, batchSize int, logger *zap.Logger) *PollWorker {
	return NewPollWorker("StaleVisibilityWorker", interval, 0, func(ctx context.Context) error {
		stats, err := svc.RebuildAll(ctx, service.RebuildFilter{StaleOnly: true}, batchSize)
		if err != nil {
			return err
		}
		if stats.Scanned > 0 {
			logger.Info("Stale visibility repaired",
				zap.Int("scanned", stats.Scanned),
				zap.Int("synced", stats.Synced),
				zap.Int("failed", stats.Failed))
		}
		return nil
	}, logger)
}

// NewRebuildWorker rebuilds the whole visibility index on a cron schedule
func NewRebuildWorker(svc service.VisibilityService, schedule string, batchSize int, logger *zap.Logger) *CronWorker {
	return NewCronWorker("VisibilityRebuildWorker", schedule, func(ctx context.Context) error {
		stats, err := svc.RebuildAll(ctx, service.RebuildFilter{}, batchSize)
		if err != nil {
			return err
		}
		logger.Info("Visibility index rebuilt",
			zap.Int("scanned", stats.Scanned),
			zap.Int("synced", stats.Synced),
			zap.Int("failed", stats.Failed),
			zap.Duration("duration", stats.Duration))
		return nil
	}, logger)
}
