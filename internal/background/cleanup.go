package background

import (
	"context"
	"log/slog"
	"time"
)

// ExpiryPurger deletes rows that expired before now
type ExpiryPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PurgeFunc adapts a function to ExpiryPurger
type PurgeFunc func(ctx context.Context, now time.Time) (int64, error)

// DeleteExpired calls f
func (f PurgeFunc) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return f(ctx, now)
}

// CleanupManager periodically removes expired sessions, verification codes
// and revoked tokens
type CleanupManager struct {
	purgers  map[string]ExpiryPurger
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager. Each purger is named for logging.
func NewCleanupManager(purgers map[string]ExpiryPurger, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		purgers:  purgers,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce runs every purger. A failing purger does not stop the others.
func (cm *CleanupManager) RunOnce(ctx context.Context) map[string]int64 {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.now()
	deleted := make(map[string]int64, len(cm.purgers))
	for name, p := range cm.purgers {
		rows, err := p.DeleteExpired(cleanupCtx, now)
		if err != nil {
			cm.logger.Error("cleanup failed", slog.String("table", name), slog.Any("error", err))
			continue
		}
		deleted[name] = rows
		if rows > 0 {
			cm.logger.Info("expired rows removed", slog.String("table", name), slog.Int64("rows_deleted", rows))
		}
	}
	return deleted
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
