package cleanup

import (
	"context"
	"fmt"
	"time"

	"ppe-sentinel/config"

	log "github.com/sirupsen/logrus"
)

// Pruner deletes evidence older than a cutoff
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service deletes evidence records past the retention period
type Service struct {
	store         Pruner
	retentionDays int
	checkInterval time.Duration
	now           func() time.Time
}

// NewService creates the cleanup service. It returns nil when retention is disabled.
func NewService(store Pruner, cfg config.CleanupConfig) *Service {
	if cfg.RetentionDays <= 0 {
		log.Info("Automatic cleanup disabled (retention_days <= 0), evidence is kept forever")
		return nil
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	log.Infof("Initializing cleanup service: RetentionDays=%d, CheckInterval=%s", cfg.RetentionDays, interval)
	return &Service{
		store:         store,
		retentionDays: cfg.RetentionDays,
		checkInterval: interval,
		now:           time.Now,
	}
}

// Start runs a cleanup immediately and then every check interval until ctx is done
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	log.Info("Cleanup service started")

	if _, err := s.RunCleanup(ctx); err != nil {
		log.Errorf("Initial cleanup failed: %v", err)
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Info("Running scheduled cleanup")
			if _, err := s.RunCleanup(ctx); err != nil {
				log.Errorf("Scheduled cleanup failed: %v", err)
			}
		case <-ctx.Done():
			log.Info("Cleanup service stopped")
			return nil
		}
	}
}

// RunCleanup deletes every record older than the retention period
func (s *Service) RunCleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	log.Infof("Cleanup: deleting evidence older than %s", cutoff.Format(time.RFC3339))

	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old evidence: %w", err)
	}

	log.Infof("Cleanup finished, %d record(s) deleted", deleted)
	return deleted, nil
}
