package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/herald/internal/config"
)

const (
	scheduledBatchSize  = 50
	monitoringRetention = 30
)

// Cleaner prunes old monitoring rows.
type Cleaner interface {
	CleanupOldData(days int) error
}

// Scheduler periodically publishes approved pipelines to the default platforms.
type Scheduler struct {
	config    *config.SchedulerConfig
	logger    *zap.Logger
	publisher *PublisherService
	cleaner   Cleaner
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewScheduler(cfg *config.SchedulerConfig, publisher *PublisherService, cleaner Cleaner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		config:    cfg,
		logger:    logger,
		publisher: publisher,
		cleaner:   cleaner,
		stopCh:    make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	interval := config.Duration(s.config.Interval)
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	s.logger.Info("Starting scheduler", zap.Duration("interval", interval))

	s.ticker = time.NewTicker(interval)

	go func() {
		s.logger.Info("Running initial publish pass")
		s.run(ctx)

		for {
			select {
			case <-s.ticker.C:
				s.logger.Info("Running scheduled publish pass")
				s.run(ctx)
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.logger.Info("Scheduler shutdown completed")
	})
}

func (s *Scheduler) run(ctx context.Context) {
	start := time.Now()
	err := s.publisher.ProcessApproved(ctx, scheduledBatchSize)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("Publish pass failed",
			zap.Error(err),
			zap.Duration("duration", duration))
	} else {
		s.logger.Info("Publish pass completed",
			zap.Duration("duration", duration))
	}

	if s.cleaner != nil {
		if err := s.cleaner.CleanupOldData(monitoringRetention); err != nil {
			s.logger.Warn("Failed to clean up monitoring data", zap.Error(err))
		}
	}
}
