package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/herald/internal/config"
	"github.com/ifuryst/herald/internal/models"
	"github.com/ifuryst/herald/internal/service/publisher"
)

// maxSaveAttempts bounds how often a publish result is re-merged after a
// concurrent writer bumped the pipeline version.
const maxSaveAttempts = 3

// PublisherService drives approved pipelines through their publishers and
// records the outcomes.
type PublisherService struct {
	logger           *zap.Logger
	store            PipelineRepository
	manager          *publisher.Manager
	recorder         Recorder
	defaultPlatforms []string
	storeTimeout     time.Duration
	now              func() time.Time
}

func NewPublisherService(cfg *config.PublishingConfig, store PipelineRepository, manager *publisher.Manager, recorder Recorder, logger *zap.Logger) *PublisherService {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	storeTimeout := config.Duration(cfg.StoreTimeout)
	if storeTimeout <= 0 {
		storeTimeout = 30 * time.Second
	}
	return &PublisherService{
		logger:           logger,
		store:            store,
		manager:          manager,
		recorder:         recorder,
		defaultPlatforms: cfg.DefaultPlatforms,
		storeTimeout:     storeTimeout,
		now:              time.Now,
	}
}

// GetAvailablePlatforms returns the registered platform names
func (s *PublisherService) GetAvailablePlatforms() []string {
	return s.manager.Platforms()
}

// PublishPipeline publishes an approved (or already published) pipeline to
// the requested platforms and moves it to published, whatever the individual
// platforms reported. An empty platform list means the configured defaults.
//
// Validation, lookup and state errors are returned before any platform is
// contacted. Once platforms have been attempted, a failure to save is
// returned as *models.PublishPersistenceError carrying every outcome.
func (s *PublisherService) PublishPipeline(ctx context.Context, pipelineID string, platforms []string, actor string) (map[string]models.PublishOutcome, error) {
	resolved, err := s.manager.ResolvePlatforms(platforms, s.defaultPlatforms)
	if err != nil {
		return nil, err
	}

	loadCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	p, err := s.store.Get(loadCtx, pipelineID)
	cancel()
	if err != nil {
		return nil, err
	}

	if err := p.CheckPublishable(); err != nil {
		return nil, err
	}

	s.logger.Info("Publishing pipeline",
		zap.String("pipeline_id", pipelineID),
		zap.String("status", string(p.Status)),
		zap.Strings("platforms", resolved))

	outcomes := s.manager.PublishToPlatforms(ctx, p.Content, resolved)
	s.recordOutcomes(pipelineID, outcomes)

	if err := s.persistOutcomes(ctx, p, outcomes, actor); err != nil {
		s.logger.Error("Failed to persist publish results",
			zap.String("pipeline_id", pipelineID),
			zap.Error(err))
		_ = s.recorder.RecordError(LevelError, "publisher", "Failed to persist publish results", err.Error(),
			WithPipeline(pipelineID),
			WithContext(map[string]interface{}{"outcomes": outcomes}))
		return nil, &models.PublishPersistenceError{
			PipelineID: pipelineID,
			Outcomes:   outcomes,
			Err:        err,
		}
	}

	results := make(map[string]models.PublishOutcome, len(outcomes))
	for _, outcome := range outcomes {
		results[outcome.Platform] = outcome
	}
	return results, nil
}

// persistOutcomes saves on a context detached from the caller: the remote
// posts already exist, so a cancelled request must still record them.
func (s *PublisherService) persistOutcomes(ctx context.Context, p *models.Pipeline, outcomes []models.PublishOutcome, actor string) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	attempts := make([]models.PublishAttempt, len(outcomes))
	for i, outcome := range outcomes {
		attempts[i] = models.NewPublishAttempt(p.ID, outcome)
	}

	current := p
	for attempt := 1; ; attempt++ {
		from := current.Status
		if err := current.RecordPublication(outcomes, s.now()); err != nil {
			return err
		}

		err := s.store.Save(saveCtx, current, Change{
			Event: &models.PipelineEvent{
				FromStatus: from,
				ToStatus:   models.StatusPublished,
				Actor:      actor,
			},
			Attempts: attempts,
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrConcurrentUpdate) || attempt >= maxSaveAttempts {
			return err
		}

		s.logger.Warn("Pipeline changed while publishing, merging again",
			zap.String("pipeline_id", p.ID),
			zap.Int("attempt", attempt))

		current, err = s.store.Get(saveCtx, p.ID)
		if err != nil {
			return fmt.Errorf("failed to reload pipeline: %w", err)
		}
	}
}

func (s *PublisherService) recordOutcomes(pipelineID string, outcomes []models.PublishOutcome) {
	for _, outcome := range outcomes {
		tags := map[string]interface{}{
			"platform":    outcome.Platform,
			"pipeline_id": pipelineID,
		}

		metric := "publish_success"
		if !outcome.Success {
			metric = "publish_failure"
			if err := s.recorder.RecordError(LevelError, "publisher",
				fmt.Sprintf("Failed to publish to %s", outcome.Platform), outcome.Error,
				WithPlatform(outcome.Platform),
				WithPipeline(pipelineID)); err != nil {
				s.logger.Warn("Failed to record publish error", zap.Error(err))
			}
		}

		if err := s.recorder.RecordMetric(metric, MetricCounter, 1, tags); err != nil {
			s.logger.Warn("Failed to record publish metric", zap.Error(err))
		}
	}
}

// ProcessApproved publishes every approved pipeline to the default platforms.
func (s *PublisherService) ProcessApproved(ctx context.Context, limit int) error {
	pipelines, err := s.store.List(ctx, ListOptions{Status: models.StatusApproved, Limit: limit})
	if err != nil {
		return fmt.Errorf("failed to list approved pipelines: %w", err)
	}

	s.logger.Info("Processing approved pipelines", zap.Int("count", len(pipelines)))

	var failed int
	for _, p := range pipelines {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		results, err := s.PublishPipeline(ctx, p.ID, nil, "scheduler")
		if err != nil {
			failed++
			s.logger.Error("Failed to publish pipeline",
				zap.String("pipeline_id", p.ID),
				zap.Error(err))
			continue
		}
		for platform, outcome := range results {
			s.logger.Info("Publish result",
				zap.String("pipeline_id", p.ID),
				zap.String("platform", platform),
				zap.Bool("success", outcome.Success))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d pipelines could not be published", failed, len(pipelines))
	}
	return nil
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordError(level, source, title, message string, options ...ErrorLogOption) error {
	return nil
}

func (NopRecorder) RecordMetric(name, metricType string, value float64, tags map[string]interface{}) error {
	return nil
}
