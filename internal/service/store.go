package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/herald/internal/models"
)

// DefaultListLimit caps list queries that do not ask for a size.
const DefaultListLimit = 20

// PipelineRepository is the content store the review and publish flows write through.
type PipelineRepository interface {
	Create(ctx context.Context, p *models.Pipeline, actor string) error
	Get(ctx context.Context, id string) (*models.Pipeline, error)
	List(ctx context.Context, opts ListOptions) ([]models.Pipeline, error)
	// Save writes p if its stored version still equals p.Version, then
	// increments p.Version. A stale version yields ErrConcurrentUpdate.
	Save(ctx context.Context, p *models.Pipeline, change Change) error
	History(ctx context.Context, id string) (*PipelineHistory, error)
}

type ListOptions struct {
	Status models.PipelineStatus
	Limit  int
}

// Change is the audit data written in the same transaction as a pipeline update.
type Change struct {
	Event    *models.PipelineEvent
	Attempts []models.PublishAttempt
}

type PipelineHistory struct {
	Events   []models.PipelineEvent  `json:"events"`
	Attempts []models.PublishAttempt `json:"attempts"`
}

// PipelineStore is the postgres-backed PipelineRepository.
type PipelineStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewPipelineStore(db *gorm.DB, logger *zap.Logger) *PipelineStore {
	return &PipelineStore{
		db:     db,
		logger: logger,
	}
}

var pipelineColumns = []string{
	"status", "content", "platform_results", "approved_by", "approved_at", "updated_at", "version",
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrPersistence, err)
}

func (s *PipelineStore) Create(ctx context.Context, p *models.Pipeline, actor string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return persistenceError("failed to create pipeline", err)
		}
		event := &models.PipelineEvent{
			PipelineID: p.ID,
			ToStatus:   p.Status,
			Actor:      actor,
			CreatedAt:  p.CreatedAt,
		}
		if err := tx.Create(event).Error; err != nil {
			return persistenceError("failed to record pipeline event", err)
		}
		return nil
	})
}

func (s *PipelineStore) Get(ctx context.Context, id string) (*models.Pipeline, error) {
	var p models.Pipeline
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
		}
		return nil, persistenceError("failed to load pipeline", err)
	}
	return &p, nil
}

func (s *PipelineStore) List(ctx context.Context, opts ListOptions) ([]models.Pipeline, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := s.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}

	var pipelines []models.Pipeline
	if err := query.Find(&pipelines).Error; err != nil {
		return nil, persistenceError("failed to list pipelines", err)
	}
	return pipelines, nil
}

func (s *PipelineStore) Save(ctx context.Context, p *models.Pipeline, change Change) error {
	expected := p.Version
	next := *p
	next.Version = expected + 1

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&next).
			Where("version = ?", expected).
			Select(pipelineColumns).
			Updates(&next)
		if result.Error != nil {
			return persistenceError("failed to update pipeline", result.Error)
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Pipeline{}).Where("id = ?", p.ID).Count(&count).Error; err != nil {
				return persistenceError("failed to check pipeline", err)
			}
			if count == 0 {
				return fmt.Errorf("%w: %s", models.ErrNotFound, p.ID)
			}
			return fmt.Errorf("%w: %s at version %d", models.ErrConcurrentUpdate, p.ID, expected)
		}

		if change.Event != nil {
			change.Event.PipelineID = p.ID
			if err := tx.Create(change.Event).Error; err != nil {
				return persistenceError("failed to record pipeline event", err)
			}
		}
		if len(change.Attempts) > 0 {
			if err := tx.Create(&change.Attempts).Error; err != nil {
				return persistenceError("failed to record publish attempts", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	*p = next
	s.logger.Debug("Saved pipeline",
		zap.String("pipeline_id", p.ID),
		zap.String("status", string(p.Status)),
		zap.Int64("version", p.Version))
	return nil
}

func (s *PipelineStore) History(ctx context.Context, id string) (*PipelineHistory, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	history := &PipelineHistory{}
	db := s.db.WithContext(ctx)
	if err := db.Where("pipeline_id = ?", id).Order("created_at asc, id asc").Find(&history.Events).Error; err != nil {
		return nil, persistenceError("failed to load pipeline events", err)
	}
	if err := db.Where("pipeline_id = ?", id).Order("attempted_at asc, id asc").Find(&history.Attempts).Error; err != nil {
		return nil, persistenceError("failed to load publish attempts", err)
	}
	return history, nil
}
