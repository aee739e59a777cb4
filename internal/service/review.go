package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/herald/internal/models"
	"github.com/ifuryst/herald/internal/service/extract"
	"github.com/ifuryst/herald/pkg/util"
)

// CreatePipelineInput is the generator payload for a new draft.
type CreatePipelineInput struct {
	ShortForm *models.ShortForm `json:"short_form"`
	LongForm  *models.LongForm  `json:"long_form"`
	Sources   []models.NewsItem `json:"sources"`
	// ScoutResponse is raw model output listing the stories the drafts were built from.
	ScoutResponse string `json:"scout_response"`
}

// ReviewService applies the human review actions to pipelines.
type ReviewService struct {
	logger    *zap.Logger
	store     PipelineRepository
	publisher *PublisherService
	now       func() time.Time
}

func NewReviewService(store PipelineRepository, publisher *PublisherService, logger *zap.Logger) *ReviewService {
	return &ReviewService{
		logger:    logger,
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// CreatePipeline stores generated content as a new draft.
func (s *ReviewService) CreatePipeline(ctx context.Context, input CreatePipelineInput, actor string) (*models.Pipeline, error) {
	content := &models.Content{
		ShortForm: input.ShortForm,
		LongForm:  input.LongForm,
		Sources:   input.Sources,
	}
	normalizeContent(content)
	if content.IsEmpty() {
		return nil, models.ErrMissingContent
	}

	if strings.TrimSpace(input.ScoutResponse) != "" {
		result := extract.Extract(input.ScoutResponse, extract.NewsItemsShape)
		if result.IsFallback() {
			s.logger.Warn("Scout response was not structured, using fallback summary")
		}
		content.Sources = append(content.Sources, result.Value...)
	}

	p := models.NewPipeline(content, s.now().UTC())
	if err := s.store.Create(ctx, p, actor); err != nil {
		return nil, err
	}

	s.logger.Info("Pipeline created",
		zap.String("pipeline_id", p.ID),
		zap.Int("sources", len(content.Sources)))
	return p, nil
}

func (s *ReviewService) Get(ctx context.Context, id string) (*models.Pipeline, error) {
	return s.store.Get(ctx, id)
}

func (s *ReviewService) List(ctx context.Context, opts ListOptions) ([]models.Pipeline, error) {
	return s.store.List(ctx, opts)
}

func (s *ReviewService) History(ctx context.Context, id string) (*PipelineHistory, error) {
	return s.store.History(ctx, id)
}

// EditContent replaces the drafts of a pipeline that is still in draft.
func (s *ReviewService) EditContent(ctx context.Context, id string, content *models.Content) (*models.Pipeline, error) {
	normalizeContent(content)
	if content.IsEmpty() {
		return nil, models.ErrMissingContent
	}

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if content.Sources == nil && p.Content != nil {
		content.Sources = p.Content.Sources
	}
	if err := p.EditContent(content, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, p, Change{}); err != nil {
		return nil, err
	}
	return p, nil
}

// Approve moves a draft to approved, applying edits first when given.
func (s *ReviewService) Approve(ctx context.Context, id, approver string, edits *models.Content) (*models.Pipeline, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if edits != nil {
		normalizeContent(edits)
		if edits.IsEmpty() {
			return nil, models.ErrMissingContent
		}
		if edits.Sources == nil && p.Content != nil {
			edits.Sources = p.Content.Sources
		}
		if err := p.EditContent(edits, now); err != nil {
			return nil, err
		}
	}

	if err := p.Approve(approver, now); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, p, Change{Event: &models.PipelineEvent{
		FromStatus: models.StatusDraft,
		ToStatus:   models.StatusApproved,
		Actor:      p.ApprovedBy,
	}}); err != nil {
		return nil, err
	}

	s.logger.Info("Pipeline approved",
		zap.String("pipeline_id", id),
		zap.String("approved_by", p.ApprovedBy))
	return p, nil
}

// Reject moves a draft to rejected.
func (s *ReviewService) Reject(ctx context.Context, id, actor string) (*models.Pipeline, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.Reject(s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, p, Change{Event: &models.PipelineEvent{
		FromStatus: models.StatusDraft,
		ToStatus:   models.StatusRejected,
		Actor:      actor,
	}}); err != nil {
		return nil, err
	}

	s.logger.Info("Pipeline rejected", zap.String("pipeline_id", id), zap.String("actor", actor))
	return p, nil
}

// ApproveAndPublish approves a draft (an approved pipeline is left as is)
// and publishes it straight away.
func (s *ReviewService) ApproveAndPublish(ctx context.Context, id, approver string, platforms []string) (map[string]models.PublishOutcome, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Status == models.StatusDraft {
		if _, err := s.Approve(ctx, id, approver, nil); err != nil {
			return nil, fmt.Errorf("failed to approve pipeline: %w", err)
		}
	}

	return s.publisher.PublishPipeline(ctx, id, platforms, approver)
}

// normalizeContent fills the article title from its first heading and cleans up tags.
func normalizeContent(content *models.Content) {
	if content == nil {
		return
	}
	if content.LongForm != nil {
		if strings.TrimSpace(content.LongForm.Title) == "" && strings.TrimSpace(content.LongForm.Markdown) != "" {
			content.LongForm.Title = util.MarkdownTitle(content.LongForm.Markdown)
		}
		content.LongForm.Tags = util.CleanTags(content.LongForm.Tags)
	}
}
