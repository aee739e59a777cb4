package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pipeline is the unit of work moving through draft, approved, rejected and published.
type Pipeline struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt       time.Time       `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
	Status          PipelineStatus  `gorm:"size:20;not null;index" json:"status"`
	Content         *Content        `gorm:"type:jsonb;serializer:json" json:"content"`
	PlatformResults PlatformResults `gorm:"type:jsonb;serializer:json" json:"platform_results,omitempty"`
	ApprovedBy      string          `gorm:"size:255" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	Version         int64           `gorm:"not null;default:1" json:"version"`
}

// NewPipeline creates a draft around generated content.
func NewPipeline(content *Content, now time.Time) *Pipeline {
	return &Pipeline{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Status:    StatusDraft,
		Content:   content,
		Version:   1,
	}
}

func (p *Pipeline) checkTransition(to PipelineStatus) error {
	if !p.Status.CanTransitionTo(to) {
		return &InvalidTransitionError{From: p.Status, To: to}
	}
	return nil
}

// Approve moves a draft to approved. The record is untouched on error.
func (p *Pipeline) Approve(approver string, now time.Time) error {
	if err := p.checkTransition(StatusApproved); err != nil {
		return err
	}
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return ErrApproverRequired
	}

	p.Status = StatusApproved
	p.ApprovedBy = approver
	approvedAt := now
	p.ApprovedAt = &approvedAt
	p.UpdatedAt = now
	return nil
}

// Reject moves a draft to rejected.
func (p *Pipeline) Reject(now time.Time) error {
	if err := p.checkTransition(StatusRejected); err != nil {
		return err
	}
	p.Status = StatusRejected
	p.UpdatedAt = now
	return nil
}

// CheckPublishable validates that outcomes may be recorded against p.
func (p *Pipeline) CheckPublishable() error {
	if err := p.checkTransition(StatusPublished); err != nil {
		return err
	}
	if p.Content.IsEmpty() {
		return ErrMissingContent
	}
	return nil
}

// RecordPublication merges outcomes and moves the pipeline to published,
// regardless of whether the individual platforms succeeded.
func (p *Pipeline) RecordPublication(outcomes []PublishOutcome, now time.Time) error {
	if err := p.checkTransition(StatusPublished); err != nil {
		return err
	}
	if len(outcomes) == 0 {
		return &InvalidTransitionError{From: p.Status, To: StatusPublished}
	}
	p.PlatformResults = p.PlatformResults.Merge(outcomes)
	p.Status = StatusPublished
	p.UpdatedAt = now
	return nil
}

// EditContent replaces the drafts. Only drafts are editable.
func (p *Pipeline) EditContent(content *Content, now time.Time) error {
	if p.Status != StatusDraft {
		return ErrContentLocked
	}
	p.Content = content
	p.UpdatedAt = now
	return nil
}

// PipelineEvent is the append-only history of status changes.
type PipelineEvent struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	PipelineID string         `gorm:"size:36;not null;index" json:"pipeline_id"`
	FromStatus PipelineStatus `gorm:"size:20" json:"from_status,omitempty"`
	ToStatus   PipelineStatus `gorm:"size:20;not null" json:"to_status"`
	Actor      string         `gorm:"size:255" json:"actor,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;index" json:"created_at"`
}
