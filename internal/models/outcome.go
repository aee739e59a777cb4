package models

import "time"

// PublishOutcome is the immutable result of one publish attempt on one platform.
// ExternalID and ExternalURL are set only on success, Error only on failure.
type PublishOutcome struct {
	Platform    string    `json:"platform"`
	Success     bool      `json:"success"`
	ExternalID  string    `json:"external_id,omitempty"`
	ExternalURL string    `json:"external_url,omitempty"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// Succeeded builds a success outcome.
func Succeeded(platform, externalID, externalURL string, at time.Time) PublishOutcome {
	return PublishOutcome{
		Platform:    platform,
		Success:     true,
		ExternalID:  externalID,
		ExternalURL: externalURL,
		AttemptedAt: at,
	}
}

// Failed builds a failure outcome.
func Failed(platform, diagnostic string, at time.Time) PublishOutcome {
	return PublishOutcome{
		Platform:    platform,
		Success:     false,
		Error:       diagnostic,
		AttemptedAt: at,
	}
}

// PlatformResults maps a platform name to its latest outcome.
type PlatformResults map[string]PublishOutcome

// Merge overlays outcomes onto a copy of r. Platforms not in outcomes are kept.
func (r PlatformResults) Merge(outcomes []PublishOutcome) PlatformResults {
	merged := make(PlatformResults, len(r)+len(outcomes))
	for platform, outcome := range r {
		merged[platform] = outcome
	}
	for _, outcome := range outcomes {
		merged[outcome.Platform] = outcome
	}
	return merged
}

// PublishAttempt is the append-only audit row kept for every outcome.
type PublishAttempt struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PipelineID  string    `gorm:"size:36;not null;index" json:"pipeline_id"`
	Platform    string    `gorm:"size:50;not null;index" json:"platform"`
	Success     bool      `gorm:"not null" json:"success"`
	ExternalID  string    `gorm:"size:255" json:"external_id,omitempty"`
	ExternalURL string    `gorm:"size:500" json:"external_url,omitempty"`
	Error       string    `gorm:"type:text" json:"error,omitempty"`
	AttemptedAt time.Time `gorm:"not null;index" json:"attempted_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// NewPublishAttempt records outcome against a pipeline.
func NewPublishAttempt(pipelineID string, outcome PublishOutcome) PublishAttempt {
	return PublishAttempt{
		PipelineID:  pipelineID,
		Platform:    outcome.Platform,
		Success:     outcome.Success,
		ExternalID:  outcome.ExternalID,
		ExternalURL: outcome.ExternalURL,
		Error:       outcome.Error,
		AttemptedAt: outcome.AttemptedAt,
	}
}
