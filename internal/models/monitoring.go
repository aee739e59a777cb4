package models

import (
	"time"
)

// ErrorLog stores operator-visible failures such as rejected publish attempts.
type ErrorLog struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Level        string     `gorm:"size:20;not null;index" json:"level"`   // ERROR, WARN, INFO
	Source       string     `gorm:"size:100;not null;index" json:"source"` // publisher, oauth, scheduler
	PlatformName string     `gorm:"size:100;index" json:"platform_name"`
	PipelineID   string     `gorm:"size:36;index" json:"pipeline_id"`
	Title        string     `gorm:"size:500;not null" json:"title"`
	Message      string     `gorm:"type:text;not null" json:"message"`
	Context      string     `gorm:"type:jsonb" json:"context"`
	Resolved     bool       `gorm:"default:false;index" json:"resolved"`
	ResolvedAt   *time.Time `json:"resolved_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// MetricsSample is one recorded measurement.
type MetricsSample struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MetricName string    `gorm:"size:100;not null;index" json:"metric_name"`
	MetricType string    `gorm:"size:50;not null" json:"metric_type"` // gauge, counter, histogram
	Value      float64   `gorm:"not null" json:"value"`
	Tags       string    `gorm:"type:jsonb" json:"tags"`
	Timestamp  time.Time `gorm:"not null;index" json:"timestamp"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
