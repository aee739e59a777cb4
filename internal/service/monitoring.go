package service

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/herald/internal/models"
)

const (
	LevelError = "ERROR"
	LevelWarn  = "WARN"

	MetricCounter   = "counter"
	MetricHistogram = "histogram"
)

// Recorder receives operational errors and metrics. Recording is best effort:
// callers log failures and carry on.
type Recorder interface {
	RecordError(level, source, title, message string, options ...ErrorLogOption) error
	RecordMetric(name, metricType string, value float64, tags map[string]interface{}) error
}

type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
	}
}

// RecordError stores an error log row
func (m *MonitoringService) RecordError(level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}

	for _, option := range options {
		option(errorLog)
	}
	if errorLog.Context == "" {
		errorLog.Context = "{}"
	}

	return m.db.Create(errorLog).Error
}

// ErrorLogOption customises an error log row
type ErrorLogOption func(*models.ErrorLog)

// WithPlatform sets the platform name
func WithPlatform(platformName string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.PlatformName = platformName
	}
}

// WithPipeline sets the pipeline id
func WithPipeline(pipelineID string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.PipelineID = pipelineID
	}
}

// WithContext attaches extra JSON context
func WithContext(context map[string]interface{}) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if contextBytes, err := json.Marshal(context); err == nil {
			e.Context = string(contextBytes)
		}
	}
}

// RecordMetric stores a metric sample
func (m *MonitoringService) RecordMetric(name, metricType string, value float64, tags map[string]interface{}) error {
	tagsJSON := "{}"
	if tags != nil {
		if tagsBytes, err := json.Marshal(tags); err == nil {
			tagsJSON = string(tagsBytes)
		}
	}

	metric := &models.MetricsSample{
		MetricName: name,
		MetricType: metricType,
		Value:      value,
		Tags:       tagsJSON,
		Timestamp:  time.Now(),
	}

	return m.db.Create(metric).Error
}

// GetRecentErrors returns the newest error rows, optionally unresolved only
func (m *MonitoringService) GetRecentErrors(limit int, unresolvedOnly bool) ([]models.ErrorLog, error) {
	var errorLogs []models.ErrorLog
	query := m.db.Order("created_at desc").Limit(limit)
	if unresolvedOnly {
		query = query.Where("resolved = ?", false)
	}
	err := query.Find(&errorLogs).Error
	return errorLogs, err
}

// ResolveError marks an error row as handled
func (m *MonitoringService) ResolveError(id uint) error {
	now := time.Now()
	result := m.db.Model(&models.ErrorLog{}).Where("id = ?", id).Updates(map[string]interface{}{
		"resolved":    true,
		"resolved_at": now,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CleanupOldData removes old metrics and resolved errors
func (m *MonitoringService) CleanupOldData(daysToKeep int) error {
	cutoffDate := time.Now().AddDate(0, 0, -daysToKeep)

	if err := m.db.Where("timestamp < ?", cutoffDate).Delete(&models.MetricsSample{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup metrics samples: %w", err)
	}

	if err := m.db.Where("created_at < ? AND resolved = ?", cutoffDate, true).Delete(&models.ErrorLog{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup resolved errors: %w", err)
	}

	m.logger.Info("Cleaned up monitoring data", zap.Time("cutoff", cutoffDate))
	return nil
}
