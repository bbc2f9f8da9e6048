package common

import (
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"sheet-to-json/jobs"
)

// ConversionJob is the audit row of a background conversion.
// Results are kept in the in-memory registry only.
type ConversionJob struct {
	ID          string     `gorm:"primaryKey;type:text" json:"id"`
	FileURL     string     `gorm:"not null" json:"file_url"`
	Status      string     `gorm:"not null;index" json:"status"` // pending, ready, failed
	SheetName   string     `json:"sheet_name,omitempty"`
	TotalRows   int        `gorm:"default:0" json:"total_rows"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ApiMetric tracks API performance metrics
type ApiMetric struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RequestID     string    `gorm:"index" json:"request_id"`
	Endpoint      string    `gorm:"not null" json:"endpoint"`
	Method        string    `gorm:"not null" json:"method"`
	StatusCode    int       `gorm:"not null" json:"status_code"`
	DurationMs    int       `gorm:"not null" json:"duration_ms"`
	RowsProcessed int       `gorm:"default:0" json:"rows_processed"`
	Errors        string    `gorm:"type:text" json:"errors,omitempty"`
	Timestamp     time.Time `gorm:"not null" json:"timestamp"`
}

func (ConversionJob) TableName() string { return "conversion_jobs" }
func (ApiMetric) TableName() string     { return "api_metrics" }

// AutoMigrateJobs creates job tracking tables
func AutoMigrateJobs(db *gorm.DB) error {
	return db.AutoMigrate(&ConversionJob{}, &ApiMetric{})
}

// JobStore persists job transitions. It implements jobs.Recorder.
type JobStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewJobStore creates a JobStore on db.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db, logger: NewLogger("job_store")}
}

// JobCreated inserts the audit row for a new job.
func (s *JobStore) JobCreated(job jobs.Job) {
	row := ConversionJob{
		ID:        job.ID,
		FileURL:   job.FileURL,
		Status:    string(job.State),
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.CreatedAt,
	}
	if err := s.db.Create(&row).Error; err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to record job")
	}
}

// JobFinished records the terminal state of a job.
func (s *JobStore) JobFinished(job jobs.Job) {
	updates := map[string]any{
		"status":       string(job.State),
		"error":        job.Error,
		"completed_at": job.CompletedAt,
		"updated_at":   time.Now(),
	}
	if job.Result != nil {
		updates["sheet_name"] = job.Result.SheetName
		updates["total_rows"] = job.Result.TotalRows
	}

	if err := s.db.Model(&ConversionJob{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to record job completion")
	}
}

// Recent returns the most recently created jobs, newest first.
func (s *JobStore) Recent(limit int) ([]ConversionJob, error) {
	var rows []ConversionJob
	err := s.db.Order("created_at desc").Limit(limit).Find(&rows).Error
	return rows, err
}

// Find returns the audit row for id.
func (s *JobStore) Find(id string) (*ConversionJob, error) {
	var row ConversionJob
	if err := s.db.Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

var _ jobs.Recorder = (*JobStore)(nil)
