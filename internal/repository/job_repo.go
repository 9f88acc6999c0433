// Package repository provides data access for livesub persistence.
package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/database"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/models"
)

// ErrJobNotFound is returned when a stream job does not exist.
var ErrJobNotFound = errors.New("stream job not found")

// JobRepository persists stream job records.
type JobRepository struct {
	db *database.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *database.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job record.
func (r *JobRepository) Create(job *models.StreamJob) error {
	if err := r.db.Create(job).Error; err != nil {
		return fmt.Errorf("creating stream job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepository) GetByID(id models.ULID) (*models.StreamJob, error) {
	var job models.StreamJob
	err := r.db.First(&job, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting stream job: %w", err)
	}
	return &job, nil
}

// List returns jobs ordered newest first, bounded by limit (0 = no limit).
func (r *JobRepository) List(limit int) ([]models.StreamJob, error) {
	var jobs []models.StreamJob
	q := r.db.Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing stream jobs: %w", err)
	}
	return jobs, nil
}

// FindRunning returns the most recent job still in the running state, if any.
func (r *JobRepository) FindRunning() (*models.StreamJob, error) {
	var job models.StreamJob
	err := r.db.Where("state = ?", models.JobStateRunning).
		Order("started_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding running stream job: %w", err)
	}
	return &job, nil
}

// Finish marks a job terminal with final counters and an optional error.
func (r *JobRepository) Finish(id models.ULID, counters models.PipelineCounters, jobErr error) error {
	now := time.Now().UTC()

	state := models.JobStateStopped
	lastError := ""
	if jobErr != nil {
		state = models.JobStateError
		lastError = jobErr.Error()
	}

	res := r.db.Model(&models.StreamJob{}).
		Where("id = ?", id.String()).
		Updates(map[string]any{
			"state":               state,
			"last_error":          lastError,
			"segments_fetched":    counters.SegmentsFetched,
			"batches_processed":   counters.BatchesProcessed,
			"fragments_published": counters.FragmentsPublished,
			"bytes_processed":     counters.BytesProcessed,
			"stopped_at":          now,
		})
	if res.Error != nil {
		return fmt.Errorf("finishing stream job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}
