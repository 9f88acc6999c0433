package models

import (
	"time"

	"gorm.io/gorm"
)

// Stream job states.
const (
	JobStateRunning = "running"
	JobStateStopped = "stopped"
	JobStateError   = "error"
)

// StreamJob records one pipeline run for history and diagnostics.
type StreamJob struct {
	ID          ULID   `gorm:"primaryKey;type:text" json:"id"`
	StreamID    string `gorm:"index;not null" json:"stream_id"`
	PlaylistURL string `gorm:"not null" json:"playlist_url"`
	IngestURL   string `gorm:"not null" json:"ingest_url"`
	State       string `gorm:"index;not null" json:"state"`
	LastError   string `json:"last_error,omitempty"`

	// Counters captured when the job reaches a terminal state.
	SegmentsFetched    int64 `json:"segments_fetched"`
	BatchesProcessed   int64 `json:"batches_processed"`
	FragmentsPublished int64 `json:"fragments_published"`
	BytesProcessed     int64 `json:"bytes_processed"`

	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default GORM table name.
func (StreamJob) TableName() string {
	return "stream_jobs"
}

// BeforeCreate assigns an ID if one was not provided.
func (j *StreamJob) BeforeCreate(_ *gorm.DB) error {
	if j.ID.IsZero() {
		j.ID = NewULID()
	}
	return nil
}

// IsTerminal reports whether the job reached a final state.
func (j *StreamJob) IsTerminal() bool {
	return j.State == JobStateStopped || j.State == JobStateError
}
