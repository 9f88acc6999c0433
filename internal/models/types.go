// Package models defines the shared domain types for the livesub pipeline.
package models

import (
	"time"
)

// SegmentDescriptor describes one source media chunk fetched from the live
// stream. Descriptors are read-only once handed to the segment buffer.
type SegmentDescriptor struct {
	// ID is the source-assigned segment identifier (typically the segment
	// URI basename).
	ID string `json:"id"`
	// Sequence is the monotonic sequence number assigned by the source.
	Sequence int64 `json:"sequence"`
	// Size is the segment payload size in bytes.
	Size int64 `json:"size"`
	// Duration is the media duration of the segment.
	Duration time.Duration `json:"duration"`
	// ArrivedAt is when the segment was fetched.
	ArrivedAt time.Time `json:"arrived_at"`
	// Path is the on-disk location of the downloaded segment payload.
	Path string `json:"path"`
}

// Batch is an immutable, numbered group of segments produced by the segment
// buffer once the accumulated duration crosses the configured threshold.
type Batch struct {
	// Number is assigned contiguously from 0 and never reused.
	Number int64 `json:"number"`
	// Segments are the ordered member segments.
	Segments []SegmentDescriptor `json:"segments"`
	// Duration is the summed duration of all member segments.
	Duration time.Duration `json:"duration"`
	// Size is the summed payload size of all member segments.
	Size int64 `json:"size"`
	// CreatedAt is when the batch was sealed.
	CreatedAt time.Time `json:"created_at"`
}

// Fragment is a finished, publish-ready unit corresponding 1:1 to a batch.
type Fragment struct {
	// BatchNumber matches the batch this fragment was derived from.
	BatchNumber int64 `json:"batch_number"`
	// Path is the on-disk location of the encoded fragment.
	Path string `json:"path"`
	// Size is the encoded size in bytes.
	Size int64 `json:"size"`
	// CreatedAt is when the remux stage finished the fragment.
	CreatedAt time.Time `json:"created_at"`
}

// PublisherState is the lifecycle state of the resilient publisher.
type PublisherState string

// Publisher states.
const (
	PublisherIdle         PublisherState = "idle"
	PublisherConnecting   PublisherState = "connecting"
	PublisherPublishing   PublisherState = "publishing"
	PublisherReconnecting PublisherState = "reconnecting"
	PublisherStopped      PublisherState = "stopped"
	PublisherFatal        PublisherState = "fatal"
)

// PipelinePhase is the macro-state of one pipeline instance.
type PipelinePhase string

// Pipeline phases.
const (
	PhaseIdle       PipelinePhase = "idle"
	PhaseFetching   PipelinePhase = "fetching"
	PhaseProcessing PipelinePhase = "processing"
	PhasePublishing PipelinePhase = "publishing"
	PhaseError      PipelinePhase = "error"
)

// GaugeValue maps the phase onto a stable numeric scale for metrics.
func (p PipelinePhase) GaugeValue() float64 {
	switch p {
	case PhaseIdle:
		return 0
	case PhaseFetching:
		return 1
	case PhaseProcessing:
		return 2
	case PhasePublishing:
		return 3
	case PhaseError:
		return 4
	default:
		return -1
	}
}

// PipelineCounters is a cumulative-counters snapshot maintained by the
// coordinator. Returned by value; never mutated by callers.
type PipelineCounters struct {
	SegmentsFetched    int64 `json:"segments_fetched"`
	BatchesProcessed   int64 `json:"batches_processed"`
	FragmentsPublished int64 `json:"fragments_published"`
	BytesProcessed     int64 `json:"bytes_processed"`
}
