// Package pipeline contains the batching buffer and the coordinator that
// drives one live republishing stream end to end.
package pipeline

import (
	"sync"
	"time"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/models"
)

// BufferStatus is a read-only snapshot of the segment buffer.
type BufferStatus struct {
	// Count is the number of accumulated segments.
	Count int `json:"count"`
	// CurrentDuration is the running duration total.
	CurrentDuration time.Duration `json:"current_duration"`
	// ProgressPercent is CurrentDuration relative to the threshold,
	// capped at 100.
	ProgressPercent float64 `json:"progress_percent"`
	// NextBatchNumber is the number the next batch will receive.
	NextBatchNumber int64 `json:"next_batch_number"`
}

// SegmentBuffer accumulates segments and seals a batch once the running
// duration total reaches the configured threshold. Batch numbers are
// contiguous from 0 and never reused for the life of the buffer.
//
// The threshold is a duration, not a segment count. A batch's duration may
// overshoot the threshold by up to one segment; it is never below it except
// through Flush.
type SegmentBuffer struct {
	mu        sync.Mutex
	threshold time.Duration

	segments  []models.SegmentDescriptor
	duration  time.Duration
	size      int64
	nextBatch int64
}

// NewSegmentBuffer creates a buffer with the given duration threshold.
func NewSegmentBuffer(threshold time.Duration) *SegmentBuffer {
	return &SegmentBuffer{threshold: threshold}
}

// Add appends a segment to the accumulator. If the running duration total
// reaches the threshold, the accumulated segments are sealed into a batch
// and the accumulator is reset. Returns the batch and true when one was
// sealed.
func (b *SegmentBuffer) Add(seg models.SegmentDescriptor) (models.Batch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.segments = append(b.segments, seg)
	b.duration += seg.Duration
	b.size += seg.Size

	if b.duration < b.threshold {
		return models.Batch{}, false
	}
	return b.seal(), true
}

// Flush seals whatever is currently accumulated into a batch regardless of
// the threshold. Returns false if nothing is accumulated.
func (b *SegmentBuffer) Flush() (models.Batch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.segments) == 0 {
		return models.Batch{}, false
	}
	return b.seal(), true
}

// seal builds the next batch from the accumulator and resets it.
// Caller holds b.mu.
func (b *SegmentBuffer) seal() models.Batch {
	segments := make([]models.SegmentDescriptor, len(b.segments))
	copy(segments, b.segments)

	batch := models.Batch{
		Number:    b.nextBatch,
		Segments:  segments,
		Duration:  b.duration,
		Size:      b.size,
		CreatedAt: time.Now(),
	}

	b.nextBatch++
	b.segments = b.segments[:0]
	b.duration = 0
	b.size = 0

	return batch
}

// Status returns a snapshot of the accumulator. No side effects.
func (b *SegmentBuffer) Status() BufferStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	progress := 0.0
	if b.threshold > 0 {
		progress = float64(b.duration) / float64(b.threshold) * 100
		if progress > 100 {
			progress = 100
		}
	}

	return BufferStatus{
		Count:           len(b.segments),
		CurrentDuration: b.duration,
		ProgressPercent: progress,
		NextBatchNumber: b.nextBatch,
	}
}

// Reset clears the accumulator and restarts batch numbering from 0. Only
// used on full pipeline restart, never mid-stream.
func (b *SegmentBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.segments = nil
	b.duration = 0
	b.size = 0
	b.nextBatch = 0
}
