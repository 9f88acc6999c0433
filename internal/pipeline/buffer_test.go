package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/models"
)

func seg(seq int64, duration time.Duration) models.SegmentDescriptor {
	return models.SegmentDescriptor{
		ID:       fmt.Sprintf("seg%d.ts", seq),
		Sequence: seq,
		Size:     1000,
		Duration: duration,
	}
}

func TestBatchSealedAtThreshold(t *testing.T) {
	b := NewSegmentBuffer(30 * time.Second)

	if _, ok := b.Add(seg(0, 10*time.Second)); ok {
		t.Fatal("batch sealed below threshold")
	}
	if _, ok := b.Add(seg(1, 10*time.Second)); ok {
		t.Fatal("batch sealed below threshold")
	}

	batch, ok := b.Add(seg(2, 11*time.Second))
	if !ok {
		t.Fatal("batch not sealed at threshold")
	}

	if batch.Number != 0 {
		t.Errorf("number = %d, want 0", batch.Number)
	}
	if batch.Duration != 31*time.Second {
		t.Errorf("duration = %v, want 31s", batch.Duration)
	}
	if len(batch.Segments) != 3 {
		t.Errorf("segments = %d, want 3", len(batch.Segments))
	}
	if batch.Size != 3000 {
		t.Errorf("size = %d, want 3000", batch.Size)
	}

	status := b.Status()
	if status.Count != 0 || status.CurrentDuration != 0 {
		t.Errorf("buffer not reset after seal: %+v", status)
	}
	if status.NextBatchNumber != 1 {
		t.Errorf("nextBatchNumber = %d, want 1", status.NextBatchNumber)
	}
}

func TestExactThresholdSegments(t *testing.T) {
	b := NewSegmentBuffer(30 * time.Second)

	b.Add(seg(0, 15*time.Second))
	batch, ok := b.Add(seg(1, 15*time.Second))
	if !ok {
		t.Fatal("batch not sealed at exact threshold")
	}
	if batch.Duration != 30*time.Second {
		t.Errorf("duration = %v, want 30s", batch.Duration)
	}
}

func TestFlushBelowThreshold(t *testing.T) {
	b := NewSegmentBuffer(30 * time.Second)

	// First batch over the threshold.
	b.Add(seg(0, 10*time.Second))
	b.Add(seg(1, 10*time.Second))
	if _, ok := b.Add(seg(2, 11*time.Second)); !ok {
		t.Fatal("expected batch 0")
	}

	// Then a partial accumulation flushed out.
	b.Add(seg(3, 10*time.Second))
	batch, ok := b.Flush()
	if !ok {
		t.Fatal("flush returned nothing")
	}
	if batch.Number != 1 {
		t.Errorf("number = %d, want 1", batch.Number)
	}
	if batch.Duration != 10*time.Second {
		t.Errorf("duration = %v, want 10s", batch.Duration)
	}
	if len(batch.Segments) != 1 {
		t.Errorf("segments = %d, want 1", len(batch.Segments))
	}
}

func TestFlushEmpty(t *testing.T) {
	b := NewSegmentBuffer(30 * time.Second)
	if _, ok := b.Flush(); ok {
		t.Error("flush on empty buffer should return nothing")
	}
}

func TestBatchNumbersContiguous(t *testing.T) {
	b := NewSegmentBuffer(10 * time.Second)

	for want := int64(0); want < 5; want++ {
		batch, ok := b.Add(seg(want, 10*time.Second))
		if !ok {
			t.Fatalf("batch %d not sealed", want)
		}
		if batch.Number != want {
			t.Errorf("number = %d, want %d", batch.Number, want)
		}
	}
}

func TestBatchCopyIsolated(t *testing.T) {
	b := NewSegmentBuffer(10 * time.Second)

	batch, ok := b.Add(seg(0, 10*time.Second))
	if !ok {
		t.Fatal("expected batch")
	}

	// Further accumulation must not mutate the sealed batch.
	b.Add(seg(1, 3*time.Second))
	if len(batch.Segments) != 1 || batch.Segments[0].Sequence != 0 {
		t.Errorf("sealed batch mutated: %+v", batch.Segments)
	}
}

func TestStatusProgress(t *testing.T) {
	b := NewSegmentBuffer(30 * time.Second)

	b.Add(seg(0, 15*time.Second))
	status := b.Status()

	if status.Count != 1 {
		t.Errorf("count = %d, want 1", status.Count)
	}
	if status.CurrentDuration != 15*time.Second {
		t.Errorf("currentDuration = %v, want 15s", status.CurrentDuration)
	}
	if status.ProgressPercent != 50 {
		t.Errorf("progressPercent = %v, want 50", status.ProgressPercent)
	}
}

func TestReset(t *testing.T) {
	b := NewSegmentBuffer(10 * time.Second)
	b.Add(seg(0, 10*time.Second))
	b.Add(seg(1, 4*time.Second))

	b.Reset()

	status := b.Status()
	if status.Count != 0 || status.CurrentDuration != 0 || status.NextBatchNumber != 0 {
		t.Errorf("reset incomplete: %+v", status)
	}
}
