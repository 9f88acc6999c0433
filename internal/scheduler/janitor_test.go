package scheduler

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeOld(t *testing.T, path string) {
	t.Helper()
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
}

func TestSweepRemovesStaleEntries(t *testing.T) {
	dir := t.TempDir()

	// Batch dirs and partial downloads live inside per-stream directories,
	// mirroring the layout the pipeline produces.
	streamDir := filepath.Join(dir, "01JX3V5E8LVQ2M9T7K4N6P0RWS")
	segmentDir := filepath.Join(streamDir, "segments")
	os.MkdirAll(segmentDir, 0o755)

	staleBatch := filepath.Join(streamDir, "batch-000003")
	os.MkdirAll(staleBatch, 0o755)
	os.WriteFile(filepath.Join(staleBatch, "video.ts"), []byte("x"), 0o644)
	makeOld(t, staleBatch)

	stalePart := filepath.Join(segmentDir, "seg-00000042.ts.part")
	os.WriteFile(stalePart, []byte("x"), 0o644)
	makeOld(t, stalePart)

	freshBatch := filepath.Join(streamDir, "batch-000004")
	os.MkdirAll(freshBatch, 0o755)

	unrelated := filepath.Join(segmentDir, "seg-00000042.ts")
	os.WriteFile(unrelated, []byte("x"), 0o644)
	makeOld(t, unrelated)

	j := NewJanitor(dir, time.Hour, discardLogger())
	if removed := j.Sweep(); removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	if _, err := os.Stat(staleBatch); !os.IsNotExist(err) {
		t.Error("stale batch dir should be removed")
	}
	if _, err := os.Stat(stalePart); !os.IsNotExist(err) {
		t.Error("stale partial download should be removed")
	}
	if _, err := os.Stat(freshBatch); err != nil {
		t.Error("fresh batch dir should remain")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("completed segment file should remain")
	}
	if _, err := os.Stat(streamDir); err != nil {
		t.Error("stream dir itself should remain")
	}
}

func TestSweepFlatLayout(t *testing.T) {
	dir := t.TempDir()

	staleBatch := filepath.Join(dir, "batch-000001")
	os.MkdirAll(staleBatch, 0o755)
	makeOld(t, staleBatch)

	j := NewJanitor(dir, time.Hour, discardLogger())
	if removed := j.Sweep(); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(staleBatch); !os.IsNotExist(err) {
		t.Error("stale batch dir should be removed")
	}
}

func TestSweepMissingWorkdir(t *testing.T) {
	j := NewJanitor(filepath.Join(t.TempDir(), "missing"), time.Hour, discardLogger())
	if removed := j.Sweep(); removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

func TestStartRejectsBadCron(t *testing.T) {
	j := NewJanitor(t.TempDir(), time.Hour, discardLogger())
	if err := j.Start("not a cron spec"); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestStartAndStop(t *testing.T) {
	j := NewJanitor(t.TempDir(), time.Hour, discardLogger())
	if err := j.Start("0 */10 * * * *"); err != nil {
		t.Fatalf("start: %v", err)
	}
	j.Stop()
}
