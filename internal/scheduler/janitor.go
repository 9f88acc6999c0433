// Package scheduler runs periodic housekeeping for livesub. The janitor
// removes orphaned batch workdirs and stale partial downloads left behind
// by interrupted pipelines.
package scheduler

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// BatchDirPrefix matches the per-batch intermediate directories created by
// the demux stage.
const BatchDirPrefix = "batch-"

// partSuffix matches interrupted segment downloads.
const partSuffix = ".part"

// Janitor periodically sweeps the working directory.
type Janitor struct {
	workDir string
	maxAge  time.Duration
	logger  *slog.Logger

	cron    *cron.Cron
	entryID cron.EntryID
}

// NewJanitor creates a janitor sweeping workDir. Entries older than maxAge
// are removed.
func NewJanitor(workDir string, maxAge time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		workDir: workDir,
		maxAge:  maxAge,
		logger:  logger.With(slog.String("component", "janitor")),
		cron:    cron.New(cron.WithSeconds()),
	}
}

// Start schedules the sweep with a 6-field cron expression and runs the
// scheduler in the background.
func (j *Janitor) Start(spec string) error {
	id, err := j.cron.AddFunc(spec, func() {
		removed := j.Sweep()
		if removed > 0 {
			j.logger.Info("sweep complete", slog.Int("removed", removed))
		}
	})
	if err != nil {
		return err
	}
	j.entryID = id
	j.cron.Start()
	j.logger.Info("janitor scheduled", slog.String("cron", spec))
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// Sweep removes orphaned batch workdirs and stale partial downloads older
// than the configured age. Batch dirs and partial downloads live inside
// per-stream subdirectories (<work>/<streamID>/batch-NNNNNN,
// <work>/<streamID>/segments/*.part), so the whole tree is walked. Returns
// the number of entries removed. Also used directly at startup to clear
// leftovers from a previous run.
func (j *Janitor) Sweep() int {
	if _, err := os.Stat(j.workDir); os.IsNotExist(err) {
		return 0
	}

	cutoff := time.Now().Add(-j.maxAge)
	removed := 0

	err := filepath.WalkDir(j.workDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// Entry removed mid-walk or unreadable; skip it.
			return nil
		}
		if path == j.workDir {
			return nil
		}

		stale := entry.IsDir() && strings.HasPrefix(entry.Name(), BatchDirPrefix)
		stale = stale || (!entry.IsDir() && strings.HasSuffix(entry.Name(), partSuffix))
		if !stale {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}

		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("removing stale entry",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}

		j.logger.Debug("removed stale entry",
			slog.String("path", path),
			slog.Duration("age", time.Since(info.ModTime())))
		removed++

		if entry.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		j.logger.Warn("walking workdir", slog.String("error", err.Error()))
	}

	return removed
}
