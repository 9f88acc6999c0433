package storage

import (
	"fmt"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/config"
)

// Layout manages the on-disk directory structure for streams. Working
// files (downloaded segments, demux intermediates) and published
// fragments live in separate sandboxes so the fragment sliding window
// and the work-dir janitor never touch each other's files.
type Layout struct {
	work      *Sandbox
	fragments *Sandbox
}

// NewLayout creates the work and fragment sandboxes from storage
// configuration.
func NewLayout(cfg config.StorageConfig) (*Layout, error) {
	work, err := NewSandbox(cfg.WorkPath())
	if err != nil {
		return nil, fmt.Errorf("work sandbox: %w", err)
	}
	fragments, err := NewSandbox(cfg.FragmentPath())
	if err != nil {
		return nil, fmt.Errorf("fragment sandbox: %w", err)
	}
	return &Layout{work: work, fragments: fragments}, nil
}

// WorkDir returns the absolute path of the shared working directory.
func (l *Layout) WorkDir() string {
	return l.work.BaseDir()
}

// FragmentDir returns the absolute path of the shared fragment directory.
func (l *Layout) FragmentDir() string {
	return l.fragments.BaseDir()
}

// StreamWorkDir creates and returns the working directory for a stream.
func (l *Layout) StreamWorkDir(streamID string) (string, error) {
	return l.work.EnsureDir(streamID)
}

// StreamSegmentDir creates and returns the segment download directory
// for a stream.
func (l *Layout) StreamSegmentDir(streamID string) (string, error) {
	return l.work.EnsureDir(streamID + "/segments")
}

// StreamFragmentDir creates and returns the fragment output directory
// for a stream.
func (l *Layout) StreamFragmentDir(streamID string) (string, error) {
	return l.fragments.EnsureDir(streamID)
}

// RemoveStream removes all on-disk state for a stream.
func (l *Layout) RemoveStream(streamID string) error {
	if err := l.work.RemoveAll(streamID); err != nil {
		return err
	}
	return l.fragments.RemoveAll(streamID)
}
