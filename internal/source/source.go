// Package source acquires live media segments and hands them to the
// pipeline as they arrive.
package source

import (
	"context"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/models"
)

// Source produces a stream of media segments. Implementations run their
// acquisition loop until the context is cancelled or a fatal error occurs,
// then close the segments channel.
type Source interface {
	// Run starts the acquisition loop and blocks until ctx is cancelled
	// or the source fails fatally.
	Run(ctx context.Context) error

	// Segments returns the channel on which acquired segments are
	// delivered. The channel is closed when Run returns.
	Segments() <-chan models.SegmentDescriptor

	// Stats returns a snapshot of acquisition counters.
	Stats() Stats
}

// Stats holds acquisition counters for a source.
type Stats struct {
	PlaylistFetches  int64 `json:"playlistFetches"`
	SegmentsFetched  int64 `json:"segmentsFetched"`
	SegmentsSkipped  int64 `json:"segmentsSkipped"`
	BytesDownloaded  int64 `json:"bytesDownloaded"`
	ConsecutiveStale int64 `json:"consecutiveStale"`
}
