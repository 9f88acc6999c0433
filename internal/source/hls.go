package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/httpclient"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/models"
)

// staleWarnThreshold is the number of consecutive polls without new segments
// before the source logs a stall warning.
const staleWarnThreshold = 5

// HLSOptions configures an HLS source.
type HLSOptions struct {
	// PlaylistURL is the media or multivariant playlist to poll.
	PlaylistURL string
	// WorkDir receives downloaded segment files.
	WorkDir string
	// PollInterval is the playlist refresh period.
	PollInterval time.Duration
	Client       *httpclient.Client
	Logger       *slog.Logger
}

// HLSSource polls an HLS playlist and downloads new segments to disk.
// Multivariant playlists are resolved to the highest-bandwidth variant on
// the first poll. Segment sequence numbers follow the playlist media
// sequence, so they are monotonic for the lifetime of the source.
type HLSSource struct {
	playlistURL  string
	workDir      string
	pollInterval time.Duration
	client       *httpclient.Client
	logger       *slog.Logger

	segments chan models.SegmentDescriptor

	// resolvedURL is the media playlist URL after variant selection.
	resolvedURL string
	// lastSequence is the media sequence of the newest downloaded segment,
	// -1 before the first download.
	lastSequence int64

	playlistFetches  atomic.Int64
	segmentsFetched  atomic.Int64
	segmentsSkipped  atomic.Int64
	bytesDownloaded  atomic.Int64
	consecutiveStale atomic.Int64
}

// NewHLSSource creates an HLS polling source.
func NewHLSSource(opts HLSOptions) *HLSSource {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HLSSource{
		playlistURL:  opts.PlaylistURL,
		workDir:      opts.WorkDir,
		pollInterval: opts.PollInterval,
		client:       opts.Client,
		logger:       logger.With(slog.String("component", "hls-source")),
		segments:     make(chan models.SegmentDescriptor, 16),
		lastSequence: -1,
	}
}

// Segments returns the segment delivery channel. Closed when Run returns.
func (s *HLSSource) Segments() <-chan models.SegmentDescriptor {
	return s.segments
}

// Stats returns a snapshot of acquisition counters.
func (s *HLSSource) Stats() Stats {
	return Stats{
		PlaylistFetches:  s.playlistFetches.Load(),
		SegmentsFetched:  s.segmentsFetched.Load(),
		SegmentsSkipped:  s.segmentsSkipped.Load(),
		BytesDownloaded:  s.bytesDownloaded.Load(),
		ConsecutiveStale: s.consecutiveStale.Load(),
	}
}

// Run polls the playlist until ctx is cancelled. The segments channel is
// closed on return. A cancelled context is a clean stop, not an error.
func (s *HLSSource) Run(ctx context.Context) error {
	defer close(s.segments)

	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return fmt.Errorf("creating segment workdir: %w", err)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// First poll happens immediately.
	for {
		if err := s.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("playlist poll failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *HLSSource) poll(ctx context.Context) error {
	mediaURL := s.resolvedURL
	if mediaURL == "" {
		mediaURL = s.playlistURL
	}

	data, err := s.fetch(ctx, mediaURL)
	if err != nil {
		return fmt.Errorf("fetching playlist: %w", err)
	}
	s.playlistFetches.Add(1)

	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("parsing playlist: %w", err)
	}

	var media *playlist.Media
	switch p := pl.(type) {
	case *playlist.Media:
		media = p
		if s.resolvedURL == "" {
			s.resolvedURL = mediaURL
		}
	case *playlist.Multivariant:
		variantURL, err := s.selectVariant(mediaURL, p)
		if err != nil {
			return err
		}
		s.resolvedURL = variantURL
		s.logger.Info("resolved multivariant playlist",
			slog.String("variant_url", variantURL))

		variantData, err := s.fetch(ctx, variantURL)
		if err != nil {
			return fmt.Errorf("fetching variant playlist: %w", err)
		}
		s.playlistFetches.Add(1)

		variantPL, err := playlist.Unmarshal(variantData)
		if err != nil {
			return fmt.Errorf("parsing variant playlist: %w", err)
		}
		m, ok := variantPL.(*playlist.Media)
		if !ok {
			return fmt.Errorf("variant %s is not a media playlist", variantURL)
		}
		media = m
	default:
		return fmt.Errorf("unknown playlist type")
	}

	return s.downloadNew(ctx, media)
}

// selectVariant picks the highest-bandwidth variant from a multivariant
// playlist.
func (s *HLSSource) selectVariant(baseURL string, mv *playlist.Multivariant) (string, error) {
	if len(mv.Variants) == 0 {
		return "", fmt.Errorf("multivariant playlist has no variants")
	}

	variants := make([]*playlist.MultivariantVariant, len(mv.Variants))
	copy(variants, mv.Variants)
	sort.Slice(variants, func(i, j int) bool {
		return variants[i].Bandwidth > variants[j].Bandwidth
	})

	return absolutizeURL(baseURL, variants[0].URI), nil
}

// downloadNew fetches every segment newer than the last downloaded media
// sequence and emits a descriptor for each.
func (s *HLSSource) downloadNew(ctx context.Context, media *playlist.Media) error {
	fresh := 0
	for i, seg := range media.Segments {
		seq := int64(media.MediaSequence) + int64(i)
		if seq <= s.lastSequence {
			s.segmentsSkipped.Add(1)
			continue
		}

		segURL := absolutizeURL(s.resolvedURL, seg.URI)
		path := filepath.Join(s.workDir, fmt.Sprintf("seg-%08d.ts", seq))

		size, err := s.download(ctx, segURL, path)
		if err != nil {
			// Stop at the first failure; the next poll retries from here.
			return fmt.Errorf("downloading segment %d: %w", seq, err)
		}

		s.lastSequence = seq
		s.segmentsFetched.Add(1)
		s.bytesDownloaded.Add(size)
		fresh++

		desc := models.SegmentDescriptor{
			ID:        filepath.Base(seg.URI),
			Sequence:  seq,
			Size:      size,
			Duration:  seg.Duration,
			ArrivedAt: time.Now(),
			Path:      path,
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.segments <- desc:
		}
	}

	if fresh == 0 {
		stale := s.consecutiveStale.Add(1)
		if stale == staleWarnThreshold {
			s.logger.Warn("playlist has not advanced",
				slog.Int64("polls", stale),
				slog.Int64("last_sequence", s.lastSequence))
		}
	} else {
		s.consecutiveStale.Store(0)
	}

	return nil
}

func (s *HLSSource) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := s.client.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// download streams the segment body to path and returns the byte count.
func (s *HLSSource) download(ctx context.Context, rawURL, path string) (int64, error) {
	resp, err := s.client.Get(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

// absolutizeURL resolves a segment URI against the playlist URL.
func absolutizeURL(playlistURL, segmentURL string) string {
	if strings.HasPrefix(segmentURL, "http://") || strings.HasPrefix(segmentURL, "https://") {
		return segmentURL
	}

	base, err := url.Parse(playlistURL)
	if err != nil {
		if idx := strings.LastIndex(playlistURL, "/"); idx >= 0 {
			return playlistURL[:idx+1] + segmentURL
		}
		return segmentURL
	}

	ref, err := url.Parse(segmentURL)
	if err != nil {
		return segmentURL
	}

	return base.ResolveReference(ref).String()
}
