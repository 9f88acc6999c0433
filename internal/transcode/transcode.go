// Package transcode turns batches of source segments into publishable
// fragments. A batch goes through two FFmpeg passes: demux splits it into
// a video-only MPEG-TS file and a mono PCM audio track for the side
// channel, and remux recombines the video with the processed audio into
// the final fragment.
package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/ffmpeg"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/models"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/observability"
)

// Audio track parameters expected by the side-channel processor.
const (
	AudioSampleRate = 16000
	AudioChannels   = 1
)

// runFunc executes a built FFmpeg command. Overridable in tests.
type runFunc func(ctx context.Context, cmd *ffmpeg.Command) error

func defaultRun(ctx context.Context, cmd *ffmpeg.Command) error {
	return cmd.Run(ctx)
}

// DemuxResult holds the two tracks produced from one batch.
type DemuxResult struct {
	// VideoPath is the video-only MPEG-TS file.
	VideoPath string
	// AudioPath is the mono 16 kHz WAV track.
	AudioPath string
}

// Demuxer splits batches into separate video and audio tracks.
type Demuxer struct {
	binaryPath string
	workDir    string
	logger     *slog.Logger
	run        runFunc
}

// NewDemuxer creates a demuxer writing intermediate files under workDir.
func NewDemuxer(binaryPath, workDir string, logger *slog.Logger) *Demuxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Demuxer{
		binaryPath: binaryPath,
		workDir:    workDir,
		logger:     logger.With(slog.String("component", "demuxer")),
		run:        defaultRun,
	}
}

// Demux concatenates the batch segments and produces the video-only TS and
// the audio WAV for batch processing.
func (d *Demuxer) Demux(ctx context.Context, batch models.Batch) (DemuxResult, error) {
	if len(batch.Segments) == 0 {
		return DemuxResult{}, fmt.Errorf("batch %d has no segments", batch.Number)
	}
	done := observability.TimedOperation(ctx, d.logger, "demux_batch")
	defer done()

	dir := filepath.Join(d.workDir, fmt.Sprintf("batch-%06d", batch.Number))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return DemuxResult{}, fmt.Errorf("creating batch workdir: %w", err)
	}

	listPath := filepath.Join(dir, "segments.txt")
	if err := writeConcatList(listPath, batch.Segments); err != nil {
		return DemuxResult{}, err
	}

	result := DemuxResult{
		VideoPath: filepath.Join(dir, "video.ts"),
		AudioPath: filepath.Join(dir, "audio.wav"),
	}

	start := time.Now()

	videoCmd := ffmpeg.NewCommandBuilder(d.binaryPath).
		HideBanner().
		Overwrite().
		ConcatInput(listPath).
		NoAudio().
		VideoCodec("copy").
		MpegtsArgs().
		Output(result.VideoPath).
		Build()
	if err := d.run(ctx, videoCmd); err != nil {
		return DemuxResult{}, fmt.Errorf("extracting video for batch %d: %w", batch.Number, err)
	}

	audioCmd := ffmpeg.NewCommandBuilder(d.binaryPath).
		HideBanner().
		Overwrite().
		ConcatInput(listPath).
		NoVideo().
		AudioCodec("pcm_s16le").
		AudioChannels(AudioChannels).
		AudioSampleRate(AudioSampleRate).
		Output(result.AudioPath).
		Build()
	if err := d.run(ctx, audioCmd); err != nil {
		return DemuxResult{}, fmt.Errorf("extracting audio for batch %d: %w", batch.Number, err)
	}

	d.logger.Debug("batch demuxed",
		slog.Int64("batch", batch.Number),
		slog.Int("segments", len(batch.Segments)),
		slog.Duration("took", time.Since(start)))

	return result, nil
}

// writeConcatList writes an FFmpeg concat-demuxer list for the segments.
// Single quotes in paths are escaped per the concat demuxer's quoting rules.
func writeConcatList(path string, segments []models.SegmentDescriptor) error {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, seg := range segments {
		escaped := strings.ReplaceAll(seg.Path, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing concat list: %w", err)
	}
	return nil
}

// Remuxer recombines video with processed audio into publish-ready
// fragments.
type Remuxer struct {
	binaryPath  string
	fragmentDir string
	logger      *slog.Logger
	run         runFunc
}

// NewRemuxer creates a remuxer writing fragments under fragmentDir.
func NewRemuxer(binaryPath, fragmentDir string, logger *slog.Logger) *Remuxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remuxer{
		binaryPath:  binaryPath,
		fragmentDir: fragmentDir,
		logger:      logger.With(slog.String("component", "remuxer")),
		run:         defaultRun,
	}
}

// FragmentPath returns the on-disk path for a fragment by batch number.
func (r *Remuxer) FragmentPath(batchNumber int64) string {
	return filepath.Join(r.fragmentDir, fmt.Sprintf("fragment-%06d.ts", batchNumber))
}

// Remux pairs the batch video with the processed audio track and writes the
// fragment file. The video stream is copied; audio is encoded to AAC.
func (r *Remuxer) Remux(ctx context.Context, batchNumber int64, videoPath, audioPath string) (models.Fragment, error) {
	done := observability.TimedOperation(ctx, r.logger, "remux_fragment")
	defer done()

	if err := os.MkdirAll(r.fragmentDir, 0o755); err != nil {
		return models.Fragment{}, fmt.Errorf("creating fragment dir: %w", err)
	}

	outPath := r.FragmentPath(batchNumber)
	start := time.Now()

	cmd := ffmpeg.NewCommandBuilder(r.binaryPath).
		HideBanner().
		Overwrite().
		Input(videoPath).
		ExtraInput(audioPath).
		Map("0:v:0").
		Map("1:a:0").
		VideoCodec("copy").
		AudioCodec("aac").
		OutputArgs("-b:a", "128k").
		ShortestOutput().
		MpegtsArgs().
		Output(outPath).
		Build()
	if err := r.run(ctx, cmd); err != nil {
		return models.Fragment{}, fmt.Errorf("remuxing batch %d: %w", batchNumber, err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return models.Fragment{}, fmt.Errorf("stat fragment %d: %w", batchNumber, err)
	}

	frag := models.Fragment{
		BatchNumber: batchNumber,
		Path:        outPath,
		Size:        info.Size(),
		CreatedAt:   time.Now(),
	}

	r.logger.Debug("fragment remuxed",
		slog.Int64("batch", batchNumber),
		slog.Int64("bytes", frag.Size),
		slog.Duration("took", time.Since(start)))

	return frag, nil
}

// CleanupBatch removes the intermediate batch workdir after remux.
func CleanupBatch(workDir string, batchNumber int64) error {
	return os.RemoveAll(filepath.Join(workDir, fmt.Sprintf("batch-%06d", batchNumber)))
}
