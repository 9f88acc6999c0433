// Package service wires configuration, storage, and the pipeline
// components into the stream lifecycle exposed over the API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/config"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/ffmpeg"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/httpclient"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/models"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/observability"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/pipeline"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/publisher"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/repository"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/sidechannel"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/source"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/storage"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/transcode"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/version"
)

// Service errors.
var (
	ErrStreamRunning    = errors.New("service: a stream is already running")
	ErrStreamNotRunning = errors.New("service: no stream is running")
)

// StartRequest carries per-stream overrides for the configured defaults.
type StartRequest struct {
	// PlaylistURL overrides source.playlist_url when set.
	PlaylistURL string
	// IngestURL and StreamKey override the publisher push address when set.
	IngestURL string
	StreamKey string
}

// StreamService manages the lifecycle of the single pipeline instance this
// process runs and records each run in the job history.
type StreamService struct {
	cfg     *config.Config
	jobs    *repository.JobRepository
	logger  *slog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	coord     *pipeline.Coordinator
	exchanger *sidechannel.Client
	jobID     models.ULID
}

// NewStreamService creates the stream service.
func NewStreamService(cfg *config.Config, jobs *repository.JobRepository, logger *slog.Logger, metrics *observability.Metrics) *StreamService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamService{
		cfg:     cfg,
		jobs:    jobs,
		logger:  logger.With(slog.String("component", "stream-service")),
		metrics: metrics,
	}
}

// Start builds the pipeline from configuration and starts it. One stream
// per process; a second start fails until the first is stopped.
func (s *StreamService) Start(ctx context.Context, req StartRequest) (*models.StreamJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.coord != nil {
		return nil, ErrStreamRunning
	}

	playlistURL := s.cfg.Source.PlaylistURL
	if req.PlaylistURL != "" {
		playlistURL = req.PlaylistURL
	}
	if playlistURL == "" {
		return nil, errors.New("service: no playlist URL configured")
	}

	pubCfg := s.cfg.Publisher
	if req.IngestURL != "" {
		pubCfg.IngestURL = req.IngestURL
	}
	if req.StreamKey != "" {
		pubCfg.StreamKey = req.StreamKey
	}
	if pubCfg.IngestURL == "" {
		return nil, errors.New("service: no ingest URL configured")
	}

	binInfo, err := ffmpeg.Detect(ctx, s.cfg.FFmpeg.BinaryPath, s.cfg.FFmpeg.ProbePath)
	if err != nil {
		return nil, fmt.Errorf("locating ffmpeg: %w", err)
	}

	job := &models.StreamJob{
		StreamID:    models.NewULID().String(),
		PlaylistURL: playlistURL,
		IngestURL:   pubCfg.IngestURL,
		State:       models.JobStateRunning,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.jobs.Create(job); err != nil {
		return nil, fmt.Errorf("recording job: %w", err)
	}

	layout, err := storage.NewLayout(s.cfg.Storage)
	if err != nil {
		s.failJob(job.ID, err)
		return nil, fmt.Errorf("preparing storage: %w", err)
	}
	workDir, err := layout.StreamWorkDir(job.StreamID)
	if err != nil {
		s.failJob(job.ID, err)
		return nil, fmt.Errorf("preparing storage: %w", err)
	}
	segmentDir, err := layout.StreamSegmentDir(job.StreamID)
	if err != nil {
		s.failJob(job.ID, err)
		return nil, fmt.Errorf("preparing storage: %w", err)
	}
	fragmentDir, err := layout.StreamFragmentDir(job.StreamID)
	if err != nil {
		s.failJob(job.ID, err)
		return nil, fmt.Errorf("preparing storage: %w", err)
	}

	logger := observability.WithStream(s.logger, job.StreamID)

	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = s.cfg.Source.HTTPTimeout
	clientCfg.UserAgent = version.UserAgent()
	clientCfg.Logger = logger

	src := source.NewHLSSource(source.HLSOptions{
		PlaylistURL:  playlistURL,
		WorkDir:      segmentDir,
		PollInterval: s.cfg.Source.PollInterval,
		Client:       httpclient.New(clientCfg),
		Logger:       logger,
	})

	exchanger, err := sidechannel.Dial(ctx, sidechannel.Options{
		URL:              s.cfg.SideChannel.URL,
		HandshakeTimeout: s.cfg.SideChannel.HandshakeTimeout,
		PingInterval:     s.cfg.SideChannel.PingInterval,
		Logger:           logger,
	})
	if err != nil {
		s.failJob(job.ID, err)
		return nil, fmt.Errorf("connecting side channel: %w", err)
	}

	runner := publisher.NewFFmpegRunner(binInfo.FFmpegPath, pubCfg.PushAddress(), logger)
	pub := publisher.New(publisher.Options{
		Runner:               runner,
		FragmentDir:          fragmentDir,
		ChunkSize:            int(pubCfg.ChunkSize),
		MaxReconnectAttempts: pubCfg.MaxReconnectAttempts,
		ReconnectDelay:       pubCfg.ReconnectDelay,
		ReplayCapacity:       pubCfg.ReplayCapacity,
		MaxFragmentsToKeep:   pubCfg.MaxFragmentsToKeep,
		CleanupSafetyBuffer:  pubCfg.CleanupSafetyBuffer,
		StopTimeout:          pubCfg.StopTimeout,
		Logger:               logger,
	})

	coord := pipeline.New(pipeline.Options{
		StreamID:       job.StreamID,
		SourceURL:      playlistURL,
		WorkDir:        workDir,
		Source:         src,
		Exchanger:      exchanger,
		Demuxer:        transcode.NewDemuxer(binInfo.FFmpegPath, workDir, logger),
		Remuxer:        transcode.NewRemuxer(binInfo.FFmpegPath, fragmentDir, logger),
		Publisher:      pub,
		BufferDuration: s.cfg.Pipeline.BufferDuration,
		StopTimeout:    s.cfg.Pipeline.StopTimeout,
		Logger:         logger,
		Metrics:        s.metrics,
	})

	if err := coord.Start(); err != nil {
		exchanger.Close()
		s.failJob(job.ID, err)
		return nil, err
	}

	s.coord = coord
	s.exchanger = exchanger
	s.jobID = job.ID

	s.logger.Info("stream started",
		slog.String("stream_id", job.StreamID),
		slog.String("playlist_url", playlistURL))
	return job, nil
}

// failJob marks a job errored when startup fails partway.
func (s *StreamService) failJob(id models.ULID, cause error) {
	if err := s.jobs.Finish(id, models.PipelineCounters{}, cause); err != nil {
		s.logger.Warn("finalizing failed job", slog.String("error", err.Error()))
	}
}

// Stop shuts down the running pipeline and finalizes its job record.
func (s *StreamService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.coord == nil {
		return ErrStreamNotRunning
	}

	status := s.coord.Status()
	stopErr := s.coord.Stop()

	var jobErr error
	if status.LastError != "" {
		jobErr = errors.New(status.LastError)
	}
	if err := s.jobs.Finish(s.jobID, status.Counters, jobErr); err != nil {
		s.logger.Warn("finalizing job record", slog.String("error", err.Error()))
	}

	s.coord = nil
	s.exchanger = nil
	s.jobID = models.ULID{}

	s.logger.Info("stream stopped", slog.String("stream_id", status.StreamID))
	return stopErr
}

// Status returns the running pipeline snapshot. The second return value is
// false when no stream is running.
func (s *StreamService) Status() (pipeline.StatusSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.coord == nil {
		return pipeline.StatusSnapshot{}, false
	}
	return s.coord.Status(), true
}

// Jobs lists recent job history, newest first.
func (s *StreamService) Jobs(limit int) ([]models.StreamJob, error) {
	return s.jobs.List(limit)
}

// Running reports whether a stream is active.
func (s *StreamService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord != nil
}

// Shutdown stops the stream if one is running. Used on process exit.
func (s *StreamService) Shutdown(ctx context.Context) {
	if err := s.Stop(ctx); err != nil && !errors.Is(err, ErrStreamNotRunning) {
		s.logger.Warn("stopping stream during shutdown", slog.String("error", err.Error()))
	}
}

// RecoverOrphans marks jobs left in the running state by a previous
// process as errored. Called once at startup.
func (s *StreamService) RecoverOrphans() {
	for {
		job, err := s.jobs.FindRunning()
		if err != nil {
			if !errors.Is(err, repository.ErrJobNotFound) {
				s.logger.Warn("scanning for orphaned jobs", slog.String("error", err.Error()))
			}
			return
		}
		if err := s.jobs.Finish(job.ID, models.PipelineCounters{
			SegmentsFetched:    job.SegmentsFetched,
			BatchesProcessed:   job.BatchesProcessed,
			FragmentsPublished: job.FragmentsPublished,
			BytesProcessed:     job.BytesProcessed,
		}, errors.New("interrupted by process restart")); err != nil {
			s.logger.Warn("finalizing orphaned job", slog.String("error", err.Error()))
			return
		}
		s.logger.Info("recovered orphaned job", slog.String("job_id", job.ID.String()))
	}
}
