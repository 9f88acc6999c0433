package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/models"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/observability"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/publisher"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/sidechannel"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/source"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/transcode"
)

// Coordinator lifecycle errors.
var (
	ErrAlreadyRunning = errors.New("pipeline: already running")
	ErrNotRunning     = errors.New("pipeline: not running")
)

// Demuxer splits a batch into its video and audio tracks.
type Demuxer interface {
	Demux(ctx context.Context, batch models.Batch) (transcode.DemuxResult, error)
}

// Remuxer pairs a video track with processed audio into a fragment.
type Remuxer interface {
	Remux(ctx context.Context, batchNumber int64, videoPath, audioPath string) (models.Fragment, error)
}

// Publisher is the fragment sink driven by the coordinator.
type Publisher interface {
	Start(ctx context.Context) error
	Publish(ctx context.Context, frag models.Fragment) error
	Events() <-chan publisher.Event
	Status() publisher.Status
	Stop() error
}

// StatusSnapshot is a point-in-time view of one pipeline instance.
type StatusSnapshot struct {
	StreamID  string                  `json:"stream_id"`
	SourceURL string                  `json:"source_url"`
	Phase     models.PipelinePhase    `json:"phase"`
	Counters  models.PipelineCounters `json:"counters"`
	Buffer    BufferStatus            `json:"buffer"`
	Publisher publisher.Status        `json:"publisher"`
	LastError string                  `json:"last_error,omitempty"`
	StartedAt time.Time               `json:"started_at"`
	Uptime    time.Duration           `json:"uptime"`
}

// Options wires a coordinator to its subordinates. The coordinator is the
// only component holding references to more than one of them; subordinates
// never address each other directly.
type Options struct {
	StreamID  string
	SourceURL string
	// WorkDir is where demux intermediates live, shared with the Demuxer.
	WorkDir string

	Source    source.Source
	Exchanger sidechannel.Exchanger
	Demuxer   Demuxer
	Remuxer   Remuxer
	Publisher Publisher

	BufferDuration time.Duration
	StopTimeout    time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Coordinator drives one live republishing stream: it feeds source
// segments into the batching buffer, runs each batch through the
// demux / side-channel / remux chain, and submits the resulting fragments
// to the publisher in strict batch-number order. All cross-component
// signals pass through its single event loop.
type Coordinator struct {
	opts   Options
	logger *slog.Logger
	buffer *SegmentBuffer

	mu        sync.Mutex
	running   bool
	phase     models.PipelinePhase
	counters  models.PipelineCounters
	lastError error
	startedAt time.Time

	cancel   context.CancelFunc
	loopDone chan struct{}
	statusCh chan StatusSnapshot

	// Stage completion channels feeding the event loop.
	demuxed chan demuxedMsg
	remuxed chan remuxedMsg
	errCh   chan error
	// submitCh feeds the submit worker with fragments already ordered by
	// the hold-back logic.
	submitCh chan models.Fragment
}

type demuxedMsg struct {
	batchNumber int64
	videoPath   string
}

type remuxedMsg struct {
	frag models.Fragment
}

// New creates a coordinator.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		opts:     opts,
		logger:   logger.With(slog.String("component", "coordinator"), slog.String("stream", opts.StreamID)),
		buffer:   NewSegmentBuffer(opts.BufferDuration),
		phase:    models.PhaseIdle,
		statusCh: make(chan StatusSnapshot, 8),
	}
}

// StatusUpdates returns the channel of status snapshots emitted on every
// phase transition and counters update. Snapshots are advisory; slow
// observers miss intermediate updates.
func (c *Coordinator) StatusUpdates() <-chan StatusSnapshot {
	return c.statusCh
}

// Start brings up the publisher and the event loop. Fails if already
// running.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.startedAt = time.Now()
	c.counters = models.PipelineCounters{}
	c.lastError = nil
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.loopDone = make(chan struct{})
	c.demuxed = make(chan demuxedMsg, 4)
	c.remuxed = make(chan remuxedMsg, 4)
	c.errCh = make(chan error, 8)
	c.submitCh = make(chan models.Fragment, 4)

	if err := c.opts.Publisher.Start(ctx); err != nil {
		cancel()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("starting publisher: %w", err)
	}

	c.setPhase(models.PhaseFetching)

	go c.submitLoop(ctx)
	go c.run(ctx)

	c.logger.Info("pipeline started", slog.String("source", c.opts.SourceURL))
	return nil
}

// Stop shuts the pipeline down: source first, then the side channel, then
// the publisher. Waits for the event loop with a bounded timeout. Fails if
// not running.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.running = false
	c.mu.Unlock()

	// Cancelling the context stops the source loop and interrupts any
	// stage wait.
	c.cancel()

	timeout := c.opts.StopTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-c.loopDone:
	case <-time.After(timeout):
		c.logger.Warn("event loop did not drain before timeout")
	}

	if err := c.opts.Exchanger.Close(); err != nil {
		c.logger.Warn("closing side channel", slog.String("error", err.Error()))
	}
	if err := c.opts.Publisher.Stop(); err != nil {
		c.logger.Warn("stopping publisher", slog.String("error", err.Error()))
	}

	c.setPhase(models.PhaseIdle)
	c.logger.Info("pipeline stopped")
	return nil
}

// Status returns a snapshot computed from current state.
func (c *Coordinator) Status() StatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := StatusSnapshot{
		StreamID:  c.opts.StreamID,
		SourceURL: c.opts.SourceURL,
		Phase:     c.phase,
		Counters:  c.counters,
		Buffer:    c.buffer.Status(),
		Publisher: c.opts.Publisher.Status(),
		StartedAt: c.startedAt,
	}
	if !c.startedAt.IsZero() {
		snap.Uptime = time.Since(c.startedAt)
	}
	if c.lastError != nil {
		snap.LastError = c.lastError.Error()
	}
	return snap
}

// Counters returns the cumulative counters snapshot.
func (c *Coordinator) Counters() models.PipelineCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters
}

// run is the single event loop. It is the only goroutine that touches the
// batching buffer and the per-batch routing tables.
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.loopDone)
	defer close(c.submitCh)

	srcErr := make(chan error, 1)
	go func() {
		srcErr <- c.opts.Source.Run(ctx)
	}()

	segCh := c.opts.Source.Segments()
	procCh := c.opts.Exchanger.Processed()
	pubEvents := c.opts.Publisher.Events()

	// videoPaths holds demuxed video tracks awaiting processed audio, and
	// audioWaiting the converse. A fast processor can return audio before
	// the demux completion message reaches this loop.
	videoPaths := make(map[int64]string)
	audioWaiting := make(map[int64]sidechannel.ProcessedAudio)
	// pending holds finished fragments not yet submittable because a
	// predecessor is still in flight. nextSubmit is the hold-back gate.
	pending := make(map[int64]models.Fragment)
	var nextSubmit int64

	for {
		select {
		case <-ctx.Done():
			return

		case seg, ok := <-segCh:
			if !ok {
				segCh = nil
				// Source is done; push out whatever is accumulated.
				if batch, sealed := c.buffer.Flush(); sealed {
					c.dispatchBatch(ctx, batch)
				}
				continue
			}
			c.addCounters(func(pc *models.PipelineCounters) {
				pc.SegmentsFetched++
			})
			if c.opts.Metrics != nil {
				c.opts.Metrics.SegmentsFetched.Inc()
			}
			if batch, sealed := c.buffer.Add(seg); sealed {
				c.dispatchBatch(ctx, batch)
			}

		case err := <-srcErr:
			srcErr = nil
			if err != nil && ctx.Err() == nil {
				c.fail(fmt.Errorf("segment source: %w", err))
			}

		case msg := <-c.demuxed:
			if pa, waiting := audioWaiting[msg.batchNumber]; waiting {
				delete(audioWaiting, msg.batchNumber)
				go c.remuxBatch(ctx, pa, msg.videoPath)
				continue
			}
			videoPaths[msg.batchNumber] = msg.videoPath

		case pa, ok := <-procCh:
			if !ok {
				procCh = nil
				if ctx.Err() == nil {
					c.fail(errors.New("side channel closed"))
				}
				continue
			}
			videoPath, found := videoPaths[pa.Meta.BatchNumber]
			if !found {
				audioWaiting[pa.Meta.BatchNumber] = pa
				continue
			}
			delete(videoPaths, pa.Meta.BatchNumber)
			go c.remuxBatch(ctx, pa, videoPath)

		case msg := <-c.remuxed:
			c.addCounters(func(pc *models.PipelineCounters) {
				pc.BatchesProcessed++
			})
			pending[msg.frag.BatchNumber] = msg.frag

			// Release every fragment whose predecessors are all
			// submitted, in order.
			for {
				frag, ready := pending[nextSubmit]
				if !ready {
					break
				}
				delete(pending, nextSubmit)
				nextSubmit++

				select {
				case c.submitCh <- frag:
					c.setPhase(models.PhasePublishing)
				case <-ctx.Done():
					return
				}
			}

		case ev := <-pubEvents:
			c.handlePublisherEvent(ev)

		case err := <-c.errCh:
			if ctx.Err() == nil {
				c.fail(err)
			}
		}
	}
}

// dispatchBatch launches the demux stage for a sealed batch and submits
// its audio to the side channel.
func (c *Coordinator) dispatchBatch(ctx context.Context, batch models.Batch) {
	c.setPhase(models.PhaseProcessing)
	if c.opts.Metrics != nil {
		c.opts.Metrics.BatchesCreated.Inc()
	}
	c.logger.Debug("batch sealed",
		slog.Int64("batch", batch.Number),
		slog.Int("segments", len(batch.Segments)),
		slog.Duration("duration", batch.Duration))

	go func() {
		result, err := c.opts.Demuxer.Demux(ctx, batch)
		if err != nil {
			c.stageError(ctx, err)
			return
		}

		audio, err := os.ReadFile(result.AudioPath)
		if err != nil {
			c.stageError(ctx, fmt.Errorf("reading batch %d audio: %w", batch.Number, err))
			return
		}

		// The demuxed message must land before the processed audio can
		// come back, so the loop always knows the video path.
		select {
		case c.demuxed <- demuxedMsg{batchNumber: batch.Number, videoPath: result.VideoPath}:
		case <-ctx.Done():
			return
		}

		meta := sidechannel.FragmentMeta{
			ID:          fmt.Sprintf("%s-%d", c.opts.StreamID, batch.Number),
			BatchNumber: batch.Number,
			SampleRate:  transcode.AudioSampleRate,
			Channels:    transcode.AudioChannels,
		}
		if err := c.opts.Exchanger.Submit(ctx, meta, audio); err != nil {
			c.stageError(ctx, fmt.Errorf("submitting batch %d audio: %w", batch.Number, err))
		}
	}()
}

// remuxBatch writes the processed audio next to the batch intermediates
// and runs the remux stage.
func (c *Coordinator) remuxBatch(ctx context.Context, pa sidechannel.ProcessedAudio, videoPath string) {
	batchDir := filepath.Join(c.opts.WorkDir, fmt.Sprintf("batch-%06d", pa.Meta.BatchNumber))
	audioPath := filepath.Join(batchDir, "processed.wav")
	if err := os.WriteFile(audioPath, pa.Data, 0o644); err != nil {
		c.stageError(ctx, fmt.Errorf("writing batch %d processed audio: %w", pa.Meta.BatchNumber, err))
		return
	}

	frag, err := c.opts.Remuxer.Remux(ctx, pa.Meta.BatchNumber, videoPath, audioPath)
	if err != nil {
		c.stageError(ctx, err)
		return
	}

	if err := transcode.CleanupBatch(c.opts.WorkDir, pa.Meta.BatchNumber); err != nil {
		c.logger.Warn("batch workdir cleanup failed",
			slog.Int64("batch", pa.Meta.BatchNumber),
			slog.String("error", err.Error()))
	}

	select {
	case c.remuxed <- remuxedMsg{frag: frag}:
	case <-ctx.Done():
	}
}

// submitLoop is the single writer into the publisher, preserving the
// batch-number order established by the hold-back gate.
func (c *Coordinator) submitLoop(ctx context.Context) {
	for frag := range c.submitCh {
		if err := c.opts.Publisher.Publish(ctx, frag); err != nil {
			if ctx.Err() != nil || errors.Is(err, publisher.ErrStopped) {
				return
			}
			c.stageError(ctx, err)
			return
		}
		c.addCounters(func(pc *models.PipelineCounters) {
			pc.BytesProcessed += frag.Size
		})
		if c.opts.Metrics != nil {
			c.opts.Metrics.BytesPublished.Add(float64(frag.Size))
		}
	}
}

func (c *Coordinator) handlePublisherEvent(ev publisher.Event) {
	switch ev.Type {
	case publisher.EventPublished:
		c.addCounters(func(pc *models.PipelineCounters) {
			pc.FragmentsPublished++
		})
		if c.opts.Metrics != nil {
			c.opts.Metrics.FragmentsPublished.Inc()
		}
	case publisher.EventReconnecting:
		c.logger.Warn("publisher reconnecting", slog.Int("attempt", ev.Attempt))
		// While the connection is down nothing reaches the destination,
		// so the pipeline is back to processing until replay completes.
		c.setPhase(models.PhaseProcessing)
		if c.opts.Metrics != nil {
			c.opts.Metrics.Reconnects.Inc()
		}
	case publisher.EventReconnected:
		c.logger.Info("publisher reconnected")
		c.setPhase(models.PhasePublishing)
		if c.opts.Metrics != nil {
			c.opts.Metrics.PublisherReplays.Inc()
		}
	case publisher.EventError:
		c.fail(fmt.Errorf("publisher: %w", ev.Err))
	}
}

// stageError forwards a stage failure to the event loop.
func (c *Coordinator) stageError(ctx context.Context, err error) {
	select {
	case c.errCh <- err:
	case <-ctx.Done():
	}
}

// fail records the error and moves to the error phase. Healthy components
// are left running; recovery requires an operator stop and restart.
func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	c.lastError = err
	c.mu.Unlock()

	observability.WithError(c.logger, err).Error("pipeline error")
	c.setPhase(models.PhaseError)
}

func (c *Coordinator) setPhase(phase models.PipelinePhase) {
	c.mu.Lock()
	if c.phase == phase {
		c.mu.Unlock()
		return
	}
	// The error phase is sticky until the next start.
	if c.phase == models.PhaseError && phase != models.PhaseIdle {
		c.mu.Unlock()
		return
	}
	c.phase = phase
	c.mu.Unlock()

	if c.opts.Metrics != nil {
		c.opts.Metrics.PipelinePhase.Set(phase.GaugeValue())
	}
	c.emitStatus()
}

// addCounters applies a counters mutation and emits a status update.
func (c *Coordinator) addCounters(mutate func(*models.PipelineCounters)) {
	c.mu.Lock()
	mutate(&c.counters)
	c.mu.Unlock()
	c.emitStatus()
}

func (c *Coordinator) emitStatus() {
	select {
	case c.statusCh <- c.Status():
	default:
	}
}
