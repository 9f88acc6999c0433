package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/ffmpeg"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/models"
)

// Publisher errors.
var (
	ErrOutOfOrder    = errors.New("publisher: fragment out of order")
	ErrNotPublishing = errors.New("publisher: not publishing")
	ErrStopped       = errors.New("publisher: stopped")
	ErrFatal         = errors.New("publisher: reconnect attempts exhausted")
)

// EventType identifies a publisher event.
type EventType string

// Publisher events.
const (
	EventStarted      EventType = "started"
	EventStopped      EventType = "stopped"
	EventPublished    EventType = "fragment:published"
	EventReconnecting EventType = "reconnecting"
	EventReconnected  EventType = "reconnected"
	EventError        EventType = "error"
)

// Event is an outbound publisher signal. BatchNumber is set for published
// events, Attempt for reconnecting events, Err for error events.
type Event struct {
	Type        EventType
	BatchNumber int64
	Attempt     int
	Err         error
}

// Status is a point-in-time publisher snapshot.
type Status struct {
	State             models.PublisherState `json:"state"`
	IsPublishing      bool                  `json:"is_publishing"`
	IsReconnecting    bool                  `json:"is_reconnecting"`
	PublishedCount    int64                 `json:"published_count"`
	ReconnectAttempts int                   `json:"reconnect_attempts"`
	ReplayBufferSize  int                   `json:"replay_buffer_size"`
	LastBatchNumber   int64                 `json:"last_batch_number"`
	Process           ffmpeg.ProcessStats   `json:"process"`
}

// Options configures a ResilientPublisher.
type Options struct {
	Runner      Runner
	FragmentDir string
	// ChunkSize bounds individual writes to the subprocess.
	ChunkSize            int
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	// ReplayCapacity is the number of sent fragments kept in memory for
	// replay after a reconnect.
	ReplayCapacity int
	// MaxFragmentsToKeep and CleanupSafetyBuffer bound the on-disk
	// sliding window of fragment files.
	MaxFragmentsToKeep  int
	CleanupSafetyBuffer int
	StopTimeout         time.Duration
	Logger              *slog.Logger
}

// replayEntry records the exact bytes of a sent fragment.
type replayEntry struct {
	batchNumber int64
	data        []byte
}

// ResilientPublisher streams fragments to the ingest subprocess in strict
// batch-number order. Transient write failures are recovered by respawning
// the subprocess and replaying the buffered entries in order. Exhausting
// the reconnect budget is fatal and requires an operator restart.
type ResilientPublisher struct {
	opts   Options
	logger *slog.Logger

	// pubMu serializes Publish calls end to end.
	pubMu sync.Mutex

	// mu guards the fields below.
	mu                sync.Mutex
	state             models.PublisherState
	proc              Process
	lastAccepted      int64
	replay            []replayEntry
	publishedCount    int64
	reconnectAttempts int
	lastError         error

	events   chan Event
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a publisher. Start must be called before Publish.
func New(opts Options) *ResilientPublisher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ResilientPublisher{
		opts:         opts,
		logger:       logger.With(slog.String("component", "publisher")),
		state:        models.PublisherIdle,
		lastAccepted: -1,
		events:       make(chan Event, 32),
		stopCh:       make(chan struct{}),
	}
}

// Events returns the outbound event channel.
func (p *ResilientPublisher) Events() <-chan Event {
	return p.events
}

// Start spawns the publishing subprocess. Fails if the subprocess cannot
// be spawned.
func (p *ResilientPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != models.PublisherIdle {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("publisher: cannot start from state %s", state)
	}
	p.state = models.PublisherConnecting
	p.mu.Unlock()

	proc, err := p.opts.Runner.Start(ctx)
	if err != nil {
		p.mu.Lock()
		p.state = models.PublisherIdle
		p.mu.Unlock()
		return fmt.Errorf("publisher: %w", err)
	}

	p.mu.Lock()
	p.proc = proc
	p.state = models.PublisherPublishing
	p.mu.Unlock()

	p.emit(Event{Type: EventStarted})
	return nil
}

// Publish streams one fragment to the subprocess. The batch number must be
// at least the most recently accepted one; lower numbers are rejected
// without transmitting any bytes. On write failure the reconnect/replay
// path runs before Publish returns.
func (p *ResilientPublisher) Publish(ctx context.Context, frag models.Fragment) error {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	p.mu.Lock()
	switch p.state {
	case models.PublisherPublishing:
	case models.PublisherStopped:
		p.mu.Unlock()
		return ErrStopped
	case models.PublisherFatal:
		p.mu.Unlock()
		return ErrFatal
	default:
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotPublishing, state)
	}

	if frag.BatchNumber < p.lastAccepted {
		last := p.lastAccepted
		p.mu.Unlock()
		return fmt.Errorf("%w: batch %d after %d", ErrOutOfOrder, frag.BatchNumber, last)
	}
	p.lastAccepted = frag.BatchNumber
	proc := p.proc
	p.mu.Unlock()

	data, err := os.ReadFile(frag.Path)
	if err != nil {
		return fmt.Errorf("publisher: reading fragment %d: %w", frag.BatchNumber, err)
	}

	if writeErr := p.writeChunks(ctx, proc, data); writeErr != nil {
		if errors.Is(writeErr, ErrStopped) || ctx.Err() != nil {
			return writeErr
		}

		// A partial send is a failure. Buffer the full fragment so the
		// replay covers it, then recover the connection.
		p.appendReplay(frag.BatchNumber, data)
		p.logger.Warn("fragment write failed, reconnecting",
			slog.Int64("batch", frag.BatchNumber),
			slog.String("error", writeErr.Error()))

		if err := p.reconnect(ctx); err != nil {
			return err
		}
	} else {
		p.appendReplay(frag.BatchNumber, data)
	}

	p.mu.Lock()
	p.publishedCount++
	p.mu.Unlock()

	p.cleanup(frag.BatchNumber)
	p.emit(Event{Type: EventPublished, BatchNumber: frag.BatchNumber})

	p.logger.Debug("fragment published",
		slog.Int64("batch", frag.BatchNumber),
		slog.Int("bytes", len(data)))
	return nil
}

// writeChunks sends data to the subprocess in bounded chunks. Writes block
// on the subprocess pipe, which is the backpressure mechanism. Stop aborts
// between chunks.
func (p *ResilientPublisher) writeChunks(ctx context.Context, proc Process, data []byte) error {
	chunkSize := p.opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}

	for offset := 0; offset < len(data); offset += chunkSize {
		select {
		case <-p.stopCh:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		case <-proc.Done():
			return fmt.Errorf("publish process exited: %w", proc.Err())
		default:
		}

		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := proc.Write(data[offset:end]); err != nil {
			return err
		}
	}
	return nil
}

// reconnect respawns the subprocess and replays the buffered entries in
// order. Gives up after the configured attempt budget and moves to fatal.
func (p *ResilientPublisher) reconnect(ctx context.Context) error {
	p.mu.Lock()
	p.state = models.PublisherReconnecting
	old := p.proc
	p.mu.Unlock()

	if old != nil {
		old.Terminate()
	}

	delay := backoff.WithContext(backoff.NewConstantBackOff(p.opts.ReconnectDelay), ctx)

	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxReconnectAttempts; attempt++ {
		p.mu.Lock()
		p.reconnectAttempts++
		p.mu.Unlock()
		p.emit(Event{Type: EventReconnecting, Attempt: attempt})

		wait := delay.NextBackOff()
		if wait == backoff.Stop {
			lastErr = ctx.Err()
			break
		}
		select {
		case <-p.stopCh:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		proc, err := p.opts.Runner.Start(ctx)
		if err != nil {
			lastErr = err
			p.logger.Warn("reconnect attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			continue
		}

		if err := p.replayAll(ctx, proc); err != nil {
			lastErr = err
			p.logger.Warn("replay after reconnect failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			proc.Terminate()
			continue
		}

		p.mu.Lock()
		p.proc = proc
		p.state = models.PublisherPublishing
		p.mu.Unlock()

		p.emit(Event{Type: EventReconnected})
		p.logger.Info("reconnected", slog.Int("attempt", attempt))
		return nil
	}

	err := ErrFatal
	if lastErr != nil {
		err = fmt.Errorf("%w: %w", ErrFatal, lastErr)
	}

	p.mu.Lock()
	p.state = models.PublisherFatal
	p.lastError = err
	p.mu.Unlock()

	p.emit(Event{Type: EventError, Err: err})
	return err
}

// replayAll resends every buffered entry in original order. The downstream
// consumer may receive a few seconds of duplicate output; continuity wins.
func (p *ResilientPublisher) replayAll(ctx context.Context, proc Process) error {
	p.mu.Lock()
	entries := make([]replayEntry, len(p.replay))
	copy(entries, p.replay)
	p.mu.Unlock()

	for _, entry := range entries {
		if err := p.writeChunks(ctx, proc, entry.data); err != nil {
			return fmt.Errorf("replaying batch %d: %w", entry.batchNumber, err)
		}
		p.logger.Debug("fragment replayed", slog.Int64("batch", entry.batchNumber))
	}
	return nil
}

// appendReplay records a sent fragment, evicting oldest-first beyond
// capacity. Duplicate batch numbers collapse into one entry.
func (p *ResilientPublisher) appendReplay(batchNumber int64, data []byte) {
	if p.opts.ReplayCapacity <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.replay); n > 0 && p.replay[n-1].batchNumber == batchNumber {
		p.replay[n-1].data = data
		return
	}

	p.replay = append(p.replay, replayEntry{batchNumber: batchNumber, data: data})
	if len(p.replay) > p.opts.ReplayCapacity {
		p.replay = p.replay[len(p.replay)-p.opts.ReplayCapacity:]
	}
}

// cleanup deletes fragment files that fell out of the sliding window. The
// safety buffer keeps fragments that a replay exceeding the in-memory
// buffer might still need. Failures are logged, never escalated.
func (p *ResilientPublisher) cleanup(currentBatch int64) {
	threshold := currentBatch - int64(p.opts.MaxFragmentsToKeep) - int64(p.opts.CleanupSafetyBuffer)
	if threshold <= 0 {
		return
	}

	entries, err := os.ReadDir(p.opts.FragmentDir)
	if err != nil {
		p.logger.Warn("fragment cleanup scan failed", slog.String("error", err.Error()))
		return
	}

	for _, entry := range entries {
		var n int64
		if _, err := fmt.Sscanf(entry.Name(), "fragment-%d.ts", &n); err != nil {
			continue
		}
		if n >= threshold {
			continue
		}
		path := filepath.Join(p.opts.FragmentDir, entry.Name())
		if err := os.Remove(path); err != nil {
			p.logger.Warn("fragment cleanup failed",
				slog.Int64("batch", n),
				slog.String("error", err.Error()))
			continue
		}
		p.logger.Debug("fragment pruned", slog.Int64("batch", n))
	}
}

// Stop stops accepting fragments, closes the subprocess input, and waits
// briefly for a clean exit before force-terminating. Interrupts an
// in-progress write or reconnect wait.
func (p *ResilientPublisher) Stop() error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})

	p.mu.Lock()
	if p.state == models.PublisherStopped {
		p.mu.Unlock()
		return nil
	}
	p.state = models.PublisherStopped
	proc := p.proc
	p.proc = nil
	p.mu.Unlock()

	if proc != nil {
		proc.CloseInput()

		timeout := p.opts.StopTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		select {
		case <-proc.Done():
		case <-time.After(timeout):
			p.logger.Warn("publish process did not exit, terminating")
			proc.Terminate()
		}
	}

	p.emit(Event{Type: EventStopped})
	p.logger.Info("publisher stopped")
	return nil
}

// Status returns a snapshot of the publisher.
func (p *ResilientPublisher) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := Status{
		State:             p.state,
		IsPublishing:      p.state == models.PublisherPublishing,
		IsReconnecting:    p.state == models.PublisherReconnecting,
		PublishedCount:    p.publishedCount,
		ReconnectAttempts: p.reconnectAttempts,
		ReplayBufferSize:  len(p.replay),
		LastBatchNumber:   p.lastAccepted,
	}
	if sp, ok := p.proc.(StatsProvider); ok {
		status.Process = sp.Stats()
	}
	return status
}

// emit delivers an event without blocking. Events are advisory; if nobody
// is draining the channel the event is dropped with a warning.
func (p *ResilientPublisher) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("event dropped", slog.String("type", string(ev.Type)))
	}
}
