// Package publisher maintains the continuous push connection to the live
// ingest endpoint. Fragments are streamed to an external publishing
// subprocess in strict batch-number order, with automatic reconnection and
// replay on transient failure.
package publisher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/ffmpeg"
)

// Process is a handle to a running publishing subprocess. Writes block when
// the subprocess input buffer is full, which is the backpressure signal.
type Process interface {
	// Write sends bytes to the subprocess input. Blocks until the
	// subprocess drains enough to accept them.
	Write(p []byte) (int, error)

	// CloseInput closes the subprocess input for a clean shutdown.
	CloseInput() error

	// Done is closed when the subprocess exits. Exit errors are reported
	// via Err after Done is closed.
	Done() <-chan struct{}

	// Err returns the exit error, valid after Done is closed.
	Err() error

	// Terminate forcibly stops the subprocess.
	Terminate() error
}

// Runner spawns publishing subprocesses. One Process per connection
// attempt.
type Runner interface {
	Start(ctx context.Context) (Process, error)
}

// StatsProvider is implemented by processes that expose resource usage.
type StatsProvider interface {
	Stats() ffmpeg.ProcessStats
}

// FFmpegRunner spawns an FFmpeg process that reads MPEG-TS from stdin and
// pushes FLV to the ingest endpoint.
type FFmpegRunner struct {
	binaryPath  string
	pushAddress string
	logger      *slog.Logger
}

// NewFFmpegRunner creates a runner pushing to the given address. The
// address includes the stream key and must not be logged.
func NewFFmpegRunner(binaryPath, pushAddress string, logger *slog.Logger) *FFmpegRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegRunner{
		binaryPath:  binaryPath,
		pushAddress: pushAddress,
		logger:      logger.With(slog.String("component", "ffmpeg-runner")),
	}
}

// Start spawns the publishing process with stdin connected.
func (r *FFmpegRunner) Start(ctx context.Context) (Process, error) {
	cmd := ffmpeg.NewCommandBuilder(r.binaryPath).
		HideBanner().
		RealtimeInput().
		PipeInput("mpegts").
		VideoCodec("copy").
		AudioCodec("copy").
		FLVArgs().
		FlushPackets().
		Output(r.pushAddress).
		Build()

	stdin, err := cmd.StartWithStdin(ctx)
	if err != nil {
		return nil, fmt.Errorf("spawning publish process: %w", err)
	}

	proc := &ffmpegProcess{
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan struct{}),
	}

	if monitor, merr := ffmpeg.NewProcessMonitor(int32(cmd.PID())); merr == nil {
		monitor.Start()
		proc.monitor = monitor
	}
	proc.in = ffmpeg.NewCountingWriter(stdin, proc.monitor)

	go func() {
		proc.err = cmd.Wait()
		if proc.monitor != nil {
			proc.monitor.Stop()
		}
		close(proc.done)
	}()

	r.logger.Info("publish process started", slog.Int("pid", cmd.PID()))
	return proc, nil
}

// ffmpegProcess adapts an ffmpeg.Command to the Process interface.
type ffmpegProcess struct {
	cmd     *ffmpeg.Command
	stdin   io.WriteCloser
	in      io.Writer
	monitor *ffmpeg.ProcessMonitor

	done chan struct{}
	err  error
}

func (p *ffmpegProcess) Write(b []byte) (int, error) {
	return p.in.Write(b)
}

func (p *ffmpegProcess) CloseInput() error {
	return p.stdin.Close()
}

func (p *ffmpegProcess) Done() <-chan struct{} {
	return p.done
}

func (p *ffmpegProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *ffmpegProcess) Terminate() error {
	err := p.cmd.Kill()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
	}
	return err
}

// Stats returns subprocess resource usage when monitoring is available.
func (p *ffmpegProcess) Stats() ffmpeg.ProcessStats {
	if p.monitor == nil {
		return ffmpeg.ProcessStats{}
	}
	return p.monitor.Stats()
}
