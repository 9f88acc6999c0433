package ffmpeg

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage statistics for an FFmpeg process.
type ProcessStats struct {
	PID            int32   `json:"pid"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`

	BytesWritten uint64  `json:"bytes_written"`
	WriteRateBps float64 `json:"write_rate_bps"`

	StartedAt   time.Time     `json:"started_at"`
	Uptime      time.Duration `json:"uptime"`
	LastUpdated time.Time     `json:"last_updated"`
}

// ProcessMonitor samples resource usage of a subprocess via gopsutil.
type ProcessMonitor struct {
	proc      *process.Process
	startedAt time.Time
	interval  time.Duration

	mu    sync.RWMutex
	stats ProcessStats

	bytesWritten atomic.Uint64

	lastBytes     uint64
	lastBytesTime time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for the given PID.
// Returns an error if the process does not exist.
func NewProcessMonitor(pid int32) (*ProcessMonitor, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}

	return &ProcessMonitor{
		proc:      proc,
		startedAt: time.Now(),
		interval:  time.Second,
	}, nil
}

// Start begins periodic sampling.
func (pm *ProcessMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())

	pm.mu.Lock()
	if pm.cancel != nil {
		pm.mu.Unlock()
		cancel()
		return
	}
	pm.cancel = cancel
	pm.lastBytesTime = time.Now()
	pm.mu.Unlock()

	pm.wg.Add(1)
	go pm.loop(ctx)
}

// Stop stops sampling.
func (pm *ProcessMonitor) Stop() {
	pm.mu.Lock()
	cancel := pm.cancel
	pm.cancel = nil
	pm.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	pm.wg.Wait()
}

// Stats returns the most recent sample.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stats := pm.stats
	stats.BytesWritten = pm.bytesWritten.Load()
	return stats
}

// AddBytesWritten adds to the bytes-written counter.
func (pm *ProcessMonitor) AddBytesWritten(n uint64) {
	pm.bytesWritten.Add(n)
}

func (pm *ProcessMonitor) loop(ctx context.Context) {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	pm.sample()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.sample()
		}
	}
}

func (pm *ProcessMonitor) sample() {
	now := time.Now()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stats.PID = pm.proc.Pid
	pm.stats.StartedAt = pm.startedAt
	pm.stats.Uptime = now.Sub(pm.startedAt)
	pm.stats.LastUpdated = now

	if cpuPct, err := pm.proc.CPUPercent(); err == nil {
		pm.stats.CPUPercent = cpuPct
	}
	if memInfo, err := pm.proc.MemoryInfo(); err == nil && memInfo != nil {
		pm.stats.MemoryRSSBytes = memInfo.RSS
	}

	current := pm.bytesWritten.Load()
	if elapsed := now.Sub(pm.lastBytesTime); elapsed > 0 {
		pm.stats.WriteRateBps = float64(current-pm.lastBytes) / elapsed.Seconds()
	}
	pm.lastBytes = current
	pm.lastBytesTime = now
}

// CountingWriter wraps an io.Writer and reports bytes written to a monitor.
type CountingWriter struct {
	w       io.Writer
	monitor *ProcessMonitor
}

// NewCountingWriter creates a writer that counts bytes and reports to monitor.
// The monitor may be nil, in which case counting is a no-op.
func NewCountingWriter(w io.Writer, monitor *ProcessMonitor) *CountingWriter {
	return &CountingWriter{w: w, monitor: monitor}
}

// Write implements io.Writer.
func (cw *CountingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 && cw.monitor != nil {
		cw.monitor.AddBytesWritten(uint64(n))
	}
	return n, err
}
