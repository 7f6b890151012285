package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Options configures the progress reporter.
type Options struct {
	// Operation names what is being done, e.g. "Splitting".
	Operation string

	// Target is the dataset or file being processed (for display).
	Target string

	// TotalPartitions is the number of partitions to transfer.
	TotalPartitions int

	// TotalSize is the expected number of bytes, 0 if unknown.
	TotalSize int64

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information. Its counters
// are safe for use from concurrent workers.
type Reporter struct {
	opts Options

	mu                  sync.Mutex
	completedBytes      atomic.Int64
	completedPartitions atomic.Int32
	failedPartitions    atomic.Int32
	inProgress          atomic.Int32
	startTime           time.Time
	lastUpdate          time.Time
	lastBytes           int64
	stopCh              chan struct{}
	doneCh              chan struct{}
	started             bool
	stopped             bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	if opts.Operation == "" {
		opts.Operation = "Transferring"
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[cfa] %s: %s\n", r.opts.Operation, r.opts.Target)
	fmt.Fprintf(r.opts.Output, "[cfa] Partitions: %d | Workers: %d\n", r.opts.TotalPartitions, r.opts.Workers)

	go r.updateLoop()
}

// Stop stops the reporter and prints the final status.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// PartitionStarted marks a partition as in progress.
func (r *Reporter) PartitionStarted() {
	r.inProgress.Add(1)
}

// BytesTransferred adds to the transferred byte count.
func (r *Reporter) BytesTransferred(n int64) {
	r.completedBytes.Add(n)
}

// PartitionCompleted marks a partition as done.
func (r *Reporter) PartitionCompleted() {
	r.completedPartitions.Add(1)
	r.inProgress.Add(-1)
}

// PartitionFailed marks a partition as failed (removes from in-progress).
func (r *Reporter) PartitionFailed() {
	r.failedPartitions.Add(1)
	r.inProgress.Add(-1)
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.completedBytes.Load()
	done := int(r.completedPartitions.Load())
	inProgress := int(r.inProgress.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed
	r.lastUpdate = now
	r.lastBytes = completed

	var percent float64
	if r.opts.TotalPartitions > 0 {
		percent = float64(done) / float64(r.opts.TotalPartitions) * 100
	}
	pending := max(r.opts.TotalPartitions-done-inProgress-int(r.failedPartitions.Load()), 0)

	fmt.Fprintf(r.opts.Output, "\r[cfa] Progress: %.1f%% | %s | Speed: %s/s | %d done, %d in-progress, %d pending    ",
		percent,
		FormatBytes(completed),
		FormatBytes(int64(speed)),
		done,
		inProgress,
		pending,
	)
}

func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / math.Max(duration.Seconds(), 1e-3)

	fmt.Fprintf(r.opts.Output, "\r[cfa] %d partitions | %d failed | %s in %s | Average speed: %s/s\n",
		r.completedPartitions.Load(),
		r.failedPartitions.Load(),
		FormatBytes(completed),
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats a byte count with IEC units, e.g. "1.5 KiB".
func FormatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable byte size. IEC suffixes (KiB, MiB)
// are powers of 1024, SI suffixes (KB, MB) powers of 1000.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("byte string %q overflows", s)
	}
	return int64(n), nil
}
