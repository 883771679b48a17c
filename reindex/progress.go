package reindex

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Progress receives progress updates from a Rebuilder.
// Implementations must be safe for concurrent use.
type Progress interface {
	// Start announces how many documents the run will visit.
	Start(total int)
	// Increment reports delta more documents visited.
	Increment(delta int)
	// Finish marks the run complete.
	Finish()
}

type noopProgress struct{}

func (noopProgress) Start(int)     {}
func (noopProgress) Increment(int) {}
func (noopProgress) Finish()       {}

// ProgressTracker writes a single, carriage-return updated progress line.
type ProgressTracker struct {
	writer         io.Writer
	total          int
	current        int
	reportInterval int
	lastReported   int
	startTime      time.Time
	started        bool
	mu             sync.Mutex
}

var _ Progress = (*ProgressTracker)(nil)

// NewProgressTracker creates a tracker reporting to writer every reportInterval documents.
func NewProgressTracker(writer io.Writer, reportInterval int) *ProgressTracker {
	return &ProgressTracker{
		writer:         writer,
		reportInterval: max(reportInterval, 1),
	}
}

// Start begins tracking a run over total documents.
func (p *ProgressTracker) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.total = total
	p.current = 0
	p.lastReported = 0
}

// Increment increases the current progress by delta, capped at the total.
func (p *ProgressTracker) Increment(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.current = min(p.current+delta, p.total)
	if p.current-p.lastReported >= p.reportInterval {
		p.report()
		p.lastReported = p.current
	}
}

// Finish prints the final line.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.current = p.total
	p.report()
	fmt.Fprintln(p.writer)
}

// Elapsed returns the time elapsed since Start was called.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

// report prints the current progress. Must be called with lock held.
func (p *ProgressTracker) report() {
	elapsed := time.Since(p.startTime)
	rate := float64(p.current) / elapsed.Seconds()

	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100.0
	}

	fmt.Fprintf(p.writer, "\rReindex: %d/%d (%.1f%%) - %.1f documents/s",
		p.current, p.total, percentage, rate)
}
