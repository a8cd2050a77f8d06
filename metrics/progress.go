// Package metrics - Completion counting, FPS and latency statistics for benchmark runs.
package metrics

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time view of a Progress counter.
type Snapshot struct {
	Completed int64         `json:"completed"`
	Elapsed   time.Duration `json:"elapsed"`
	FPS       float64       `json:"fps"`
}

// Defined reports whether FPS could be computed.
func (s Snapshot) Defined() bool {
	return !math.IsNaN(s.FPS)
}

// Observer receives periodic progress snapshots.
type Observer interface {
	Progress(Snapshot)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Snapshot)

// Progress implements Observer.
func (f ObserverFunc) Progress(s Snapshot) { f(s) }

// Progress is a monotonically increasing completion counter. The measurement window runs
// from the first increment to Stop, never from construction, so setup cost is excluded.
//
// Progress is safe for concurrent use.
type Progress struct {
	completed atomic.Int64

	mu      sync.Mutex
	first   time.Time
	stopped time.Time
	now     func() time.Time
}

// NewProgress creates an empty counter.
func NewProgress() *Progress {
	return &Progress{now: time.Now}
}

// Add records n completions.
func (p *Progress) Add(n int64) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	if p.first.IsZero() {
		p.first = p.now()
	}
	p.mu.Unlock()
	p.completed.Add(n)
}

// Completed returns the number of completions recorded so far.
func (p *Progress) Completed() int64 {
	return p.completed.Load()
}

// Stop closes the measurement window. Later calls are no-ops.
func (p *Progress) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped.IsZero() {
		p.stopped = p.now()
	}
}

// Snapshot computes elapsed time and FPS. Before Stop the window ends now.
//
// Returns:
//   - Snapshot: FPS is NaN when nothing completed or no time has elapsed.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	first, end := p.first, p.stopped
	p.mu.Unlock()

	completed := p.completed.Load()
	if first.IsZero() {
		return Snapshot{Completed: completed, FPS: math.NaN()}
	}
	if end.IsZero() {
		end = p.now()
	}

	elapsed := end.Sub(first)
	return Snapshot{
		Completed: completed,
		Elapsed:   elapsed,
		FPS:       FPS(completed, elapsed),
	}
}

// CollectMetrics exposes the counter to the runtime profiler.
func (p *Progress) CollectMetrics() map[string]float64 {
	s := p.Snapshot()
	m := map[string]float64{"completed": float64(s.Completed)}
	if s.Defined() {
		m["fps"] = s.FPS
	}
	return m
}

// Watch delivers a snapshot to obs every interval until ctx is done, then delivers a
// final one. It blocks; run it in its own goroutine.
func (p *Progress) Watch(ctx context.Context, interval time.Duration, obs Observer) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			obs.Progress(p.Snapshot())
			return
		case <-ticker.C:
			obs.Progress(p.Snapshot())
		}
	}
}

// FPS divides completions by elapsed seconds, returning NaN when either is zero.
func FPS(completed int64, elapsed time.Duration) float64 {
	if completed <= 0 || elapsed <= 0 {
		return math.NaN()
	}
	return float64(completed) / elapsed.Seconds()
}
