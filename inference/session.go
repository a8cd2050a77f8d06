// Package inference - Profiled engines.
package inference

import (
	"sync"
	"time"

	"github.com/nvr-ai/stream-bench/frames"
)

// ProfiledEngine wraps an engine and times every inference call its requests make, from
// submission to the end of Infer or Wait.
//
// This wrapper isolates device time from the queueing a runner adds on top, which is what
// separates an engine bottleneck from a scheduling one.
type ProfiledEngine struct {
	Engine

	mu        sync.RWMutex
	count     int64
	failures  int64
	totalTime time.Duration
	maxTime   time.Duration
}

// NewProfiledEngine wraps engine.
//
// Arguments:
//   - engine: The engine to profile.
//
// Returns:
//   - *ProfiledEngine: The wrapper. Closing it closes engine.
func NewProfiledEngine(engine Engine) *ProfiledEngine {
	return &ProfiledEngine{Engine: engine}
}

// NewRequest implements Engine.
func (pe *ProfiledEngine) NewRequest() (Request, error) {
	req, err := pe.Engine.NewRequest()
	if err != nil {
		return nil, err
	}
	return &profiledRequest{Request: req, engine: pe}, nil
}

func (pe *ProfiledEngine) observe(d time.Duration, err error) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	if err != nil {
		pe.failures++
		return
	}
	pe.count++
	pe.totalTime += d
	pe.maxTime = max(pe.maxTime, d)
}

// GetPerformanceMetrics returns the call statistics.
//
// Returns:
//   - map[string]float64: Call counts and times in milliseconds. The average is present only
//     once a call has completed.
func (pe *ProfiledEngine) GetPerformanceMetrics() map[string]float64 {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	m := map[string]float64{
		"inference_count":    float64(pe.count),
		"inference_failed":   float64(pe.failures),
		"inference_total_ms": float64(pe.totalTime) / float64(time.Millisecond),
		"inference_max_ms":   float64(pe.maxTime) / float64(time.Millisecond),
	}
	if pe.count > 0 {
		m["inference_avg_ms"] = m["inference_total_ms"] / float64(pe.count)
	}
	return m
}

// CollectMetrics exposes the call statistics to the runtime profiler.
func (pe *ProfiledEngine) CollectMetrics() map[string]float64 {
	return pe.GetPerformanceMetrics()
}

// ResetMetrics clears all counters.
func (pe *ProfiledEngine) ResetMetrics() {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	pe.count = 0
	pe.failures = 0
	pe.totalTime = 0
	pe.maxTime = 0
}

type profiledRequest struct {
	Request
	engine  *ProfiledEngine
	started time.Time
}

func (r *profiledRequest) Infer(frame frames.Frame) error {
	start := time.Now()
	err := r.Request.Infer(frame)
	r.engine.observe(time.Since(start), err)
	return err
}

func (r *profiledRequest) StartAsync(frame frames.Frame) error {
	r.started = time.Now()
	return r.Request.StartAsync(frame)
}

func (r *profiledRequest) Wait() error {
	err := r.Request.Wait()
	if !r.started.IsZero() {
		r.engine.observe(time.Since(r.started), err)
		r.started = time.Time{}
	}
	return err
}
