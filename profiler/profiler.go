package profiler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// RuntimeProfiler samples process resources and registered collectors while a benchmark
// runs and emits periodic reports.
//
// The profiler is safe for concurrent use. Start and Stop may be called once each.
type RuntimeProfiler struct {
	reportInterval time.Duration
	sampleInterval time.Duration
	log            zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	startTime time.Time
	running   bool

	memStats       runtime.MemStats
	peakHeap       uint64
	peakGoroutines int
	lastGCCount    uint32
	samples        int
	maxSamples     int

	customMetrics  map[string]*MetricTracker
	collectors     []MetricsCollector
	operationTimes map[string]*TimeTracker
}

// MetricTracker tracks statistics for a custom metric over a sliding window.
type MetricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

func newMetricTracker(first float64, capacity int) *MetricTracker {
	return &MetricTracker{values: make([]float64, 0, capacity), min: first, max: first}
}

func (t *MetricTracker) add(value float64, window int) {
	t.values = append(t.values, value)
	if len(t.values) > window {
		t.sum -= t.values[0]
		t.values = t.values[1:]
	}
	t.sum += value
	t.count++
	t.min = min(t.min, value)
	t.max = max(t.max, value)
}

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to emit status reports (default: 2s). Negative
	// disables periodic reports.
	ReportInterval time.Duration
	// SampleInterval specifies how often to collect samples (default: 100ms)
	SampleInterval time.Duration
	// MaxSamples specifies the sliding window of custom metric samples (default: 600)
	MaxSamples int
	Logger     *zerolog.Logger
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
//
// Arguments:
// - opts: Configuration options for the profiler
//
// Returns:
// - A configured RuntimeProfiler instance
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval == 0 {
		opts.ReportInterval = 2 * time.Second
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 100 * time.Millisecond
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		log:            logger.With().Str("component", "profiler").Logger(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		maxSamples:     opts.MaxSamples,
		customMetrics:  make(map[string]*MetricTracker),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// Start takes a baseline sample and begins sampling and, when enabled, periodic
// reporting.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	if rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = true
	rp.startTime = time.Now()
	rp.mu.Unlock()

	rp.sample()

	rp.wg.Add(1)
	go rp.loop(rp.sampleInterval, rp.sample)

	if rp.reportInterval > 0 {
		rp.wg.Add(1)
		go rp.loop(rp.reportInterval, rp.emitStatusReport)
	}
}

// Stop takes a final sample and waits for all goroutines to complete.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	rp.mu.Unlock()

	rp.cancel()
	rp.wg.Wait()
	rp.sample()
}

func (rp *RuntimeProfiler) loop(interval time.Duration, fn func()) {
	defer rp.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rp.ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// AddMetricsCollector registers a custom metrics collector sampled on every tick.
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records a custom metric value.
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.recordLocked(name, value)
}

func (rp *RuntimeProfiler) recordLocked(name string, value float64) {
	tracker, ok := rp.customMetrics[name]
	if !ok {
		tracker = newMetricTracker(value, rp.maxSamples)
		rp.customMetrics[name] = tracker
	}
	tracker.add(value, rp.maxSamples)
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		rp.recordOperationTime(name, time.Since(start))
	}
}

func (rp *RuntimeProfiler) recordOperationTime(name string, d time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, ok := rp.operationTimes[name]
	if !ok {
		tracker = &TimeTracker{minTime: d, maxTime: d}
		rp.operationTimes[name] = tracker
	}
	tracker.totalTime += d
	tracker.count++
	tracker.minTime = min(tracker.minTime, d)
	tracker.maxTime = max(tracker.maxTime, d)
}

// sample reads memory statistics and polls every collector. Collectors are called
// outside the lock so that they may take their own.
func (rp *RuntimeProfiler) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()

	rp.mu.RLock()
	collectors := append([]MetricsCollector(nil), rp.collectors...)
	rp.mu.RUnlock()

	collected := make([]map[string]float64, 0, len(collectors))
	for _, c := range collectors {
		collected = append(collected, c.CollectMetrics())
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	rp.memStats = mem
	rp.samples++
	rp.peakHeap = max(rp.peakHeap, mem.HeapAlloc)
	rp.peakGoroutines = max(rp.peakGoroutines, goroutines)
	for _, metrics := range collected {
		for name, value := range metrics {
			rp.recordLocked(name, value)
		}
	}
}

// emitStatusReport logs a status report.
func (rp *RuntimeProfiler) emitStatusReport() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	ev := rp.log.Info().
		Dur("uptime", time.Since(rp.startTime).Truncate(time.Millisecond)).
		Int("goroutines", runtime.NumGoroutine()).
		Str("heap_alloc", formatBytes(rp.memStats.HeapAlloc)).
		Str("sys", formatBytes(rp.memStats.Sys)).
		Uint64("heap_objects", rp.memStats.HeapObjects)
	if rp.memStats.NumGC > rp.lastGCCount {
		ev = ev.Uint32("gc_new", rp.memStats.NumGC-rp.lastGCCount).
			Float64("gc_cpu_pct", rp.memStats.GCCPUFraction*100)
		rp.lastGCCount = rp.memStats.NumGC
	}
	for name, tracker := range rp.customMetrics {
		if n := len(tracker.values); n > 0 {
			ev = ev.Float64(name, tracker.values[n-1])
		}
	}
	ev.Msg("runtime status")

	for name, tracker := range rp.operationTimes {
		if tracker.count > 0 {
			rp.log.Debug().
				Str("operation", name).
				Dur("avg", tracker.totalTime/time.Duration(tracker.count)).
				Dur("min", tracker.minTime).
				Dur("max", tracker.maxTime).
				Int64("count", tracker.count).
				Msg("operation timing")
		}
	}
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// MemoryStats is the memory part of a Stats snapshot.
type MemoryStats struct {
	HeapAlloc     uint64  `json:"heap_alloc"`
	PeakHeapAlloc uint64  `json:"peak_heap_alloc"`
	TotalAlloc    uint64  `json:"total_alloc"`
	Sys           uint64  `json:"sys"`
	HeapObjects   uint64  `json:"heap_objects"`
	GCCycles      uint32  `json:"gc_cycles"`
	GCCPUFraction float64 `json:"gc_cpu_fraction"`
}

// MetricStats summarizes a custom metric window.
type MetricStats struct {
	Last    float64 `json:"last"`
	Avg     float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

// OperationStats summarizes an operation's timings.
type OperationStats struct {
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Count int64         `json:"count"`
}

// Stats is a snapshot of everything the profiler has observed.
type Stats struct {
	Uptime         time.Duration             `json:"uptime"`
	Goroutines     int                       `json:"goroutines"`
	PeakGoroutines int                       `json:"peak_goroutines"`
	CgoCalls       int64                     `json:"cgo_calls"`
	Samples        int                       `json:"samples"`
	Memory         MemoryStats               `json:"memory"`
	Custom         map[string]MetricStats    `json:"custom_metrics"`
	Operations     map[string]OperationStats `json:"operations"`
}

// GetCurrentStats returns the current profiling statistics as a snapshot.
func (rp *RuntimeProfiler) GetCurrentStats() Stats {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	stats := Stats{
		Uptime:         time.Since(rp.startTime),
		Goroutines:     runtime.NumGoroutine(),
		PeakGoroutines: rp.peakGoroutines,
		CgoCalls:       runtime.NumCgoCall(),
		Samples:        rp.samples,
		Memory: MemoryStats{
			HeapAlloc:     rp.memStats.HeapAlloc,
			PeakHeapAlloc: rp.peakHeap,
			TotalAlloc:    rp.memStats.TotalAlloc,
			Sys:           rp.memStats.Sys,
			HeapObjects:   rp.memStats.HeapObjects,
			GCCycles:      rp.memStats.NumGC,
			GCCPUFraction: rp.memStats.GCCPUFraction,
		},
		Custom:     make(map[string]MetricStats, len(rp.customMetrics)),
		Operations: make(map[string]OperationStats, len(rp.operationTimes)),
	}

	for name, t := range rp.customMetrics {
		n := len(t.values)
		if n == 0 {
			continue
		}
		stats.Custom[name] = MetricStats{
			Last:    t.values[n-1],
			Avg:     t.sum / float64(n),
			Min:     t.min,
			Max:     t.max,
			Samples: n,
		}
	}
	for name, t := range rp.operationTimes {
		stats.Operations[name] = OperationStats{
			Avg:   t.totalTime / time.Duration(t.count),
			Min:   t.minTime,
			Max:   t.maxTime,
			Count: t.count,
		}
	}
	return stats
}
