// Package benchmark - Functionality for running scenario suites and persisting results.
package benchmark

import (
	"time"

	"github.com/nvr-ai/stream-bench/metrics"
	"github.com/nvr-ai/stream-bench/profiler"
)

// PerformanceMetrics captures the outcome of one scenario.
type PerformanceMetrics struct {
	Scenario  Scenario  `json:"scenario"`
	Timestamp time.Time `json:"timestamp"`
	// Wall is the time spent in the runner, including setup and drain.
	Wall      time.Duration `json:"wall"`
	Completed int64         `json:"completed"`
	// Elapsed is the measurement window from the first frame to the last completion.
	Elapsed time.Duration `json:"elapsed"`
	// FramesPerSecond is nil when no frame completed.
	FramesPerSecond *float64                `json:"frames_per_second"`
	Latency         *metrics.LatencySummary `json:"latency,omitempty"`
	PeakInFlight    int                     `json:"peak_in_flight,omitempty"`
	Engine          map[string]float64      `json:"engine"`
	MemoryStats     MemoryMetrics           `json:"memory_stats"`
	CPUStats        CPUMetrics              `json:"cpu_stats"`
	// Samples are the per-frame latencies behind Latency, plotted by SaveResults.
	Samples []float64 `json:"-"`
}

// FPS returns the throughput, or zero when it is undefined.
func (m PerformanceMetrics) FPS() float64 {
	if m.FramesPerSecond == nil {
		return 0
	}
	return *m.FramesPerSecond
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	HeapAllocBytes     uint64 `json:"heap_alloc_bytes"`
	PeakHeapAllocBytes uint64 `json:"peak_heap_alloc_bytes"`
	TotalAllocBytes    uint64 `json:"total_alloc_bytes"`
	SysBytes           uint64 `json:"sys_bytes"`
	NumGC              uint32 `json:"num_gc"`
}

// CPUMetrics captures scheduler statistics
type CPUMetrics struct {
	NumCPU         int     `json:"num_cpu"`
	GOMAXPROCS     int     `json:"gomaxprocs"`
	PeakGoroutines int     `json:"peak_goroutines"`
	CgoCalls       int64   `json:"cgo_calls"`
	GCCPUFraction  float64 `json:"gc_cpu_fraction"`
}

func newMemoryMetrics(start, end profiler.Stats) MemoryMetrics {
	return MemoryMetrics{
		HeapAllocBytes:     end.Memory.HeapAlloc,
		PeakHeapAllocBytes: end.Memory.PeakHeapAlloc,
		TotalAllocBytes:    end.Memory.TotalAlloc - start.Memory.TotalAlloc,
		SysBytes:           end.Memory.Sys,
		NumGC:              end.Memory.GCCycles - start.Memory.GCCycles,
	}
}

func newCPUMetrics(start, end profiler.Stats, numCPU, procs int) CPUMetrics {
	return CPUMetrics{
		NumCPU:         numCPU,
		GOMAXPROCS:     procs,
		PeakGoroutines: end.PeakGoroutines,
		CgoCalls:       end.CgoCalls - start.CgoCalls,
		GCCPUFraction:  end.Memory.GCCPUFraction,
	}
}
