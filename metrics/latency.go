package metrics

import (
	"math"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LatencySummary aggregates per-frame latencies in milliseconds.
type LatencySummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min_ms"`
	Mean  float64 `json:"mean_ms"`
	Max   float64 `json:"max_ms"`
	P50   float64 `json:"p50_ms"`
	P90   float64 `json:"p90_ms"`
	P99   float64 `json:"p99_ms"`
}

// Latencies collects per-frame latency samples. It is safe for concurrent use.
type Latencies struct {
	mu      sync.Mutex
	samples []float64
}

// NewLatencies creates an empty collector with room for capacity samples.
func NewLatencies(capacity int) *Latencies {
	return &Latencies{samples: make([]float64, 0, max(capacity, 0))}
}

// Add records one latency in milliseconds.
func (l *Latencies) Add(ms float64) {
	l.mu.Lock()
	l.samples = append(l.samples, ms)
	l.mu.Unlock()
}

// Observe records the latency between submission and completion.
func (l *Latencies) Observe(start, end time.Time) {
	l.Add(Milliseconds(end.Sub(start)))
}

// Len returns the number of samples.
func (l *Latencies) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

// Samples returns a copy of the samples in recording order.
func (l *Latencies) Samples() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.samples)
}

// Summary computes min, mean, max and percentiles.
//
// Returns:
//   - LatencySummary: All statistics are NaN when there are no samples.
func (l *Latencies) Summary() LatencySummary {
	return Summarize(l.Samples())
}

// Summarize computes a LatencySummary over samples without modifying them.
func Summarize(samples []float64) LatencySummary {
	if len(samples) == 0 {
		nan := math.NaN()
		return LatencySummary{Min: nan, Mean: nan, Max: nan, P50: nan, P90: nan, P99: nan}
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	return LatencySummary{
		Count: len(sorted),
		Min:   floats.Min(sorted),
		Mean:  stat.Mean(sorted, nil),
		Max:   floats.Max(sorted),
		P50:   stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P90:   stat.Quantile(0.90, stat.Empirical, sorted, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
}

// Milliseconds converts a duration to fractional milliseconds.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
