package profiler

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	n atomic.Int64
}

func (c *counter) CollectMetrics() map[string]float64 {
	return map[string]float64{"completed": float64(c.n.Add(1))}
}

func TestRuntimeProfilerSamplesCollectors(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	rp := NewRuntimeProfiler(ProfilingOptions{
		ReportInterval: 5 * time.Millisecond,
		SampleInterval: time.Millisecond,
		Logger:         &logger,
	})

	c := &counter{}
	rp.AddMetricsCollector(c)
	rp.Start()
	rp.Start()
	time.Sleep(30 * time.Millisecond)
	rp.Stop()
	rp.Stop()

	stats := rp.GetCurrentStats()
	require.Contains(t, stats.Custom, "completed")
	completed := stats.Custom["completed"]
	assert.GreaterOrEqual(t, completed.Samples, 2)
	assert.Equal(t, 1.0, completed.Min)
	assert.Equal(t, completed.Max, completed.Last)
	assert.GreaterOrEqual(t, stats.Samples, 2)
	assert.Positive(t, stats.Memory.PeakHeapAlloc)
	assert.Positive(t, stats.PeakGoroutines)
	assert.Contains(t, buf.String(), "runtime status")
}

func TestRecordMetricWindow(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{MaxSamples: 3, ReportInterval: -1})
	for _, v := range []float64{10, 1, 2, 3} {
		rp.RecordMetric("fps", v)
	}

	s := rp.GetCurrentStats().Custom["fps"]
	assert.Equal(t, 3, s.Samples)
	assert.InDelta(t, 2.0, s.Avg, 1e-9)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 10.0, s.Max)
	assert.Equal(t, 3.0, s.Last)
}

func TestStartOperation(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{ReportInterval: -1})
	for i := 0; i < 3; i++ {
		done := rp.StartOperation("run")
		time.Sleep(time.Millisecond)
		done()
	}

	op := rp.GetCurrentStats().Operations["run"]
	assert.Equal(t, int64(3), op.Count)
	assert.GreaterOrEqual(t, op.Min, time.Millisecond)
	assert.LessOrEqual(t, op.Min, op.Avg)
	assert.LessOrEqual(t, op.Avg, op.Max)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2<<20))
}
