package runner

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/stream-bench/frames"
	"github.com/nvr-ai/stream-bench/inference"
	"github.com/nvr-ai/stream-bench/inference/enginetest"
	"github.com/nvr-ai/stream-bench/metrics"
)

func newTestRunner(t *testing.T, mode Mode, source *enginetest.Source, streams int, progress *metrics.Progress) Runner {
	t.Helper()
	logger := zerolog.Nop()
	r, err := New(mode, Options{
		Source:   source,
		Streams:  streams,
		Progress: progress,
		Logger:   &logger,
	})
	require.NoError(t, err)
	require.Equal(t, mode, r.Mode())
	return r
}

func jitteryEngine() *enginetest.Engine {
	return enginetest.New(enginetest.Options{
		Latency: 50 * time.Microsecond,
		Jitter:  500 * time.Microsecond,
		Slots:   4,
		Seed:    7,
	})
}

func TestParseMode(t *testing.T) {
	for _, m := range Modes() {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}

	m, err := ParseMode(" One_Decode_Multi ")
	require.NoError(t, err)
	assert.Equal(t, ModeOneDecodeMulti, m)

	_, err = ParseMode("batch")
	assert.Error(t, err)

	var decoded Mode
	require.NoError(t, decoded.UnmarshalText([]byte("multi")))
	assert.Equal(t, ModeMulti, decoded)

	_, err = Mode(42).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "Mode(42)", Mode(42).String())
}

func TestModeHint(t *testing.T) {
	assert.Equal(t, inference.HintLatency, ModeSync.Hint())
	assert.Equal(t, inference.HintThroughput, ModeAsync.Hint())
	assert.Equal(t, inference.HintThroughput, ModeOneDecodeMulti.Hint())
	assert.Equal(t, inference.HintThroughput, ModeMulti.Hint())
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(ModeSync, Options{Streams: 1})
	assert.True(t, errors.Is(err, ErrInvalidOptions))

	_, err = New(ModeMulti, Options{Source: enginetest.NewSource(1), Streams: 0})
	assert.True(t, errors.Is(err, ErrInvalidOptions))

	_, err = New(Mode(9), Options{Source: enginetest.NewSource(1), Streams: 1})
	assert.True(t, errors.Is(err, ErrInvalidOptions))
}

func TestOrderedModesPreserveFrameOrder(t *testing.T) {
	for _, mode := range []Mode{ModeSync, ModeAsync, ModeOneDecodeMulti} {
		t.Run(mode.String(), func(t *testing.T) {
			const n = 200
			engine := jitteryEngine()
			r := newTestRunner(t, mode, enginetest.NewSource(n), 4, nil)

			result, err := r.Run(context.Background(), engine)
			require.NoError(t, err)
			require.Len(t, result.Records, n)

			for i, rec := range result.Records {
				assert.Equal(t, int64(i), rec.Index)
				assert.Equal(t, int64(i), enginetest.Index(rec.Output))
			}
			for i, out := range result.Outputs() {
				assert.Equal(t, int64(i), enginetest.Index(out))
			}
			assert.Equal(t, int64(n), engine.Calls())
		})
	}
}

func TestAsyncUsesEngineSizedQueue(t *testing.T) {
	engine := enginetest.New(enginetest.Options{Latency: time.Millisecond, Slots: 3})
	r := newTestRunner(t, ModeAsync, enginetest.NewSource(30), 1, nil)

	_, err := r.Run(context.Background(), engine)
	require.NoError(t, err)
	assert.Equal(t, int64(3), engine.Requests())
	assert.LessOrEqual(t, engine.PeakConcurrency(), int64(3))
}

func TestMultiRunsIndependentStreams(t *testing.T) {
	const (
		n       = 50
		streams = 4
	)
	engine := jitteryEngine()
	source := enginetest.NewSource(n)
	progress := metrics.NewProgress()
	r := newTestRunner(t, ModeMulti, source, streams, progress)

	result, err := r.Run(context.Background(), engine)
	require.NoError(t, err)
	require.Len(t, result.Streams, streams)
	assert.Empty(t, result.Records)

	total := 0
	for _, recs := range result.Streams {
		assert.Len(t, recs, n)
		total += len(recs)
	}
	assert.Equal(t, n*streams, total)
	assert.Equal(t, total, result.Completed())
	assert.Equal(t, int64(total), progress.Completed())
	assert.Equal(t, int64(streams), source.Opened())
	assert.Equal(t, int64(streams), engine.Requests())
}

func TestCompletionCount(t *testing.T) {
	for _, mode := range Modes() {
		for _, k := range []int64{0, 1, 1000} {
			t.Run(fmt.Sprintf("%s/%d", mode, k), func(t *testing.T) {
				const streams = 3
				progress := metrics.NewProgress()
				r := newTestRunner(t, mode, enginetest.NewSource(k), streams, progress)

				result, err := r.Run(context.Background(), enginetest.New(enginetest.Options{Slots: 2}))
				require.NoError(t, err)

				want := k
				if mode == ModeMulti {
					want = k * streams
				}
				assert.Equal(t, want, progress.Completed())
				assert.Equal(t, int(want), result.Completed())
				assert.Equal(t, want, result.Snapshot.Completed)
			})
		}
	}
}

func TestZeroFrameStream(t *testing.T) {
	for _, mode := range Modes() {
		t.Run(mode.String(), func(t *testing.T) {
			r := newTestRunner(t, mode, enginetest.NewSource(0), 2, nil)

			result, err := r.Run(context.Background(), enginetest.New(enginetest.Options{}))
			require.NoError(t, err)
			assert.Zero(t, result.Completed())
			assert.False(t, result.Snapshot.Defined())
			assert.True(t, math.IsNaN(result.Snapshot.FPS))
			assert.Nil(t, result.Latency)
		})
	}
}

func TestPipelineBackpressure(t *testing.T) {
	for _, streams := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("streams=%d", streams), func(t *testing.T) {
			engine := jitteryEngine()
			r := newTestRunner(t, ModeOneDecodeMulti, enginetest.NewSource(300), streams, nil)

			result, err := r.Run(context.Background(), engine)
			require.NoError(t, err)
			assert.LessOrEqual(t, result.PeakInFlight, streams)
			assert.GreaterOrEqual(t, result.PeakInFlight, 1)
			assert.LessOrEqual(t, engine.PeakConcurrency(), int64(streams))
			assert.LessOrEqual(t, engine.Requests(), int64(streams))
		})
	}
}

// outstandingSource records, each time the producer asks for a frame, how many frames it
// has already been handed that the drainer has not yet completed.
type outstandingSource struct {
	*enginetest.Source
	progress *metrics.Progress
	peak     atomic.Int64
}

func (s *outstandingSource) Open(ctx context.Context) (frames.Stream, error) {
	stream, err := s.Source.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &outstandingStream{Stream: stream, source: s}, nil
}

type outstandingStream struct {
	frames.Stream
	source   *outstandingSource
	produced int64
}

func (s *outstandingStream) Next() (frames.Frame, error) {
	outstanding := s.produced - s.source.progress.Completed()
	for {
		p := s.source.peak.Load()
		if outstanding <= p || s.source.peak.CompareAndSwap(p, outstanding) {
			break
		}
	}
	f, err := s.Stream.Next()
	if err == nil {
		s.produced++
	}
	return f, err
}

func TestPipelineBoundsUndrainedFrames(t *testing.T) {
	for _, streams := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("streams=%d", streams), func(t *testing.T) {
			progress := metrics.NewProgress()
			source := &outstandingSource{Source: enginetest.NewSource(120), progress: progress}
			// Every tenth frame stalls at the head of the FIFO while the rest finish fast.
			engine := enginetest.New(enginetest.Options{
				Delay: func(index int64) time.Duration {
					if index%10 == 0 {
						return 3 * time.Millisecond
					}
					return 0
				},
			})

			logger := zerolog.Nop()
			r, err := New(ModeOneDecodeMulti, Options{
				Source:   source,
				Streams:  streams,
				Progress: progress,
				Logger:   &logger,
			})
			require.NoError(t, err)

			result, err := r.Run(context.Background(), engine)
			require.NoError(t, err)
			require.Equal(t, 120, result.Completed())
			assert.GreaterOrEqual(t, source.peak.Load(), int64(1))
			assert.LessOrEqual(t, source.peak.Load(), int64(streams))
		})
	}
}

func TestPipelineLatency(t *testing.T) {
	const n = 100
	r := newTestRunner(t, ModeOneDecodeMulti, enginetest.NewSource(n), 4, nil)

	result, err := r.Run(context.Background(), jitteryEngine())
	require.NoError(t, err)
	require.NotNil(t, result.Latency)
	require.Len(t, result.Samples, n)

	for _, ms := range result.Samples {
		assert.GreaterOrEqual(t, ms, 0.0)
	}
	for _, rec := range result.Records {
		assert.GreaterOrEqual(t, rec.Latency(), time.Duration(0))
	}
	assert.Equal(t, n, result.Latency.Count)
	assert.LessOrEqual(t, result.Latency.Min, result.Latency.Mean)
	assert.LessOrEqual(t, result.Latency.Mean, result.Latency.Max)
}

func TestUntimedModesReportNoLatency(t *testing.T) {
	for _, mode := range []Mode{ModeSync, ModeAsync, ModeMulti} {
		t.Run(mode.String(), func(t *testing.T) {
			r := newTestRunner(t, mode, enginetest.NewSource(10), 2, nil)
			result, err := r.Run(context.Background(), enginetest.New(enginetest.Options{}))
			require.NoError(t, err)
			assert.Nil(t, result.Latency)
			assert.Empty(t, result.Samples)
		})
	}
}

func TestEngineFailureAbortsRun(t *testing.T) {
	for _, mode := range Modes() {
		t.Run(mode.String(), func(t *testing.T) {
			const (
				n       = 100
				streams = 3
			)
			engine := enginetest.New(enginetest.Options{
				Latency: 100 * time.Microsecond,
				Jitter:  200 * time.Microsecond,
				FailOn:  5,
				Slots:   2,
			})
			progress := metrics.NewProgress()
			r := newTestRunner(t, mode, enginetest.NewSource(n), streams, progress)

			result, err := r.Run(context.Background(), engine)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, enginetest.ErrInjected))
			assert.True(t, inference.IsEngineFailure(err))

			attempted := int64(n)
			if mode == ModeMulti {
				attempted = n * streams
			}
			assert.Less(t, progress.Completed(), attempted)
			assert.Less(t, engine.Calls(), attempted)
		})
	}
}

func TestCancelledContext(t *testing.T) {
	for _, mode := range Modes() {
		t.Run(mode.String(), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			engine := enginetest.New(enginetest.Options{})
			r := newTestRunner(t, mode, enginetest.NewSource(10), 2, nil)

			result, err := r.Run(ctx, engine)
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, context.Canceled))
			assert.Zero(t, engine.Calls())
		})
	}
}
