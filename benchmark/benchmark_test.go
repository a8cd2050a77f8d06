package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
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
	"github.com/nvr-ai/stream-bench/runner"
)

type recordingSink struct {
	mu      sync.Mutex
	reports []metrics.Report
}

func (s *recordingSink) Report(r metrics.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func testScenario(name string, mode runner.Mode, streams int) Scenario {
	return NewScenarioBuilder(name).
		WithMode(mode).
		WithStreams(streams).
		WithDuration(time.Second).
		WithSynthetic(true).
		WithModel("resnet18").
		Build()
}

func newTestSuite(t *testing.T, frameCount int64, engines EngineFactory, sink metrics.Sink) *Suite {
	t.Helper()
	if engines == nil {
		engines = func(Scenario) (inference.Engine, error) {
			return enginetest.New(enginetest.Options{Latency: 20 * time.Microsecond, Slots: 4}), nil
		}
	}
	logger := zerolog.Nop()
	suite, err := NewSuite(SuiteOptions{
		Engines: engines,
		Sources: func(Scenario) (frames.Source, error) {
			return enginetest.NewSource(frameCount), nil
		},
		OutputDir: t.TempDir(),
		Sink:      sink,
		Logger:    &logger,
	})
	require.NoError(t, err)
	return suite
}

func TestScenarioBuilder(t *testing.T) {
	scenario := NewScenarioBuilder("test_scenario").
		WithMode(runner.ModeOneDecodeMulti).
		WithStreams(3).
		WithDuration(5 * time.Second).
		WithMaxFrames(100).
		WithSynthetic(true).
		WithModel("mobilenet_v3_large").
		WithPrecision(inference.PrecisionFP16).
		WithDevice("GPU").
		Build()

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, runner.ModeOneDecodeMulti, scenario.Mode)
	assert.Equal(t, 3, scenario.Streams)
	assert.Equal(t, 5*time.Second, scenario.Duration.Std())
	assert.Equal(t, int64(100), scenario.MaxFrames)
	assert.True(t, scenario.Synthetic)
	assert.Equal(t, "mobilenet_v3_large", scenario.Model)
	assert.Equal(t, inference.PrecisionFP16, scenario.Precision)
	assert.Equal(t, "GPU", scenario.Device)
	require.NoError(t, scenario.Validate())

	defaults := NewScenarioBuilder("defaults").Build()
	assert.Equal(t, runner.ModeSync, defaults.Mode)
	assert.Equal(t, time.Minute, defaults.Duration.Std())
	assert.Equal(t, inference.PrecisionINT8, defaults.Precision)
	assert.Equal(t, "CPU", defaults.Device)
	assert.GreaterOrEqual(t, defaults.Streams, 1)
}

func TestScenarioValidate(t *testing.T) {
	cases := map[string]func(s *Scenario){
		"empty name":      func(s *Scenario) { s.Name = "" },
		"invalid mode":    func(s *Scenario) { s.Mode = runner.Mode(9) },
		"zero streams":    func(s *Scenario) { s.Streams = 0 },
		"zero duration":   func(s *Scenario) { s.Duration = 0 },
		"negative frames": func(s *Scenario) { s.MaxFrames = -1 },
		"unknown model":   func(s *Scenario) { s.Model = "yolov8n" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := testScenario("s", runner.ModeSync, 1)
			mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidScenario))
		})
	}
}

func TestScenarioFrameOptions(t *testing.T) {
	s := testScenario("s", runner.ModeSync, 1)
	s.MaxFrames = 7

	opts, err := s.FrameOptions()
	require.NoError(t, err)
	assert.Equal(t, frames.Shape{Channels: 3, Height: 224, Width: 224}, opts.Shape)
	assert.Equal(t, time.Second, opts.Duration)
	assert.Equal(t, int64(7), opts.MaxFrames)
	assert.True(t, opts.Synthetic)
	assert.Len(t, opts.Normalization.Mean, 3)
	require.NoError(t, opts.Validate())
}

func TestPredefinedScenarios(t *testing.T) {
	predefined := &PredefinedScenarios{}
	base := testScenario("resnet", runner.ModeSync, 4)

	modes := predefined.ModeComparison(base)
	require.Len(t, modes.Scenarios, len(runner.Modes()))
	for i, mode := range runner.Modes() {
		assert.Equal(t, mode, modes.Scenarios[i].Mode)
		assert.Equal(t, "resnet_"+mode.String(), modes.Scenarios[i].Name)
		assert.Equal(t, 4, modes.Scenarios[i].Streams)
	}
	assert.Contains(t, modes.Name, "Mode Comparison")

	streamCounts := func(set *ScenarioSet) []int {
		var out []int
		for _, s := range set.Scenarios {
			assert.Equal(t, runner.ModeMulti, s.Mode)
			out = append(out, s.Streams)
		}
		return out
	}
	assert.Equal(t, []int{1, 2, 4, 6}, streamCounts(predefined.StreamScaling(base, runner.ModeMulti, 6)))
	assert.Equal(t, []int{1, 2, 4}, streamCounts(predefined.StreamScaling(base, runner.ModeMulti, 4)))
	assert.Equal(t, []int{1}, streamCounts(predefined.StreamScaling(base, runner.ModeMulti, 1)))
}

func TestScenarioSetFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "scenarios.json")
	set := (&PredefinedScenarios{}).ModeComparison(testScenario("cmp", runner.ModeSync, 2))
	require.NoError(t, SaveScenarioSet(set, file))

	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"mode": "one_decode_multi"`)
	assert.Contains(t, string(raw), `"duration": "1s"`)

	loaded, err := LoadScenarioSet(file)
	require.NoError(t, err)
	assert.Equal(t, set, loaded)

	require.NoError(t, os.WriteFile(file, []byte(`{"scenarios":[{"name":"x","mode":"batch"}]}`), 0o644))
	_, err = LoadScenarioSet(file)
	assert.Error(t, err)
}

func TestScenarioDurationText(t *testing.T) {
	file := filepath.Join(t.TempDir(), "edited.json")
	edited := `{"name":"edited","scenarios":[{"name":"long","mode":"multi","streams":2,"duration":"1m30s","model":"resnet18","precision":"FP32","device":"CPU"}]}`
	require.NoError(t, os.WriteFile(file, []byte(edited), 0o644))

	set, err := LoadScenarioSet(file)
	require.NoError(t, err)
	require.Len(t, set.Scenarios, 1)
	assert.Equal(t, 90*time.Second, set.Scenarios[0].Duration.Std())
	assert.Equal(t, "1m30s", set.Scenarios[0].Duration.String())

	var d Duration
	assert.Error(t, d.UnmarshalText([]byte("60000000000")))
}

func TestNewSuiteRequiresFactories(t *testing.T) {
	_, err := NewSuite(SuiteOptions{})
	assert.Error(t, err)
}

func TestRunScenarioEveryMode(t *testing.T) {
	const frameCount = 40
	sink := &recordingSink{}
	suite := newTestSuite(t, frameCount, nil, sink)

	for _, mode := range runner.Modes() {
		t.Run(mode.String(), func(t *testing.T) {
			m, err := suite.RunScenario(context.Background(), testScenario("s", mode, 3))
			require.NoError(t, err)

			want := int64(frameCount)
			if mode == runner.ModeMulti {
				want *= 3
			}
			assert.Equal(t, want, m.Completed)
			require.NotNil(t, m.FramesPerSecond)
			assert.Positive(t, m.FPS())
			assert.Positive(t, m.Elapsed)
			assert.GreaterOrEqual(t, m.Wall, m.Elapsed)
			assert.Equal(t, float64(want), m.Engine["inference_count"])
			assert.Zero(t, m.Engine["inference_failed"])
			assert.Positive(t, m.CPUStats.NumCPU)
			assert.Positive(t, m.CPUStats.PeakGoroutines)
			assert.Positive(t, m.MemoryStats.PeakHeapAllocBytes)

			if mode == runner.ModeOneDecodeMulti {
				require.NotNil(t, m.Latency)
				assert.Equal(t, frameCount, m.Latency.Count)
				assert.Len(t, m.Samples, frameCount)
				assert.LessOrEqual(t, m.PeakInFlight, 3)
			} else {
				assert.Nil(t, m.Latency)
				assert.Empty(t, m.Samples)
			}
		})
	}

	require.Len(t, sink.reports, len(runner.Modes()))
	for i, mode := range runner.Modes() {
		assert.Equal(t, mode.String(), sink.reports[i].Mode)
		assert.Equal(t, 3, sink.reports[i].Streams)
	}
	assert.Empty(t, suite.GetResults())
}

func TestRunScenarioZeroFrames(t *testing.T) {
	suite := newTestSuite(t, 0, nil, nil)

	m, err := suite.RunScenario(context.Background(), testScenario("empty", runner.ModeAsync, 2))
	require.NoError(t, err)
	assert.Zero(t, m.Completed)
	assert.Nil(t, m.FramesPerSecond)
	assert.Zero(t, m.FPS())

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"frames_per_second":null`)
}

func TestRunScenarioEngineFailure(t *testing.T) {
	suite := newTestSuite(t, 100, func(Scenario) (inference.Engine, error) {
		return enginetest.New(enginetest.Options{FailOn: 5, Slots: 2}), nil
	}, nil)

	m, err := suite.RunScenario(context.Background(), testScenario("failing", runner.ModeOneDecodeMulti, 2))
	assert.Nil(t, m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, enginetest.ErrInjected))
	assert.True(t, inference.IsEngineFailure(err))
}

func TestRunAllScenarios(t *testing.T) {
	engines := func(s Scenario) (inference.Engine, error) {
		if s.Mode == runner.ModeAsync {
			return nil, errors.New("no async device")
		}
		return enginetest.New(enginetest.Options{Slots: 2}), nil
	}
	suite := newTestSuite(t, 25, engines, nil)
	suite.AddScenarioSet((&PredefinedScenarios{}).ModeComparison(testScenario("cmp", runner.ModeSync, 2)))
	require.Len(t, suite.Scenarios(), 4)

	err := suite.RunAllScenarios(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cmp_async")

	results := suite.GetResults()
	require.Len(t, results, 3)
	assert.Equal(t, "cmp_sync", results[0].Scenario.Name)
	assert.Equal(t, "cmp_one_decode_multi", results[1].Scenario.Name)
	assert.Equal(t, "cmp_multi", results[2].Scenario.Name)

	jsonFiles, err := filepath.Glob(filepath.Join(suite.outputDir, "benchmark_results_*.json"))
	require.NoError(t, err)
	require.Len(t, jsonFiles, 1)
	data, err := os.ReadFile(jsonFiles[0])
	require.NoError(t, err)
	var saved []PerformanceMetrics
	require.NoError(t, json.Unmarshal(data, &saved))
	require.Len(t, saved, 3)
	assert.Equal(t, runner.ModeMulti, saved[2].Scenario.Mode)
	assert.Equal(t, int64(50), saved[2].Completed)

	csvFiles, err := filepath.Glob(filepath.Join(suite.outputDir, "benchmark_summary_*.csv"))
	require.NoError(t, err)
	require.Len(t, csvFiles, 1)
	f, err := os.Open(csvFiles[0])
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, summaryHeader, rows[0])
	assert.Equal(t, "one_decode_multi", rows[2][1])
	assert.NotEmpty(t, rows[2][9], "timed mode carries a mean latency")
	assert.Empty(t, rows[1][9])

	plots, err := filepath.Glob(filepath.Join(suite.outputDir, "latency_*.png"))
	require.NoError(t, err)
	assert.Len(t, plots, 1)
}

func TestRunAllScenariosCancelled(t *testing.T) {
	suite := newTestSuite(t, 10, nil, nil)
	suite.AddScenario(testScenario("a", runner.ModeSync, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := suite.RunAllScenarios(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, suite.GetResults())
}

func TestHistogramBins(t *testing.T) {
	assert.Equal(t, 5, histogramBins(0))
	assert.Equal(t, 5, histogramBins(4))
	assert.Equal(t, 11, histogramBins(1000))
	assert.Equal(t, 50, histogramBins(1<<60))
}

func TestSaveLatencyHistogram(t *testing.T) {
	file := filepath.Join(t.TempDir(), "latency.png")
	require.Error(t, SaveLatencyHistogram(file, "empty", nil))

	require.NoError(t, SaveLatencyHistogram(file, "latency", []float64{1, 2, 2, 3, 5, 8}))
	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func BenchmarkScenarioBuilder(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NewScenarioBuilder("test").
			WithMode(runner.ModeMulti).
			WithStreams(4).
			WithDuration(time.Second).
			Build()
	}
}
