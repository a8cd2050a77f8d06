package benchmark

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nvr-ai/stream-bench/frames"
	"github.com/nvr-ai/stream-bench/inference"
	"github.com/nvr-ai/stream-bench/metrics"
	"github.com/nvr-ai/stream-bench/profiler"
	"github.com/nvr-ai/stream-bench/runner"
)

// EngineFactory compiles an engine for a scenario. The suite closes it after the run.
type EngineFactory func(s Scenario) (inference.Engine, error)

// SourceFactory creates the frame source for a scenario.
type SourceFactory func(s Scenario) (frames.Source, error)

// SuiteOptions configures a suite.
type SuiteOptions struct {
	Engines EngineFactory
	Sources SourceFactory
	// OutputDir receives the files written by SaveResults.
	OutputDir string
	// Sink receives the report of every successful scenario. Optional.
	Sink metrics.Sink
	// ReportInterval is the progress log cadence. Zero disables progress logs.
	ReportInterval time.Duration
	Logger         *zerolog.Logger
}

// Suite manages and executes benchmark scenarios
type Suite struct {
	engines        EngineFactory
	sources        SourceFactory
	outputDir      string
	sink           metrics.Sink
	reportInterval time.Duration
	log            zerolog.Logger

	mu        sync.RWMutex
	scenarios []Scenario
	results   []PerformanceMetrics
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - opts: The suite options. Engines and Sources are required.
//
// Returns:
//   - *Suite: The benchmark suite.
//   - error: An error if a factory is missing.
func NewSuite(opts SuiteOptions) (*Suite, error) {
	if opts.Engines == nil || opts.Sources == nil {
		return nil, errors.New("benchmark suite needs an engine factory and a source factory")
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Suite{
		engines:        opts.Engines,
		sources:        opts.Sources,
		outputDir:      opts.OutputDir,
		sink:           opts.Sink,
		reportInterval: opts.ReportInterval,
		log:            logger,
	}, nil
}

// AddScenario adds a scenario to the suite.
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// AddScenarioSet adds every scenario of the set.
func (bs *Suite) AddScenarioSet(set *ScenarioSet) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, set.Scenarios...)
}

// Scenarios returns the configured scenarios.
func (bs *Suite) Scenarios() []Scenario {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return append([]Scenario(nil), bs.scenarios...)
}

// RunScenario executes a single scenario. It does not record the result; RunAllScenarios
// does.
//
// Arguments:
//   - ctx: Cancelling stops the runner from feeding new frames.
//   - scenario: The scenario to run.
//
// Returns:
//   - *PerformanceMetrics: The measurements.
//   - error: The runner's error, wrapped with the scenario name.
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	logger := bs.log.With().
		Str("scenario", scenario.Name).
		Stringer("mode", scenario.Mode).
		Int("streams", scenario.Streams).
		Logger()

	source, err := bs.sources(scenario)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s: create source", scenario.Name)
	}
	engine, err := bs.engines(scenario)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s: create engine", scenario.Name)
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("close engine")
		}
	}()

	profiled := inference.NewProfiledEngine(engine)
	progress := metrics.NewProgress()

	r, err := runner.New(scenario.Mode, runner.Options{
		Source:   source,
		Streams:  scenario.Streams,
		Progress: progress,
		Logger:   &logger,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", scenario.Name)
	}

	rp := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{ReportInterval: -1, Logger: &logger})
	rp.AddMetricsCollector(progress)
	rp.AddMetricsCollector(profiled)

	watchCtx, stopWatch := context.WithCancel(ctx)
	var watching sync.WaitGroup
	if bs.reportInterval > 0 {
		watching.Add(1)
		go func() {
			defer watching.Done()
			progress.Watch(watchCtx, bs.reportInterval, metrics.NewLogObserver(logger, scenario.Mode.String()))
		}()
	}

	rp.Start()
	baseline := rp.GetCurrentStats()
	began := time.Now()
	result, err := r.Run(ctx, profiled)
	wall := time.Since(began)
	stopWatch()
	watching.Wait()
	rp.Stop()
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", scenario.Name)
	}
	final := rp.GetCurrentStats()

	if bs.sink != nil {
		if err := bs.sink.Report(result.Report(scenario.Streams)); err != nil {
			logger.Warn().Err(err).Msg("report sink failed")
		}
	}

	pm := &PerformanceMetrics{
		Scenario:     scenario,
		Timestamp:    began,
		Wall:         wall,
		Completed:    result.Snapshot.Completed,
		Elapsed:      result.Snapshot.Elapsed,
		Latency:      result.Latency,
		PeakInFlight: result.PeakInFlight,
		Engine:       profiled.GetPerformanceMetrics(),
		MemoryStats:  newMemoryMetrics(baseline, final),
		CPUStats:     newCPUMetrics(baseline, final, runtime.NumCPU(), runtime.GOMAXPROCS(0)),
		Samples:      result.Samples,
	}
	if result.Snapshot.Defined() {
		fps := result.Snapshot.FPS
		pm.FramesPerSecond = &fps
	}
	return pm, nil
}

// RunAllScenarios executes every configured scenario in order, then saves the results.
// A failed scenario is logged and skipped; cancellation stops the remaining ones.
//
// Returns:
//   - error: Every scenario failure and any save failure, combined.
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	var errs error
	for _, scenario := range bs.Scenarios() {
		if err := ctx.Err(); err != nil {
			errs = errors.CombineErrors(errs, err)
			break
		}

		m, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			bs.log.Error().Err(err).Str("scenario", scenario.Name).Msg("scenario failed")
			errs = errors.CombineErrors(errs, err)
			continue
		}

		bs.mu.Lock()
		bs.results = append(bs.results, *m)
		bs.mu.Unlock()

		ev := bs.log.Info().Str("scenario", scenario.Name).Int64("completed", m.Completed)
		if m.FramesPerSecond != nil {
			ev = ev.Float64("fps", *m.FramesPerSecond)
		}
		ev.Msg("scenario completed")
	}

	if err := bs.SaveResults(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	return errs
}

// GetResults returns all recorded results
func (bs *Suite) GetResults() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return append([]PerformanceMetrics(nil), bs.results...)
}
