package main

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/nvr-ai/stream-bench/benchmark"
	"github.com/nvr-ai/stream-bench/config"
	"github.com/nvr-ai/stream-bench/frames"
	"github.com/nvr-ai/stream-bench/inference"
	"github.com/nvr-ai/stream-bench/inference/onnx"
	"github.com/nvr-ai/stream-bench/inference/reference"
	"github.com/nvr-ai/stream-bench/metrics"
	"github.com/nvr-ai/stream-bench/models"
)

// Supported video file extensions
var supportedVideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".webm"}

func isVideo(path string) bool {
	return slices.Contains(supportedVideoExtensions, strings.ToLower(filepath.Ext(path)))
}

// baseScenario builds the workload described by the settings.
func baseScenario(s *config.Settings, name string) benchmark.Scenario {
	return benchmark.NewScenarioBuilder(name).
		WithMode(s.RunMode).
		WithStreams(s.Streams).
		WithDuration(s.Duration).
		WithMaxFrames(s.MaxFrames).
		WithSynthetic(s.Synthetic).
		WithModel(string(s.ModelInfo.Name)).
		WithPrecision(s.PrecisionType).
		WithDevice(s.Device).
		Build()
}

// engineFactory compiles the configured backend for each scenario. The performance hint
// follows the scenario's mode.
func engineFactory(s *config.Settings, logger zerolog.Logger) benchmark.EngineFactory {
	return func(sc benchmark.Scenario) (inference.Engine, error) {
		m, err := models.Lookup(sc.Model)
		if err != nil {
			return nil, err
		}

		switch s.Backend {
		case inference.BackendReference:
			e, err := reference.New(reference.Options{Shape: m.Shape, Classes: m.Classes, Seed: s.Seed})
			if err != nil {
				return nil, err
			}
			return e, nil
		case inference.BackendONNX:
			e, err := onnx.New(onnx.Options{
				ModelPath:   s.ModelPath,
				LibraryPath: s.LibraryPath,
				Shape:       m.Shape,
				Provider:    s.Execution,
				Device:      sc.Device,
				Precision:   sc.Precision,
				Hint:        sc.Mode.Hint(),
				Logger:      &logger,
			})
			if err != nil {
				return nil, err
			}
			return e, nil
		default:
			return nil, errors.Newf("unsupported engine %q", s.Backend)
		}
	}
}

// sourceFactory picks the frame source: an image directory or a video file. Synthetic
// scenarios preprocess the first frame of the input once and repeat it, and fall back to
// generated frames when no input is configured.
func sourceFactory(s *config.Settings) benchmark.SourceFactory {
	return func(sc benchmark.Scenario) (frames.Source, error) {
		opts, err := sc.FrameOptions()
		if err != nil {
			return nil, err
		}

		if sc.Synthetic && s.Input == "" {
			src, err := frames.NewSyntheticSource(opts, s.Seed)
			if err != nil {
				return nil, err
			}
			return src, nil
		}

		info, err := os.Stat(s.Input)
		if err != nil {
			return nil, errors.Wrapf(err, "stat input %s", s.Input)
		}
		switch {
		case info.IsDir():
			src, err := frames.NewImageSource(s.Input, opts)
			if err != nil {
				return nil, err
			}
			return src, nil
		case isVideo(s.Input):
			return openVideo(s.Input, opts)
		default:
			return nil, errors.Newf("input %s must be an image directory or a video file (%s)",
				s.Input, strings.Join(supportedVideoExtensions, ", "))
		}
	}
}

// newSink returns the report sinks and a function releasing them.
func newSink(s *config.Settings, logger zerolog.Logger) (metrics.Sink, func(), error) {
	sinks := metrics.Sinks{metrics.LogSink{Logger: logger}}
	if s.StatsdAddr == "" {
		return sinks, func() {}, nil
	}

	statsd, err := metrics.NewStatsdSink(s.StatsdAddr,
		"model:"+string(s.ModelInfo.Name),
		"engine:"+string(s.Backend),
		"device:"+s.Device,
	)
	if err != nil {
		return nil, nil, err
	}
	closeSink := func() {
		if err := statsd.Close(); err != nil {
			logger.Warn().Err(err).Msg("close statsd sink")
		}
	}
	return append(sinks, statsd), closeSink, nil
}

// newSuite wires the factories and sinks into a suite.
func newSuite(s *config.Settings, logger zerolog.Logger) (*benchmark.Suite, func(), error) {
	sink, closeSink, err := newSink(s, logger)
	if err != nil {
		return nil, nil, err
	}
	suite, err := benchmark.NewSuite(benchmark.SuiteOptions{
		Engines:        engineFactory(s, logger),
		Sources:        sourceFactory(s),
		OutputDir:      s.OutputDir,
		Sink:           sink,
		ReportInterval: s.ReportInterval,
		Logger:         &logger,
	})
	if err != nil {
		closeSink()
		return nil, nil, err
	}
	return suite, closeSink, nil
}
