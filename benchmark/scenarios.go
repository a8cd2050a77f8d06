package benchmark

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/nvr-ai/stream-bench/frames"
	"github.com/nvr-ai/stream-bench/inference"
	"github.com/nvr-ai/stream-bench/models"
	"github.com/nvr-ai/stream-bench/runner"
)

// ErrInvalidScenario marks scenarios that cannot be run.
var ErrInvalidScenario = errors.New("invalid scenario")

// Duration is a time.Duration written as text ("90s", "2m0s") in scenario files.
type Duration time.Duration

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "parse duration %q", text)
	}
	*d = Duration(parsed)
	return nil
}

// Scenario defines a single benchmark run.
type Scenario struct {
	Name      string              `json:"name"`
	Mode      runner.Mode         `json:"mode"`
	Streams   int                 `json:"streams"`
	Duration  Duration            `json:"duration"`
	MaxFrames int64               `json:"max_frames,omitempty"`
	Synthetic bool                `json:"synthetic"`
	Model     string              `json:"model"`
	Precision inference.Precision `json:"precision"`
	Device    string              `json:"device"`
}

// Validate checks that the scenario can be run.
func (s Scenario) Validate() error {
	switch {
	case s.Name == "":
		return errors.Mark(errors.New("scenario name is empty"), ErrInvalidScenario)
	case !s.Mode.Valid():
		return errors.Mark(errors.Newf("scenario %s: unknown mode %s", s.Name, s.Mode), ErrInvalidScenario)
	case s.Streams < 1:
		return errors.Mark(errors.Newf("scenario %s: streams must be at least 1", s.Name), ErrInvalidScenario)
	case s.Duration <= 0:
		return errors.Mark(errors.Newf("scenario %s: duration must be positive", s.Name), ErrInvalidScenario)
	case s.MaxFrames < 0:
		return errors.Mark(errors.Newf("scenario %s: max frames must not be negative", s.Name), ErrInvalidScenario)
	}
	if _, err := models.Lookup(s.Model); err != nil {
		return errors.Mark(errors.Wrapf(err, "scenario %s", s.Name), ErrInvalidScenario)
	}
	return nil
}

// FrameOptions returns the source options for the scenario's model.
func (s Scenario) FrameOptions() (frames.Options, error) {
	m, err := models.Lookup(s.Model)
	if err != nil {
		return frames.Options{}, err
	}
	opts := m.FrameOptions()
	opts.Duration = s.Duration.Std()
	opts.MaxFrames = s.MaxFrames
	opts.Synthetic = s.Synthetic
	return opts, nil
}

// ScenarioBuilder helps build scenarios with a fluent API.
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a new scenario builder.
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:      name,
			Mode:      runner.ModeSync,
			Streams:   runtime.NumCPU(),
			Duration:  Duration(60 * time.Second),
			Model:     string(models.ModelNameResNet50),
			Precision: inference.PrecisionINT8,
			Device:    "CPU",
		},
	}
}

// WithMode sets the concurrency mode.
func (sb *ScenarioBuilder) WithMode(mode runner.Mode) *ScenarioBuilder {
	sb.scenario.Mode = mode
	return sb
}

// WithStreams sets the number of streams.
func (sb *ScenarioBuilder) WithStreams(streams int) *ScenarioBuilder {
	sb.scenario.Streams = streams
	return sb
}

// WithDuration sets the per-stream duration.
func (sb *ScenarioBuilder) WithDuration(d time.Duration) *ScenarioBuilder {
	sb.scenario.Duration = Duration(d)
	return sb
}

// WithMaxFrames caps the frames per stream.
func (sb *ScenarioBuilder) WithMaxFrames(n int64) *ScenarioBuilder {
	sb.scenario.MaxFrames = n
	return sb
}

// WithSynthetic enables inference-only mode.
func (sb *ScenarioBuilder) WithSynthetic(synthetic bool) *ScenarioBuilder {
	sb.scenario.Synthetic = synthetic
	return sb
}

// WithModel sets the catalog model name.
func (sb *ScenarioBuilder) WithModel(name string) *ScenarioBuilder {
	sb.scenario.Model = name
	return sb
}

// WithPrecision sets the inference precision.
func (sb *ScenarioBuilder) WithPrecision(p inference.Precision) *ScenarioBuilder {
	sb.scenario.Precision = p
	return sb
}

// WithDevice sets the target device.
func (sb *ScenarioBuilder) WithDevice(device string) *ScenarioBuilder {
	sb.scenario.Device = device
	return sb
}

// Build returns the configured scenario.
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// ScenarioSet represents a collection of related scenarios.
type ScenarioSet struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Scenarios   []Scenario `json:"scenarios"`
}

// PredefinedScenarios contains common scenario sets.
type PredefinedScenarios struct{}

// ModeComparison runs the same workload under every mode.
//
// Arguments:
//   - base: The workload. Its name prefixes every scenario and its mode is ignored.
//
// Returns:
//   - *ScenarioSet: One scenario per mode, in mode order.
func (ps *PredefinedScenarios) ModeComparison(base Scenario) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(runner.Modes()))
	for _, mode := range runner.Modes() {
		s := base
		s.Mode = mode
		s.Name = fmt.Sprintf("%s_%s", base.Name, mode)
		scenarios = append(scenarios, s)
	}

	return &ScenarioSet{
		Name:        fmt.Sprintf("Mode Comparison - %s", base.Model),
		Description: fmt.Sprintf("Compares every concurrency mode for %s with %d streams", base.Model, base.Streams),
		Scenarios:   scenarios,
	}
}

// StreamScaling runs the workload under mode with 1, 2, 4 … streams up to maxStreams,
// always including maxStreams itself.
func (ps *PredefinedScenarios) StreamScaling(base Scenario, mode runner.Mode, maxStreams int) *ScenarioSet {
	var counts []int
	for n := 1; n < maxStreams; n *= 2 {
		counts = append(counts, n)
	}
	counts = append(counts, max(maxStreams, 1))

	scenarios := make([]Scenario, 0, len(counts))
	for _, n := range counts {
		s := base
		s.Mode = mode
		s.Streams = n
		s.Name = fmt.Sprintf("%s_%s_%d", base.Name, mode, n)
		scenarios = append(scenarios, s)
	}

	return &ScenarioSet{
		Name:        fmt.Sprintf("Stream Scaling - %s", mode),
		Description: fmt.Sprintf("Scales %s from 1 to %d streams for %s", mode, max(maxStreams, 1), base.Model),
		Scenarios:   scenarios,
	}
}

// SaveScenarioSet saves a scenario set to a JSON file.
func SaveScenarioSet(scenarioSet *ScenarioSet, filename string) error {
	data, err := json.MarshalIndent(scenarioSet, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal scenario set")
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return errors.Wrapf(err, "write scenario file %s", filename)
	}
	return nil
}

// LoadScenarioSet loads a scenario set from a JSON file and validates every scenario.
func LoadScenarioSet(filename string) (*ScenarioSet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "read scenario file %s", filename)
	}

	var scenarioSet ScenarioSet
	if err := json.Unmarshal(data, &scenarioSet); err != nil {
		return nil, errors.Wrapf(err, "unmarshal scenario file %s", filename)
	}
	for _, s := range scenarioSet.Scenarios {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return &scenarioSet, nil
}
