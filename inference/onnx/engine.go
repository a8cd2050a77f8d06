// Package onnx provides an inference engine backed by ONNX Runtime.
//
// One dynamic session is compiled per engine and shared by every request; ONNX Runtime
// sessions accept concurrent Run calls. Each request owns its input and output tensors.
package onnx

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/stream-bench/frames"
	"github.com/nvr-ai/stream-bench/inference"
)

// Options configures the ONNX engine.
type Options struct {
	// ModelPath is the path to the .onnx file.
	ModelPath string
	// LibraryPath is the onnxruntime shared library. Empty uses DefaultLibraryPath.
	LibraryPath string
	// Shape is the frame shape fed to the model's first input.
	Shape frames.Shape
	// Provider selects the execution provider.
	Provider Provider
	// Device is passed to the provider, e.g. CPU, GPU or GPU.1.
	Device string
	// Precision is the inference precision requested from providers that support it.
	Precision inference.Precision
	// Hint selects latency or throughput tuning.
	Hint inference.PerformanceHint
	// Requests overrides the number of optimal in-flight requests.
	Requests int
	Logger   *zerolog.Logger
}

// Engine is a compiled ONNX model.
type Engine struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	inputDims  ort.Shape
	outputDims ort.Shape
	requests   int
	log        zerolog.Logger
}

// New compiles the model.
//
// Order of operations:
//  1. Environment setup: loads the shared library once per process.
//  2. Model inspection: reads input/output names and shapes from the model file.
//  3. Session options: threading and execution provider for the hint.
//  4. Session creation: loads the model and binds the options.
//
// Arguments:
//   - opts: The engine options.
//
// Returns:
//   - *Engine: The engine.
//   - error: An error if the runtime or the model cannot be loaded.
func New(opts Options) (*Engine, error) {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Provider == "" {
		opts.Provider = ProviderCPU
	}
	if opts.Precision == "" {
		opts.Precision = inference.PrecisionFP32
	}
	if err := opts.Shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "onnx engine shape")
	}

	if err := initEnvironment(opts.LibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "inspect model %s", opts.ModelPath)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.Errorf("model %s has %d inputs and %d outputs", opts.ModelPath, len(inputs), len(outputs))
	}

	inputDims, err := resolveInput(inputs[0].Dimensions, opts.Shape)
	if err != nil {
		return nil, errors.Wrapf(err, "model input %q", inputs[0].Name)
	}
	outputDims, err := resolveOutput(outputs[0].Dimensions)
	if err != nil {
		return nil, errors.Wrapf(err, "model output %q", outputs[0].Name)
	}

	p := plan(opts)
	options, err := sessionOptions(opts, p)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		opts.ModelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		options,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "create session for %s", opts.ModelPath)
	}

	logger.Info().
		Str("model", opts.ModelPath).
		Str("provider", string(opts.Provider)).
		Str("device", opts.Device).
		Str("precision", string(opts.Precision)).
		Str("hint", string(opts.Hint)).
		Int("requests", p.requests).
		Ints64("input", inputDims).
		Ints64("output", outputDims).
		Msg("onnx engine compiled")

	return &Engine{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		inputDims:  inputDims,
		outputDims: outputDims,
		requests:   p.requests,
		log:        logger,
	}, nil
}

// resolveInput checks the model input against the frame shape, filling dynamic dims.
func resolveInput(model ort.Shape, shape frames.Shape) (ort.Shape, error) {
	want := shape.Dims()
	if len(model) != len(want) {
		return nil, errors.Errorf("rank %d, want %d", len(model), len(want))
	}
	dims := make(ort.Shape, len(model))
	for i, d := range model {
		if d > 0 && int(d) != want[i] {
			return nil, errors.Errorf("dimension %d is %d, frames have %d", i, d, want[i])
		}
		dims[i] = int64(want[i])
	}
	return dims, nil
}

// resolveOutput fixes the batch dimension to one. Other dynamic dims are not supported.
func resolveOutput(model ort.Shape) (ort.Shape, error) {
	dims := slices.Clone(model)
	for i, d := range dims {
		if d > 0 {
			continue
		}
		if i != 0 {
			return nil, errors.Errorf("dynamic dimension %d", i)
		}
		dims[i] = 1
	}
	return dims, nil
}

// NewRequest implements inference.Engine.
func (e *Engine) NewRequest() (inference.Request, error) {
	in, err := ort.NewEmptyTensor[float32](e.inputDims)
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	out, err := ort.NewEmptyTensor[float32](e.outputDims)
	if err != nil {
		in.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}
	return inference.NewRequest(&kernel{
		session: e.session,
		input:   in,
		output:  out,
		shape:   shapeInts(e.outputDims),
	}), nil
}

// OptimalRequests implements inference.Engine.
func (e *Engine) OptimalRequests() int {
	return e.requests
}

// Close implements inference.Engine. Requests must be closed first.
func (e *Engine) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	if err != nil {
		return errors.Wrap(err, "destroy session")
	}
	return nil
}

type kernel struct {
	session *ort.DynamicAdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	shape   []int
}

func (k *kernel) Run(frame frames.Frame) (inference.Output, error) {
	data := frame.Data()
	dst := k.input.GetData()
	if len(data) != len(dst) {
		return inference.Output{}, errors.Errorf("frame %d has %d values, model wants %d", frame.Index, len(data), len(dst))
	}
	copy(dst, data)

	if err := k.session.Run([]ort.Value{k.input}, []ort.Value{k.output}); err != nil {
		return inference.Output{}, errors.Wrap(err, "run session")
	}
	return inference.Output{
		Data:  slices.Clone(k.output.GetData()),
		Shape: slices.Clone(k.shape),
	}, nil
}

func (k *kernel) Close() error {
	var errs []error
	if k.input != nil {
		errs = append(errs, k.input.Destroy())
		k.input = nil
	}
	if k.output != nil {
		errs = append(errs, k.output.Destroy())
		k.output = nil
	}
	for _, err := range errs {
		if err != nil {
			return errors.Wrap(err, "destroy tensor")
		}
	}
	return nil
}

func shapeInts(s ort.Shape) []int {
	out := make([]int, len(s))
	for i, d := range s {
		out[i] = int(d)
	}
	return out
}
