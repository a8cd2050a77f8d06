// Package reference provides a pure Go inference engine built on a small gorgonia graph:
// global average pooling, a fixed linear classifier and a softmax. It needs no native
// runtime, which makes it the default engine for synthetic benchmarks and tests.
package reference

import (
	"math/rand/v2"
	"runtime"
	"slices"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/stream-bench/frames"
	"github.com/nvr-ai/stream-bench/inference"
)

// DefaultClasses is the classifier width used when Options.Classes is zero.
const DefaultClasses = 1000

// Options configures the reference engine.
type Options struct {
	// Shape is the input frame shape.
	Shape frames.Shape
	// Classes is the number of output scores.
	Classes int
	// Seed seeds the classifier weights. Engines with the same seed produce identical outputs.
	Seed uint64
	// Requests overrides OptimalRequests. Zero means one per CPU.
	Requests int
}

// Engine is the reference engine. The classifier weights are generated once and shared
// read-only by every request; each request owns its own graph and tape machine.
type Engine struct {
	opts    Options
	weights []float32
}

// New creates a reference engine.
//
// Arguments:
//   - opts: The engine options.
//
// Returns:
//   - *Engine: The engine.
//   - error: An error if the shape is invalid.
func New(opts Options) (*Engine, error) {
	if err := opts.Shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "reference engine shape")
	}
	if opts.Classes <= 0 {
		opts.Classes = DefaultClasses
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	weights := make([]float32, opts.Shape.Channels*opts.Classes)
	for i := range weights {
		weights[i] = rng.Float32()*2 - 1
	}
	return &Engine{opts: opts, weights: weights}, nil
}

// NewRequest implements inference.Engine.
func (e *Engine) NewRequest() (inference.Request, error) {
	k, err := e.newKernel()
	if err != nil {
		return nil, err
	}
	return inference.NewRequest(k), nil
}

// OptimalRequests implements inference.Engine.
func (e *Engine) OptimalRequests() int {
	if e.opts.Requests > 0 {
		return e.opts.Requests
	}
	return runtime.NumCPU()
}

// Close implements inference.Engine.
func (e *Engine) Close() error {
	return nil
}

// Classes returns the number of output scores.
func (e *Engine) Classes() int {
	return e.opts.Classes
}

type kernel struct {
	shape  frames.Shape
	g      *G.ExprGraph
	input  *G.Node
	output *G.Node
	vm     G.VM
}

func (e *Engine) newKernel() (*kernel, error) {
	shape := e.opts.Shape
	g := G.NewGraph()

	input := G.NewTensor(g, tensor.Float32, 4, G.WithShape(shape.Dims()...), G.WithName("input"))
	w := G.NewMatrix(g, tensor.Float32,
		G.WithShape(shape.Channels, e.opts.Classes),
		G.WithName("classifier"),
		G.WithValue(tensor.New(
			tensor.WithShape(shape.Channels, e.opts.Classes),
			tensor.WithBacking(slices.Clone(e.weights)),
		)),
	)

	// (1, C, H, W) -> (1, C)
	pooled, err := G.Mean(input, 2, 3)
	if err != nil {
		return nil, errors.Wrap(err, "build pooling")
	}
	logits, err := G.Mul(pooled, w)
	if err != nil {
		return nil, errors.Wrap(err, "build classifier")
	}
	probs, err := G.SoftMax(logits)
	if err != nil {
		return nil, errors.Wrap(err, "build softmax")
	}

	return &kernel{
		shape:  shape,
		g:      g,
		input:  input,
		output: probs,
		vm:     G.NewTapeMachine(g),
	}, nil
}

func (k *kernel) Run(frame frames.Frame) (inference.Output, error) {
	if frame.Tensor == nil {
		return inference.Output{}, errors.Errorf("frame %d has no payload", frame.Index)
	}
	if got := frame.Tensor.Shape(); !slices.Equal([]int(got), k.shape.Dims()) {
		return inference.Output{}, errors.Errorf("frame %d shape %v, want %v", frame.Index, got, k.shape.Dims())
	}

	defer k.vm.Reset()
	if err := G.Let(k.input, frame.Tensor); err != nil {
		return inference.Output{}, errors.Wrap(err, "bind input")
	}
	if err := k.vm.RunAll(); err != nil {
		return inference.Output{}, errors.Wrap(err, "run graph")
	}

	value := k.output.Value()
	if value == nil {
		return inference.Output{}, errors.New("graph produced no output")
	}
	data, ok := value.Data().([]float32)
	if !ok {
		return inference.Output{}, errors.Errorf("unexpected output type %T", value.Data())
	}
	return inference.Output{
		Data:  slices.Clone(data),
		Shape: slices.Clone([]int(value.Shape())),
	}, nil
}

func (k *kernel) Close() error {
	return k.vm.Close()
}
