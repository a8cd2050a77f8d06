// Package inference - The capability contract of an inference engine as consumed by the
// runners, plus the request and async queue plumbing shared by every engine backend.
package inference

import (
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/nvr-ai/stream-bench/frames"
)

// ErrEngineFailure marks every error raised by an inference call.
var ErrEngineFailure = errors.New("inference engine failure")

// ErrRequestBusy is returned when a request is started while a previous start is pending.
var ErrRequestBusy = errors.New("inference request already in flight")

// Output is a copy of a request's output tensor.
type Output struct {
	Data  []float32 `json:"data"`
	Shape []int     `json:"shape"`
}

// Clone returns a deep copy of the output.
func (o Output) Clone() Output {
	return Output{Data: slices.Clone(o.Data), Shape: slices.Clone(o.Shape)}
}

// Engine is a compiled model able to hand out inference requests.
type Engine interface {
	// NewRequest creates a request owned exclusively by the caller.
	NewRequest() (Request, error)
	// OptimalRequests is the number of in-flight requests the engine handles best. It sizes
	// async queues created without an explicit size.
	OptimalRequests() int
	// Close releases the compiled model.
	Close() error
}

// Request is a single reusable inference slot. A request is not safe for concurrent use;
// it belongs to whichever goroutine created it.
type Request interface {
	// Infer runs the frame synchronously.
	Infer(frame frames.Frame) error
	// StartAsync submits the frame and returns immediately.
	StartAsync(frame frames.Frame) error
	// Wait blocks until the pending submission completes and returns its failure, if any.
	Wait() error
	// Output returns the output of the last completed inference.
	Output() Output
	// Close releases the request.
	Close() error
}

// Kernel runs one frame through a model. Kernels are owned by exactly one Request.
type Kernel interface {
	Run(frame frames.Frame) (Output, error)
	Close() error
}

// EngineFailure marks err as an engine failure for the frame with the given index.
func EngineFailure(err error, index int64) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, "infer frame %d", index), ErrEngineFailure)
}

// IsEngineFailure reports whether err was raised by an inference call.
func IsEngineFailure(err error) bool {
	return errors.Is(err, ErrEngineFailure)
}
