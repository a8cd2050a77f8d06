// Package frames - Lazily produced, time bounded streams of preprocessed model inputs.
package frames

import (
	"context"
	"fmt"
	"time"

	"gorgonia.org/tensor"
)

// Frame is one engine-ready input together with its position in the stream.
//
// A Frame is immutable once a Stream has returned it. Sources are free to share the
// backing tensor between frames (the synthetic source does), so consumers must never
// write into it.
type Frame struct {
	// Index is the 0-based sequence number assigned by the stream.
	Index int64
	// Tensor is the [1, C, H, W] float32 payload.
	Tensor *tensor.Dense
}

// Data returns the flat float32 backing of the frame payload.
//
// Returns:
//   - []float32: The payload, or nil if the frame carries no tensor.
func (f Frame) Data() []float32 {
	if f.Tensor == nil {
		return nil
	}
	data, ok := f.Tensor.Data().([]float32)
	if !ok {
		return nil
	}
	return data
}

// Shape is the CHW input geometry of a model. The batch dimension is always 1.
type Shape struct {
	Channels int `json:"channels" yaml:"channels"`
	Height   int `json:"height"   yaml:"height"`
	Width    int `json:"width"    yaml:"width"`
}

// Size returns the number of float32 elements in one frame.
func (s Shape) Size() int {
	return s.Channels * s.Height * s.Width
}

// Dims returns the NCHW tensor dimensions.
func (s Shape) Dims() []int {
	return []int{1, s.Channels, s.Height, s.Width}
}

// Validate checks that the shape describes a 1 or 3 channel image.
func (s Shape) Validate() error {
	if s.Channels != 1 && s.Channels != 3 {
		return fmt.Errorf("unsupported channel count: %d", s.Channels)
	}
	if s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("invalid frame dimensions: %dx%d", s.Width, s.Height)
	}
	return nil
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Channels, s.Height, s.Width)
}

// Options configures a frame source.
type Options struct {
	// Duration bounds every stream, measured from its first Next call.
	Duration time.Duration `json:"duration"      yaml:"duration"`
	// MaxFrames is an optional frame budget. Zero means unbounded by count.
	MaxFrames int64 `json:"maxFrames"     yaml:"maxFrames"`
	// Shape is the model input geometry.
	Shape Shape `json:"shape"         yaml:"shape"`
	// Normalization holds the per-channel mean and std.
	Normalization Normalization `json:"normalization" yaml:"normalization"`
	// Synthetic skips per-frame decode and preprocessing.
	Synthetic bool `json:"synthetic"     yaml:"synthetic"`
}

// Validate checks the options before any stream is opened.
//
// Returns:
//   - error: An error if the stream would be unbounded or the geometry is invalid.
func (o Options) Validate() error {
	if o.Duration < 0 {
		return fmt.Errorf("duration must not be negative, got %s", o.Duration)
	}
	if o.MaxFrames < 0 {
		return fmt.Errorf("max frames must not be negative, got %d", o.MaxFrames)
	}
	if o.Duration == 0 && o.MaxFrames == 0 {
		return fmt.Errorf("stream must be bounded by a duration or a frame budget")
	}
	if err := o.Shape.Validate(); err != nil {
		return err
	}
	return o.Normalization.Validate(o.Shape.Channels)
}

// Source produces fresh, independent frame streams.
type Source interface {
	// Open starts a new stream. Streams are not restartable; every call returns a new one.
	Open(ctx context.Context) (Stream, error)
}

// Stream is a lazy sequence of frames. Next returns io.EOF once the stream is exhausted.
//
// A Stream is owned by a single goroutine.
type Stream interface {
	Next() (Frame, error)
	Close() error
}
