package frames

import (
	"context"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// SyntheticSource generates frames in memory so that a run measures inference cost only.
type SyntheticSource struct {
	opts Options
	seed uint64
}

// NewSyntheticSource creates a source of random, already normalized frames.
//
// Arguments:
//   - opts: The source options.
//   - seed: Seed for the pixel generator; equal seeds give equal payloads.
//
// Returns:
//   - *SyntheticSource: The source.
//   - error: An error if the options are invalid.
func NewSyntheticSource(opts Options, seed uint64) (*SyntheticSource, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid synthetic source options")
	}
	return &SyntheticSource{opts: opts, seed: seed}, nil
}

// Open builds one random payload and returns a stream that yields it for every frame.
func (s *SyntheticSource) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload := s.payload()
	return NewStream(s.opts, func() (*tensor.Dense, error) {
		return payload, nil
	}, nil), nil
}

func (s *SyntheticSource) payload() *tensor.Dense {
	rng := rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15))
	shape := s.opts.Shape
	plane := shape.Height * shape.Width

	data := make([]float32, shape.Size())
	for c := 0; c < shape.Channels; c++ {
		for i := 0; i < plane; i++ {
			data[c*plane+i] = s.opts.Normalization.Apply(c, uint8(rng.UintN(256)))
		}
	}
	return tensor.New(tensor.WithShape(shape.Dims()...), tensor.WithBacking(data))
}
