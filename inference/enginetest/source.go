package enginetest

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/nvr-ai/stream-bench/frames"
)

// Source yields exactly N payload-free frames per stream, including N == 0.
type Source struct {
	N int64

	opened atomic.Int64
}

// NewSource creates a source of n frames per stream.
func NewSource(n int64) *Source {
	return &Source{N: n}
}

// Open implements frames.Source.
func (s *Source) Open(ctx context.Context) (frames.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.opened.Add(1)
	return &stream{n: s.N}, nil
}

// Opened returns how many streams have been opened.
func (s *Source) Opened() int64 {
	return s.opened.Load()
}

type stream struct {
	n    int64
	next int64
}

func (s *stream) Next() (frames.Frame, error) {
	if s.next >= s.n {
		return frames.Frame{}, io.EOF
	}
	f := frames.Frame{Index: s.next}
	s.next++
	return f, nil
}

func (s *stream) Close() error {
	return nil
}
