package frames

import (
	"errors"
	"io"
	"time"

	"gorgonia.org/tensor"
)

// ErrClosed is returned by Next after the stream has been closed.
var ErrClosed = errors.New("frames: stream closed")

// ProduceFunc builds the payload of the next frame.
type ProduceFunc func() (*tensor.Dense, error)

// boundedStream assigns indices and enforces the duration and frame budget of a stream.
type boundedStream struct {
	duration  time.Duration
	maxFrames int64
	produce   ProduceFunc
	release   func() error
	now       func() time.Time

	next    int64
	started time.Time
	closed  bool
}

// NewStream wraps a payload producer in a stream that stops once the duration has elapsed
// since the first Next call, or once the frame budget is spent.
//
// The bound is checked before each frame is produced: a frame whose production has
// already started is always returned, so a slow frame can overrun the duration by at
// most its own production time.
//
// Arguments:
//   - opts: The source options carrying the duration and frame budget.
//   - produce: Builds one payload per call.
//   - release: Optional cleanup called once on Close.
//
// Returns:
//   - Stream: The bounded stream.
func NewStream(opts Options, produce ProduceFunc, release func() error) Stream {
	return &boundedStream{
		duration:  opts.Duration,
		maxFrames: opts.MaxFrames,
		produce:   produce,
		release:   release,
		now:       time.Now,
	}
}

func (s *boundedStream) Next() (Frame, error) {
	if s.closed {
		return Frame{}, ErrClosed
	}
	if s.started.IsZero() {
		s.started = s.now()
	}
	if s.maxFrames > 0 && s.next >= s.maxFrames {
		return Frame{}, io.EOF
	}
	if s.duration > 0 && s.now().Sub(s.started) >= s.duration {
		return Frame{}, io.EOF
	}

	payload, err := s.produce()
	if err != nil {
		return Frame{}, err
	}

	frame := Frame{Index: s.next, Tensor: payload}
	s.next++
	return frame, nil
}

func (s *boundedStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.release != nil {
		return s.release()
	}
	return nil
}
