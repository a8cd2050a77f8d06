// Package enginetest provides a deterministic in-memory inference engine for tests.
package enginetest

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nvr-ai/stream-bench/frames"
	"github.com/nvr-ai/stream-bench/inference"
)

// ErrInjected is the failure returned by the call selected with Options.FailOn.
var ErrInjected = errors.New("enginetest: injected failure")

// Options configures the stub engine.
type Options struct {
	// Latency is the base time every call takes.
	Latency time.Duration
	// Jitter adds a random extra delay in [0, Jitter) so that concurrent calls complete out
	// of submission order.
	Jitter time.Duration
	// Delay, when set, adds a per-frame delay chosen by frame index.
	Delay func(index int64) time.Duration
	// FailOn makes the n-th call (1-based, counted across all requests) fail. Zero disables.
	FailOn int64
	// Slots is reported by OptimalRequests. Zero means 4.
	Slots int
	// Seed seeds the jitter generator.
	Seed uint64
}

// Engine is a stub inference engine whose output echoes the frame index.
type Engine struct {
	opts Options

	calls    atomic.Int64
	running  atomic.Int64
	peak     atomic.Int64
	requests atomic.Int64

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a stub engine.
func New(opts Options) *Engine {
	if opts.Slots <= 0 {
		opts.Slots = 4
	}
	return &Engine{
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed+1)),
	}
}

// NewRequest implements inference.Engine.
func (e *Engine) NewRequest() (inference.Request, error) {
	e.requests.Add(1)
	return inference.NewRequest(&kernel{engine: e}), nil
}

// OptimalRequests implements inference.Engine.
func (e *Engine) OptimalRequests() int {
	return e.opts.Slots
}

// Close implements inference.Engine.
func (e *Engine) Close() error {
	return nil
}

// Calls returns the number of inference calls started, including a failed one.
func (e *Engine) Calls() int64 {
	return e.calls.Load()
}

// PeakConcurrency returns the largest number of calls that ran at the same time.
func (e *Engine) PeakConcurrency() int64 {
	return e.peak.Load()
}

// Requests returns the number of requests created.
func (e *Engine) Requests() int64 {
	return e.requests.Load()
}

func (e *Engine) delay() time.Duration {
	d := e.opts.Latency
	if e.opts.Jitter > 0 {
		e.mu.Lock()
		d += time.Duration(e.rng.Int64N(int64(e.opts.Jitter)))
		e.mu.Unlock()
	}
	return d
}

type kernel struct {
	engine *Engine
	closed bool
}

// Run echoes the frame index as a single-element output.
func (k *kernel) Run(frame frames.Frame) (inference.Output, error) {
	if k.closed {
		return inference.Output{}, errors.New("enginetest: request closed")
	}
	e := k.engine
	call := e.calls.Add(1)

	running := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		peak := e.peak.Load()
		if running <= peak || e.peak.CompareAndSwap(peak, running) {
			break
		}
	}

	d := e.delay()
	if e.opts.Delay != nil {
		d += e.opts.Delay(frame.Index)
	}
	if d > 0 {
		time.Sleep(d)
	}
	if e.opts.FailOn > 0 && call == e.opts.FailOn {
		return inference.Output{}, fmt.Errorf("call %d: %w", call, ErrInjected)
	}

	return inference.Output{
		Data:  []float32{float32(frame.Index)},
		Shape: []int{1, 1},
	}, nil
}

func (k *kernel) Close() error {
	k.closed = true
	return nil
}

// Index decodes the frame index echoed by the stub.
func Index(out inference.Output) int64 {
	if len(out.Data) == 0 {
		return -1
	}
	return int64(out.Data[0])
}
