package runner

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/nvr-ai/stream-bench/frames"
	"github.com/nvr-ai/stream-bench/inference"
	"github.com/nvr-ai/stream-bench/metrics"
)

// future is the pending result of one submitted frame.
type future struct {
	index     int64
	submitted time.Time
	done      chan struct{}
	output    inference.Output
	err       error
}

func (f *future) resolve(out inference.Output, err error) {
	f.output = out
	f.err = err
	close(f.done)
}

type task struct {
	frame  frames.Frame
	future *future
}

// pipelineRunner decodes on a single producer goroutine and infers on a pool of Streams
// workers. Futures are queued in submission order and drained by the calling goroutine,
// so results come back in frame order while inference overlaps.
//
// The future FIFO holds Streams-1 entries and a future is queued before its frame is
// handed to the pool. Together with the one future the drainer is waiting on, at most
// Streams frames are ever submitted but not drained.
type pipelineRunner struct {
	base
}

func newPipelineRunner(opts Options) Runner {
	return &pipelineRunner{base: newBase(ModeOneDecodeMulti, opts)}
}

func (r *pipelineRunner) Run(ctx context.Context, engine inference.Engine) (*Result, error) {
	progress := r.progress()
	workers := r.opts.Streams

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pending := make(chan *future, workers-1)
	tasks := make(chan task, workers)

	// Each worker lazily creates the request it reuses for every frame it runs.
	requests := make([]inference.Request, workers)
	var wg sync.WaitGroup
	for id := 0; id < workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for t := range tasks {
				r.execute(engine, requests, id, t)
			}
		}(id)
	}
	defer closeRequests(requests)

	var (
		inFlight    atomic.Int64
		peak        atomic.Int64
		producerErr error
	)
	go func() {
		// Closing pending is the end-of-stream sentinel for the drainer.
		defer close(pending)
		defer close(tasks)
		producerErr = r.produce(runCtx, pending, tasks, func() {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					return
				}
			}
		})
	}()

	latencies := metrics.NewLatencies(0)
	var (
		records []Record
		runErr  error
	)
	for f := range pending {
		<-f.done
		end := time.Now()
		inFlight.Add(-1)

		if runErr != nil {
			continue
		}
		if f.err != nil {
			runErr = f.err
			cancel()
			continue
		}
		records = append(records, Record{
			Index:     f.index,
			Output:    f.output,
			Submitted: f.submitted,
			Completed: end,
		})
		latencies.Observe(f.submitted, end)
		progress.Add(1)
	}
	wg.Wait()

	if runErr == nil {
		runErr = producerErr
	}
	if runErr == nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		return r.fail(progress, runErr)
	}

	var summary *metrics.LatencySummary
	if latencies.Len() > 0 {
		s := latencies.Summary()
		summary = &s
	}
	return r.finish(progress, &Result{
		Records:      records,
		Latency:      summary,
		Samples:      latencies.Samples(),
		PeakInFlight: int(peak.Load()),
	})
}

// produce reads frames and submits them until the stream ends or ctx is cancelled.
// A cancelled ctx is not reported: the drainer decides whether it was an error.
func (r *pipelineRunner) produce(ctx context.Context, pending chan<- *future, tasks chan<- task, submitted func()) error {
	stream, err := r.openStream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read frame")
		}

		f := &future{index: frame.Index, done: make(chan struct{})}
		select {
		case pending <- f:
		case <-ctx.Done():
			return nil
		}

		submitted()
		f.submitted = time.Now()
		tasks <- task{frame: frame, future: f}
	}
}

func (r *pipelineRunner) execute(engine inference.Engine, requests []inference.Request, id int, t task) {
	if requests[id] == nil {
		req, err := engine.NewRequest()
		if err != nil {
			t.future.resolve(inference.Output{}, errors.Wrapf(err, "create request for worker %d", id))
			return
		}
		requests[id] = req
	}

	req := requests[id]
	if err := req.StartAsync(t.frame); err != nil {
		t.future.resolve(inference.Output{}, inference.EngineFailure(err, t.frame.Index))
		return
	}
	if err := req.Wait(); err != nil {
		t.future.resolve(inference.Output{}, err)
		return
	}
	t.future.resolve(req.Output(), nil)
}

func closeRequests(requests []inference.Request) {
	for _, req := range requests {
		if req != nil {
			_ = req.Close()
		}
	}
}
