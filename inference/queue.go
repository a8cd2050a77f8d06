package inference

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/nvr-ai/stream-bench/frames"
)

// Callback is invoked once per completed submission with the request that ran it and the
// user data passed to StartAsync. Callbacks for different submissions may run
// concurrently on different goroutines.
type Callback func(req Request, userData any) error

// AsyncQueue keeps a fixed pool of requests busy. StartAsync blocks while every request is
// in flight; a request returns to the pool only after its callback has returned.
//
// StartAsync, WaitAll and Close must be called from a single submitting goroutine.
type AsyncQueue struct {
	requests []Request
	idle     chan int
	callback Callback
	wg       sync.WaitGroup

	mu  sync.Mutex
	err error
}

// NewAsyncQueue creates a queue backed by size requests from engine.
//
// Arguments:
//   - engine: The engine that creates the requests.
//   - size: The number of in-flight slots; <= 0 uses engine.OptimalRequests().
//
// Returns:
//   - *AsyncQueue: The queue.
//   - error: An error if a request cannot be created.
func NewAsyncQueue(engine Engine, size int) (*AsyncQueue, error) {
	if size <= 0 {
		size = engine.OptimalRequests()
	}
	if size <= 0 {
		size = 1
	}

	q := &AsyncQueue{
		requests: make([]Request, 0, size),
		idle:     make(chan int, size),
	}
	for i := 0; i < size; i++ {
		req, err := engine.NewRequest()
		if err != nil {
			q.closeRequests()
			return nil, errors.Wrapf(err, "create request %d of %d", i+1, size)
		}
		q.requests = append(q.requests, req)
		q.idle <- i
	}
	return q, nil
}

// Size returns the number of in-flight slots.
func (q *AsyncQueue) Size() int {
	return len(q.requests)
}

// SetCallback registers the completion callback. It must be called before the first
// StartAsync.
func (q *AsyncQueue) SetCallback(cb Callback) {
	q.callback = cb
}

// StartAsync submits a frame on the next idle request, blocking until one is free.
//
// Arguments:
//   - frame: The frame to run.
//   - userData: Passed unchanged to the callback.
//
// Returns:
//   - error: The first failure captured by the queue, if any, so that a submitter stops
//     feeding a queue that has already failed.
func (q *AsyncQueue) StartAsync(frame frames.Frame, userData any) error {
	if err := q.Err(); err != nil {
		return err
	}

	slot := <-q.idle
	if err := q.Err(); err != nil {
		q.idle <- slot
		return err
	}

	req := q.requests[slot]
	if err := req.StartAsync(frame); err != nil {
		q.idle <- slot
		err = EngineFailure(err, frame.Index)
		q.fail(err)
		return err
	}

	q.wg.Add(1)
	go q.complete(slot, req, userData)
	return nil
}

func (q *AsyncQueue) complete(slot int, req Request, userData any) {
	defer q.wg.Done()
	defer func() { q.idle <- slot }()

	if err := req.Wait(); err != nil {
		q.fail(err)
		return
	}
	if q.callback == nil {
		return
	}
	if err := q.callback(req, userData); err != nil {
		q.fail(errors.Wrap(err, "completion callback"))
	}
}

// WaitAll blocks until every submission has completed and its callback has returned.
//
// Returns:
//   - error: The first failure captured by any request or callback.
func (q *AsyncQueue) WaitAll() error {
	q.wg.Wait()
	return q.Err()
}

// Err returns the first captured failure.
func (q *AsyncQueue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (q *AsyncQueue) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err == nil {
		q.err = err
	}
}

// Close waits for outstanding work and releases every request.
func (q *AsyncQueue) Close() error {
	q.wg.Wait()
	return q.closeRequests()
}

func (q *AsyncQueue) closeRequests() error {
	var errs error
	for _, req := range q.requests {
		if err := req.Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	q.requests = nil
	return errs
}
