package runner

import (
	"context"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/nvr-ai/stream-bench/inference"
)

// asyncRunner keeps an engine sized pool of requests busy from a single submitter.
// Completions arrive in any order; records are keyed by frame index and sorted once the
// queue drains.
type asyncRunner struct {
	base
}

func newAsyncRunner(opts Options) Runner {
	return &asyncRunner{base: newBase(ModeAsync, opts)}
}

func (r *asyncRunner) Run(ctx context.Context, engine inference.Engine) (*Result, error) {
	progress := r.progress()

	queue, err := inference.NewAsyncQueue(engine, 0)
	if err != nil {
		return r.fail(progress, errors.Wrap(err, "create async queue"))
	}
	defer queue.Close()
	r.log.Debug().Int("requests", queue.Size()).Msg("async queue ready")

	var mu sync.Mutex
	completed := make(map[int64]Record)
	queue.SetCallback(func(req inference.Request, userData any) error {
		index, ok := userData.(int64)
		if !ok {
			return errors.Newf("unexpected user data %T", userData)
		}
		rec := Record{Index: index, Output: req.Output(), Completed: time.Now()}

		mu.Lock()
		completed[index] = rec
		mu.Unlock()

		progress.Add(1)
		return nil
	})

	stream, err := r.openStream(ctx)
	if err != nil {
		return r.fail(progress, err)
	}
	defer stream.Close()

	var runErr error
	for runErr == nil {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		frame, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			runErr = errors.Wrap(err, "read frame")
			break
		}
		runErr = queue.StartAsync(frame, frame.Index)
	}

	// In-flight requests always finish before the run returns.
	if err := queue.WaitAll(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return r.fail(progress, runErr)
	}

	records := make([]Record, 0, len(completed))
	for _, index := range slices.Sorted(maps.Keys(completed)) {
		records = append(records, completed[index])
	}
	return r.finish(progress, &Result{Records: records})
}
