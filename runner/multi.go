package runner

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/stream-bench/inference"
	"github.com/nvr-ai/stream-bench/metrics"
)

// multiRunner runs Streams independent streams, each on its own worker with its own
// request. Workers share only the progress counter.
type multiRunner struct {
	base
}

func newMultiRunner(opts Options) Runner {
	return &multiRunner{base: newBase(ModeMulti, opts)}
}

func (r *multiRunner) Run(ctx context.Context, engine inference.Engine) (*Result, error) {
	progress := r.progress()
	workers := r.opts.Streams

	// The first failing stream cancels the others; Wait returns its error.
	g, runCtx := errgroup.WithContext(ctx)
	perStream := make([][]Record, workers)
	for id := 0; id < workers; id++ {
		g.Go(func() error {
			records, err := r.runStream(runCtx, engine, id, progress)
			if err != nil {
				return err
			}
			perStream[id] = records
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return r.fail(progress, err)
	}
	return r.finish(progress, &Result{Streams: perStream})
}

func (r *multiRunner) runStream(ctx context.Context, engine inference.Engine, id int, progress *metrics.Progress) ([]Record, error) {
	req, err := engine.NewRequest()
	if err != nil {
		return nil, errors.Wrapf(err, "create request for stream %d", id)
	}
	defer req.Close()

	stream, err := r.openStream(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "stream %d", id)
	}
	defer stream.Close()

	log := r.log.With().Int("stream", id).Logger()
	log.Debug().Msg("stream started")

	var records []Record
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read frame on stream %d", id)
		}

		if err := req.StartAsync(frame); err != nil {
			return nil, inference.EngineFailure(err, frame.Index)
		}
		if err := req.Wait(); err != nil {
			return nil, err
		}
		records = append(records, Record{
			Index:     frame.Index,
			Output:    req.Output(),
			Completed: time.Now(),
		})
		progress.Add(1)
	}

	log.Debug().Int("completed", len(records)).Msg("stream finished")
	return records, nil
}
