package runner

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/nvr-ai/stream-bench/inference"
)

// syncRunner infers one frame at a time on a single request.
type syncRunner struct {
	base
}

func newSyncRunner(opts Options) Runner {
	return &syncRunner{base: newBase(ModeSync, opts)}
}

func (r *syncRunner) Run(ctx context.Context, engine inference.Engine) (*Result, error) {
	progress := r.progress()

	req, err := engine.NewRequest()
	if err != nil {
		return r.fail(progress, errors.Wrap(err, "create request"))
	}
	defer req.Close()

	stream, err := r.openStream(ctx)
	if err != nil {
		return r.fail(progress, err)
	}
	defer stream.Close()

	var records []Record
	for {
		if err := ctx.Err(); err != nil {
			return r.fail(progress, err)
		}
		frame, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return r.fail(progress, errors.Wrap(err, "read frame"))
		}

		if err := req.Infer(frame); err != nil {
			return r.fail(progress, err)
		}
		records = append(records, Record{
			Index:     frame.Index,
			Output:    req.Output(),
			Completed: time.Now(),
		})
		progress.Add(1)
	}

	return r.finish(progress, &Result{Records: records})
}
