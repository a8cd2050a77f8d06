package inference

import (
	"github.com/nvr-ai/stream-bench/frames"
)

// kernelRequest implements Request on top of a synchronous Kernel, running StartAsync
// submissions on their own goroutine.
type kernelRequest struct {
	kernel  Kernel
	output  Output
	pending chan struct{}
	err     error
}

// NewRequest adapts a kernel into a Request.
//
// Arguments:
//   - kernel: The kernel the request owns. Close closes it.
//
// Returns:
//   - Request: The request.
func NewRequest(kernel Kernel) Request {
	return &kernelRequest{kernel: kernel}
}

func (r *kernelRequest) Infer(frame frames.Frame) error {
	if r.pending != nil {
		return ErrRequestBusy
	}
	out, err := r.kernel.Run(frame)
	if err != nil {
		return EngineFailure(err, frame.Index)
	}
	r.output = out
	return nil
}

func (r *kernelRequest) StartAsync(frame frames.Frame) error {
	if r.pending != nil {
		return ErrRequestBusy
	}

	done := make(chan struct{})
	r.pending = done
	r.err = nil

	go func() {
		defer close(done)
		out, err := r.kernel.Run(frame)
		if err != nil {
			r.err = EngineFailure(err, frame.Index)
			return
		}
		r.output = out
	}()
	return nil
}

func (r *kernelRequest) Wait() error {
	if r.pending == nil {
		return r.err
	}
	<-r.pending
	r.pending = nil
	return r.err
}

func (r *kernelRequest) Output() Output {
	return r.output
}

func (r *kernelRequest) Close() error {
	if r.pending != nil {
		_ = r.Wait()
	}
	return r.kernel.Close()
}
