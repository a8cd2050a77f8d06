// Package capture - Video file decoding for frame streams (requires OpenCV).
package capture

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/stream-bench/frames"
)

// VideoSource decodes a video file with OpenCV. Every stream opens its own capture handle
// and rewinds to the first frame when the file ends, so the duration bound alone decides
// when a stream stops.
type VideoSource struct {
	path string
	opts frames.Options
	pre  *frames.Preprocessor
}

// NewVideoSource creates a source for the given video file.
//
// Arguments:
//   - path: Path to a video file readable by OpenCV.
//   - opts: The source options.
//
// Returns:
//   - *VideoSource: The source.
//   - error: An error if the options are invalid or the file cannot be opened.
func NewVideoSource(path string, opts frames.Options) (*VideoSource, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid video source options")
	}
	pre, err := frames.NewPreprocessor(opts.Shape, opts.Normalization)
	if err != nil {
		return nil, err
	}

	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open video %s", path)
	}
	vc.Close()

	return &VideoSource{path: path, opts: opts, pre: pre}, nil
}

// Open starts decoding from the beginning of the file.
func (s *VideoSource) Open(ctx context.Context) (frames.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vc, err := gocv.VideoCaptureFile(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "open video %s", s.path)
	}

	d := &decoder{
		vc:      vc,
		pre:     s.pre,
		size:    image.Pt(s.opts.Shape.Width, s.opts.Shape.Height),
		raw:     gocv.NewMat(),
		resized: gocv.NewMat(),
	}

	if s.opts.Synthetic {
		payload, err := d.decode()
		if err != nil {
			d.Close()
			return nil, err
		}
		return frames.NewStream(s.opts, func() (*tensor.Dense, error) {
			return payload, nil
		}, d.Close), nil
	}

	return frames.NewStream(s.opts, d.decode, d.Close), nil
}

type decoder struct {
	vc      *gocv.VideoCapture
	pre     *frames.Preprocessor
	size    image.Point
	raw     gocv.Mat
	resized gocv.Mat
	rewound bool
}

func (d *decoder) decode() (*tensor.Dense, error) {
	if ok := d.vc.Read(&d.raw); !ok || d.raw.Empty() {
		if d.rewound {
			return nil, errors.New("video yielded no frames")
		}
		d.vc.Set(gocv.VideoCapturePosFrames, 0)
		d.rewound = true
		return d.decode()
	}
	d.rewound = false

	gocv.Resize(d.raw, &d.resized, d.size, 0, 0, gocv.InterpolationLinear)
	// ToImage reads the BGR channel order OpenCV decodes into.
	img, err := d.resized.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert frame to image")
	}
	return d.pre.Preprocess(img)
}

func (d *decoder) Close() error {
	d.raw.Close()
	d.resized.Close()
	return d.vc.Close()
}
